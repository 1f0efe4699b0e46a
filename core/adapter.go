package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ResourceAdapter translates resource operations for one resource type into
// operations on its domain records.
type ResourceAdapter interface {
	// Collection operations
	Query(ctx context.Context, params *QueryParameters) (any, error)

	// Record operations
	Create(ctx context.Context, payload *ResourcePayload, params *QueryParameters) (Outcome, error)
	Read(ctx context.Context, record any, params *QueryParameters) (any, error)
	Update(ctx context.Context, record any, payload *ResourcePayload, params *QueryParameters) (Outcome, error)
	Delete(ctx context.Context, record any, params *QueryParameters) (Outcome, error)

	// Lookup operations. Find returns nil when the record does not exist.
	// FindMany returns no duplicates and silently drops ids that do not resolve.
	Exists(ctx context.Context, id string) (bool, error)
	Find(ctx context.Context, id string) (any, error)
	FindMany(ctx context.Context, ids []string) ([]any, error)

	// GetRelated returns the adapter for a relationship field with the field
	// name already applied. It returns a CodeMissingRelationshipHandler error
	// when the field has no handler.
	GetRelated(field string) (RelationshipAdapter, error)
}

// RelationshipAdapter reads and mutates one relationship field of a record.
type RelationshipAdapter interface {
	WithFieldName(field string) RelationshipAdapter
	FieldName() string

	// Query returns the related record(s).
	Query(ctx context.Context, record any, params *QueryParameters) (any, error)

	// Relationship returns the relationship linkage.
	Relationship(ctx context.Context, record any, params *QueryParameters) (any, error)

	// Update sets a to-one relationship to the given identifier (or clears it)
	// and replaces the whole set of a to-many relationship.
	Update(ctx context.Context, record any, doc RelationshipDocument, params *QueryParameters) (any, error)

	// Replace has the same end state as Update.
	Replace(ctx context.Context, record any, doc RelationshipDocument, params *QueryParameters) (any, error)
}

// ToManyRelationshipAdapter is a RelationshipAdapter for to-many fields.
type ToManyRelationshipAdapter interface {
	RelationshipAdapter

	// Add unions the given identifiers into the relationship.
	Add(ctx context.Context, record any, doc RelationshipDocument, params *QueryParameters) (any, error)

	// Remove subtracts the given identifiers from the relationship.
	Remove(ctx context.Context, record any, doc RelationshipDocument, params *QueryParameters) (any, error)
}

// StoreAware is implemented by adapters that resolve related records back
// through the store. WithStore returns a copy of the adapter bound to store;
// the receiver is left untouched so a shared instance never sees a
// per-request store.
type StoreAware interface {
	WithStore(store *Store) ResourceAdapter
}

// AdapterFactory constructs the resource adapter for a resource type.
type AdapterFactory func() ResourceAdapter

// Typed is implemented by records that know their resource type.
type Typed interface {
	ResourceType() string
}

// Identifiable is implemented by records that know their resource id.
type Identifiable interface {
	ResourceID() string
}

type outcomeKind int

const (
	outcomeDone outcomeKind = iota
	outcomeFailed
	outcomeQueued
)

// Outcome is the result of a write operation: completed with a record,
// failed without further detail, or queued as an asynchronous process.
type Outcome struct {
	kind    outcomeKind
	record  any
	process *Process
	reason  string
}

// Done returns a completed outcome. Deletes complete with a nil record.
func Done(record any) Outcome {
	return Outcome{kind: outcomeDone, record: record}
}

// Failed returns an outcome for a write the adapter could not perform.
func Failed(reason string) Outcome {
	return Outcome{kind: outcomeFailed, reason: reason}
}

// Queued returns an outcome for a write accepted for asynchronous processing.
func Queued(process *Process) Outcome {
	return Outcome{kind: outcomeQueued, process: process}
}

// Record returns the record of a completed outcome.
func (o Outcome) Record() (any, bool) {
	if o.kind != outcomeDone {
		return nil, false
	}
	return o.record, true
}

// Process returns the process handle of a queued outcome.
func (o Outcome) Process() (*Process, bool) {
	if o.kind != outcomeQueued {
		return nil, false
	}
	return o.process, true
}

// IsFailed reports whether the write failed.
func (o Outcome) IsFailed() bool {
	return o.kind == outcomeFailed
}

// Reason returns the failure reason, if any.
func (o Outcome) Reason() string {
	return o.reason
}

// ProcessStatus is the lifecycle state of an asynchronous process
type ProcessStatus string

const (
	ProcessQueued   ProcessStatus = "queued"
	ProcessRunning  ProcessStatus = "running"
	ProcessFinished ProcessStatus = "finished"
	ProcessFailed   ProcessStatus = "failed"
)

// Process is a handle for a write that was queued rather than performed.
// The record it concerns is not final until the process finishes.
type Process struct {
	ID           string        `json:"id"`
	ResourceType string        `json:"resource_type"`
	Operation    string        `json:"operation"`
	Status       ProcessStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
}

// NewProcess creates a queued process handle with a fresh id
func NewProcess(resourceType, operation string) *Process {
	return &Process{
		ID:           uuid.NewString(),
		ResourceType: resourceType,
		Operation:    operation,
		Status:       ProcessQueued,
		CreatedAt:    time.Now(),
	}
}
