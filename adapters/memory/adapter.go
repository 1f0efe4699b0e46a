package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/preslavrachev/apistore/core"

	goset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"go.uber.org/atomic"
)

type relationKind int

const (
	relationToOne relationKind = iota
	relationToMany
)

type relation struct {
	kind        relationKind
	relatedType string
}

// table holds the records of one resource type in insertion order
type table struct {
	mu      sync.RWMutex
	records map[string]*Record
	order   []string
}

// Stats counts adapter calls by operation
type Stats struct {
	Query    atomic.Int64
	Create   atomic.Int64
	Read     atomic.Int64
	Update   atomic.Int64
	Delete   atomic.Int64
	Exists   atomic.Int64
	Find     atomic.Int64
	FindMany atomic.Int64
}

// Adapter implements core.ResourceAdapter on top of an in-memory table
type Adapter struct {
	resourceType string
	table        *table
	relations    map[string]relation
	newID        func() string
	store        *core.Store
	stats        *Stats
}

var (
	_ core.ResourceAdapter = (*Adapter)(nil)
	_ core.StoreAware      = (*Adapter)(nil)
)

// Option configures an Adapter
type Option func(*Adapter)

// WithRecords seeds the adapter with records
func WithRecords(records ...*Record) Option {
	return func(a *Adapter) {
		for _, record := range records {
			if _, exists := a.table.records[record.ID]; !exists {
				a.table.order = append(a.table.order, record.ID)
			}
			a.table.records[record.ID] = record
		}
	}
}

// WithToOne declares a to-one relationship field. An empty relatedType
// accepts identifiers of any type.
func WithToOne(field, relatedType string) Option {
	return func(a *Adapter) {
		a.relations[field] = relation{kind: relationToOne, relatedType: relatedType}
	}
}

// WithToMany declares a to-many relationship field. An empty relatedType
// accepts identifiers of any type.
func WithToMany(field, relatedType string) Option {
	return func(a *Adapter) {
		a.relations[field] = relation{kind: relationToMany, relatedType: relatedType}
	}
}

// WithIDGenerator sets the generator for ids of created records
func WithIDGenerator(generator func() string) Option {
	return func(a *Adapter) {
		if generator != nil {
			a.newID = generator
		}
	}
}

// New creates an in-memory adapter for resourceType
func New(resourceType string, opts ...Option) *Adapter {
	a := &Adapter{
		resourceType: resourceType,
		table: &table{
			records: make(map[string]*Record),
			order:   make([]string, 0),
		},
		relations: make(map[string]relation),
		newID:     uuid.NewString,
		stats:     &Stats{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// WithStore implements core.StoreAware. The returned copy shares the table.
func (a *Adapter) WithStore(store *core.Store) core.ResourceAdapter {
	bound := *a
	bound.store = store
	return &bound
}

// Stats returns the call counters shared by all copies of this adapter
func (a *Adapter) Stats() *Stats {
	return a.stats
}

// ResourceType returns the resource type served by this adapter
func (a *Adapter) ResourceType() string {
	return a.resourceType
}

// Query returns the records matching params as a *core.Page
func (a *Adapter) Query(ctx context.Context, params *core.QueryParameters) (any, error) {
	a.stats.Query.Inc()

	if params == nil {
		params = &core.QueryParameters{}
	}

	a.table.mu.RLock()
	items := make([]*Record, 0, len(a.table.order))
	for _, id := range a.table.order {
		record := a.table.records[id]
		if !params.HasFilters() || matchesFilters(record, params.Filters) {
			items = append(items, record)
		}
	}
	a.table.mu.RUnlock()

	if params.HasSort() {
		sort.SliceStable(items, func(i, j int) bool {
			for _, s := range params.Sort {
				c := compareValues(sortValue(items[i], s.Field), sortValue(items[j], s.Field))
				if c == 0 {
					continue
				}
				if s.Direction == core.SortDesc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}

	total := int64(len(items))
	offset := params.Pagination.Offset
	if offset > len(items) {
		offset = len(items)
	}
	end := len(items)
	if limit := params.Pagination.Limit; limit > 0 && offset+limit < end {
		end = offset + limit
	}

	page := make([]any, 0, end-offset)
	for _, record := range items[offset:end] {
		page = append(page, record)
	}

	return &core.Page{
		Items:      page,
		TotalCount: total,
		HasMore:    int64(end) < total,
		Query:      *params,
	}, nil
}

// Create inserts a record built from payload and fills its relationships
func (a *Adapter) Create(ctx context.Context, payload *core.ResourcePayload, params *core.QueryParameters) (core.Outcome, error) {
	a.stats.Create.Inc()

	if err := a.checkPayload(payload); err != nil {
		return core.Outcome{}, err
	}

	id := payload.ID
	if id == "" {
		id = a.newID()
	}

	writes, err := a.relationshipWrites(payload)
	if err != nil {
		return core.Outcome{}, err
	}

	a.table.mu.Lock()
	defer a.table.mu.Unlock()
	if _, exists := a.table.records[id]; exists {
		return core.Outcome{}, fmt.Errorf("memory: %s record %s already exists", a.resourceType, id)
	}
	record := NewRecord(a.resourceType, id, payload.Attributes)
	applyWrites(record, writes)
	a.table.records[id] = record
	a.table.order = append(a.table.order, id)

	return core.Done(record), nil
}

// Read returns the stored record, or nil if it was deleted
func (a *Adapter) Read(ctx context.Context, record any, params *core.QueryParameters) (any, error) {
	a.stats.Read.Inc()

	rec, err := a.asRecord(record)
	if err != nil {
		return nil, err
	}

	a.table.mu.RLock()
	defer a.table.mu.RUnlock()
	if stored, exists := a.table.records[rec.ID]; exists {
		return stored, nil
	}
	return nil, nil
}

// Update merges attributes from payload into the stored record and fills
// its relationships. Nothing changes unless every relationship is valid.
func (a *Adapter) Update(ctx context.Context, record any, payload *core.ResourcePayload, params *core.QueryParameters) (core.Outcome, error) {
	a.stats.Update.Inc()

	rec, err := a.asRecord(record)
	if err != nil {
		return core.Outcome{}, err
	}
	if err := a.checkPayload(payload); err != nil {
		return core.Outcome{}, err
	}
	writes, err := a.relationshipWrites(payload)
	if err != nil {
		return core.Outcome{}, err
	}

	a.table.mu.Lock()
	defer a.table.mu.Unlock()
	stored, exists := a.table.records[rec.ID]
	if !exists {
		return core.Failed("record does not exist"), nil
	}
	for k, v := range payload.Attributes {
		stored.Attributes[k] = v
	}
	applyWrites(stored, writes)
	return core.Done(stored), nil
}

// Delete removes a record
func (a *Adapter) Delete(ctx context.Context, record any, params *core.QueryParameters) (core.Outcome, error) {
	a.stats.Delete.Inc()

	rec, err := a.asRecord(record)
	if err != nil {
		return core.Outcome{}, err
	}

	a.table.mu.Lock()
	defer a.table.mu.Unlock()
	if _, exists := a.table.records[rec.ID]; !exists {
		return core.Failed("record does not exist"), nil
	}
	delete(a.table.records, rec.ID)
	for i, id := range a.table.order {
		if id == rec.ID {
			a.table.order = append(a.table.order[:i], a.table.order[i+1:]...)
			break
		}
	}
	return core.Done(nil), nil
}

// Exists reports whether a record with id is stored
func (a *Adapter) Exists(ctx context.Context, id string) (bool, error) {
	a.stats.Exists.Inc()

	a.table.mu.RLock()
	defer a.table.mu.RUnlock()
	_, exists := a.table.records[id]
	return exists, nil
}

// Find returns the record with id, or nil
func (a *Adapter) Find(ctx context.Context, id string) (any, error) {
	a.stats.Find.Inc()

	a.table.mu.RLock()
	defer a.table.mu.RUnlock()
	if record, exists := a.table.records[id]; exists {
		return record, nil
	}
	return nil, nil
}

// FindMany returns the stored records among ids, without duplicates
func (a *Adapter) FindMany(ctx context.Context, ids []string) ([]any, error) {
	a.stats.FindMany.Inc()

	seen := goset.NewThreadUnsafeSet[string]()
	records := make([]any, 0, len(ids))

	a.table.mu.RLock()
	defer a.table.mu.RUnlock()
	for _, id := range ids {
		if !seen.Add(id) {
			continue
		}
		if record, exists := a.table.records[id]; exists {
			records = append(records, record)
		}
	}
	return records, nil
}

// GetRelated returns the relationship adapter for field
func (a *Adapter) GetRelated(field string) (core.RelationshipAdapter, error) {
	return a.relationship(field)
}

func (a *Adapter) relationship(field string) (linker, error) {
	rel, exists := a.relations[field]
	if !exists {
		return nil, core.MissingRelationship(a.resourceType, field)
	}

	base := relationshipBase{adapter: a, field: field, relatedType: rel.relatedType}
	if rel.kind == relationToMany {
		return &hasMany{relationshipBase: base}, nil
	}
	return &hasOne{relationshipBase: base}, nil
}

type pendingWrite struct {
	relationship linker
	doc          core.RelationshipDocument
}

// relationshipWrites resolves and validates every relationship of payload
func (a *Adapter) relationshipWrites(payload *core.ResourcePayload) ([]pendingWrite, error) {
	fields := make([]string, 0, len(payload.Relationships))
	for field := range payload.Relationships {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	writes := make([]pendingWrite, 0, len(fields))
	for _, field := range fields {
		relationship, err := a.relationship(field)
		if err != nil {
			return nil, err
		}
		doc := payload.Relationships[field]
		if err := relationship.validate(doc); err != nil {
			return nil, err
		}
		writes = append(writes, pendingWrite{relationship: relationship, doc: doc})
	}
	return writes, nil
}

func applyWrites(record *Record, writes []pendingWrite) {
	for _, w := range writes {
		w.relationship.apply(record, w.doc)
	}
}

func (a *Adapter) checkPayload(payload *core.ResourcePayload) error {
	if payload == nil {
		return fmt.Errorf("memory: payload cannot be nil")
	}
	if payload.Type != "" && payload.Type != a.resourceType {
		return fmt.Errorf("memory: payload type %q does not match %q", payload.Type, a.resourceType)
	}
	return nil
}

func (a *Adapter) asRecord(record any) (*Record, error) {
	rec, ok := record.(*Record)
	if !ok || rec == nil {
		return nil, fmt.Errorf("memory: expected *memory.Record, got %T", record)
	}
	if rec.Type != a.resourceType {
		return nil, fmt.Errorf("memory: record type %q does not match %q", rec.Type, a.resourceType)
	}
	return rec, nil
}

func matchesFilters(record *Record, filters map[string]any) bool {
	for field, want := range filters {
		var got any
		if field == "id" {
			got = record.ID
		} else {
			got = record.Attributes[field]
		}

		switch values := want.(type) {
		case []string:
			matched := false
			for _, v := range values {
				if compareValues(got, v) == 0 {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		default:
			if compareValues(got, want) != 0 {
				return false
			}
		}
	}
	return true
}

func sortValue(record *Record, field string) any {
	if field == "id" {
		return record.ID
	}
	return record.Attributes[field]
}
