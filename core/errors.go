package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode categorizes errors raised by the store and its adapters.
type ErrorCode string

const (
	// CodeUnknownResourceType indicates no adapter is registered for a resource type.
	CodeUnknownResourceType ErrorCode = "UNKNOWN_RESOURCE_TYPE"

	// CodeMissingRelationshipHandler indicates a resource adapter has no handler
	// for the named relationship field.
	CodeMissingRelationshipHandler ErrorCode = "MISSING_RELATIONSHIP_HANDLER"

	// CodeRelationshipCapabilityMismatch indicates add/remove was requested
	// against a relationship adapter that is not to-many.
	CodeRelationshipCapabilityMismatch ErrorCode = "RELATIONSHIP_CAPABILITY_MISMATCH"

	// CodeRecordNotFound indicates an identifier did not resolve to a record.
	CodeRecordNotFound ErrorCode = "RECORD_NOT_FOUND"

	// CodeMutationFailed indicates an adapter reported a failed write without
	// returning an error of its own.
	CodeMutationFailed ErrorCode = "MUTATION_FAILED"

	// CodeIdentityMapConflict indicates an attempt to overwrite a resolved
	// identity map entry with an existence flag.
	CodeIdentityMapConflict ErrorCode = "IDENTITY_MAP_CONFLICT"

	// CodeInvalidIdentifier indicates an identifier with an empty type or id.
	CodeInvalidIdentifier ErrorCode = "INVALID_IDENTIFIER"

	// CodeInvalidRelationshipDocument indicates a relationship document of the
	// wrong cardinality for the operation.
	CodeInvalidRelationshipDocument ErrorCode = "INVALID_RELATIONSHIP_DOCUMENT"
)

// Sentinels for use with errors.Is. Matching is by code only.
var (
	ErrUnknownResourceType            = &Error{Code: CodeUnknownResourceType}
	ErrMissingRelationshipHandler     = &Error{Code: CodeMissingRelationshipHandler}
	ErrRelationshipCapabilityMismatch = &Error{Code: CodeRelationshipCapabilityMismatch}
	ErrRecordNotFound                 = &Error{Code: CodeRecordNotFound}
	ErrMutationFailed                 = &Error{Code: CodeMutationFailed}
	ErrIdentityMapConflict            = &Error{Code: CodeIdentityMapConflict}
	ErrInvalidIdentifier              = &Error{Code: CodeInvalidIdentifier}
	ErrInvalidRelationshipDocument    = &Error{Code: CodeInvalidRelationshipDocument}
)

// Error is the typed error returned by the store.
//
// Every error except CodeRecordNotFound describes a configuration or
// programming defect and is not retryable. Callers translating errors into
// responses should switch on Code or use errors.Is with the sentinels above.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// ResourceType is the resource type involved, if any.
	ResourceType string

	// ID is the resource id involved, if any.
	ID string

	// Field is the relationship field involved, if any.
	Field string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}

	var ctx []string
	if e.ResourceType != "" {
		ctx = append(ctx, "type="+e.ResourceType)
	}
	if e.ID != "" {
		ctx = append(ctx, "id="+e.ID)
	}
	if e.Field != "" {
		ctx = append(ctx, "field="+e.Field)
	}
	if len(ctx) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(ctx, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// Fatal reports whether the error represents a defect rather than an
// expected runtime condition.
func (e *Error) Fatal() bool {
	return e.Code != CodeRecordNotFound
}

// IsNotFound reports whether err is (or wraps) a record-not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound)
}

// IsFatal reports whether err is (or wraps) a fatal store error.
func IsFatal(err error) bool {
	var storeErr *Error
	if errors.As(err, &storeErr) {
		return storeErr.Fatal()
	}
	return false
}

// UnknownResourceType returns the error for an unregistered resource type.
func UnknownResourceType(resourceType string) error {
	return &Error{
		Code:         CodeUnknownResourceType,
		Message:      "no adapter for resource type",
		ResourceType: resourceType,
	}
}

// MissingRelationship returns the error an adapter reports from GetRelated
// when it has no handler for field.
func MissingRelationship(resourceType, field string) error {
	return &Error{
		Code:         CodeMissingRelationshipHandler,
		Message:      "no relationship adapter for field",
		ResourceType: resourceType,
		Field:        field,
	}
}

// RecordNotFound returns the error for an identifier that did not resolve.
func RecordNotFound(resourceType, id string) error {
	return &Error{
		Code:         CodeRecordNotFound,
		Message:      "record not found",
		ResourceType: resourceType,
		ID:           id,
	}
}

// InvalidRelationshipDocument returns the error for a document of the wrong
// cardinality.
func InvalidRelationshipDocument(field, message string) error {
	return &Error{
		Code:    CodeInvalidRelationshipDocument,
		Message: message,
		Field:   field,
	}
}

// wrapAdapterError adds operation context to errors returned by adapters.
// Store errors pass through untouched.
func wrapAdapterError(op, resourceType string, err error) error {
	if err == nil {
		return nil
	}

	var storeErr *Error
	if errors.As(err, &storeErr) {
		return err
	}

	return fmt.Errorf("%s %s: %w", op, resourceType, err)
}
