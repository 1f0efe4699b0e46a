package core

import "fmt"

// Schema extracts resource ids from records of one resource type.
// Implementations must be side-effect free.
type Schema interface {
	ResourceID(record any) (string, error)
}

// SchemaContainer looks up the schema registered for a resource type.
type SchemaContainer interface {
	SchemaFor(resourceType string) (Schema, bool)
}

// SchemaFunc adapts a function to Schema.
type SchemaFunc func(record any) (string, error)

// ResourceID implements Schema.
func (f SchemaFunc) ResourceID(record any) (string, error) {
	return f(record)
}

// IdentifiableSchema reads ids from records implementing Identifiable.
type IdentifiableSchema struct{}

// ResourceID implements Schema.
func (IdentifiableSchema) ResourceID(record any) (string, error) {
	identifiable, ok := record.(Identifiable)
	if !ok {
		return "", fmt.Errorf("record of type %T does not expose a resource id", record)
	}
	id := identifiable.ResourceID()
	if id == "" {
		return "", fmt.Errorf("record of type %T has an empty resource id", record)
	}
	return id, nil
}

// SchemaMap is a SchemaContainer backed by a map.
type SchemaMap map[string]Schema

// SchemaFor implements SchemaContainer.
func (m SchemaMap) SchemaFor(resourceType string) (Schema, bool) {
	schema, ok := m[resourceType]
	return schema, ok && schema != nil
}
