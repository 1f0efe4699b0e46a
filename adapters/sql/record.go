package sql

import (
	"fmt"

	"github.com/iancoleman/strcase"
)

// Record is one table row served by the SQL adapter
type Record struct {
	Type    string         `json:"type"`
	ID      string         `json:"id"`
	Columns map[string]any `json:"columns"`

	idColumn string
}

func newRecord(resourceType, idColumn string, row map[string]any) *Record {
	columns := make(map[string]any, len(row))
	for name, value := range row {
		// TEXT columns may come back as []byte depending on the driver
		if b, ok := value.([]byte); ok {
			value = string(b)
		}
		columns[name] = value
	}

	return &Record{
		Type:     resourceType,
		ID:       formatID(columns[idColumn]),
		Columns:  columns,
		idColumn: idColumn,
	}
}

// ResourceType implements core.Typed.
func (r *Record) ResourceType() string {
	return r.Type
}

// ResourceID implements core.Identifiable.
func (r *Record) ResourceID() string {
	return r.ID
}

// Column returns a column value, or nil
func (r *Record) Column(name string) any {
	return r.Columns[name]
}

// Attributes returns the non-id columns keyed by kebab-case attribute name
func (r *Record) Attributes() map[string]any {
	attributes := make(map[string]any, len(r.Columns))
	for name, value := range r.Columns {
		if name == r.idColumn {
			continue
		}
		attributes[strcase.ToKebab(name)] = value
	}
	return attributes
}

func (r *Record) refresh(from *Record) {
	r.Columns = from.Columns
	r.ID = from.ID
}

func formatID(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case []byte:
		return string(v)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
