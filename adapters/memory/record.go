package memory

import (
	"sort"

	"github.com/preslavrachev/apistore/core"

	goset "github.com/deckarep/golang-set/v2"
)

// Record is a domain record held by the in-memory adapter.
//
// Records are shared with callers; the adapter mutates them under its table
// lock, so callers should not read linkage while a write is in flight.
type Record struct {
	Type       string         `json:"type"`
	ID         string         `json:"id"`
	Attributes map[string]any `json:"attributes"`

	toOne  map[string]*core.ResourceIdentifier
	toMany map[string]goset.Set[core.ResourceIdentifier]
}

// NewRecord creates a record with a copy of attributes
func NewRecord(resourceType, id string, attributes map[string]any) *Record {
	attrs := make(map[string]any, len(attributes))
	for k, v := range attributes {
		attrs[k] = v
	}
	return &Record{
		Type:       resourceType,
		ID:         id,
		Attributes: attrs,
		toOne:      make(map[string]*core.ResourceIdentifier),
		toMany:     make(map[string]goset.Set[core.ResourceIdentifier]),
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

// Attribute returns an attribute value, or nil if not set
func (r *Record) Attribute(name string) any {
	return r.Attributes[name]
}

// ToOne returns the to-one linkage of field, or nil
func (r *Record) ToOne(field string) *core.ResourceIdentifier {
	id := r.toOne[field]
	if id == nil {
		return nil
	}
	linkage := *id
	return &linkage
}

// ToMany returns the to-many linkage of field ordered by type and id
func (r *Record) ToMany(field string) []core.ResourceIdentifier {
	set, exists := r.toMany[field]
	if !exists {
		return []core.ResourceIdentifier{}
	}
	ids := set.ToSlice()
	sortIdentifiers(ids)
	return ids
}

// LinkOne sets to-one linkage while seeding records
func (r *Record) LinkOne(field string, identifier core.ResourceIdentifier) *Record {
	r.toOne[field] = &identifier
	return r
}

// LinkMany sets to-many linkage while seeding records
func (r *Record) LinkMany(field string, identifiers ...core.ResourceIdentifier) *Record {
	r.toMany[field] = goset.NewThreadUnsafeSet(identifiers...)
	return r
}

func sortIdentifiers(ids []core.ResourceIdentifier) {
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Type != ids[j].Type {
			return ids[i].Type < ids[j].Type
		}
		return ids[i].ID < ids[j].ID
	})
}
