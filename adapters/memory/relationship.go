package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/preslavrachev/apistore/core"

	goset "github.com/deckarep/golang-set/v2"
)

// ErrNotBound is returned when related records are queried through an
// adapter that was not resolved by a core.Store.
var ErrNotBound = errors.New("memory: adapter is not bound to a store")

var (
	_ linker                         = (*hasOne)(nil)
	_ linker                         = (*hasMany)(nil)
	_ core.ToManyRelationshipAdapter = (*hasMany)(nil)
)

// linker is a relationship whose documents are checked before the record is
// touched. apply must be called with the table lock held.
type linker interface {
	core.RelationshipAdapter
	validate(doc core.RelationshipDocument) error
	apply(rec *Record, doc core.RelationshipDocument)
}

type relationshipBase struct {
	adapter     *Adapter
	field       string
	relatedType string
}

func (r *relationshipBase) FieldName() string {
	return r.field
}

func (r *relationshipBase) checkIdentifiers(doc core.RelationshipDocument) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	if r.relatedType == "" {
		return nil
	}
	for _, identifier := range doc.Identifiers() {
		if identifier.Type != r.relatedType {
			return core.InvalidRelationshipDocument(r.field,
				fmt.Sprintf("expecting %q identifiers, got %q", r.relatedType, identifier.Type))
		}
	}
	return nil
}

// hasOne serves a to-one relationship field
type hasOne struct {
	relationshipBase
}

func (r *hasOne) WithFieldName(field string) core.RelationshipAdapter {
	c := *r
	c.field = field
	return &c
}

func (r *hasOne) Query(ctx context.Context, record any, params *core.QueryParameters) (any, error) {
	rec, err := r.adapter.asRecord(record)
	if err != nil {
		return nil, err
	}

	r.adapter.table.mu.RLock()
	identifier := rec.ToOne(r.field)
	r.adapter.table.mu.RUnlock()
	if identifier == nil {
		return nil, nil
	}
	if r.adapter.store == nil {
		return nil, ErrNotBound
	}
	return r.adapter.store.Find(ctx, identifier.Type, identifier.ID)
}

func (r *hasOne) Relationship(ctx context.Context, record any, params *core.QueryParameters) (any, error) {
	rec, err := r.adapter.asRecord(record)
	if err != nil {
		return nil, err
	}

	r.adapter.table.mu.RLock()
	defer r.adapter.table.mu.RUnlock()
	if identifier := rec.ToOne(r.field); identifier != nil {
		return identifier, nil
	}
	return nil, nil
}

func (r *hasOne) validate(doc core.RelationshipDocument) error {
	if doc.IsToMany() {
		return core.InvalidRelationshipDocument(r.field, "expecting a to-one relationship document")
	}
	return r.checkIdentifiers(doc)
}

func (r *hasOne) apply(rec *Record, doc core.RelationshipDocument) {
	if identifier := doc.Identifier(); identifier != nil {
		rec.toOne[r.field] = identifier
	} else {
		delete(rec.toOne, r.field)
	}
}

func (r *hasOne) Update(ctx context.Context, record any, doc core.RelationshipDocument, params *core.QueryParameters) (any, error) {
	rec, err := r.adapter.asRecord(record)
	if err != nil {
		return nil, err
	}
	if err := r.validate(doc); err != nil {
		return nil, err
	}

	r.adapter.table.mu.Lock()
	defer r.adapter.table.mu.Unlock()
	r.apply(rec, doc)
	return rec, nil
}

func (r *hasOne) Replace(ctx context.Context, record any, doc core.RelationshipDocument, params *core.QueryParameters) (any, error) {
	return r.Update(ctx, record, doc, params)
}

// hasMany serves a to-many relationship field
type hasMany struct {
	relationshipBase
}

func (r *hasMany) WithFieldName(field string) core.RelationshipAdapter {
	c := *r
	c.field = field
	return &c
}

func (r *hasMany) Query(ctx context.Context, record any, params *core.QueryParameters) (any, error) {
	rec, err := r.adapter.asRecord(record)
	if err != nil {
		return nil, err
	}

	r.adapter.table.mu.RLock()
	identifiers := rec.ToMany(r.field)
	r.adapter.table.mu.RUnlock()
	if len(identifiers) == 0 {
		return []any{}, nil
	}
	if r.adapter.store == nil {
		return nil, ErrNotBound
	}
	return r.adapter.store.FindMany(ctx, identifiers)
}

func (r *hasMany) Relationship(ctx context.Context, record any, params *core.QueryParameters) (any, error) {
	rec, err := r.adapter.asRecord(record)
	if err != nil {
		return nil, err
	}

	r.adapter.table.mu.RLock()
	defer r.adapter.table.mu.RUnlock()
	return rec.ToMany(r.field), nil
}

func (r *hasMany) validate(doc core.RelationshipDocument) error {
	if !doc.IsToMany() {
		return core.InvalidRelationshipDocument(r.field, "expecting a to-many relationship document")
	}
	return r.checkIdentifiers(doc)
}

func (r *hasMany) apply(rec *Record, doc core.RelationshipDocument) {
	rec.toMany[r.field] = goset.NewThreadUnsafeSet(doc.Identifiers()...)
}

func (r *hasMany) Update(ctx context.Context, record any, doc core.RelationshipDocument, params *core.QueryParameters) (any, error) {
	return r.mutate(record, doc, func(_ goset.Set[core.ResourceIdentifier], given goset.Set[core.ResourceIdentifier]) goset.Set[core.ResourceIdentifier] {
		return given
	})
}

func (r *hasMany) Replace(ctx context.Context, record any, doc core.RelationshipDocument, params *core.QueryParameters) (any, error) {
	return r.Update(ctx, record, doc, params)
}

func (r *hasMany) Add(ctx context.Context, record any, doc core.RelationshipDocument, params *core.QueryParameters) (any, error) {
	return r.mutate(record, doc, func(current, given goset.Set[core.ResourceIdentifier]) goset.Set[core.ResourceIdentifier] {
		return current.Union(given)
	})
}

func (r *hasMany) Remove(ctx context.Context, record any, doc core.RelationshipDocument, params *core.QueryParameters) (any, error) {
	return r.mutate(record, doc, func(current, given goset.Set[core.ResourceIdentifier]) goset.Set[core.ResourceIdentifier] {
		return current.Difference(given)
	})
}

func (r *hasMany) mutate(record any, doc core.RelationshipDocument, apply func(current, given goset.Set[core.ResourceIdentifier]) goset.Set[core.ResourceIdentifier]) (any, error) {
	rec, err := r.adapter.asRecord(record)
	if err != nil {
		return nil, err
	}
	if err := r.validate(doc); err != nil {
		return nil, err
	}

	given := goset.NewThreadUnsafeSet(doc.Identifiers()...)

	r.adapter.table.mu.Lock()
	defer r.adapter.table.mu.Unlock()
	current, exists := rec.toMany[r.field]
	if !exists {
		current = goset.NewThreadUnsafeSet[core.ResourceIdentifier]()
	}
	rec.toMany[r.field] = apply(current, given)
	return rec, nil
}
