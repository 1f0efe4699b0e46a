package core

import (
	"context"
	"errors"
)

var errStubFailure = errors.New("stub failure")

type stubRecord struct {
	resourceType string
	id           string
}

func (r *stubRecord) ResourceType() string { return r.resourceType }
func (r *stubRecord) ResourceID() string   { return r.id }

// stubAdapter serves fixed records and counts calls by operation
type stubAdapter struct {
	resourceType string
	records      map[string]*stubRecord
	relations    map[string]RelationshipAdapter
	writeOutcome *Outcome
	err          error

	calls        map[string]int
	findManyArgs [][]string
}

func newStubAdapter(resourceType string, ids ...string) *stubAdapter {
	a := &stubAdapter{
		resourceType: resourceType,
		records:      make(map[string]*stubRecord),
		relations:    make(map[string]RelationshipAdapter),
		calls:        make(map[string]int),
	}
	for _, id := range ids {
		a.records[id] = &stubRecord{resourceType: resourceType, id: id}
	}
	return a
}

func (a *stubAdapter) Query(ctx context.Context, params *QueryParameters) (any, error) {
	a.calls["query"]++
	if a.err != nil {
		return nil, a.err
	}
	return &Page{TotalCount: int64(len(a.records)), Query: *params}, nil
}

func (a *stubAdapter) Create(ctx context.Context, payload *ResourcePayload, params *QueryParameters) (Outcome, error) {
	a.calls["create"]++
	if a.err != nil {
		return Outcome{}, a.err
	}
	if a.writeOutcome != nil {
		return *a.writeOutcome, nil
	}
	record := &stubRecord{resourceType: a.resourceType, id: payload.ID}
	a.records[payload.ID] = record
	return Done(record), nil
}

func (a *stubAdapter) Read(ctx context.Context, record any, params *QueryParameters) (any, error) {
	a.calls["read"]++
	rec := record.(*stubRecord)
	if stored, ok := a.records[rec.id]; ok {
		return stored, nil
	}
	return nil, nil
}

func (a *stubAdapter) Update(ctx context.Context, record any, payload *ResourcePayload, params *QueryParameters) (Outcome, error) {
	a.calls["update"]++
	if a.writeOutcome != nil {
		return *a.writeOutcome, nil
	}
	return Done(record), nil
}

func (a *stubAdapter) Delete(ctx context.Context, record any, params *QueryParameters) (Outcome, error) {
	a.calls["delete"]++
	if a.writeOutcome != nil {
		return *a.writeOutcome, nil
	}
	return Done(nil), nil
}

func (a *stubAdapter) Exists(ctx context.Context, id string) (bool, error) {
	a.calls["exists"]++
	if a.err != nil {
		return false, a.err
	}
	_, ok := a.records[id]
	return ok, nil
}

func (a *stubAdapter) Find(ctx context.Context, id string) (any, error) {
	a.calls["find"]++
	if a.err != nil {
		return nil, a.err
	}
	if record, ok := a.records[id]; ok {
		return record, nil
	}
	return nil, nil
}

func (a *stubAdapter) FindMany(ctx context.Context, ids []string) ([]any, error) {
	a.calls["findMany"]++
	a.findManyArgs = append(a.findManyArgs, append([]string(nil), ids...))
	if a.err != nil {
		return nil, a.err
	}
	var records []any
	for _, id := range ids {
		if record, ok := a.records[id]; ok {
			records = append(records, record)
		}
	}
	return records, nil
}

func (a *stubAdapter) GetRelated(field string) (RelationshipAdapter, error) {
	a.calls["getRelated"]++
	relationship, ok := a.relations[field]
	if !ok {
		return nil, MissingRelationship(a.resourceType, field)
	}
	return relationship, nil
}

// awareAdapter is a stubAdapter that records the store it was bound to
type awareAdapter struct {
	*stubAdapter
	store    *Store
	bindings *int
}

func (a *awareAdapter) WithStore(store *Store) ResourceAdapter {
	*a.bindings++
	return &awareAdapter{stubAdapter: a.stubAdapter, store: store, bindings: a.bindings}
}

// stubRelationship is a to-one relationship adapter that counts calls
type stubRelationship struct {
	field string
	calls map[string]int
	last  RelationshipDocument
}

func newStubRelationship(field string) *stubRelationship {
	return &stubRelationship{field: field, calls: make(map[string]int)}
}

func (r *stubRelationship) WithFieldName(field string) RelationshipAdapter {
	r.calls["withFieldName"]++
	c := *r
	c.field = field
	return &c
}

func (r *stubRelationship) FieldName() string { return r.field }

func (r *stubRelationship) Query(ctx context.Context, record any, params *QueryParameters) (any, error) {
	r.calls["query"]++
	return r.field, nil
}

func (r *stubRelationship) Relationship(ctx context.Context, record any, params *QueryParameters) (any, error) {
	r.calls["relationship"]++
	return r.field, nil
}

func (r *stubRelationship) Update(ctx context.Context, record any, doc RelationshipDocument, params *QueryParameters) (any, error) {
	r.calls["update"]++
	r.last = doc
	return record, nil
}

func (r *stubRelationship) Replace(ctx context.Context, record any, doc RelationshipDocument, params *QueryParameters) (any, error) {
	r.calls["replace"]++
	r.last = doc
	return record, nil
}

// stubToManyRelationship adds Add and Remove
type stubToManyRelationship struct {
	*stubRelationship
}

func (r *stubToManyRelationship) Add(ctx context.Context, record any, doc RelationshipDocument, params *QueryParameters) (any, error) {
	r.calls["add"]++
	r.last = doc
	return record, nil
}

func (r *stubToManyRelationship) Remove(ctx context.Context, record any, doc RelationshipDocument, params *QueryParameters) (any, error) {
	r.calls["remove"]++
	r.last = doc
	return record, nil
}

func (r *stubToManyRelationship) WithFieldName(field string) RelationshipAdapter {
	return &stubToManyRelationship{stubRelationship: r.stubRelationship.WithFieldName(field).(*stubRelationship)}
}
