package sql

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/preslavrachev/apistore/core"

	goset "github.com/deckarep/golang-set/v2"
	"github.com/jmoiron/sqlx"
)

// ErrNotBound is returned when related records are queried through an
// adapter that was not resolved by a core.Store.
var ErrNotBound = errors.New("sql: adapter is not bound to a store")

var (
	_ relationWriter                 = (*belongsTo)(nil)
	_ relationWriter                 = (*belongsToMany)(nil)
	_ core.ToManyRelationshipAdapter = (*belongsToMany)(nil)
)

// relationWriter is a relationship that can check a document up front and
// write it later inside a transaction owned by the caller
type relationWriter interface {
	core.RelationshipAdapter
	validate(doc core.RelationshipDocument) error
	write(ctx context.Context, tx *sqlx.Tx, recordID string, doc core.RelationshipDocument) error
}

type relationKind int

const (
	relationBelongsTo relationKind = iota
	relationBelongsToMany
)

type relation struct {
	kind        relationKind
	relatedType string
	foreignKey  string
	pivot       string
	localKey    string
}

func (r relation) check(field string, doc core.RelationshipDocument) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	for _, identifier := range doc.Identifiers() {
		if identifier.Type != r.relatedType {
			return core.InvalidRelationshipDocument(field,
				fmt.Sprintf("expecting %q identifiers, got %q", r.relatedType, identifier.Type))
		}
	}
	return nil
}

// belongsTo serves a to-one relationship kept in a foreign key column
type belongsTo struct {
	adapter *Adapter
	relation
	field string
}

func (r *belongsTo) WithFieldName(field string) core.RelationshipAdapter {
	c := *r
	c.field = field
	return &c
}

func (r *belongsTo) FieldName() string {
	return r.field
}

func (r *belongsTo) identifier(rec *Record) *core.ResourceIdentifier {
	id := formatID(rec.Columns[r.foreignKey])
	if id == "" {
		return nil
	}
	return &core.ResourceIdentifier{Type: r.relatedType, ID: id}
}

func (r *belongsTo) Query(ctx context.Context, record any, params *core.QueryParameters) (any, error) {
	rec, err := r.adapter.asRecord(record)
	if err != nil {
		return nil, err
	}

	identifier := r.identifier(rec)
	if identifier == nil {
		return nil, nil
	}
	if r.adapter.store == nil {
		return nil, ErrNotBound
	}
	return r.adapter.store.Find(ctx, identifier.Type, identifier.ID)
}

func (r *belongsTo) Relationship(ctx context.Context, record any, params *core.QueryParameters) (any, error) {
	rec, err := r.adapter.asRecord(record)
	if err != nil {
		return nil, err
	}
	if identifier := r.identifier(rec); identifier != nil {
		return identifier, nil
	}
	return nil, nil
}

func (r *belongsTo) validate(doc core.RelationshipDocument) error {
	if doc.IsToMany() {
		return core.InvalidRelationshipDocument(r.field, "expecting a to-one relationship document")
	}
	return r.check(r.field, doc)
}

func (r *belongsTo) write(ctx context.Context, tx *sqlx.Tx, recordID string, doc core.RelationshipDocument) error {
	a := r.adapter
	queryStr := tx.Rebind(fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ?", a.table.Name, r.foreignKey, a.table.IDColumn))
	if _, err := a.loggedExec(ctx, tx, queryStr, foreignValue(doc), recordID); err != nil {
		return fmt.Errorf("failed to update %s: %w", r.field, err)
	}
	return nil
}

func (r *belongsTo) Update(ctx context.Context, record any, doc core.RelationshipDocument, params *core.QueryParameters) (any, error) {
	rec, err := r.adapter.asRecord(record)
	if err != nil {
		return nil, err
	}
	if err := r.validate(doc); err != nil {
		return nil, err
	}

	err = r.adapter.inTx(ctx, func(tx *sqlx.Tx) error {
		return r.write(ctx, tx, rec.ID, doc)
	})
	if err != nil {
		return nil, err
	}
	rec.Columns[r.foreignKey] = foreignValue(doc)
	return rec, nil
}

func (r *belongsTo) Replace(ctx context.Context, record any, doc core.RelationshipDocument, params *core.QueryParameters) (any, error) {
	return r.Update(ctx, record, doc, params)
}

// belongsToMany serves a to-many relationship kept in a pivot table
type belongsToMany struct {
	adapter *Adapter
	relation
	field string
}

func (r *belongsToMany) WithFieldName(field string) core.RelationshipAdapter {
	c := *r
	c.field = field
	return &c
}

func (r *belongsToMany) FieldName() string {
	return r.field
}

// linked returns the related ids of recordID in pivot order
func (r *belongsToMany) linked(ctx context.Context, q sqlx.QueryerContext, recordID string) ([]string, error) {
	queryStr := r.adapter.db.Rebind(fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? ORDER BY %s ASC",
		r.foreignKey, r.pivot, r.localKey, r.foreignKey))
	rows, err := r.adapter.loggedQuery(ctx, q, queryStr, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", r.field, err)
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, formatID(row[r.foreignKey]))
	}
	return ids, nil
}

func (r *belongsToMany) identifiers(ids []string) []core.ResourceIdentifier {
	identifiers := make([]core.ResourceIdentifier, 0, len(ids))
	for _, id := range ids {
		identifiers = append(identifiers, core.ResourceIdentifier{Type: r.relatedType, ID: id})
	}
	return identifiers
}

func (r *belongsToMany) Query(ctx context.Context, record any, params *core.QueryParameters) (any, error) {
	rec, err := r.adapter.asRecord(record)
	if err != nil {
		return nil, err
	}

	ids, err := r.linked(ctx, r.adapter.db, rec.ID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []any{}, nil
	}
	if r.adapter.store == nil {
		return nil, ErrNotBound
	}
	return r.adapter.store.FindMany(ctx, r.identifiers(ids))
}

func (r *belongsToMany) Relationship(ctx context.Context, record any, params *core.QueryParameters) (any, error) {
	rec, err := r.adapter.asRecord(record)
	if err != nil {
		return nil, err
	}

	ids, err := r.linked(ctx, r.adapter.db, rec.ID)
	if err != nil {
		return nil, err
	}
	return r.identifiers(ids), nil
}

func (r *belongsToMany) validate(doc core.RelationshipDocument) error {
	if !doc.IsToMany() {
		return core.InvalidRelationshipDocument(r.field, "expecting a to-many relationship document")
	}
	return r.check(r.field, doc)
}

func (r *belongsToMany) write(ctx context.Context, tx *sqlx.Tx, recordID string, doc core.RelationshipDocument) error {
	if err := r.replace(ctx, tx, recordID, givenIDs(doc)); err != nil {
		return fmt.Errorf("failed to update %s: %w", r.field, err)
	}
	return nil
}

func (r *belongsToMany) replace(ctx context.Context, tx *sqlx.Tx, recordID string, given goset.Set[string]) error {
	queryStr := tx.Rebind(fmt.Sprintf("DELETE FROM %s WHERE %s = ?", r.pivot, r.localKey))
	if _, err := r.adapter.loggedExec(ctx, tx, queryStr, recordID); err != nil {
		return err
	}
	return r.insert(ctx, tx, recordID, given)
}

func (r *belongsToMany) Update(ctx context.Context, record any, doc core.RelationshipDocument, params *core.QueryParameters) (any, error) {
	return r.mutate(ctx, record, doc, func(tx *sqlx.Tx, recordID string, given goset.Set[string]) error {
		return r.replace(ctx, tx, recordID, given)
	})
}

func (r *belongsToMany) Replace(ctx context.Context, record any, doc core.RelationshipDocument, params *core.QueryParameters) (any, error) {
	return r.Update(ctx, record, doc, params)
}

func (r *belongsToMany) Add(ctx context.Context, record any, doc core.RelationshipDocument, params *core.QueryParameters) (any, error) {
	return r.mutate(ctx, record, doc, func(tx *sqlx.Tx, recordID string, given goset.Set[string]) error {
		current, err := r.linked(ctx, tx, recordID)
		if err != nil {
			return err
		}
		return r.insert(ctx, tx, recordID, given.Difference(goset.NewThreadUnsafeSet(current...)))
	})
}

func (r *belongsToMany) Remove(ctx context.Context, record any, doc core.RelationshipDocument, params *core.QueryParameters) (any, error) {
	return r.mutate(ctx, record, doc, func(tx *sqlx.Tx, recordID string, given goset.Set[string]) error {
		if given.Cardinality() == 0 {
			return nil
		}
		queryStr, args, err := sqlx.In(
			fmt.Sprintf("DELETE FROM %s WHERE %s = ? AND %s IN (?)", r.pivot, r.localKey, r.foreignKey),
			recordID, given.ToSlice(),
		)
		if err != nil {
			return err
		}
		_, err = r.adapter.loggedExec(ctx, tx, tx.Rebind(queryStr), args...)
		return err
	})
}

func (r *belongsToMany) insert(ctx context.Context, tx *sqlx.Tx, recordID string, ids goset.Set[string]) error {
	queryStr := tx.Rebind(fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES (?, ?)", r.pivot, r.localKey, r.foreignKey))
	for _, id := range sortedIDs(ids) {
		if _, err := r.adapter.loggedExec(ctx, tx, queryStr, recordID, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *belongsToMany) mutate(ctx context.Context, record any, doc core.RelationshipDocument, apply func(tx *sqlx.Tx, recordID string, given goset.Set[string]) error) (any, error) {
	rec, err := r.adapter.asRecord(record)
	if err != nil {
		return nil, err
	}
	if err := r.validate(doc); err != nil {
		return nil, err
	}

	given := givenIDs(doc)
	err = r.adapter.inTx(ctx, func(tx *sqlx.Tx) error {
		return apply(tx, rec.ID, given)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update %s: %w", r.field, err)
	}
	return rec, nil
}

// foreignValue is the column value a to-one document stores
func foreignValue(doc core.RelationshipDocument) any {
	if identifier := doc.Identifier(); identifier != nil {
		return identifier.ID
	}
	return nil
}

func givenIDs(doc core.RelationshipDocument) goset.Set[string] {
	given := goset.NewThreadUnsafeSet[string]()
	for _, identifier := range doc.Identifiers() {
		given.Add(identifier.ID)
	}
	return given
}

func sortedIDs(ids goset.Set[string]) []string {
	sorted := ids.ToSlice()
	sort.Strings(sorted)
	return sorted
}
