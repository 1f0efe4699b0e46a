package sql

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/preslavrachev/apistore/core"

	"github.com/google/uuid"
	"github.com/iancoleman/strcase"
	"github.com/jmoiron/sqlx"
	"go.uber.org/multierr"
)

// KeyStrategy decides where ids of created records come from
type KeyStrategy string

const (
	// KeyAuto lets the database assign the id (INTEGER PRIMARY KEY)
	KeyAuto KeyStrategy = "auto"
	// KeyUUID generates a random UUID unless the client supplied an id
	KeyUUID KeyStrategy = "uuid"
	// KeyClient requires the client to supply the id
	KeyClient KeyStrategy = "client"
)

// IsValid reports whether the strategy is known
func (k KeyStrategy) IsValid() bool {
	return k == KeyAuto || k == KeyUUID || k == KeyClient
}

// Table describes the table behind a resource type
type Table struct {
	Name     string
	IDColumn string
	Keys     KeyStrategy
}

// tableMeta caches the discovered column set of a table
type tableMeta struct {
	mu      sync.Mutex
	columns map[string]bool
}

// Adapter implements core.ResourceAdapter on top of a single SQL table
type Adapter struct {
	db           *sqlx.DB
	resourceType string
	table        Table
	meta         *tableMeta
	relations    map[string]relation
	logger       *SQLLogger
	store        *core.Store
}

var (
	_ core.ResourceAdapter = (*Adapter)(nil)
	_ core.StoreAware      = (*Adapter)(nil)
)

// Option configures an Adapter
type Option func(*Adapter)

// WithLogger sets the SQL logger
func WithLogger(logger *SQLLogger) Option {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithBelongsTo declares a to-one relationship stored in a foreign key column
func WithBelongsTo(field, relatedType, foreignKey string) Option {
	return func(a *Adapter) {
		a.relations[field] = relation{
			kind:        relationBelongsTo,
			relatedType: relatedType,
			foreignKey:  foreignKey,
		}
	}
}

// WithBelongsToMany declares a to-many relationship stored in a pivot table
func WithBelongsToMany(field, relatedType, pivot, localKey, foreignKey string) Option {
	return func(a *Adapter) {
		a.relations[field] = relation{
			kind:        relationBelongsToMany,
			relatedType: relatedType,
			pivot:       pivot,
			localKey:    localKey,
			foreignKey:  foreignKey,
		}
	}
}

// New creates a new SQL adapter for resourceType
func New(db *sqlx.DB, resourceType string, table Table, opts ...Option) *Adapter {
	if table.Name == "" {
		table.Name = strcase.ToSnake(resourceType)
	}
	if table.IDColumn == "" {
		table.IDColumn = "id"
	}
	if table.Keys == "" {
		table.Keys = KeyAuto
	}

	a := &Adapter{
		db:           db,
		resourceType: resourceType,
		table:        table,
		meta:         &tableMeta{},
		relations:    make(map[string]relation),
		logger:       NewSQLLogger(nil, false),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// WithStore implements core.StoreAware
func (a *Adapter) WithStore(store *core.Store) core.ResourceAdapter {
	bound := *a
	bound.store = store
	return &bound
}

// ResourceType returns the resource type served by this adapter
func (a *Adapter) ResourceType() string {
	return a.resourceType
}

// Table returns the table description
func (a *Adapter) Table() Table {
	return a.table
}

// SetDebugEnabled enables or disables SQL debug logging
func (a *Adapter) SetDebugEnabled(enabled bool) {
	a.logger.SetEnabled(enabled)
}

// loggedQuery runs a SELECT and returns all rows as column maps
func (a *Adapter) loggedQuery(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) ([]map[string]any, error) {
	start := time.Now()
	rows, err := q.QueryxContext(ctx, query, args...)
	if err != nil {
		a.logger.LogError(query, args, time.Since(start), err)
		return nil, err
	}
	defer rows.Close()

	var result []map[string]any
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	a.logger.LogQuery(query, args, time.Since(start), len(result))
	return result, nil
}

// loggedExec runs an INSERT/UPDATE/DELETE with logging
func (a *Adapter) loggedExec(ctx context.Context, e sqlx.ExecerContext, query string, args ...any) (sql.Result, error) {
	start := time.Now()
	result, err := e.ExecContext(ctx, query, args...)
	duration := time.Since(start)

	if err != nil {
		a.logger.LogError(query, args, duration, err)
		return nil, err
	}

	a.logger.LogExec(query, args, duration, result)
	return result, nil
}

// loggedCount runs a COUNT query
func (a *Adapter) loggedCount(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) (int64, error) {
	var count int64
	start := time.Now()
	err := q.QueryRowxContext(ctx, query, args...).Scan(&count)
	duration := time.Since(start)
	if err != nil {
		a.logger.LogError(query, args, duration, err)
		return 0, err
	}
	a.logger.LogQuery(query, args, duration, 1)
	return count, nil
}

// inTx runs fn inside a transaction. Rollback failures are combined with
// the error returned by fn.
func (a *Adapter) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		return multierr.Append(err, tx.Rollback())
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// columns returns the column set of the table, discovering it on first use
func (a *Adapter) columns(ctx context.Context) (map[string]bool, error) {
	a.meta.mu.Lock()
	defer a.meta.mu.Unlock()

	if a.meta.columns != nil {
		return a.meta.columns, nil
	}

	query := fmt.Sprintf("SELECT * FROM %s LIMIT 0", a.table.Name)
	start := time.Now()
	rows, err := a.db.QueryxContext(ctx, query)
	if err != nil {
		a.logger.LogError(query, nil, time.Since(start), err)
		return nil, fmt.Errorf("failed to inspect table %s: %w", a.table.Name, err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to inspect table %s: %w", a.table.Name, err)
	}
	a.logger.LogQuery(query, nil, time.Since(start), 0)

	columns := make(map[string]bool, len(names))
	for _, name := range names {
		columns[name] = true
	}
	a.meta.columns = columns
	return columns, nil
}

// column resolves an attribute name to a column of the table
func (a *Adapter) column(ctx context.Context, attribute string) (string, error) {
	columns, err := a.columns(ctx)
	if err != nil {
		return "", err
	}

	if attribute == "id" {
		return a.table.IDColumn, nil
	}
	for _, candidate := range []string{attribute, strcase.ToSnake(attribute)} {
		if columns[candidate] {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("sql: %s has no attribute %q", a.resourceType, attribute)
}

// Query returns the records matching params as a *core.Page
func (a *Adapter) Query(ctx context.Context, params *core.QueryParameters) (any, error) {
	if params == nil {
		params = &core.QueryParameters{}
	}

	var where string
	var args []any
	if params.HasFilters() {
		var err error
		if where, args, err = a.whereClause(ctx, params.Filters); err != nil {
			return nil, err
		}
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", a.table.Name, where)
	totalCount, err := a.loggedCount(ctx, a.db, countQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}

	orderClauses := make([]string, 0, len(params.Sort)+1)
	for _, s := range params.Sort {
		column, err := a.column(ctx, s.Field)
		if err != nil {
			return nil, err
		}
		direction := "ASC"
		if s.Direction == core.SortDesc {
			direction = "DESC"
		}
		orderClauses = append(orderClauses, fmt.Sprintf("%s %s", column, direction))
	}
	if !params.HasSort() {
		orderClauses = append(orderClauses, a.table.IDColumn+" ASC")
	}

	queryStr := fmt.Sprintf("SELECT * FROM %s%s ORDER BY %s", a.table.Name, where, strings.Join(orderClauses, ", "))
	if params.Pagination.Limit > 0 {
		queryStr += fmt.Sprintf(" LIMIT %d OFFSET %d", params.Pagination.Limit, params.Pagination.Offset)
	}

	rows, err := a.loggedQuery(ctx, a.db, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}

	items := make([]any, 0, len(rows))
	for _, row := range rows {
		items = append(items, a.newRecord(row))
	}

	hasMore := (int64(params.Pagination.Offset) + int64(len(items))) < totalCount

	return &core.Page{
		Items:      items,
		TotalCount: totalCount,
		HasMore:    hasMore,
		Query:      *params,
	}, nil
}

func (a *Adapter) whereClause(ctx context.Context, filters map[string]any) (string, []any, error) {
	fields := make([]string, 0, len(filters))
	for field := range filters {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var conditions []string
	var args []any
	for _, field := range fields {
		column, err := a.column(ctx, field)
		if err != nil {
			return "", nil, err
		}

		switch value := filters[field].(type) {
		case []string:
			if len(value) == 0 {
				conditions = append(conditions, "1 = 0")
				continue
			}
			conditions = append(conditions, fmt.Sprintf("%s IN (?)", column))
			args = append(args, value)
		case nil:
			conditions = append(conditions, fmt.Sprintf("%s IS NULL", column))
		default:
			conditions = append(conditions, fmt.Sprintf("%s = ?", column))
			args = append(args, value)
		}
	}

	where := " WHERE " + strings.Join(conditions, " AND ")
	expanded, args, err := sqlx.In(where, args...)
	if err != nil {
		return "", nil, fmt.Errorf("failed to expand filters: %w", err)
	}
	return a.db.Rebind(expanded), args, nil
}

// Create inserts a record built from payload and fills its relationships.
// The insert, the relationship writes and the reload share one transaction.
func (a *Adapter) Create(ctx context.Context, payload *core.ResourcePayload, params *core.QueryParameters) (core.Outcome, error) {
	if err := a.checkPayload(payload); err != nil {
		return core.Outcome{}, err
	}

	columns, values, err := a.assignments(ctx, payload.Attributes)
	if err != nil {
		return core.Outcome{}, err
	}
	writes, err := a.relationshipWrites(payload)
	if err != nil {
		return core.Outcome{}, err
	}

	id := payload.ID
	switch a.table.Keys {
	case KeyUUID:
		if id == "" {
			id = uuid.NewString()
		}
	case KeyClient:
		if id == "" {
			return core.Outcome{}, fmt.Errorf("sql: %s requires a client-generated id", a.resourceType)
		}
	}
	if id != "" {
		columns = append(columns, a.table.IDColumn)
		values = append(values, id)
	}

	var queryStr string
	if len(columns) == 0 {
		queryStr = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", a.table.Name)
	} else {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
		queryStr = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			a.table.Name, strings.Join(columns, ", "), placeholders)
	}

	var record *Record
	err = a.inTx(ctx, func(tx *sqlx.Tx) error {
		result, err := a.loggedExec(ctx, tx, tx.Rebind(queryStr), values...)
		if err != nil {
			return fmt.Errorf("failed to create record: %w", err)
		}

		if id == "" {
			lastID, err := result.LastInsertId()
			if err != nil {
				return fmt.Errorf("failed to read generated id: %w", err)
			}
			id = strconv.FormatInt(lastID, 10)
		}

		if err := a.applyWrites(ctx, tx, id, writes); err != nil {
			return err
		}
		record, err = a.findRecord(ctx, tx, id)
		return err
	})
	if err != nil {
		return core.Outcome{}, err
	}
	if record == nil {
		return core.Failed("created record could not be reloaded"), nil
	}
	return core.Done(record), nil
}

// Read reloads the record. The same *Record is returned with fresh columns,
// or nil if the row is gone.
func (a *Adapter) Read(ctx context.Context, record any, params *core.QueryParameters) (any, error) {
	rec, err := a.asRecord(record)
	if err != nil {
		return nil, err
	}

	fresh, err := a.findRecord(ctx, a.db, rec.ID)
	if err != nil {
		return nil, err
	}
	if fresh == nil {
		return nil, nil
	}
	rec.refresh(fresh)
	return rec, nil
}

// Update writes the given attributes and fills relationships in one
// transaction. The record is refreshed only after the commit.
func (a *Adapter) Update(ctx context.Context, record any, payload *core.ResourcePayload, params *core.QueryParameters) (core.Outcome, error) {
	rec, err := a.asRecord(record)
	if err != nil {
		return core.Outcome{}, err
	}
	if err := a.checkPayload(payload); err != nil {
		return core.Outcome{}, err
	}

	columns, values, err := a.assignments(ctx, payload.Attributes)
	if err != nil {
		return core.Outcome{}, err
	}
	writes, err := a.relationshipWrites(payload)
	if err != nil {
		return core.Outcome{}, err
	}

	var fresh *Record
	err = a.inTx(ctx, func(tx *sqlx.Tx) error {
		exists, err := a.exists(ctx, tx, rec.ID)
		if err != nil || !exists {
			return err
		}

		if len(columns) > 0 {
			setClauses := make([]string, len(columns))
			for i, column := range columns {
				setClauses[i] = column + " = ?"
			}
			queryStr := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
				a.table.Name, strings.Join(setClauses, ", "), a.table.IDColumn)
			if _, err := a.loggedExec(ctx, tx, tx.Rebind(queryStr), append(values, rec.ID)...); err != nil {
				return fmt.Errorf("failed to update record: %w", err)
			}
		}

		if err := a.applyWrites(ctx, tx, rec.ID, writes); err != nil {
			return err
		}
		fresh, err = a.findRecord(ctx, tx, rec.ID)
		return err
	})
	if err != nil {
		return core.Outcome{}, err
	}
	if fresh == nil {
		return core.Failed("record does not exist"), nil
	}
	rec.refresh(fresh)
	return core.Done(rec), nil
}

// Delete removes the row together with the pivot rows it owns
func (a *Adapter) Delete(ctx context.Context, record any, params *core.QueryParameters) (core.Outcome, error) {
	rec, err := a.asRecord(record)
	if err != nil {
		return core.Outcome{}, err
	}

	var affected int64
	err = a.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, field := range a.relationFields() {
			rel := a.relations[field]
			if rel.kind != relationBelongsToMany {
				continue
			}
			queryStr := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", rel.pivot, rel.localKey)
			if _, err := a.loggedExec(ctx, tx, tx.Rebind(queryStr), rec.ID); err != nil {
				return fmt.Errorf("failed to unlink %s: %w", field, err)
			}
		}

		queryStr := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", a.table.Name, a.table.IDColumn)
		result, err := a.loggedExec(ctx, tx, tx.Rebind(queryStr), rec.ID)
		if err != nil {
			return fmt.Errorf("failed to delete record: %w", err)
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return core.Outcome{}, err
	}

	if affected == 0 {
		return core.Failed("record does not exist"), nil
	}
	return core.Done(nil), nil
}

// Exists reports whether a row with id exists
func (a *Adapter) Exists(ctx context.Context, id string) (bool, error) {
	return a.exists(ctx, a.db, id)
}

func (a *Adapter) exists(ctx context.Context, q sqlx.QueryerContext, id string) (bool, error) {
	queryStr := a.db.Rebind(fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", a.table.Name, a.table.IDColumn))
	count, err := a.loggedCount(ctx, q, queryStr, id)
	if err != nil {
		return false, fmt.Errorf("failed to check existence: %w", err)
	}
	return count > 0, nil
}

// Find returns the record with id, or nil
func (a *Adapter) Find(ctx context.Context, id string) (any, error) {
	record, err := a.findRecord(ctx, a.db, id)
	if err != nil || record == nil {
		return nil, err
	}
	return record, nil
}

// FindMany returns the records among ids. Missing ids are dropped.
func (a *Adapter) FindMany(ctx context.Context, ids []string) ([]any, error) {
	if len(ids) == 0 {
		return []any{}, nil
	}

	queryStr, args, err := sqlx.In(
		fmt.Sprintf("SELECT * FROM %s WHERE %s IN (?) ORDER BY %s ASC", a.table.Name, a.table.IDColumn, a.table.IDColumn),
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to expand ids: %w", err)
	}

	rows, err := a.loggedQuery(ctx, a.db, a.db.Rebind(queryStr), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}

	seen := make(map[string]bool, len(rows))
	records := make([]any, 0, len(rows))
	for _, row := range rows {
		record := a.newRecord(row)
		if seen[record.ID] {
			continue
		}
		seen[record.ID] = true
		records = append(records, record)
	}
	return records, nil
}

// GetRelated returns the relationship adapter for field
func (a *Adapter) GetRelated(field string) (core.RelationshipAdapter, error) {
	return a.relationship(field)
}

func (a *Adapter) relationship(field string) (relationWriter, error) {
	rel, exists := a.relations[field]
	if !exists {
		return nil, core.MissingRelationship(a.resourceType, field)
	}

	if rel.kind == relationBelongsToMany {
		return &belongsToMany{adapter: a, relation: rel, field: field}, nil
	}
	return &belongsTo{adapter: a, relation: rel, field: field}, nil
}

func (a *Adapter) findRecord(ctx context.Context, q sqlx.QueryerContext, id string) (*Record, error) {
	queryStr := a.db.Rebind(fmt.Sprintf("SELECT * FROM %s WHERE %s = ? LIMIT 1", a.table.Name, a.table.IDColumn))
	rows, err := a.loggedQuery(ctx, q, queryStr, id)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return a.newRecord(rows[0]), nil
}

// assignments maps payload attributes to columns in a stable order
func (a *Adapter) assignments(ctx context.Context, attributes map[string]any) ([]string, []any, error) {
	names := make([]string, 0, len(attributes))
	for name := range attributes {
		names = append(names, name)
	}
	sort.Strings(names)

	columns := make([]string, 0, len(names))
	values := make([]any, 0, len(names))
	for _, name := range names {
		column, err := a.column(ctx, name)
		if err != nil {
			return nil, nil, err
		}
		if column == a.table.IDColumn {
			return nil, nil, fmt.Errorf("sql: %s id cannot be set as an attribute", a.resourceType)
		}
		columns = append(columns, column)
		values = append(values, attributes[name])
	}
	return columns, values, nil
}

// pendingWrite is a validated relationship document waiting for its record
type pendingWrite struct {
	relationship relationWriter
	doc          core.RelationshipDocument
}

// relationshipWrites resolves and validates every relationship of payload
// before anything is written
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

func (a *Adapter) applyWrites(ctx context.Context, tx *sqlx.Tx, recordID string, writes []pendingWrite) error {
	for _, w := range writes {
		if err := w.relationship.write(ctx, tx, recordID, w.doc); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) relationFields() []string {
	fields := make([]string, 0, len(a.relations))
	for field := range a.relations {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

func (a *Adapter) newRecord(row map[string]any) *Record {
	return newRecord(a.resourceType, a.table.IDColumn, row)
}

func (a *Adapter) checkPayload(payload *core.ResourcePayload) error {
	if payload == nil {
		return fmt.Errorf("sql: payload cannot be nil")
	}
	if payload.Type != "" && payload.Type != a.resourceType {
		return fmt.Errorf("sql: payload type %q does not match %q", payload.Type, a.resourceType)
	}
	return nil
}

func (a *Adapter) asRecord(record any) (*Record, error) {
	rec, ok := record.(*Record)
	if !ok || rec == nil {
		return nil, fmt.Errorf("sql: expected *sql.Record, got %T", record)
	}
	if rec.Type != a.resourceType {
		return nil, fmt.Errorf("sql: record type %q does not match %q", rec.Type, a.resourceType)
	}
	return rec, nil
}
