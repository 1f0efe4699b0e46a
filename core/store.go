package core

import (
	"context"

	goset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"
)

// Store is the entry point for resource operations. It resolves adapters
// through an AdapterContainer and remembers lookups in an IdentityMap.
//
// A Store serves one request and is not safe for concurrent use. Create a new
// Store per request; the container can be shared.
type Store struct {
	container   *AdapterContainer
	schemas     SchemaContainer
	identityMap *IdentityMap
	adapters    map[string]ResourceAdapter // store-bound adapters by resource type
	logger      *zap.Logger
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the logger used for debug output
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSchemas overrides the schema lookup. By default the container's
// registrations are used.
func WithSchemas(schemas SchemaContainer) Option {
	return func(s *Store) {
		if schemas != nil {
			s.schemas = schemas
		}
	}
}

// WithIdentityMap starts the store with an existing identity map
func WithIdentityMap(identityMap *IdentityMap) Option {
	return func(s *Store) {
		if identityMap != nil {
			s.identityMap = identityMap
		}
	}
}

// NewStore creates a store backed by container
func NewStore(container *AdapterContainer, opts ...Option) *Store {
	if container == nil {
		panic("NewStore expects an adapter container")
	}

	s := &Store{
		container:   container,
		schemas:     container,
		identityMap: NewIdentityMap(),
		adapters:    make(map[string]ResourceAdapter),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Container returns the adapter container
func (s *Store) Container() *AdapterContainer {
	return s.container
}

// IdentityMap returns the identity map of this store
func (s *Store) IdentityMap() *IdentityMap {
	return s.identityMap
}

// IsType reports whether resourceType has a registered adapter.
func (s *Store) IsType(resourceType string) bool {
	return s.container.Has(resourceType)
}

// AdapterFor returns the adapter for resourceType. Store-aware adapters are
// bound to this store.
func (s *Store) AdapterFor(resourceType string) (ResourceAdapter, error) {
	if adapter, exists := s.adapters[resourceType]; exists {
		return adapter, nil
	}

	adapter, err := s.container.AdapterFor(resourceType)
	if err != nil {
		return nil, err
	}

	if aware, ok := adapter.(StoreAware); ok {
		if bound := aware.WithStore(s); bound != nil {
			adapter = bound
		}
	}

	s.logger.Debug("resolved resource adapter", zap.String("type", resourceType))
	s.adapters[resourceType] = adapter
	return adapter, nil
}

// AdapterForRecord returns the adapter for the resource type of record
func (s *Store) AdapterForRecord(record any) (ResourceAdapter, error) {
	resourceType, err := s.container.ResourceTypeOf(record)
	if err != nil {
		return nil, err
	}
	return s.AdapterFor(resourceType)
}

// QueryRecords queries a resource collection. The result shape is defined by
// the adapter.
func (s *Store) QueryRecords(ctx context.Context, resourceType string, params *QueryParameters) (any, error) {
	adapter, err := s.AdapterFor(resourceType)
	if err != nil {
		return nil, err
	}

	if params != nil {
		fields := []zap.Field{zap.String("op", "query"), zap.String("type", resourceType), zap.Int("page", params.GetCurrentPage())}
		if primary := params.GetPrimarySort(); primary != nil {
			fields = append(fields, zap.String("sort", primary.Field), zap.String("direction", string(primary.Direction)))
		}
		s.logger.Debug("query records", fields...)
	}

	result, err := adapter.Query(ctx, params)
	return result, wrapAdapterError("query", resourceType, err)
}

// CreateRecord creates a resource. When the resource type has a schema the
// new record is added to the identity map.
func (s *Store) CreateRecord(ctx context.Context, resourceType string, payload *ResourcePayload, params *QueryParameters) (Outcome, error) {
	adapter, err := s.AdapterFor(resourceType)
	if err != nil {
		return Outcome{}, err
	}

	outcome, err := adapter.Create(ctx, payload, params)
	if err != nil {
		return Outcome{}, wrapAdapterError("create", resourceType, err)
	}
	if outcome.IsFailed() {
		return Outcome{}, s.mutationFailed("create", resourceType, "", outcome)
	}

	if record, ok := outcome.Record(); ok && record != nil {
		s.remember(resourceType, record)
	}
	return outcome, nil
}

// ReadRecord reads a record that has already been located.
func (s *Store) ReadRecord(ctx context.Context, record any, params *QueryParameters) (any, error) {
	resourceType, adapter, err := s.adapterForRecord(record)
	if err != nil {
		return nil, err
	}

	result, err := adapter.Read(ctx, record, params)
	if err != nil {
		return nil, wrapAdapterError("read", resourceType, err)
	}
	if result != nil {
		s.remember(resourceType, result)
	}
	return result, nil
}

// UpdateRecord updates a record.
func (s *Store) UpdateRecord(ctx context.Context, record any, payload *ResourcePayload, params *QueryParameters) (Outcome, error) {
	resourceType, adapter, err := s.adapterForRecord(record)
	if err != nil {
		return Outcome{}, err
	}

	outcome, err := adapter.Update(ctx, record, payload, params)
	if err != nil {
		return Outcome{}, wrapAdapterError("update", resourceType, err)
	}
	if outcome.IsFailed() {
		return Outcome{}, s.mutationFailed("update", resourceType, s.idOf(resourceType, record), outcome)
	}
	return outcome, nil
}

// DeleteRecord deletes a record. A failed outcome is returned as a
// CodeMutationFailed error.
func (s *Store) DeleteRecord(ctx context.Context, record any, params *QueryParameters) (Outcome, error) {
	resourceType, adapter, err := s.adapterForRecord(record)
	if err != nil {
		return Outcome{}, err
	}

	outcome, err := adapter.Delete(ctx, record, params)
	if err != nil {
		return Outcome{}, wrapAdapterError("delete", resourceType, err)
	}
	if outcome.IsFailed() {
		return Outcome{}, s.mutationFailed("delete", resourceType, s.idOf(resourceType, record), outcome)
	}
	return outcome, nil
}

// Exists reports whether a resource exists, asking the adapter at most once
// per identifier.
func (s *Store) Exists(ctx context.Context, resourceType, id string) (bool, error) {
	if _, err := NewResourceIdentifier(resourceType, id); err != nil {
		return false, err
	}

	if exists, known := s.identityMap.Exists(resourceType, id); known {
		s.logger.Debug("identity map hit", zap.String("op", "exists"), zap.String("type", resourceType), zap.String("id", id))
		return exists, nil
	}

	adapter, err := s.AdapterFor(resourceType)
	if err != nil {
		return false, err
	}

	exists, err := adapter.Exists(ctx, id)
	if err != nil {
		return false, wrapAdapterError("exists", resourceType, err)
	}

	if err := s.identityMap.AddExists(resourceType, id, exists); err != nil {
		return false, err
	}
	return exists, nil
}

// Find returns the record for (resourceType, id), or nil when it does not
// exist. The adapter is asked at most once per identifier.
func (s *Store) Find(ctx context.Context, resourceType, id string) (any, error) {
	if _, err := NewResourceIdentifier(resourceType, id); err != nil {
		return nil, err
	}

	if record, known := s.identityMap.Find(resourceType, id); known {
		s.logger.Debug("identity map hit", zap.String("op", "find"), zap.String("type", resourceType), zap.String("id", id))
		return record, nil
	}

	adapter, err := s.AdapterFor(resourceType)
	if err != nil {
		return nil, err
	}

	record, err := adapter.Find(ctx, id)
	if err != nil {
		return nil, wrapAdapterError("find", resourceType, err)
	}

	if err := s.identityMap.AddRecord(resourceType, id, record); err != nil {
		return nil, err
	}
	return record, nil
}

// FindIdentifier is Find for a resource identifier
func (s *Store) FindIdentifier(ctx context.Context, identifier ResourceIdentifier) (any, error) {
	return s.Find(ctx, identifier.Type, identifier.ID)
}

// FindOrFail is Find, but returns a CodeRecordNotFound error when the record
// does not exist.
func (s *Store) FindOrFail(ctx context.Context, resourceType, id string) (any, error) {
	record, err := s.Find(ctx, resourceType, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, RecordNotFound(resourceType, id)
	}
	return record, nil
}

// FindToOne resolves the record referenced by a to-one relationship
// document. Null data resolves to nil.
func (s *Store) FindToOne(ctx context.Context, doc RelationshipDocument) (any, error) {
	if doc.IsToMany() {
		return nil, InvalidRelationshipDocument("", "expecting a to-one relationship document")
	}
	identifier := doc.Identifier()
	if identifier == nil {
		return nil, nil
	}
	return s.Find(ctx, identifier.Type, identifier.ID)
}

// FindToMany resolves the records referenced by a to-many relationship
// document.
func (s *Store) FindToMany(ctx context.Context, doc RelationshipDocument) ([]any, error) {
	if !doc.IsToMany() {
		return nil, InvalidRelationshipDocument("", "expecting a to-many relationship document")
	}
	return s.FindMany(ctx, doc.Identifiers())
}

type findGroup struct {
	cached  []any
	pending []string
}

// FindMany resolves many identifiers with one adapter call per resource type.
// The result has no duplicates and leaves out identifiers that do not
// resolve. Result order is unspecified.
func (s *Store) FindMany(ctx context.Context, identifiers []ResourceIdentifier) ([]any, error) {
	seen := goset.NewThreadUnsafeSet[ResourceIdentifier]()
	groups := make(map[string]*findGroup)
	var typeOrder []string

	for _, identifier := range identifiers {
		if err := identifier.Validate(); err != nil {
			return nil, err
		}
		if !seen.Add(identifier) {
			continue
		}

		group, exists := groups[identifier.Type]
		if !exists {
			group = &findGroup{}
			groups[identifier.Type] = group
			typeOrder = append(typeOrder, identifier.Type)
		}

		if record, known := s.identityMap.Find(identifier.Type, identifier.ID); known {
			if record != nil {
				group.cached = append(group.cached, record)
			}
			continue
		}
		group.pending = append(group.pending, identifier.ID)
	}

	records := make([]any, 0, len(identifiers))
	for _, resourceType := range typeOrder {
		group := groups[resourceType]
		records = append(records, group.cached...)
		if len(group.pending) == 0 {
			continue
		}

		adapter, err := s.AdapterFor(resourceType)
		if err != nil {
			return nil, err
		}

		found, err := adapter.FindMany(ctx, group.pending)
		if err != nil {
			return nil, wrapAdapterError("find many", resourceType, err)
		}

		fetched, err := s.rememberMany(resourceType, group.pending, found)
		if err != nil {
			return nil, err
		}
		records = append(records, fetched...)
	}

	return records, nil
}

// rememberMany adds the records an adapter returned from FindMany to the
// identity map and marks requested ids it did not return as missing. Without
// a schema the records are returned as they are.
func (s *Store) rememberMany(resourceType string, requested []string, found []any) ([]any, error) {
	schema, ok := s.schemas.SchemaFor(resourceType)
	if !ok {
		return found, nil
	}

	records := make([]any, 0, len(found))
	returned := goset.NewThreadUnsafeSet[string]()
	complete := true
	for _, record := range found {
		if record == nil {
			continue
		}
		id, err := schema.ResourceID(record)
		if err != nil {
			s.logger.Warn("cannot extract resource id", zap.String("type", resourceType), zap.Error(err))
			complete = false
			records = append(records, record)
			continue
		}
		if !returned.Add(id) {
			continue
		}
		if cached, known := s.identityMap.Find(resourceType, id); known && cached != nil {
			records = append(records, cached)
			continue
		}
		if err := s.identityMap.AddRecord(resourceType, id, record); err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	// misses are only known when every returned record could be identified
	if !complete {
		return records, nil
	}
	for _, id := range requested {
		if returned.Contains(id) {
			continue
		}
		if err := s.identityMap.AddExists(resourceType, id, false); err != nil {
			return nil, err
		}
	}

	return records, nil
}

// QueryRelated returns the related record(s) of a relationship field.
func (s *Store) QueryRelated(ctx context.Context, record any, field string, params *QueryParameters) (any, error) {
	resourceType, relationship, err := s.relationshipAdapter(record, field)
	if err != nil {
		return nil, err
	}

	result, err := relationship.Query(ctx, record, params)
	return result, wrapAdapterError("query related "+field, resourceType, err)
}

// QueryRelationship returns the linkage of a relationship field.
func (s *Store) QueryRelationship(ctx context.Context, record any, field string, params *QueryParameters) (any, error) {
	resourceType, relationship, err := s.relationshipAdapter(record, field)
	if err != nil {
		return nil, err
	}

	result, err := relationship.Relationship(ctx, record, params)
	return result, wrapAdapterError("query relationship "+field, resourceType, err)
}

// UpdateRelationship sets a relationship field as part of a resource update.
func (s *Store) UpdateRelationship(ctx context.Context, record any, field string, doc RelationshipDocument, params *QueryParameters) (any, error) {
	resourceType, relationship, err := s.relationshipAdapter(record, field)
	if err != nil {
		return nil, err
	}

	result, err := relationship.Update(ctx, record, doc, params)
	return result, wrapAdapterError("update relationship "+field, resourceType, err)
}

// ReplaceRelationship replaces the linkage of a relationship field.
func (s *Store) ReplaceRelationship(ctx context.Context, record any, field string, doc RelationshipDocument, params *QueryParameters) (any, error) {
	resourceType, relationship, err := s.relationshipAdapter(record, field)
	if err != nil {
		return nil, err
	}

	result, err := relationship.Replace(ctx, record, doc, params)
	return result, wrapAdapterError("replace relationship "+field, resourceType, err)
}

// AddToRelationship adds identifiers to a to-many relationship field.
func (s *Store) AddToRelationship(ctx context.Context, record any, field string, doc RelationshipDocument, params *QueryParameters) (any, error) {
	resourceType, relationship, err := s.toManyAdapter(record, field)
	if err != nil {
		return nil, err
	}

	result, err := relationship.Add(ctx, record, doc, params)
	return result, wrapAdapterError("add to relationship "+field, resourceType, err)
}

// RemoveFromRelationship removes identifiers from a to-many relationship field.
func (s *Store) RemoveFromRelationship(ctx context.Context, record any, field string, doc RelationshipDocument, params *QueryParameters) (any, error) {
	resourceType, relationship, err := s.toManyAdapter(record, field)
	if err != nil {
		return nil, err
	}

	result, err := relationship.Remove(ctx, record, doc, params)
	return result, wrapAdapterError("remove from relationship "+field, resourceType, err)
}

func (s *Store) adapterForRecord(record any) (string, ResourceAdapter, error) {
	resourceType, err := s.container.ResourceTypeOf(record)
	if err != nil {
		return "", nil, err
	}
	adapter, err := s.AdapterFor(resourceType)
	if err != nil {
		return "", nil, err
	}
	return resourceType, adapter, nil
}

func (s *Store) relationshipAdapter(record any, field string) (string, RelationshipAdapter, error) {
	resourceType, adapter, err := s.adapterForRecord(record)
	if err != nil {
		return "", nil, err
	}

	relationship, err := adapter.GetRelated(field)
	if err != nil {
		return "", nil, wrapAdapterError("get related "+field, resourceType, err)
	}
	if relationship == nil {
		return "", nil, MissingRelationship(resourceType, field)
	}
	if relationship.FieldName() != field {
		relationship = relationship.WithFieldName(field)
	}
	return resourceType, relationship, nil
}

func (s *Store) toManyAdapter(record any, field string) (string, ToManyRelationshipAdapter, error) {
	resourceType, relationship, err := s.relationshipAdapter(record, field)
	if err != nil {
		return "", nil, err
	}

	toMany, ok := relationship.(ToManyRelationshipAdapter)
	if !ok {
		return "", nil, &Error{
			Code:         CodeRelationshipCapabilityMismatch,
			Message:      "expecting a has-many relationship adapter",
			ResourceType: resourceType,
			Field:        field,
		}
	}
	return resourceType, toMany, nil
}

// remember adds a record to the identity map when its type has a schema.
func (s *Store) remember(resourceType string, record any) {
	id := s.idOf(resourceType, record)
	if id == "" {
		return
	}
	if err := s.identityMap.AddRecord(resourceType, id, record); err != nil {
		s.logger.Warn("cannot remember record", zap.String("type", resourceType), zap.String("id", id), zap.Error(err))
	}
}

func (s *Store) idOf(resourceType string, record any) string {
	schema, ok := s.schemas.SchemaFor(resourceType)
	if !ok {
		return ""
	}
	id, err := schema.ResourceID(record)
	if err != nil {
		s.logger.Warn("cannot extract resource id", zap.String("type", resourceType), zap.Error(err))
		return ""
	}
	return id
}

func (s *Store) mutationFailed(op, resourceType, id string, outcome Outcome) error {
	message := "adapter failed to " + op + " record"
	if reason := outcome.Reason(); reason != "" {
		message += ": " + reason
	}
	s.logger.Debug("mutation failed", zap.String("op", op), zap.String("type", resourceType), zap.String("id", id))
	return &Error{
		Code:         CodeMutationFailed,
		Message:      message,
		ResourceType: resourceType,
		ID:           id,
	}
}
