package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestStore(t *testing.T, adapters ...*stubAdapter) *Store {
	t.Helper()
	c := NewAdapterContainer()
	for _, adapter := range adapters {
		c.RegisterAdapter(adapter.resourceType, adapter).WithSchema(IdentifiableSchema{})
	}
	return NewStore(c, WithLogger(zaptest.NewLogger(t)))
}

func TestStore_FindAsksAdapterOnce(t *testing.T) {
	posts := newStubAdapter("posts", "1")
	store := newTestStore(t, posts)
	ctx := context.Background()

	first, err := store.Find(ctx, "posts", "1")
	require.NoError(t, err)
	second, err := store.Find(ctx, "posts", "1")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, posts.calls["find"])

	// a resolved record also answers existence
	exists, err := store.Exists(ctx, "posts", "1")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Zero(t, posts.calls["exists"])
}

func TestStore_MissingRecordIsRemembered(t *testing.T) {
	posts := newStubAdapter("posts")
	store := newTestStore(t, posts)
	ctx := context.Background()

	record, err := store.Find(ctx, "posts", "404")
	require.NoError(t, err)
	assert.Nil(t, record)

	record, err = store.Find(ctx, "posts", "404")
	require.NoError(t, err)
	assert.Nil(t, record)

	exists, err := store.Exists(ctx, "posts", "404")
	require.NoError(t, err)
	assert.False(t, exists)

	assert.Equal(t, 1, posts.calls["find"])
	assert.Zero(t, posts.calls["exists"])
}

func TestStore_ExistsAsksAdapterOnce(t *testing.T) {
	posts := newStubAdapter("posts", "1")
	store := newTestStore(t, posts)
	ctx := context.Background()

	for n := 0; n < 3; n++ {
		exists, err := store.Exists(ctx, "posts", "1")
		require.NoError(t, err)
		assert.True(t, exists)
	}
	assert.Equal(t, 1, posts.calls["exists"])

	// existence is not a record, so Find still asks the adapter
	record, err := store.Find(ctx, "posts", "1")
	require.NoError(t, err)
	assert.NotNil(t, record)
	assert.Equal(t, 1, posts.calls["find"])
}

func TestStore_NegativeExistsShortCircuitsFind(t *testing.T) {
	posts := newStubAdapter("posts")
	store := newTestStore(t, posts)
	ctx := context.Background()

	exists, err := store.Exists(ctx, "posts", "9")
	require.NoError(t, err)
	assert.False(t, exists)

	record, err := store.Find(ctx, "posts", "9")
	require.NoError(t, err)
	assert.Nil(t, record)
	assert.Zero(t, posts.calls["find"])
}

func TestStore_FindOrFail(t *testing.T) {
	store := newTestStore(t, newStubAdapter("posts", "1"))
	ctx := context.Background()

	record, err := store.FindOrFail(ctx, "posts", "1")
	require.NoError(t, err)
	assert.NotNil(t, record)

	_, err = store.FindOrFail(ctx, "posts", "2")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsFatal(err))

	var storeErr *Error
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "posts", storeErr.ResourceType)
	assert.Equal(t, "2", storeErr.ID)
}

func TestStore_InvalidIdentifier(t *testing.T) {
	posts := newStubAdapter("posts")
	store := newTestStore(t, posts)
	ctx := context.Background()

	_, err := store.Find(ctx, "posts", "")
	assert.ErrorIs(t, err, ErrInvalidIdentifier)

	_, err = store.Exists(ctx, "", "1")
	assert.ErrorIs(t, err, ErrInvalidIdentifier)

	_, err = store.FindMany(ctx, []ResourceIdentifier{{Type: "posts", ID: "1"}, {Type: "posts"}})
	assert.ErrorIs(t, err, ErrInvalidIdentifier)

	assert.Empty(t, posts.calls)
}

func TestStore_UnknownResourceType(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Find(ctx, "ghosts", "1")
	assert.ErrorIs(t, err, ErrUnknownResourceType)
	assert.True(t, IsFatal(err))

	_, err = store.QueryRecords(ctx, "ghosts", NewQueryParameters())
	assert.ErrorIs(t, err, ErrUnknownResourceType)

	assert.False(t, store.IsType("ghosts"))
	assert.Zero(t, store.IdentityMap().Len())
}

func TestStore_AdapterErrorsAreWrapped(t *testing.T) {
	posts := newStubAdapter("posts")
	posts.err = errStubFailure
	store := newTestStore(t, posts)

	_, err := store.Find(context.Background(), "posts", "1")
	require.Error(t, err)
	assert.ErrorIs(t, err, errStubFailure)
	assert.Contains(t, err.Error(), "posts")
	assert.Zero(t, store.IdentityMap().Len(), "failed lookups are not remembered")
}

func TestStore_FindManyGroupsByType(t *testing.T) {
	posts := newStubAdapter("posts", "1", "2", "3")
	users := newStubAdapter("users", "a")
	store := newTestStore(t, posts, users)
	ctx := context.Background()

	cached, err := store.Find(ctx, "posts", "3")
	require.NoError(t, err)

	records, err := store.FindMany(ctx, []ResourceIdentifier{
		{Type: "posts", ID: "1"},
		{Type: "users", ID: "a"},
		{Type: "posts", ID: "2"},
		{Type: "posts", ID: "1"},
		{Type: "posts", ID: "3"},
		{Type: "posts", ID: "404"},
	})
	require.NoError(t, err)

	assert.Len(t, records, 4)
	assert.Contains(t, records, cached)
	assert.ElementsMatch(t, []any{
		posts.records["1"], posts.records["2"], posts.records["3"], users.records["a"],
	}, records)

	assert.Equal(t, 1, posts.calls["findMany"])
	assert.Equal(t, 1, users.calls["findMany"])
	assert.Equal(t, [][]string{{"1", "2", "404"}}, posts.findManyArgs)

	// results and misses are remembered
	_, err = store.Find(ctx, "posts", "2")
	require.NoError(t, err)
	missing, err := store.Find(ctx, "posts", "404")
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.Equal(t, 1, posts.calls["find"])
}

func TestStore_FindManyServedFromIdentityMap(t *testing.T) {
	posts := newStubAdapter("posts", "1")
	store := newTestStore(t, posts)
	ctx := context.Background()

	_, err := store.Find(ctx, "posts", "1")
	require.NoError(t, err)
	_, err = store.Find(ctx, "posts", "2")
	require.NoError(t, err)

	records, err := store.FindMany(ctx, []ResourceIdentifier{{Type: "posts", ID: "1"}, {Type: "posts", ID: "2"}})
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Zero(t, posts.calls["findMany"])

	records, err = store.FindMany(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Zero(t, posts.calls["findMany"])
}

func TestStore_FindManyWithoutSchemaIsNotRemembered(t *testing.T) {
	posts := newStubAdapter("posts", "1")
	c := NewAdapterContainer()
	c.RegisterAdapter("posts", posts)
	store := NewStore(c)
	ctx := context.Background()

	records, err := store.FindMany(ctx, []ResourceIdentifier{{Type: "posts", ID: "1"}})
	require.NoError(t, err)
	assert.Len(t, records, 1)

	_, err = store.Find(ctx, "posts", "1")
	require.NoError(t, err)
	assert.Equal(t, 1, posts.calls["find"])
}

func TestStore_FindManyUnidentifiedRecordIsNotMissing(t *testing.T) {
	posts := newStubAdapter("posts", "1", "2")
	c := NewAdapterContainer()
	c.RegisterAdapter("posts", posts).WithSchema(SchemaFunc(func(record any) (string, error) {
		if record.(*stubRecord).id == "2" {
			return "", errStubFailure
		}
		return record.(*stubRecord).id, nil
	}))
	store := NewStore(c, WithLogger(zaptest.NewLogger(t)))
	ctx := context.Background()

	records, err := store.FindMany(ctx, []ResourceIdentifier{
		{Type: "posts", ID: "1"},
		{Type: "posts", ID: "2"},
		{Type: "posts", ID: "3"},
	})
	require.NoError(t, err)
	assert.Len(t, records, 2)

	assert.Equal(t, EntryUnknown, store.IdentityMap().Lookup("posts", "2").State())
	assert.Equal(t, EntryUnknown, store.IdentityMap().Lookup("posts", "3").State())

	record, err := store.Find(ctx, "posts", "2")
	require.NoError(t, err)
	assert.NotNil(t, record)
	assert.Equal(t, 1, posts.calls["find"])
}

func TestStore_FindToOneAndToMany(t *testing.T) {
	store := newTestStore(t, newStubAdapter("posts", "1", "2"))
	ctx := context.Background()

	record, err := store.FindToOne(ctx, ToOne(&ResourceIdentifier{Type: "posts", ID: "1"}))
	require.NoError(t, err)
	assert.NotNil(t, record)

	record, err = store.FindToOne(ctx, Null())
	require.NoError(t, err)
	assert.Nil(t, record)

	_, err = store.FindToOne(ctx, ToMany())
	assert.ErrorIs(t, err, ErrInvalidRelationshipDocument)

	records, err := store.FindToMany(ctx, ToMany(
		ResourceIdentifier{Type: "posts", ID: "1"},
		ResourceIdentifier{Type: "posts", ID: "2"},
	))
	require.NoError(t, err)
	assert.Len(t, records, 2)

	_, err = store.FindToMany(ctx, Null())
	assert.ErrorIs(t, err, ErrInvalidRelationshipDocument)
}

func TestStore_StoreAwareAdaptersAreBoundOncePerStore(t *testing.T) {
	bindings := 0
	aware := &awareAdapter{stubAdapter: newStubAdapter("posts", "1"), bindings: &bindings}
	c := NewAdapterContainer()
	c.RegisterAdapter("posts", aware)

	first := NewStore(c)
	adapter, err := first.AdapterFor("posts")
	require.NoError(t, err)
	again, err := first.AdapterFor("posts")
	require.NoError(t, err)

	assert.Same(t, adapter, again)
	assert.Same(t, first, adapter.(*awareAdapter).store)
	assert.Equal(t, 1, bindings)

	second := NewStore(c)
	other, err := second.AdapterFor("posts")
	require.NoError(t, err)
	assert.Same(t, second, other.(*awareAdapter).store)
	assert.Equal(t, 2, bindings)

	// the shared instance stays unbound
	shared, err := c.AdapterFor("posts")
	require.NoError(t, err)
	assert.Nil(t, shared.(*awareAdapter).store)
}

func TestStore_CreateRecord(t *testing.T) {
	posts := newStubAdapter("posts")
	store := newTestStore(t, posts)
	ctx := context.Background()

	payload := NewResourcePayload("posts")
	payload.ID = "new"
	outcome, err := store.CreateRecord(ctx, "posts", payload, nil)
	require.NoError(t, err)

	created, ok := outcome.Record()
	require.True(t, ok)

	found, err := store.Find(ctx, "posts", "new")
	require.NoError(t, err)
	assert.Same(t, created, found)
	assert.Zero(t, posts.calls["find"])
}

func TestStore_FailedWritesBecomeErrors(t *testing.T) {
	posts := newStubAdapter("posts", "1")
	failed := Failed("locked")
	posts.writeOutcome = &failed
	store := newTestStore(t, posts)
	ctx := context.Background()
	record := posts.records["1"]

	_, err := store.CreateRecord(ctx, "posts", NewResourcePayload("posts"), nil)
	assert.ErrorIs(t, err, ErrMutationFailed)
	assert.Contains(t, err.Error(), "locked")

	_, err = store.UpdateRecord(ctx, record, NewResourcePayload("posts"), nil)
	assert.ErrorIs(t, err, ErrMutationFailed)

	_, err = store.DeleteRecord(ctx, record, nil)
	require.Error(t, err)
	var storeErr *Error
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, CodeMutationFailed, storeErr.Code)
	assert.Equal(t, "1", storeErr.ID)
}

func TestStore_QueuedWritesAreNotRemembered(t *testing.T) {
	posts := newStubAdapter("posts")
	process := NewProcess("posts", "create")
	queued := Queued(process)
	posts.writeOutcome = &queued
	store := newTestStore(t, posts)

	payload := NewResourcePayload("posts")
	payload.ID = "later"
	outcome, err := store.CreateRecord(context.Background(), "posts", payload, nil)
	require.NoError(t, err)

	got, ok := outcome.Process()
	require.True(t, ok)
	assert.Same(t, process, got)
	assert.Equal(t, ProcessQueued, got.Status)
	assert.NotEmpty(t, got.ID)

	_, ok = outcome.Record()
	assert.False(t, ok)
	assert.Zero(t, store.IdentityMap().Len())
}

func TestStore_ReadRecord(t *testing.T) {
	posts := newStubAdapter("posts", "1")
	store := newTestStore(t, posts)
	ctx := context.Background()

	read, err := store.ReadRecord(ctx, &stubRecord{resourceType: "posts", id: "1"}, nil)
	require.NoError(t, err)
	assert.Same(t, posts.records["1"], read)

	found, err := store.Find(ctx, "posts", "1")
	require.NoError(t, err)
	assert.Same(t, read, found)
	assert.Zero(t, posts.calls["find"])
}

func TestStore_RelationshipDispatch(t *testing.T) {
	posts := newStubAdapter("posts", "1")
	author := newStubRelationship("author")
	tags := &stubToManyRelationship{stubRelationship: newStubRelationship("tags")}
	posts.relations["author"] = author
	posts.relations["tags"] = tags
	// registered under another name; the store renames it
	posts.relations["labels"] = tags

	store := newTestStore(t, posts)
	ctx := context.Background()
	record := posts.records["1"]

	result, err := store.QueryRelated(ctx, record, "author", nil)
	require.NoError(t, err)
	assert.Equal(t, "author", result)

	result, err = store.QueryRelationship(ctx, record, "labels", nil)
	require.NoError(t, err)
	assert.Equal(t, "labels", result)
	assert.Equal(t, 1, tags.calls["withFieldName"])

	doc := ToMany(ResourceIdentifier{Type: "tags", ID: "go"})
	_, err = store.AddToRelationship(ctx, record, "tags", doc, nil)
	require.NoError(t, err)
	_, err = store.RemoveFromRelationship(ctx, record, "tags", doc, nil)
	require.NoError(t, err)
	_, err = store.ReplaceRelationship(ctx, record, "tags", ToMany(), nil)
	require.NoError(t, err)
	_, err = store.UpdateRelationship(ctx, record, "author", Null(), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, tags.calls["add"])
	assert.Equal(t, 1, tags.calls["remove"])
	assert.Equal(t, 1, tags.calls["replace"])
	assert.Equal(t, 1, author.calls["update"])
	assert.True(t, author.last.IsNull())
}

func TestStore_AddRequiresToManyAdapter(t *testing.T) {
	posts := newStubAdapter("posts", "1")
	author := newStubRelationship("author")
	posts.relations["author"] = author
	store := newTestStore(t, posts)
	ctx := context.Background()
	record := posts.records["1"]
	doc := ToMany(ResourceIdentifier{Type: "users", ID: "a"})

	_, err := store.AddToRelationship(ctx, record, "author", doc, nil)
	require.ErrorIs(t, err, ErrRelationshipCapabilityMismatch)
	assert.Contains(t, err.Error(), "expecting a has-many relationship adapter")

	_, err = store.RemoveFromRelationship(ctx, record, "author", doc, nil)
	require.ErrorIs(t, err, ErrRelationshipCapabilityMismatch)

	assert.Empty(t, author.calls, "the relationship adapter is never invoked")
}

func TestStore_MissingRelationshipHandler(t *testing.T) {
	posts := newStubAdapter("posts", "1")
	store := newTestStore(t, posts)

	_, err := store.QueryRelated(context.Background(), posts.records["1"], "comments", nil)
	require.ErrorIs(t, err, ErrMissingRelationshipHandler)

	var storeErr *Error
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "comments", storeErr.Field)
}

func TestStore_UntypedRecord(t *testing.T) {
	store := newTestStore(t, newStubAdapter("posts"))

	_, err := store.ReadRecord(context.Background(), plainPost{ID: "1"}, nil)
	assert.ErrorIs(t, err, ErrUnknownResourceType)
}

func TestNewStoreRequiresContainer(t *testing.T) {
	assert.Panics(t, func() { NewStore(nil) })
}

func TestStore_SharedIdentityMap(t *testing.T) {
	posts := newStubAdapter("posts", "1")
	c := NewAdapterContainer()
	c.RegisterAdapter("posts", posts).WithSchema(IdentifiableSchema{})
	ctx := context.Background()

	identityMap := NewIdentityMap()
	cached := &stubRecord{resourceType: "posts", id: "1"}
	require.NoError(t, identityMap.AddRecord("posts", "1", cached))

	store := NewStore(c, WithIdentityMap(identityMap))
	assert.Same(t, identityMap, store.IdentityMap())

	record, err := store.FindIdentifier(ctx, ResourceIdentifier{Type: "posts", ID: "1"})
	require.NoError(t, err)
	assert.Same(t, cached, record)
	assert.Zero(t, posts.calls["find"])

	_, err = store.FindIdentifier(ctx, ResourceIdentifier{Type: "posts"})
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}
