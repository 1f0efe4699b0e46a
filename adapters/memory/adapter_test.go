package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/preslavrachev/apistore/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededPosts() *Adapter {
	return New("posts",
		WithToOne("author", "users"),
		WithToMany("tags", ""),
		WithRecords(
			NewRecord("posts", "1", map[string]any{"title": "Banana", "views": 10, "published": time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)}),
			NewRecord("posts", "2", map[string]any{"title": "apple", "views": 5, "published": time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}),
			NewRecord("posts", "3", map[string]any{"title": "Cherry", "views": 20}),
		),
	)
}

func pageIDs(t *testing.T, result any) []string {
	t.Helper()
	page, ok := result.(*core.Page)
	require.True(t, ok, "expected *core.Page, got %T", result)
	ids := make([]string, 0, len(page.Items))
	for _, item := range page.Items {
		ids = append(ids, item.(*Record).ID)
	}
	return ids
}

func TestQuery_InsertionOrderAndPaging(t *testing.T) {
	a := seededPosts()
	ctx := context.Background()

	result, err := a.Query(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, pageIDs(t, result))

	result, err = a.Query(ctx, &core.QueryParameters{Pagination: core.Pagination{Limit: 2}})
	require.NoError(t, err)
	page := result.(*core.Page)
	assert.Equal(t, []string{"1", "2"}, pageIDs(t, result))
	assert.True(t, page.HasMore)
	assert.Equal(t, int64(3), page.TotalCount)

	result, err = a.Query(ctx, &core.QueryParameters{Pagination: core.Pagination{Limit: 2, Offset: 2}})
	require.NoError(t, err)
	assert.Equal(t, []string{"3"}, pageIDs(t, result))
	assert.False(t, result.(*core.Page).HasMore)

	result, err = a.Query(ctx, &core.QueryParameters{Pagination: core.Pagination{Offset: 10}})
	require.NoError(t, err)
	assert.Empty(t, pageIDs(t, result))
}

func TestQuery_Filters(t *testing.T) {
	a := seededPosts()
	ctx := context.Background()

	tests := []struct {
		name     string
		filters  map[string]any
		expected []string
	}{
		{"by attribute", map[string]any{"title": "apple"}, []string{"2"}},
		{"numeric string", map[string]any{"views": "20"}, []string{"3"}},
		{"by id list", map[string]any{"id": []string{"3", "1"}}, []string{"1", "3"}},
		{"missing attribute is nil", map[string]any{"published": nil}, []string{"3"}},
		{"no match", map[string]any{"title": "kiwi"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := a.Query(ctx, &core.QueryParameters{Filters: tt.filters})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, pageIDs(t, result))
		})
	}
}

func TestQuery_Sort(t *testing.T) {
	a := seededPosts()
	ctx := context.Background()

	tests := []struct {
		sort     string
		expected []string
	}{
		{"views", []string{"2", "1", "3"}},
		{"-views", []string{"3", "1", "2"}},
		{"published", []string{"3", "2", "1"}},
		{"-id", []string{"3", "2", "1"}},
	}

	for _, tt := range tests {
		t.Run(tt.sort, func(t *testing.T) {
			result, err := a.Query(ctx, &core.QueryParameters{Sort: core.ParseSort(tt.sort)})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, pageIDs(t, result))
		})
	}
}

func TestCreate(t *testing.T) {
	counter := 0
	a := New("posts", WithToMany("tags", "tags"), WithIDGenerator(func() string {
		counter++
		return fmt.Sprintf("gen-%d", counter)
	}))
	ctx := context.Background()

	payload := core.NewResourcePayload("posts").
		WithAttribute("title", "Hello").
		WithRelationship("tags", core.ToMany(core.ResourceIdentifier{Type: "tags", ID: "go"}))

	outcome, err := a.Create(ctx, payload, nil)
	require.NoError(t, err)
	record, ok := outcome.Record()
	require.True(t, ok)

	created := record.(*Record)
	assert.Equal(t, "gen-1", created.ID)
	assert.Equal(t, "Hello", created.Attribute("title"))
	assert.Equal(t, []core.ResourceIdentifier{{Type: "tags", ID: "go"}}, created.ToMany("tags"))

	// attributes are copied, not shared with the payload
	payload.Attributes["title"] = "changed"
	assert.Equal(t, "Hello", created.Attribute("title"))

	payload = core.NewResourcePayload("posts")
	payload.ID = "gen-1"
	_, err = a.Create(ctx, payload, nil)
	assert.Error(t, err, "duplicate ids are rejected")

	_, err = a.Create(ctx, core.NewResourcePayload("users"), nil)
	assert.Error(t, err)

	_, err = a.Create(ctx, nil, nil)
	assert.Error(t, err)

	bad := core.NewResourcePayload("posts").
		WithRelationship("tags", core.ToMany(core.ResourceIdentifier{Type: "users", ID: "1"}))
	_, err = a.Create(ctx, bad, nil)
	assert.ErrorIs(t, err, core.ErrInvalidRelationshipDocument)

	assert.Equal(t, int64(5), a.Stats().Create.Load())
}

func TestUpdateAndDelete(t *testing.T) {
	a := seededPosts()
	ctx := context.Background()
	record, err := a.Find(ctx, "1")
	require.NoError(t, err)

	outcome, err := a.Update(ctx, record, core.NewResourcePayload("posts").WithAttribute("title", "Blueberry"), nil)
	require.NoError(t, err)
	updated, ok := outcome.Record()
	require.True(t, ok)
	assert.Same(t, record, updated)
	assert.Equal(t, "Blueberry", record.(*Record).Attribute("title"))
	assert.Equal(t, 10, record.(*Record).Attribute("views"))

	outcome, err = a.Delete(ctx, record, nil)
	require.NoError(t, err)
	assert.False(t, outcome.IsFailed())

	exists, err := a.Exists(ctx, "1")
	require.NoError(t, err)
	assert.False(t, exists)

	outcome, err = a.Delete(ctx, record, nil)
	require.NoError(t, err)
	assert.True(t, outcome.IsFailed())

	outcome, err = a.Update(ctx, record, core.NewResourcePayload("posts"), nil)
	require.NoError(t, err)
	assert.True(t, outcome.IsFailed())

	read, err := a.Read(ctx, record, nil)
	require.NoError(t, err)
	assert.Nil(t, read)

	_, err = a.Delete(ctx, NewRecord("users", "1", nil), nil)
	assert.Error(t, err)
}

func TestCreate_InvalidRelationshipLeavesNoRecord(t *testing.T) {
	a := seededPosts()
	ctx := context.Background()

	tests := []struct {
		name    string
		payload *core.ResourcePayload
		target  error
	}{
		{
			name: "unknown relationship",
			payload: core.NewResourcePayload("posts").
				WithAttribute("title", "Ghost").
				WithRelationship("bogus", core.ToMany()),
			target: core.ErrMissingRelationshipHandler,
		},
		{
			name: "wrong cardinality after a valid field",
			payload: core.NewResourcePayload("posts").
				WithAttribute("title", "Ghost").
				WithRelationship("author", core.ToOne(&core.ResourceIdentifier{Type: "users", ID: "1"})).
				WithRelationship("tags", core.Null()),
			target: core.ErrInvalidRelationshipDocument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.payload.ID = "ghost"
			_, err := a.Create(ctx, tt.payload, nil)
			assert.ErrorIs(t, err, tt.target)

			result, err := a.Query(ctx, nil)
			require.NoError(t, err)
			assert.Equal(t, []string{"1", "2", "3"}, pageIDs(t, result))

			exists, err := a.Exists(ctx, "ghost")
			require.NoError(t, err)
			assert.False(t, exists)
		})
	}
}

func TestUpdate_InvalidRelationshipLeavesRecordUnchanged(t *testing.T) {
	a := seededPosts()
	ctx := context.Background()
	record, err := a.Find(ctx, "1")
	require.NoError(t, err)
	post := record.(*Record)
	post.LinkOne("author", core.ResourceIdentifier{Type: "users", ID: "7"})

	tests := []struct {
		name    string
		payload *core.ResourcePayload
		target  error
	}{
		{
			name: "unknown relationship",
			payload: core.NewResourcePayload("posts").
				WithAttribute("title", "Changed").
				WithRelationship("bogus", core.ToMany()),
			target: core.ErrMissingRelationshipHandler,
		},
		{
			name: "wrong cardinality",
			payload: core.NewResourcePayload("posts").
				WithAttribute("title", "Changed").
				WithRelationship("author", core.Null()).
				WithRelationship("tags", core.Null()),
			target: core.ErrInvalidRelationshipDocument,
		},
		{
			name: "wrong related type",
			payload: core.NewResourcePayload("posts").
				WithAttribute("title", "Changed").
				WithRelationship("author", core.ToOne(&core.ResourceIdentifier{Type: "posts", ID: "2"})),
			target: core.ErrInvalidRelationshipDocument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Update(ctx, post, tt.payload, nil)
			assert.ErrorIs(t, err, tt.target)

			assert.Equal(t, "Banana", post.Attribute("title"))
			assert.Equal(t, &core.ResourceIdentifier{Type: "users", ID: "7"}, post.ToOne("author"))
			assert.Empty(t, post.ToMany("tags"))
		})
	}
}

func TestUpdate_WritesStoredRecord(t *testing.T) {
	a := seededPosts()
	ctx := context.Background()
	stored, err := a.Find(ctx, "1")
	require.NoError(t, err)

	stale := NewRecord("posts", "1", nil)
	outcome, err := a.Update(ctx, stale, core.NewResourcePayload("posts").
		WithAttribute("title", "Fig").
		WithRelationship("tags", core.ToMany(core.ResourceIdentifier{Type: "tags", ID: "go"})), nil)
	require.NoError(t, err)

	updated, ok := outcome.Record()
	require.True(t, ok)
	assert.Same(t, stored, updated)
	assert.Equal(t, "Fig", stored.(*Record).Attribute("title"))
	assert.Equal(t, 10, stored.(*Record).Attribute("views"))
	assert.Equal(t, []core.ResourceIdentifier{{Type: "tags", ID: "go"}}, stored.(*Record).ToMany("tags"))
	assert.Nil(t, stale.Attribute("title"))
	assert.Empty(t, stale.ToMany("tags"))
}

func TestFindAndFindMany(t *testing.T) {
	a := seededPosts()
	ctx := context.Background()

	record, err := a.Find(ctx, "404")
	require.NoError(t, err)
	assert.Nil(t, record)

	records, err := a.FindMany(ctx, []string{"3", "404", "3", "1"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "3", records[0].(*Record).ID)
	assert.Equal(t, "1", records[1].(*Record).ID)
}

func TestRelationships(t *testing.T) {
	a := seededPosts()
	ctx := context.Background()
	record, err := a.Find(ctx, "1")
	require.NoError(t, err)

	tags, err := a.GetRelated("tags")
	require.NoError(t, err)
	toMany, ok := tags.(core.ToManyRelationshipAdapter)
	require.True(t, ok)
	assert.Equal(t, "tags", toMany.FieldName())

	_, err = toMany.Add(ctx, record, core.ToMany(
		core.ResourceIdentifier{Type: "tags", ID: "b"},
		core.ResourceIdentifier{Type: "labels", ID: "a"},
	), nil)
	require.NoError(t, err)
	_, err = toMany.Add(ctx, record, core.ToMany(core.ResourceIdentifier{Type: "tags", ID: "a"}), nil)
	require.NoError(t, err)

	linkage, err := toMany.Relationship(ctx, record, nil)
	require.NoError(t, err)
	assert.Equal(t, []core.ResourceIdentifier{
		{Type: "labels", ID: "a"}, {Type: "tags", ID: "a"}, {Type: "tags", ID: "b"},
	}, linkage)

	_, err = toMany.Remove(ctx, record, core.ToMany(core.ResourceIdentifier{Type: "tags", ID: "a"}), nil)
	require.NoError(t, err)
	linkage, err = toMany.Relationship(ctx, record, nil)
	require.NoError(t, err)
	assert.Len(t, linkage, 2)

	_, err = toMany.Update(ctx, record, core.Null(), nil)
	assert.ErrorIs(t, err, core.ErrInvalidRelationshipDocument)

	// related records need a store
	_, err = toMany.Query(ctx, record, nil)
	assert.ErrorIs(t, err, ErrNotBound)

	author, err := a.GetRelated("author")
	require.NoError(t, err)
	_, isToMany := author.(core.ToManyRelationshipAdapter)
	assert.False(t, isToMany)

	linkage, err = author.Relationship(ctx, record, nil)
	require.NoError(t, err)
	assert.Nil(t, linkage)

	_, err = author.Update(ctx, record, core.ToOne(&core.ResourceIdentifier{Type: "users", ID: "7"}), nil)
	require.NoError(t, err)
	linkage, err = author.Relationship(ctx, record, nil)
	require.NoError(t, err)
	assert.Equal(t, &core.ResourceIdentifier{Type: "users", ID: "7"}, linkage)

	_, err = author.Update(ctx, record, core.ToMany(), nil)
	assert.ErrorIs(t, err, core.ErrInvalidRelationshipDocument)

	_, err = a.GetRelated("comments")
	assert.ErrorIs(t, err, core.ErrMissingRelationshipHandler)

	renamed := author.WithFieldName("writer")
	assert.Equal(t, "writer", renamed.FieldName())
	assert.Equal(t, "author", author.FieldName())
}

func TestWithStoreSharesTable(t *testing.T) {
	a := seededPosts()
	c := core.NewAdapterContainer()
	c.RegisterAdapter("posts", a)
	store := core.NewStore(c)

	bound := a.WithStore(store).(*Adapter)
	assert.NotSame(t, a, bound)
	assert.Same(t, a.Stats(), bound.Stats())

	_, err := bound.Create(context.Background(), core.NewResourcePayload("posts"), nil)
	require.NoError(t, err)

	result, err := a.Query(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, pageIDs(t, result), 4)
}

func TestConcurrentAccess(t *testing.T) {
	a := New("posts")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			payload := core.NewResourcePayload("posts").WithAttribute("n", i)
			payload.ID = fmt.Sprintf("p%d", i)
			_, err := a.Create(ctx, payload, nil)
			assert.NoError(t, err)
			_, err = a.Query(ctx, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(20), a.Stats().Create.Load())
	result, err := a.Query(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(20), result.(*core.Page).TotalCount)
}
