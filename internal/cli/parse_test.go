package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/preslavrachev/apistore/config"
	"github.com/preslavrachev/apistore/core"
)

func TestParseAssignments(t *testing.T) {
	attributes, err := parseAssignments([]string{"title=Hello=World", "body=", "deleted-at=null"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"title":      "Hello=World",
		"body":       "",
		"deleted-at": nil,
	}, attributes)

	_, err = parseAssignments([]string{"title"})
	assert.Error(t, err)

	_, err = parseAssignments([]string{"=value"})
	assert.Error(t, err)
}

func TestParseFilters(t *testing.T) {
	filters, err := parseFilters([]string{"id=1", "id=2", "id=3", "status=draft", "author-id=null"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"id":        []string{"1", "2", "3"},
		"status":    "draft",
		"author-id": nil,
	}, filters)

	_, err = parseFilters([]string{"author-id=null", "author-id=1"})
	assert.Error(t, err)
}

func TestRelationshipDocument(t *testing.T) {
	author := config.RelationshipDefinition{Field: "author", Kind: config.KindToOne, Type: "authors"}
	tags := config.RelationshipDefinition{Field: "tags", Kind: config.KindToMany, Type: "tags"}

	doc, err := relationshipDocument(author, []string{"authors:2"})
	require.NoError(t, err)
	assert.Equal(t, &core.ResourceIdentifier{Type: "authors", ID: "2"}, doc.Identifier())

	for _, refs := range [][]string{nil, {"null"}} {
		doc, err = relationshipDocument(author, refs)
		require.NoError(t, err)
		assert.True(t, doc.IsNull())
	}

	_, err = relationshipDocument(author, []string{"authors:1", "authors:2"})
	assert.Error(t, err)

	_, err = relationshipDocument(author, []string{"authors"})
	assert.Error(t, err)

	_, err = relationshipDocument(author, []string{"authors:"})
	assert.ErrorIs(t, err, core.ErrInvalidIdentifier)

	doc, err = relationshipDocument(tags, []string{"tags:go", "tags:sql"})
	require.NoError(t, err)
	assert.True(t, doc.IsToMany())
	assert.Equal(t, []core.ResourceIdentifier{{Type: "tags", ID: "go"}, {Type: "tags", ID: "sql"}}, doc.Identifiers())

	doc, err = relationshipDocument(tags, nil)
	require.NoError(t, err)
	assert.True(t, doc.IsToMany())
	assert.Empty(t, doc.Identifiers())
}

func TestBuildPayload(t *testing.T) {
	def := config.ResourceDefinition{
		Type: "posts",
		Relationships: []config.RelationshipDefinition{
			{Field: "author", Kind: config.KindToOne, Type: "authors"},
			{Field: "tags", Kind: config.KindToMany, Type: "tags"},
		},
	}

	payload, err := buildPayload(def, "9", []string{"title=Hello"}, []string{"author=authors:1", "tags=tags:go,tags:web", ""})
	assert.Error(t, err, "empty relationship flag")
	assert.Nil(t, payload)

	payload, err = buildPayload(def, "9", []string{"title=Hello"}, []string{"author=authors:1", "tags="})
	require.NoError(t, err)
	assert.Equal(t, "posts", payload.Type)
	assert.Equal(t, "9", payload.ID)
	assert.Equal(t, "Hello", payload.Attributes["title"])
	assert.False(t, payload.Relationships["author"].IsToMany())
	assert.True(t, payload.Relationships["tags"].IsToMany())
	assert.Empty(t, payload.Relationships["tags"].Identifiers())

	_, err = buildPayload(def, "", nil, []string{"comments=comments:1"})
	assert.ErrorIs(t, err, core.ErrMissingRelationshipHandler)
}
