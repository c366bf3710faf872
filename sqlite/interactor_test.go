package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/asaidimu/go-anansi-schema/core"
	"github.com/asaidimu/go-anansi-schema/core/persistence"
	"github.com/asaidimu/go-anansi-schema/core/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *SQLiteInteractor {
	t.Helper()
	i, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { i.Close() })
	return i
}

func TestSchemaRoundTrip(t *testing.T) {
	ctx := context.Background()
	i := openTestDB(t)

	s := schema.DefaultSchema("Post")
	s.Fields["title"] = schema.FieldType{Type: schema.TypeString}
	s.Indexes["title_1"] = schema.IndexSpec{{Field: "title", Value: 1}}
	require.NoError(t, i.PersistSchema(ctx, s))

	loaded, err := i.LoadSchema(ctx, "Post")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, s.Fields, loaded.Fields)
	assert.True(t, loaded.Indexes["title_1"].Equal(s.Indexes["title_1"]))

	s.Fields["body"] = schema.FieldType{Type: schema.TypeString}
	require.NoError(t, i.PersistSchema(ctx, s))
	all, err := i.ListSchemas(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Contains(t, all[0].Fields, "body")

	require.NoError(t, i.DeleteSchema(ctx, "Post"))
	missing, err := i.LoadSchema(ctx, "Post")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDocumentLifecycle(t *testing.T) {
	ctx := context.Background()
	i := openTestDB(t)

	require.NoError(t, i.CreateCollection(ctx, "Post"))
	exists, err := i.CollectionExists(ctx, "Post")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, i.InsertDocument(ctx, "Post", schema.Document{"objectId": "a000000001", "title": "one", "tags": []any{"x"}}))
	require.NoError(t, i.InsertDocument(ctx, "Post", schema.Document{"objectId": "a000000002", "title": "two", "draft": true}))

	err = i.InsertDocument(ctx, "Post", schema.Document{"objectId": "a000000001"})
	assert.True(t, errors.Is(err, core.ErrDuplicateValue))

	count, err := i.CountObjects(ctx, "Post")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	doc, err := i.GetDocument(ctx, "Post", "a000000001")
	require.NoError(t, err)
	assert.Equal(t, "one", doc["title"])

	found, err := i.SelectDocuments(ctx, "Post", map[string]any{"draft": true})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "a000000002", found[0].ObjectID())

	found, err = i.SelectDocuments(ctx, "Post", map[string]any{"tags": []any{"x"}})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "a000000001", found[0].ObjectID())

	ok, err := i.ReplaceDocument(ctx, "Post", schema.Document{"objectId": "a000000002", "title": "changed"})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = i.ReplaceDocument(ctx, "Post", schema.Document{"objectId": "zzzzzzzzzz"})
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, i.UnsetFields(ctx, "Post", []string{"title"}))
	doc, err = i.GetDocument(ctx, "Post", "a000000002")
	require.NoError(t, err)
	assert.NotContains(t, doc, "title")

	ok, err = i.DeleteDocument(ctx, "Post", "a000000001")
	require.NoError(t, err)
	assert.True(t, ok)
	doc, err = i.GetDocument(ctx, "Post", "a000000001")
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestReadsOnMissingTable(t *testing.T) {
	ctx := context.Background()
	i := openTestDB(t)

	docs, err := i.SelectDocuments(ctx, "Nothing", nil)
	require.NoError(t, err)
	assert.Empty(t, docs)
	count, err := i.CountObjects(ctx, "Nothing")
	require.NoError(t, err)
	assert.Zero(t, count)
	ids, err := i.RelatedIDs(ctx, "_Join:users:_Role", "r1")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestUniqueIndex(t *testing.T) {
	ctx := context.Background()
	i := openTestDB(t)

	spec := schema.IndexSpec{{Field: "username", Value: 1}}
	require.NoError(t, i.CreateIndexInBackground(ctx, "_User", "unique_username", spec, persistence.IndexOptions{Unique: true}))
	require.NoError(t, i.InsertDocument(ctx, "_User", schema.Document{"objectId": "u000000001", "username": "alice"}))

	err := i.InsertDocument(ctx, "_User", schema.Document{"objectId": "u000000002", "username": "alice"})
	assert.True(t, errors.Is(err, core.ErrDuplicateValue))

	indexes, err := i.ListPhysicalIndexes(ctx, "_User")
	require.NoError(t, err)
	assert.True(t, indexes["unique_username"].Equal(spec))

	require.NoError(t, i.DropIndex(ctx, "_User", "unique_username"))
	require.NoError(t, i.InsertDocument(ctx, "_User", schema.Document{"objectId": "u000000002", "username": "alice"}))
}

func TestAdvisoryIndexes(t *testing.T) {
	ctx := context.Background()
	i := openTestDB(t)

	geo := schema.IndexSpec{{Field: "location", Value: "2dsphere"}}
	require.NoError(t, i.CreateIndexInBackground(ctx, "Place", "location_2dsphere", geo, persistence.IndexOptions{}))
	indexes, err := i.ListPhysicalIndexes(ctx, "Place")
	require.NoError(t, err)
	assert.Contains(t, indexes, "location_2dsphere")
}

func TestDropCollectionAndJoinTables(t *testing.T) {
	ctx := context.Background()
	i := openTestDB(t)

	require.NoError(t, i.CreateCollection(ctx, "Team"))
	require.NoError(t, i.AddRelation(ctx, "_Join:members:Team", "t1", "u1"))
	require.NoError(t, i.AddRelation(ctx, "_Join:members:Team", "t1", "u2"))
	require.NoError(t, i.AddRelation(ctx, "_Join:members:Other", "o1", "u1"))

	related, err := i.RelatedIDs(ctx, "_Join:members:Team", "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, related)
	owners, err := i.OwningIDs(ctx, "_Join:members:Team", "u2")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, owners)

	require.NoError(t, i.RemoveRelation(ctx, "_Join:members:Team", "t1", "u2"))
	related, err = i.RelatedIDs(ctx, "_Join:members:Team", "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, related)

	require.NoError(t, i.DropCollectionAndJoinTables(ctx, "Team"))
	for name, want := range map[string]bool{"Team": false, "_Join:members:Team": false, "_Join:members:Other": true} {
		exists, err := i.CollectionExists(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, want, exists, name)
	}
}

func TestCollectionPrefix(t *testing.T) {
	ctx := context.Background()
	opts := &persistence.InteractorOptions{CollectionPrefix: "app_", IfNotExists: true}
	i, err := Open(ctx, filepath.Join(t.TempDir(), "prefixed.db"), nil, opts)
	require.NoError(t, err)
	defer i.Close()

	require.NoError(t, i.CreateCollection(ctx, "Post"))
	var name string
	require.NoError(t, i.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type='table' AND name = ?;`, "app_c__post").Scan(&name))
	assert.Equal(t, "app_c__post", name)
}

func TestBuildSelect(t *testing.T) {
	q, err := buildSelect(`"Post"`, map[string]any{"b": 2, "a": "x", "c": map[string]any{"k": 1}})
	require.NoError(t, err)
	assert.Equal(t, `SELECT "data" FROM "Post" WHERE json_extract("data", '$.a') = ? AND json_extract("data", '$.b') = ? ORDER BY "objectId";`, q.sql)
	assert.Equal(t, []any{"x", int64(2)}, q.args)
	assert.Contains(t, q.residual, "c")

	_, err = buildSelect(`"Post"`, map[string]any{"bad key": 1})
	assert.Error(t, err)
}

func TestFoldName(t *testing.T) {
	for in, want := range map[string]string{
		"post":      "post",
		"Post":      "_post",
		"HasAllPOD": "_has_all_p_o_d",
		"HASALLPOD": "_h_a_s_a_l_l_p_o_d",
		"_User":     "___user",
		"a_b":       "a__b",
	} {
		assert.Equal(t, want, foldName(in), in)
	}
}

func TestCaseDistinctClasses(t *testing.T) {
	ctx := context.Background()
	i := openTestDB(t)

	require.NoError(t, i.CreateCollection(ctx, "HasAllPOD"))
	require.NoError(t, i.CreateCollection(ctx, "HASALLPOD"))
	require.NoError(t, i.InsertDocument(ctx, "HasAllPOD", schema.Document{"objectId": "a000000001", "title": "x"}))

	count, err := i.CountObjects(ctx, "HasAllPOD")
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
	count, err = i.CountObjects(ctx, "HASALLPOD")
	require.NoError(t, err)
	assert.Zero(t, count)

	spec := schema.IndexSpec{{Field: "title", Value: 1}}
	require.NoError(t, i.CreateIndexInBackground(ctx, "HasAllPOD", "byTitle", spec, persistence.IndexOptions{}))
	require.NoError(t, i.CreateIndexInBackground(ctx, "HASALLPOD", "byTitle", spec, persistence.IndexOptions{}))
	require.NoError(t, i.AddRelation(ctx, "_Join:tags:HasAllPOD", "a000000001", "t1"))
	require.NoError(t, i.AddRelation(ctx, "_Join:tags:HASALLPOD", "b000000001", "t2"))

	require.NoError(t, i.DropCollectionAndJoinTables(ctx, "HASALLPOD"))
	exists, err := i.CollectionExists(ctx, "HASALLPOD")
	require.NoError(t, err)
	assert.False(t, exists)

	doc, err := i.GetDocument(ctx, "HasAllPOD", "a000000001")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "x", doc["title"])
	indexes, err := i.ListPhysicalIndexes(ctx, "HasAllPOD")
	require.NoError(t, err)
	assert.Contains(t, indexes, "byTitle")
	related, err := i.RelatedIDs(ctx, "_Join:tags:HasAllPOD", "a000000001")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, related)
}

func TestClassNamedLikeBookkeeping(t *testing.T) {
	ctx := context.Background()
	i := openTestDB(t)

	require.NoError(t, i.CreateCollection(ctx, "Schema"))
	require.NoError(t, i.InsertDocument(ctx, "Schema", schema.Document{"objectId": "s000000001"}))
	require.NoError(t, i.PersistSchema(ctx, schema.DefaultSchema("Schema")))
	loaded, err := i.LoadSchema(ctx, "Schema")
	require.NoError(t, err)
	assert.NotNil(t, loaded)
}
