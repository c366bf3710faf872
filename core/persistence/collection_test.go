package persistence_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/asaidimu/go-anansi-schema/core"
	"github.com/asaidimu/go-anansi-schema/core/permissions"
	"github.com/asaidimu/go-anansi-schema/core/persistence"
	"github.com/asaidimu/go-anansi-schema/core/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collection(t *testing.T, p *persistence.Persistence, className string) persistence.PersistenceCollectionInterface {
	t.Helper()
	c, err := p.Collection(className)
	require.NoError(t, err)
	return c
}

func pointer(className, id string) map[string]any {
	return map[string]any{"__type": "Pointer", "className": className, "objectId": id}
}

func createUser(t *testing.T, p *persistence.Persistence, username string) string {
	t.Helper()
	doc, err := collection(t, p, schema.UserClassName).Create(context.Background(), permissions.Master(), map[string]any{"username": username})
	require.NoError(t, err)
	return doc.ObjectID()
}

func TestCollectionCRUD(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPersistence(t)
	posts := collection(t, p, "Post")
	auth := permissions.Anonymous()

	created, err := posts.Create(ctx, auth, map[string]any{"title": "hello", "views": 1})
	require.NoError(t, err)
	id := created.ObjectID()
	assert.Regexp(t, `^[A-Za-z0-9]{10}$`, id)
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z$`, created["createdAt"])
	assert.Equal(t, created["createdAt"], created["updatedAt"])

	s, err := p.GetClass(ctx, "Post")
	require.NoError(t, err, "the first write creates the class")
	assert.Equal(t, schema.FieldType{Type: schema.TypeString}, s.Fields["title"])
	assert.Equal(t, schema.FieldType{Type: schema.TypeNumber}, s.Fields["views"])

	got, err := posts.Get(ctx, auth, id)
	require.NoError(t, err)
	assert.Equal(t, "hello", got["title"])

	updated, err := posts.Update(ctx, auth, id, map[string]any{"views": map[string]any{"__op": "Increment", "amount": 2}})
	require.NoError(t, err)
	assert.Equal(t, float64(3), updated["views"])
	assert.Equal(t, created["createdAt"], updated["createdAt"])

	_, err = posts.Create(ctx, auth, map[string]any{"title": "second"})
	require.NoError(t, err)
	found, err := posts.Find(ctx, auth, map[string]any{"title": "hello"})
	require.NoError(t, err)
	require.Equal(t, 1, found.Count)
	assert.Equal(t, id, found.Results[0].ObjectID())

	count, err := posts.Count(ctx, auth, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, posts.Delete(ctx, auth, id))
	_, err = posts.Get(ctx, auth, id)
	requireCode(t, err, core.CodeObjectNotFound, "Object not found.")
	err = posts.Delete(ctx, auth, id)
	requireCode(t, err, core.CodeObjectNotFound, "Object not found.")
}

func TestCollectionWriteValidation(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPersistence(t)
	posts := collection(t, p, "Post")
	auth := permissions.Master()

	_, err := posts.Create(ctx, auth, map[string]any{"objectId": "abc"})
	requireCode(t, err, core.CodeInvalidKeyName, "objectId is an invalid field name.")

	doc, err := posts.Create(ctx, auth, map[string]any{"title": "x"})
	require.NoError(t, err)

	_, err = posts.Update(ctx, auth, doc.ObjectID(), map[string]any{"updatedAt": "now"})
	requireCode(t, err, core.CodeInvalidKeyName, "updatedAt is an invalid field name.")

	_, err = posts.Create(ctx, auth, map[string]any{"title": 12})
	requireCode(t, err, core.CodeIncorrectType, "schema mismatch for Post.title; expected String but got Number")

	_, err = posts.Find(ctx, auth, map[string]any{"bad key": 1})
	requireCode(t, err, core.CodeInvalidKeyName, "")

	_, err = p.Collection("1bad")
	requireCode(t, err, core.CodeInvalidClassName, "")
}

func TestCollectionAddFieldPermission(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPersistence(t)
	_, err := p.CreateClass(ctx, "Locked", request(t, `{
		"fields": {"title": "String"},
		"classLevelPermissions": {"create": {"*": true}, "find": {"*": true}, "get": {"*": true}}
	}`))
	require.NoError(t, err)
	locked := collection(t, p, "Locked")

	_, err = locked.Create(ctx, permissions.Anonymous(), map[string]any{"title": "ok"})
	require.NoError(t, err)

	_, err = locked.Create(ctx, permissions.Anonymous(), map[string]any{"title": "no", "extra": true})
	requireCode(t, err, core.CodeOperationForbidden, "Permission denied for action addField on class Locked.")

	s, err := p.GetClass(ctx, "Locked")
	require.NoError(t, err)
	assert.NotContains(t, s.Fields, "extra")

	_, err = locked.Create(ctx, permissions.Master(), map[string]any{"title": "yes", "extra": true})
	require.NoError(t, err)
}

func TestCollectionRolePermissions(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPersistence(t)
	alice := createUser(t, p, "alice")
	bob := createUser(t, p, "bob")

	roles := collection(t, p, schema.RoleClassName)
	admin, err := roles.Create(ctx, permissions.Master(), map[string]any{
		"name":  "admin",
		"users": map[string]any{"__op": "AddRelation", "objects": []any{pointer(schema.UserClassName, alice)}},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"__type": "Relation", "className": schema.UserClassName}, admin["users"])

	_, err = roles.Create(ctx, permissions.Master(), map[string]any{
		"name":  "staff",
		"roles": map[string]any{"__op": "AddRelation", "objects": []any{pointer(schema.RoleClassName, admin.ObjectID())}},
	})
	require.NoError(t, err)

	_, err = roles.Create(ctx, permissions.Master(), map[string]any{"name": "admin"})
	assert.True(t, errors.Is(err, core.ErrDuplicateValue), "role names are unique")

	_, err = p.CreateClass(ctx, "Report", request(t, `{"classLevelPermissions": {"find": {"role:staff": true}, "create": {"role:admin": true}}}`))
	require.NoError(t, err)
	reports := collection(t, p, "Report")

	_, err = reports.Create(ctx, permissions.User(alice), map[string]any{})
	require.NoError(t, err)
	_, err = reports.Create(ctx, permissions.User(bob), map[string]any{})
	requireCode(t, err, core.CodeOperationForbidden, "Permission denied for action create on class Report.")

	result, err := reports.Find(ctx, permissions.User(alice), nil)
	require.NoError(t, err, "admin members inherit staff")
	assert.Equal(t, 1, result.Count)

	_, err = reports.Find(ctx, permissions.User(bob), nil)
	assert.True(t, errors.Is(err, core.ErrPermissionDenied))
	_, err = reports.Find(ctx, permissions.Anonymous(), nil)
	assert.True(t, errors.Is(err, core.ErrPermissionDenied))
}

func TestCollectionUserFields(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPersistence(t)
	alice := createUser(t, p, "alice")
	bob := createUser(t, p, "bob")

	_, err := p.CreateClass(ctx, "Note", request(t, `{
		"fields": {"owner": {"type": "Pointer", "targetClass": "_User"}, "text": "String"},
		"classLevelPermissions": {
			"create": {"*": true},
			"readUserFields": ["owner"],
			"writeUserFields": ["owner"]
		}
	}`))
	require.NoError(t, err)
	notes := collection(t, p, "Note")

	note, err := notes.Create(ctx, permissions.User(alice), map[string]any{"owner": pointer(schema.UserClassName, alice), "text": "mine"})
	require.NoError(t, err)
	_, err = notes.Create(ctx, permissions.User(bob), map[string]any{"owner": pointer(schema.UserClassName, bob), "text": "bob's"})
	require.NoError(t, err)

	mine, err := notes.Find(ctx, permissions.User(alice), nil)
	require.NoError(t, err)
	require.Equal(t, 1, mine.Count)
	assert.Equal(t, "mine", mine.Results[0]["text"])

	none, err := notes.Find(ctx, permissions.Anonymous(), nil)
	require.NoError(t, err)
	assert.Zero(t, none.Count)

	_, err = notes.Get(ctx, permissions.User(bob), note.ObjectID())
	requireCode(t, err, core.CodeOperationForbidden, "Permission denied for action get on class Note.")
	got, err := notes.Get(ctx, permissions.User(alice), note.ObjectID())
	require.NoError(t, err)
	assert.Equal(t, "mine", got["text"])

	_, err = notes.Update(ctx, permissions.User(bob), note.ObjectID(), map[string]any{"text": "hijacked"})
	assert.True(t, errors.Is(err, core.ErrPermissionDenied))
	_, err = notes.Update(ctx, permissions.User(alice), note.ObjectID(), map[string]any{"text": "edited"})
	require.NoError(t, err)

	err = notes.Delete(ctx, permissions.User(bob), note.ObjectID())
	assert.True(t, errors.Is(err, core.ErrPermissionDenied))
	require.NoError(t, notes.Delete(ctx, permissions.User(alice), note.ObjectID()))
}

func TestCollectionRelationOwnership(t *testing.T) {
	ctx := context.Background()
	p, store := newTestPersistence(t)
	alice := createUser(t, p, "alice")
	bob := createUser(t, p, "bob")

	_, err := p.CreateClass(ctx, "Team", request(t, `{
		"fields": {"members": {"type": "Relation", "targetClass": "_User"}},
		"classLevelPermissions": {"create": {"*": true}, "readUserFields": ["members"]}
	}`))
	require.NoError(t, err)
	teams := collection(t, p, "Team")

	team, err := teams.Create(ctx, permissions.Master(), map[string]any{
		"members": map[string]any{"__op": "AddRelation", "objects": []any{pointer(schema.UserClassName, alice)}},
	})
	require.NoError(t, err)

	_, err = teams.Get(ctx, permissions.User(alice), team.ObjectID())
	require.NoError(t, err)
	_, err = teams.Get(ctx, permissions.User(bob), team.ObjectID())
	assert.True(t, errors.Is(err, core.ErrPermissionDenied))

	require.NoError(t, teams.Delete(ctx, permissions.Master(), team.ObjectID()))
	ids, err := store.RelatedIDs(ctx, "_Join:members:Team", team.ObjectID())
	require.NoError(t, err)
	assert.Empty(t, ids, "deleting an object removes its join rows")
}

func TestCollectionEvents(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPersistence(t)

	var mu sync.Mutex
	var events []persistence.PersistenceEvent
	p.RegisterSubscription(persistence.RegisterSubscriptionOptions{
		Event: persistence.DocumentCreateSuccess,
		Callback: func(ctx context.Context, e persistence.PersistenceEvent) error {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, e)
			return nil
		},
	})

	_, err := collection(t, p, "Post").Create(ctx, permissions.Master(), map[string]any{"title": "x"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "create", events[0].Operation)
	assert.IsType(t, schema.Document{}, events[0].Output)
}
