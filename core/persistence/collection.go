package persistence

import (
	"context"
	"time"

	"github.com/asaidimu/go-anansi-schema/core"
	"github.com/asaidimu/go-anansi-schema/core/permissions"
	"github.com/asaidimu/go-anansi-schema/core/schema"
	"go.uber.org/zap"
)

const timestampLayout = "2006-01-02T15:04:05.000Z"

// CollectionBase implements the object API of one class. Every operation is
// checked against the class-level permissions before it touches storage.
type CollectionBase struct {
	className string
	owner     *Persistence
	executor  *Executor
	enforcer  *permissions.Enforcer
	logger    *zap.Logger
}

// current returns the schema of the class and whether it is backed by
// storage. Classes that were never created, system classes included, behave
// like an empty class with the open default permissions.
func (c *CollectionBase) current(ctx context.Context) (*schema.ClassSchema, bool, error) {
	s, err := c.owner.cache.GetOrLoad(ctx, c.className, c.owner.store.Get)
	if err != nil {
		return nil, false, err
	}
	if s == nil {
		return schema.DefaultSchema(c.className), false, nil
	}
	return s, true, nil
}

func checkWritable(data map[string]any) error {
	for _, key := range []string{schema.FieldObjectID, schema.FieldCreatedAt, schema.FieldUpdatedAt} {
		if _, ok := data[key]; ok {
			return core.NewError(core.KindInvalidKeyName, "%s is an invalid field name.", key)
		}
	}
	return nil
}

func objectNotFound() error {
	return core.NewError(core.KindObjectNotFound, "Object not found.")
}

// authorizeObject falls back to the ownership fields of doc when the
// class-level check for op did not pass.
func (c *CollectionBase) authorizeObject(ctx context.Context, s *schema.ClassSchema, op schema.Operation, auth permissions.Auth, doc schema.Document, allowed bool) error {
	if allowed {
		return nil
	}
	candidate, err := c.executor.WithRelationMembers(ctx, s, doc, s.CLP().UserFields(op))
	if err != nil {
		return err
	}
	return c.enforcer.AuthorizeSchema(ctx, s, op, auth, candidate)
}

// preflight fails early when neither the class-level check nor any
// ownership field can grant op. It reports whether the class-level check
// passed.
func (c *CollectionBase) preflight(ctx context.Context, s *schema.ClassSchema, op schema.Operation, auth permissions.Auth) (bool, error) {
	allowed, err := c.enforcer.Check(ctx, s.CLP(), op, auth)
	if err != nil {
		return false, err
	}
	if !allowed && len(s.CLP().UserFields(op)) == 0 {
		return false, c.enforcer.AuthorizeSchema(ctx, s, op, auth, nil)
	}
	return allowed, nil
}

// ensureFields validates data against s and adds the fields it introduces,
// consulting addField first. It returns the schema to write with.
func (c *CollectionBase) ensureFields(ctx context.Context, s *schema.ClassSchema, stored bool, auth permissions.Auth, data map[string]any) (*schema.ClassSchema, error) {
	implied, missing, err := schema.NewValidator(s).Validate(c.className, data)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		if err := c.enforcer.AuthorizeSchema(ctx, s, schema.OpAddField, auth, nil); err != nil {
			return nil, err
		}
	}
	if len(missing) == 0 && stored {
		return s, nil
	}
	return c.owner.EnforceFields(ctx, c.className, implied)
}

// Create stores a new object, creating the class or its missing fields when
// needed.
func (c *CollectionBase) Create(ctx context.Context, auth permissions.Auth, data map[string]any) (schema.Document, error) {
	s, stored, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.enforcer.AuthorizeSchema(ctx, s, schema.OpCreate, auth, nil); err != nil {
		return nil, err
	}
	if err := checkWritable(data); err != nil {
		return nil, err
	}
	if s, err = c.ensureFields(ctx, s, stored, auth, data); err != nil {
		return nil, err
	}

	doc, changes, err := ApplyPatch(s, nil, data)
	if err != nil {
		return nil, err
	}
	id, err := newObjectID()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC().Format(timestampLayout)
	doc[schema.FieldObjectID] = id
	doc[schema.FieldCreatedAt] = now
	doc[schema.FieldUpdatedAt] = now

	if err := c.executor.Insert(ctx, s, doc, changes); err != nil {
		return nil, err
	}
	c.logger.Debug("object created", zap.String("objectId", id))
	return c.executor.Render(s, doc), nil
}

// Get returns one object.
func (c *CollectionBase) Get(ctx context.Context, auth permissions.Auth, objectID string) (schema.Document, error) {
	s, _, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	allowed, err := c.preflight(ctx, s, schema.OpGet, auth)
	if err != nil {
		return nil, err
	}
	doc, err := c.owner.interactor.GetDocument(ctx, c.className, objectID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, objectNotFound()
	}
	if err := c.authorizeObject(ctx, s, schema.OpGet, auth, doc, allowed); err != nil {
		return nil, err
	}
	return c.executor.Render(s, doc), nil
}

// Find returns the objects whose fields equal every entry of where. When the
// class-level check fails but the class declares read ownership fields, only
// the objects owned by the caller are returned.
func (c *CollectionBase) Find(ctx context.Context, auth permissions.Auth, where map[string]any) (*QueryResult, error) {
	for key := range where {
		if !schema.FieldNameIsValid(key) {
			return nil, core.NewError(core.KindInvalidKeyName, "invalid field name: %s", key)
		}
	}
	s, _, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	allowed, err := c.preflight(ctx, s, schema.OpFind, auth)
	if err != nil {
		return nil, err
	}
	docs, err := c.owner.interactor.SelectDocuments(ctx, c.className, where)
	if err != nil {
		return nil, err
	}

	results := make([]schema.Document, 0, len(docs))
	userFields := s.CLP().UserFields(schema.OpFind)
	for _, doc := range docs {
		if !allowed {
			candidate, err := c.executor.WithRelationMembers(ctx, s, doc, userFields)
			if err != nil {
				return nil, err
			}
			if !permissions.OwnsObject(s.CLP(), schema.OpFind, auth, candidate) {
				continue
			}
		}
		results = append(results, c.executor.Render(s, doc))
	}
	return &QueryResult{Results: results, Count: len(results)}, nil
}

// Update applies patch to an object. Fields the patch introduces are added
// to the class after the addField check.
func (c *CollectionBase) Update(ctx context.Context, auth permissions.Auth, objectID string, patch map[string]any) (schema.Document, error) {
	if err := checkWritable(patch); err != nil {
		return nil, err
	}
	s, stored, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	allowed, err := c.preflight(ctx, s, schema.OpUpdate, auth)
	if err != nil {
		return nil, err
	}
	doc, err := c.owner.interactor.GetDocument(ctx, c.className, objectID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, objectNotFound()
	}
	if err := c.authorizeObject(ctx, s, schema.OpUpdate, auth, doc, allowed); err != nil {
		return nil, err
	}
	if s, err = c.ensureFields(ctx, s, stored, auth, patch); err != nil {
		return nil, err
	}

	next, changes, err := ApplyPatch(s, doc, patch)
	if err != nil {
		return nil, err
	}
	next[schema.FieldObjectID] = objectID
	next[schema.FieldUpdatedAt] = time.Now().UTC().Format(timestampLayout)
	if err := c.executor.Replace(ctx, s, next, changes); err != nil {
		return nil, err
	}
	return c.executor.Render(s, next), nil
}

// Delete removes an object and the join rows it owns.
func (c *CollectionBase) Delete(ctx context.Context, auth permissions.Auth, objectID string) error {
	s, _, err := c.current(ctx)
	if err != nil {
		return err
	}
	allowed, err := c.preflight(ctx, s, schema.OpDelete, auth)
	if err != nil {
		return err
	}
	doc, err := c.owner.interactor.GetDocument(ctx, c.className, objectID)
	if err != nil {
		return err
	}
	if doc == nil {
		return objectNotFound()
	}
	if err := c.authorizeObject(ctx, s, schema.OpDelete, auth, doc, allowed); err != nil {
		return err
	}
	found, err := c.executor.Remove(ctx, s, objectID)
	if err != nil {
		return err
	}
	if !found {
		return objectNotFound()
	}
	return nil
}

// Count returns how many objects Find would return.
func (c *CollectionBase) Count(ctx context.Context, auth permissions.Auth, where map[string]any) (int, error) {
	result, err := c.Find(ctx, auth, where)
	if err != nil {
		return 0, err
	}
	return result.Count, nil
}
