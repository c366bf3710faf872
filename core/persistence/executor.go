package persistence

import (
	"context"
	"crypto/rand"
	"fmt"
	"maps"
	"reflect"
	"sort"

	"github.com/asaidimu/go-anansi-schema/core"
	"github.com/asaidimu/go-anansi-schema/core/schema"
	"go.uber.org/zap"
)

const objectIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// newObjectID returns a random 10 character alphanumeric id.
func newObjectID() (string, error) {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate object id: %w", err)
	}
	for i, b := range buf {
		buf[i] = objectIDAlphabet[int(b)%len(objectIDAlphabet)]
	}
	return string(buf), nil
}

// relationChange is a pending AddRelation or RemoveRelation on one field.
type relationChange struct {
	field string
	add   bool
	ids   []string
}

// Executor orchestrates object storage: patch application, relation join
// rows and rendering of stored objects.
type Executor struct {
	interactor DatabaseInteractor
	logger     *zap.Logger
}

func NewExecutor(interactor DatabaseInteractor, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{interactor: interactor, logger: logger}
}

// ApplyPatch merges patch into current, which is nil for a new object.
// Operation values ({"__op": ...}) are resolved against the current value and
// relation operations are returned separately since they live in join
// structures rather than in the object.
func ApplyPatch(s *schema.ClassSchema, current schema.Document, patch map[string]any) (schema.Document, []relationChange, error) {
	out := schema.Document{}
	maps.Copy(out, current)
	var changes []relationChange

	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := patch[key]
		declared := s.Fields[key]
		obj, isObj := value.(map[string]any)
		if !isObj {
			out[key] = value
			continue
		}
		if kind, _ := obj["__type"].(string); kind == string(schema.TypeRelation) {
			continue
		}
		op, hasOp := obj["__op"].(string)
		if !hasOp {
			out[key] = value
			continue
		}
		switch op {
		case "Delete":
			delete(out, key)
		case "Increment":
			amount, ok := core.ToFloat64(obj["amount"])
			if !ok {
				return nil, nil, core.NewError(core.KindInvalidJSON, "incrementing must provide a number")
			}
			base := 0.0
			if existing, present := out[key]; present && existing != nil {
				n, ok := core.ToFloat64(existing)
				if !ok {
					return nil, nil, core.NewError(core.KindIncorrectType, "cannot increment a non-numeric field %s", key)
				}
				base = n
			}
			out[key] = base + amount
		case "Add", "AddUnique", "Remove":
			objects, ok := obj["objects"].([]any)
			if !ok {
				return nil, nil, core.NewError(core.KindInvalidJSON, "objects to %s must be an array", op)
			}
			existing, _ := out[key].([]any)
			out[key] = applyArrayOp(op, existing, objects)
		case "AddRelation", "RemoveRelation":
			ids, err := relationIDs(key, declared, obj)
			if err != nil {
				return nil, nil, err
			}
			changes = append(changes, relationChange{field: key, add: op == "AddRelation", ids: ids})
		default:
			return nil, nil, core.NewError(core.KindInvalidJSON, "unexpected op: %s", op)
		}
	}
	return out, changes, nil
}

func applyArrayOp(op string, existing, objects []any) []any {
	out := append([]any{}, existing...)
	switch op {
	case "Add":
		return append(out, objects...)
	case "AddUnique":
		for _, o := range objects {
			if !containsValue(out, o) {
				out = append(out, o)
			}
		}
		return out
	default:
		kept := out[:0]
		for _, v := range out {
			if !containsValue(objects, v) {
				kept = append(kept, v)
			}
		}
		return kept
	}
}

func containsValue(list []any, v any) bool {
	for _, item := range list {
		if reflect.DeepEqual(item, v) {
			return true
		}
	}
	return false
}

func relationIDs(field string, declared schema.FieldType, obj map[string]any) ([]string, error) {
	objects, _ := obj["objects"].([]any)
	ids := make([]string, 0, len(objects))
	for _, item := range objects {
		pointer, _ := item.(map[string]any)
		id, _ := pointer[schema.FieldObjectID].(string)
		className, _ := pointer["className"].(string)
		if id == "" || className == "" {
			return nil, core.NewError(core.KindIncorrectType, "This is not a valid Pointer")
		}
		if declared.TargetClass != "" && className != declared.TargetClass {
			return nil, core.NewError(core.KindIncorrectType, "schema mismatch for %s; expected %s but got Relation<%s>", field, declared, className)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Insert stores a new object and its relation rows. If a relation row cannot
// be written the object is removed again.
func (e *Executor) Insert(ctx context.Context, s *schema.ClassSchema, doc schema.Document, changes []relationChange) error {
	if err := e.interactor.InsertDocument(ctx, s.ClassName, doc); err != nil {
		return err
	}
	if err := e.applyRelations(ctx, s, doc.ObjectID(), changes); err != nil {
		if _, derr := e.interactor.DeleteDocument(ctx, s.ClassName, doc.ObjectID()); derr != nil {
			e.logger.Warn("failed to remove object after relation failure",
				zap.String("class", s.ClassName), zap.String("objectId", doc.ObjectID()), zap.Error(derr))
		}
		return err
	}
	return nil
}

// Replace overwrites an existing object and applies its relation changes.
func (e *Executor) Replace(ctx context.Context, s *schema.ClassSchema, doc schema.Document, changes []relationChange) error {
	found, err := e.interactor.ReplaceDocument(ctx, s.ClassName, doc)
	if err != nil {
		return err
	}
	if !found {
		return core.NewError(core.KindObjectNotFound, "Object not found.")
	}
	return e.applyRelations(ctx, s, doc.ObjectID(), changes)
}

// Remove deletes an object together with the join rows it owns.
func (e *Executor) Remove(ctx context.Context, s *schema.ClassSchema, objectID string) (bool, error) {
	for _, field := range s.Fields.Names() {
		if s.Fields[field].Type != schema.TypeRelation {
			continue
		}
		join := schema.JoinClassName(field, s.ClassName)
		related, err := e.interactor.RelatedIDs(ctx, join, objectID)
		if err != nil {
			return false, err
		}
		for _, id := range related {
			if err := e.interactor.RemoveRelation(ctx, join, objectID, id); err != nil {
				return false, err
			}
		}
	}
	return e.interactor.DeleteDocument(ctx, s.ClassName, objectID)
}

func (e *Executor) applyRelations(ctx context.Context, s *schema.ClassSchema, objectID string, changes []relationChange) error {
	for _, change := range changes {
		join := schema.JoinClassName(change.field, s.ClassName)
		if err := e.interactor.CreateCollection(ctx, join); err != nil {
			return err
		}
		for _, id := range change.ids {
			var err error
			if change.add {
				err = e.interactor.AddRelation(ctx, join, objectID, id)
			} else {
				err = e.interactor.RemoveRelation(ctx, join, objectID, id)
			}
			if err != nil {
				return fmt.Errorf("failed to update %s: %w", join, err)
			}
		}
	}
	return nil
}

// Render returns the client view of a stored object: relation fields appear
// as {"__type": "Relation", "className": target}.
func (e *Executor) Render(s *schema.ClassSchema, doc schema.Document) schema.Document {
	out := schema.Document{}
	maps.Copy(out, doc)
	for name, t := range s.Fields {
		if t.Type == schema.TypeRelation {
			out[name] = map[string]any{"__type": string(schema.TypeRelation), "className": t.TargetClass}
		}
	}
	return out
}

// WithRelationMembers returns a copy of doc where the relation fields among
// names hold the pointers they link to. Ownership checks read them.
func (e *Executor) WithRelationMembers(ctx context.Context, s *schema.ClassSchema, doc schema.Document, names []string) (schema.Document, error) {
	out := schema.Document{}
	maps.Copy(out, doc)
	for _, name := range names {
		t, ok := s.Fields[name]
		if !ok || t.Type != schema.TypeRelation {
			continue
		}
		ids, err := e.interactor.RelatedIDs(ctx, schema.JoinClassName(name, s.ClassName), doc.ObjectID())
		if err != nil {
			return nil, err
		}
		pointers := make([]any, 0, len(ids))
		for _, id := range ids {
			pointers = append(pointers, map[string]any{
				"__type":             string(schema.TypePointer),
				"className":          t.TargetClass,
				schema.FieldObjectID: id,
			})
		}
		out[name] = pointers
	}
	return out, nil
}
