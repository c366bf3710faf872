// Package memory provides an in-process implementation of the
// persistence.DatabaseInteractor interface. Everything lives in maps guarded
// by a single RWMutex; values are deep-copied on the way in and out.
package memory

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/asaidimu/go-anansi-schema/core"
	"github.com/asaidimu/go-anansi-schema/core/persistence"
	"github.com/asaidimu/go-anansi-schema/core/schema"
	"go.uber.org/zap"
)

type joinRow struct {
	owning  string
	related string
}

type index struct {
	spec   schema.IndexSpec
	unique bool
}

// MemoryInteractor keeps schemas, objects, join rows and index metadata in
// memory.
type MemoryInteractor struct {
	mu          sync.RWMutex
	schemas     map[string]*schema.ClassSchema
	collections map[string]struct{}
	objects     map[string]map[string]schema.Document
	joins       map[string]map[joinRow]struct{}
	indexes     map[string]map[string]index
	logger      *zap.Logger
}

var _ persistence.DatabaseInteractor = (*MemoryInteractor)(nil)

// NewMemoryInteractor creates an empty store.
func NewMemoryInteractor(logger *zap.Logger) *MemoryInteractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryInteractor{
		schemas:     make(map[string]*schema.ClassSchema),
		collections: make(map[string]struct{}),
		objects:     make(map[string]map[string]schema.Document),
		joins:       make(map[string]map[joinRow]struct{}),
		indexes:     make(map[string]map[string]index),
		logger:      logger,
	}
}

func (m *MemoryInteractor) PersistSchema(ctx context.Context, s *schema.ClassSchema) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schemas[s.ClassName] = s.Clone()
	return nil
}

func (m *MemoryInteractor) LoadSchema(ctx context.Context, className string) (*schema.ClassSchema, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.schemas[className].Clone(), nil
}

func (m *MemoryInteractor) ListSchemas(ctx context.Context) ([]*schema.ClassSchema, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.schemas))
	for name := range m.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*schema.ClassSchema, 0, len(names))
	for _, name := range names {
		out = append(out, m.schemas[name].Clone())
	}
	return out, nil
}

func (m *MemoryInteractor) DeleteSchema(ctx context.Context, className string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.schemas, className)
	return nil
}

func (m *MemoryInteractor) CreateCollection(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections[name] = struct{}{}
	return nil
}

func (m *MemoryInteractor) CollectionExists(ctx context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.collections[name]
	return ok, nil
}

func (m *MemoryInteractor) DropCollection(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropLocked(name)
	return nil
}

func (m *MemoryInteractor) dropLocked(name string) {
	delete(m.collections, name)
	delete(m.objects, name)
	delete(m.indexes, name)
	delete(m.joins, name)
}

func (m *MemoryInteractor) DropCollectionAndJoinTables(ctx context.Context, className string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropLocked(className)
	for name := range m.collections {
		if owner, ok := schema.JoinOwner(name); ok && owner == className {
			m.dropLocked(name)
		}
	}
	for name := range m.joins {
		if owner, ok := schema.JoinOwner(name); ok && owner == className {
			m.dropLocked(name)
		}
	}
	m.logger.Debug("collection dropped", zap.String("class", className))
	return nil
}

func (m *MemoryInteractor) CountObjects(ctx context.Context, className string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.objects[className])), nil
}

func (m *MemoryInteractor) CreateIndexInBackground(ctx context.Context, className, name string, spec schema.IndexSpec, opts persistence.IndexOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.indexes[className]; !ok {
		m.indexes[className] = make(map[string]index)
	}
	if _, ok := m.indexes[className][name]; ok {
		return nil
	}
	idx := index{spec: spec.Clone(), unique: opts.Unique}
	if idx.unique {
		if err := m.checkUniqueLocked(className, idx, nil); err != nil {
			return err
		}
	}
	m.indexes[className][name] = idx
	return nil
}

func (m *MemoryInteractor) DropIndex(ctx context.Context, className, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.indexes[className], name)
	return nil
}

func (m *MemoryInteractor) ListPhysicalIndexes(ctx context.Context, className string) (map[string]schema.IndexSpec, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]schema.IndexSpec, len(m.indexes[className]))
	for name, idx := range m.indexes[className] {
		out[name] = idx.spec.Clone()
	}
	return out, nil
}

// checkUniqueLocked fails when candidate, or any pair of stored objects if
// candidate is nil, share the values of a unique index.
func (m *MemoryInteractor) checkUniqueLocked(className string, idx index, candidate schema.Document) error {
	fields := idx.spec.Fields()
	seen := make([][]any, 0, len(m.objects[className]))
	for id, doc := range m.objects[className] {
		if candidate != nil && id == candidate.ObjectID() {
			continue
		}
		values, ok := keyValues(doc, fields)
		if !ok {
			continue
		}
		if candidate == nil {
			for _, other := range seen {
				if valuesEqual(other, values) {
					return duplicate(className, fields)
				}
			}
			seen = append(seen, values)
			continue
		}
		if cv, ok := keyValues(candidate, fields); ok && valuesEqual(cv, values) {
			return duplicate(className, fields)
		}
	}
	return nil
}

func duplicate(className string, fields []string) error {
	return core.NewError(core.KindDuplicateValue, "A duplicate value for a field with unique values was provided")
}

func keyValues(doc schema.Document, fields []string) ([]any, bool) {
	values := make([]any, len(fields))
	for i, f := range fields {
		v, ok := doc[f]
		if !ok || v == nil {
			return nil, false
		}
		values[i] = v
	}
	return values, true
}

func valuesEqual(a, b []any) bool {
	for i := range a {
		if !equalValue(a[i], b[i]) {
			return false
		}
	}
	return true
}

func (m *MemoryInteractor) checkAllUniqueLocked(className string, doc schema.Document) error {
	for _, idx := range m.indexes[className] {
		if !idx.unique {
			continue
		}
		if err := m.checkUniqueLocked(className, idx, doc); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryInteractor) InsertDocument(ctx context.Context, className string, doc schema.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := doc.ObjectID()
	if id == "" {
		return fmt.Errorf("document without objectId")
	}
	if _, ok := m.objects[className][id]; ok {
		return core.NewError(core.KindDuplicateValue, "A duplicate value for a field with unique values was provided")
	}
	if err := m.checkAllUniqueLocked(className, doc); err != nil {
		return err
	}
	if _, ok := m.objects[className]; !ok {
		m.objects[className] = make(map[string]schema.Document)
	}
	m.collections[className] = struct{}{}
	m.objects[className][id] = cloneDocument(doc)
	return nil
}

func (m *MemoryInteractor) ReplaceDocument(ctx context.Context, className string, doc schema.Document) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := doc.ObjectID()
	if _, ok := m.objects[className][id]; !ok {
		return false, nil
	}
	if err := m.checkAllUniqueLocked(className, doc); err != nil {
		return false, err
	}
	m.objects[className][id] = cloneDocument(doc)
	return true, nil
}

func (m *MemoryInteractor) GetDocument(ctx context.Context, className, objectID string) (schema.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.objects[className][objectID]
	if !ok {
		return nil, nil
	}
	return cloneDocument(doc), nil
}

func (m *MemoryInteractor) SelectDocuments(ctx context.Context, className string, where map[string]any) ([]schema.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.objects[className]))
	for id := range m.objects[className] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]schema.Document, 0, len(ids))
	for _, id := range ids {
		doc := m.objects[className][id]
		if matches(doc, where) {
			out = append(out, cloneDocument(doc))
		}
	}
	return out, nil
}

func matches(doc schema.Document, where map[string]any) bool {
	for key, want := range where {
		got, ok := doc[key]
		if !ok || !equalValue(got, want) {
			return false
		}
	}
	return true
}

func (m *MemoryInteractor) DeleteDocument(ctx context.Context, className, objectID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[className][objectID]; !ok {
		return false, nil
	}
	delete(m.objects[className], objectID)
	return true, nil
}

func (m *MemoryInteractor) UnsetFields(ctx context.Context, className string, fields []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, doc := range m.objects[className] {
		for _, f := range fields {
			delete(doc, f)
		}
	}
	return nil
}

func (m *MemoryInteractor) AddRelation(ctx context.Context, joinName, owningID, relatedID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.joins[joinName]; !ok {
		m.joins[joinName] = make(map[joinRow]struct{})
	}
	m.collections[joinName] = struct{}{}
	m.joins[joinName][joinRow{owning: owningID, related: relatedID}] = struct{}{}
	return nil
}

func (m *MemoryInteractor) RemoveRelation(ctx context.Context, joinName, owningID, relatedID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.joins[joinName], joinRow{owning: owningID, related: relatedID})
	return nil
}

func (m *MemoryInteractor) RelatedIDs(ctx context.Context, joinName, owningID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for row := range m.joins[joinName] {
		if row.owning == owningID {
			ids = append(ids, row.related)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryInteractor) OwningIDs(ctx context.Context, joinName, relatedID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for row := range m.joins[joinName] {
		if row.related == relatedID {
			ids = append(ids, row.owning)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryInteractor) Close() error {
	return nil
}

func cloneDocument(doc schema.Document) schema.Document {
	out := make(schema.Document, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = cloneValue(inner)
		}
		return out
	case schema.Document:
		return map[string]any(cloneDocument(t))
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return v
	}
}

// equalValue compares decoded JSON values, treating every numeric type alike.
func equalValue(a, b any) bool {
	if fa, ok := core.ToFloat64(a); ok {
		fb, ok := core.ToFloat64(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(cloneValue(a), cloneValue(b))
}
