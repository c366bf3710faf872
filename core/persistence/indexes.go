package persistence

import (
	"context"
	"fmt"
	"sort"

	"github.com/asaidimu/go-anansi-schema/core"
	"github.com/asaidimu/go-anansi-schema/core/schema"
	"go.uber.org/zap"
)

// IndexPlan is the outcome of validating index operations: the merged index
// map to commit and the physical changes it needs.
type IndexPlan struct {
	Indexes map[string]schema.IndexSpec
	Create  []string
	Drop    []string

	dropped map[string]schema.IndexSpec
}

// Empty reports whether the plan changes nothing physically.
func (p *IndexPlan) Empty() bool {
	return len(p.Create) == 0 && len(p.Drop) == 0
}

// PlanIndexOps validates ops against the current indexes and the final field
// set of the class. Indexes left referencing a field that no longer exists
// are dropped as well.
func PlanIndexOps(current map[string]schema.IndexSpec, ops map[string]schema.IndexOp, fields schema.Fields) (*IndexPlan, error) {
	merged := make(map[string]schema.IndexSpec, len(current)+len(ops))
	for name, spec := range current {
		merged[name] = spec.Clone()
	}
	if _, ok := merged[schema.IDIndexName]; !ok {
		merged[schema.IDIndexName] = schema.DefaultIndexes()[schema.IDIndexName]
	}
	plan := &IndexPlan{dropped: map[string]schema.IndexSpec{}}

	names := make([]string, 0, len(ops))
	for name := range ops {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		op := ops[name]
		_, exists := current[name]
		if op.Delete {
			if !exists {
				return nil, core.NewError(core.KindInvalidQuery, "Index %s does not exist, cannot delete.", name)
			}
			plan.dropped[name] = merged[name]
			delete(merged, name)
			plan.Drop = append(plan.Drop, name)
			continue
		}
		if exists {
			return nil, core.NewError(core.KindInvalidQuery, "Index %s exists, cannot update.", name)
		}
		if len(op.Spec) == 0 {
			continue
		}
		for _, key := range op.Spec {
			if _, ok := fields[key.Field]; !ok {
				return nil, core.NewError(core.KindInvalidQuery, "Field %s does not exist, cannot add index.", key.Field)
			}
			if !key.ValidValue() {
				return nil, core.NewError(core.KindInvalidQuery, "Index %s has an invalid value %v for field %s.", name, key.Value, key.Field)
			}
		}
		merged[name] = op.Spec.Clone()
		plan.Create = append(plan.Create, name)
	}

	stale := make([]string, 0)
	for name, spec := range merged {
		if name == schema.IDIndexName {
			continue
		}
		for _, field := range spec.Fields() {
			if _, ok := fields[field]; !ok {
				stale = append(stale, name)
				break
			}
		}
	}
	sort.Strings(stale)
	for _, name := range stale {
		if _, created := ops[name]; !created {
			plan.dropped[name] = merged[name]
			plan.Drop = append(plan.Drop, name)
		}
		delete(merged, name)
	}

	plan.Indexes = merged
	return plan, nil
}

// IndexManager applies index plans to the storage engine.
type IndexManager struct {
	interactor DatabaseInteractor
	logger     *zap.Logger
}

// NewIndexManager creates a manager over interactor.
func NewIndexManager(interactor DatabaseInteractor, logger *zap.Logger) *IndexManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IndexManager{interactor: interactor, logger: logger}
}

// Apply drops, then creates, the physical indexes named by plan. A failed
// creation undoes the creations that preceded it and restores the drops.
func (m *IndexManager) Apply(ctx context.Context, className string, plan *IndexPlan) error {
	for _, name := range plan.Drop {
		if err := m.interactor.DropIndex(ctx, className, name); err != nil {
			return fmt.Errorf("failed to drop index %s on %s: %w", name, className, err)
		}
		m.logger.Debug("index dropped", zap.String("class", className), zap.String("index", name))
	}
	for i, name := range plan.Create {
		if err := m.interactor.CreateIndexInBackground(ctx, className, name, plan.Indexes[name], IndexOptions{}); err != nil {
			m.revert(ctx, className, plan.Create[:i], plan.dropped)
			return fmt.Errorf("failed to create index %s on %s: %w", name, className, err)
		}
		m.logger.Debug("index created", zap.String("class", className), zap.String("index", name))
	}
	return nil
}

// Revert undoes an applied plan as far as the engine allows.
func (m *IndexManager) Revert(ctx context.Context, className string, plan *IndexPlan) {
	m.revert(ctx, className, plan.Create, plan.dropped)
}

func (m *IndexManager) revert(ctx context.Context, className string, created []string, dropped map[string]schema.IndexSpec) {
	for _, name := range created {
		if err := m.interactor.DropIndex(ctx, className, name); err != nil {
			m.logger.Warn("failed to revert index creation",
				zap.String("class", className), zap.String("index", name), zap.Error(err))
		}
	}
	for name, spec := range dropped {
		if err := m.interactor.CreateIndexInBackground(ctx, className, name, spec, IndexOptions{}); err != nil {
			m.logger.Warn("failed to restore dropped index",
				zap.String("class", className), zap.String("index", name), zap.Error(err))
		}
	}
}

// EnsureUnique creates the unique indexes a system class relies on.
func (m *IndexManager) EnsureUnique(ctx context.Context, className string) error {
	for _, field := range schema.UniqueFields(className) {
		name := uniqueIndexName(field)
		spec := schema.IndexSpec{{Field: field, Value: 1}}
		if err := m.interactor.CreateIndexInBackground(ctx, className, name, spec, IndexOptions{Unique: true}); err != nil {
			return fmt.Errorf("failed to create unique index %s on %s: %w", name, className, err)
		}
	}
	return nil
}

// IndexDrift lists the differences between declared and physical indexes.
type IndexDrift struct {
	Missing    []string `json:"missing"`
	Undeclared []string `json:"undeclared"`
}

// Clean reports whether both sides agree.
func (d *IndexDrift) Clean() bool {
	return len(d.Missing) == 0 && len(d.Undeclared) == 0
}

// Verify compares the declared indexes with the physical ones and logs
// differences. It never changes either side.
func (m *IndexManager) Verify(ctx context.Context, sc *schema.ClassSchema) (*IndexDrift, error) {
	physical, err := m.interactor.ListPhysicalIndexes(ctx, sc.ClassName)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexes of %s: %w", sc.ClassName, err)
	}
	drift := &IndexDrift{Missing: []string{}, Undeclared: []string{}}
	for _, name := range sortedNames(sc.Indexes) {
		if name == schema.IDIndexName {
			continue
		}
		if _, ok := physical[name]; !ok {
			drift.Missing = append(drift.Missing, name)
			m.logger.Warn("declared index missing from storage",
				zap.String("class", sc.ClassName), zap.String("index", name))
		}
	}
	for _, name := range sortedNames(physical) {
		if _, ok := sc.Indexes[name]; !ok && !isUniqueIndexName(sc.ClassName, name) {
			drift.Undeclared = append(drift.Undeclared, name)
			m.logger.Warn("physical index not declared in schema",
				zap.String("class", sc.ClassName), zap.String("index", name))
		}
	}
	return drift, nil
}

func sortedNames(m map[string]schema.IndexSpec) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func uniqueIndexName(field string) string {
	return "unique_" + field
}

func isUniqueIndexName(className, name string) bool {
	for _, field := range schema.UniqueFields(className) {
		if uniqueIndexName(field) == name {
			return true
		}
	}
	return false
}
