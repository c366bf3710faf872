package persistence

import (
	"context"
	"fmt"

	"github.com/asaidimu/go-anansi-schema/core/schema"
	"go.uber.org/zap"
)

// SCHEMA_COLLECTION_NAME is the internal collection that stores the schema
// of every other class.
const SCHEMA_COLLECTION_NAME = "_SCHEMA"

// SchemaStore is the durable record of one ClassSchema per class name.
type SchemaStore struct {
	interactor DatabaseInteractor
	logger     *zap.Logger
}

// NewSchemaStore creates a store over interactor.
func NewSchemaStore(interactor DatabaseInteractor, logger *zap.Logger) *SchemaStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchemaStore{interactor: interactor, logger: logger}
}

// Get returns the stored schema of className, or nil when none is stored.
func (s *SchemaStore) Get(ctx context.Context, className string) (*schema.ClassSchema, error) {
	stored, err := s.interactor.LoadSchema(ctx, className)
	if err != nil {
		return nil, fmt.Errorf("error loading schema %s: %w", className, err)
	}
	if stored == nil {
		return nil, nil
	}
	return s.normalize(stored), nil
}

// Put inserts or replaces the schema of sc.ClassName.
func (s *SchemaStore) Put(ctx context.Context, sc *schema.ClassSchema) error {
	if err := s.interactor.PersistSchema(ctx, sc.Clone()); err != nil {
		s.logger.Error("failed to persist schema", zap.String("class", sc.ClassName), zap.Error(err))
		return fmt.Errorf("error persisting schema %s: %w", sc.ClassName, err)
	}
	return nil
}

// Delete removes the schema of className.
func (s *SchemaStore) Delete(ctx context.Context, className string) error {
	if err := s.interactor.DeleteSchema(ctx, className); err != nil {
		return fmt.Errorf("error deleting schema %s: %w", className, err)
	}
	return nil
}

// List returns every stored schema ordered by class name.
func (s *SchemaStore) List(ctx context.Context) ([]*schema.ClassSchema, error) {
	stored, err := s.interactor.ListSchemas(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing schemas: %w", err)
	}
	out := make([]*schema.ClassSchema, 0, len(stored))
	for _, sc := range stored {
		out = append(out, s.normalize(sc))
	}
	return out, nil
}

// normalize fills what older or hand-written records may lack: the default
// fields of the class, the open CLP and the primary key index.
func (s *SchemaStore) normalize(sc *schema.ClassSchema) *schema.ClassSchema {
	out := sc.Clone()
	if out.Fields == nil {
		out.Fields = schema.Fields{}
	}
	for name, t := range schema.DefaultFields(out.ClassName) {
		if current, ok := out.Fields[name]; !ok {
			out.Fields[name] = t
		} else if !current.Equal(t) {
			s.logger.Warn("stored default field has unexpected type",
				zap.String("class", out.ClassName),
				zap.String("field", name),
				zap.Stringer("type", current))
		}
	}
	if out.ClassLevelPermissions == nil {
		out.ClassLevelPermissions = schema.DefaultCLP()
	}
	if out.Indexes == nil {
		out.Indexes = schema.DefaultIndexes()
	}
	if _, ok := out.Indexes[schema.IDIndexName]; !ok {
		out.Indexes[schema.IDIndexName] = schema.DefaultIndexes()[schema.IDIndexName]
	}
	return out
}
