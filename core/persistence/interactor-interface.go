package persistence

import (
	"context"

	"github.com/asaidimu/go-anansi-schema/core/schema"
)

// InteractorOptions provides configuration for the interactor.
type InteractorOptions struct {
	// CollectionPrefix is prepended to every table the interactor creates.
	CollectionPrefix string

	// IfNotExists adds IF NOT EXISTS to the bootstrap DDL so an existing
	// database can be reopened.
	IfNotExists bool
}

// IndexOptions qualifies a physical index.
type IndexOptions struct {
	// Unique makes the engine reject a second object with the same values.
	// Violations surface as core.KindDuplicateValue at write time.
	Unique bool
}

// DatabaseInteractor is the storage collaborator of the schema service. It
// persists schemas, objects, join rows and physical indexes. Implementations
// must be safe for concurrent use.
type DatabaseInteractor interface {
	// PersistSchema inserts or replaces the stored schema of s.ClassName.
	PersistSchema(ctx context.Context, s *schema.ClassSchema) error
	// LoadSchema returns the stored schema, or nil when none exists.
	LoadSchema(ctx context.Context, className string) (*schema.ClassSchema, error)
	// ListSchemas returns every stored schema ordered by class name.
	ListSchemas(ctx context.Context) ([]*schema.ClassSchema, error)
	// DeleteSchema removes a stored schema. Missing schemas are ignored.
	DeleteSchema(ctx context.Context, className string) error

	// CreateCollection registers a class or join structure. Existing
	// collections are left alone.
	CreateCollection(ctx context.Context, name string) error
	// CollectionExists checks if a class or join structure is registered.
	CollectionExists(ctx context.Context, name string) (bool, error)
	// DropCollection removes a collection with its rows and indexes.
	DropCollection(ctx context.Context, name string) error
	// DropCollectionAndJoinTables removes a class collection together with
	// every _Join:<field>:<className> structure.
	DropCollectionAndJoinTables(ctx context.Context, className string) error
	// CountObjects counts the stored objects of a class.
	CountObjects(ctx context.Context, className string) (int64, error)

	// CreateIndexInBackground ensures a physical index exists. Creating an
	// index that already exists under the same name is not an error.
	CreateIndexInBackground(ctx context.Context, className, name string, spec schema.IndexSpec, opts IndexOptions) error
	// DropIndex removes a physical index. Missing indexes are ignored.
	DropIndex(ctx context.Context, className, name string) error
	// ListPhysicalIndexes returns the physical indexes of a class.
	ListPhysicalIndexes(ctx context.Context, className string) (map[string]schema.IndexSpec, error)

	// InsertDocument stores a new object keyed by its objectId.
	InsertDocument(ctx context.Context, className string, doc schema.Document) error
	// ReplaceDocument overwrites an object. It reports false when no object
	// has the id.
	ReplaceDocument(ctx context.Context, className string, doc schema.Document) (bool, error)
	// GetDocument returns an object, or nil when none has the id.
	GetDocument(ctx context.Context, className, objectID string) (schema.Document, error)
	// SelectDocuments returns the objects whose top-level values equal every
	// entry of where, ordered by objectId.
	SelectDocuments(ctx context.Context, className string, where map[string]any) ([]schema.Document, error)
	// DeleteDocument removes an object and reports whether it existed.
	DeleteDocument(ctx context.Context, className, objectID string) (bool, error)
	// UnsetFields removes fields from every object of a class.
	UnsetFields(ctx context.Context, className string, fields []string) error

	// AddRelation links owningID to relatedID in a join structure.
	AddRelation(ctx context.Context, joinName, owningID, relatedID string) error
	// RemoveRelation unlinks a join row. Missing rows are ignored.
	RemoveRelation(ctx context.Context, joinName, owningID, relatedID string) error
	// RelatedIDs lists the related ids of an owning object.
	RelatedIDs(ctx context.Context, joinName, owningID string) ([]string, error)
	// OwningIDs lists the owning ids linked to a related object.
	OwningIDs(ctx context.Context, joinName, relatedID string) ([]string, error)

	// Close releases the underlying resources.
	Close() error
}
