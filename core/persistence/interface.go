package persistence

import (
	"context"

	"github.com/asaidimu/go-anansi-schema/core/permissions"
	"github.com/asaidimu/go-anansi-schema/core/schema"
)

// PersistenceEventType names an event published on the bus.
type PersistenceEventType string

const (
	ClassCreateStart       PersistenceEventType = "class:create:start"
	ClassCreateSuccess     PersistenceEventType = "class:create:success"
	ClassCreateFailed      PersistenceEventType = "class:create:failed"
	ClassUpdateStart       PersistenceEventType = "class:update:start"
	ClassUpdateSuccess     PersistenceEventType = "class:update:success"
	ClassUpdateFailed      PersistenceEventType = "class:update:failed"
	ClassDeleteStart       PersistenceEventType = "class:delete:start"
	ClassDeleteSuccess     PersistenceEventType = "class:delete:success"
	ClassDeleteFailed      PersistenceEventType = "class:delete:failed"
	DocumentCreateStart    PersistenceEventType = "document:create:start"
	DocumentCreateSuccess  PersistenceEventType = "document:create:success"
	DocumentCreateFailed   PersistenceEventType = "document:create:failed"
	DocumentReadStart      PersistenceEventType = "document:read:start"
	DocumentReadSuccess    PersistenceEventType = "document:read:success"
	DocumentReadFailed     PersistenceEventType = "document:read:failed"
	DocumentUpdateStart    PersistenceEventType = "document:update:start"
	DocumentUpdateSuccess  PersistenceEventType = "document:update:success"
	DocumentUpdateFailed   PersistenceEventType = "document:update:failed"
	DocumentDeleteStart    PersistenceEventType = "document:delete:start"
	DocumentDeleteSuccess  PersistenceEventType = "document:delete:success"
	DocumentDeleteFailed   PersistenceEventType = "document:delete:failed"
	SubscriptionRegister   PersistenceEventType = "subscription:register"
	SubscriptionUnregister PersistenceEventType = "subscription:unregister"
)

// PersistenceEvent describes one step of a class or document operation.
type PersistenceEvent struct {
	Type       PersistenceEventType `json:"type"`
	Timestamp  int64                `json:"timestamp"`            // Unix milliseconds.
	Operation  string               `json:"operation"`            // e.g. "create", "update".
	Collection *string              `json:"collection,omitempty"` // Class the operation targets.
	Input      any                  `json:"input,omitempty"`
	Output     any                  `json:"output,omitempty"`
	Error      *string              `json:"error,omitempty"`
	Code       *int                 `json:"code,omitempty"` // Error code when Error is set.
	Query      any                  `json:"query,omitempty"`
	Duration   *int64               `json:"duration,omitempty"` // Milliseconds.
	Context    map[string]any       `json:"context,omitempty"`
}

type EventCallbackFunction func(ctx context.Context, event PersistenceEvent) error

// SubscriptionInfo describes a registered subscription.
type SubscriptionInfo struct {
	Id          *string              `json:"id"`
	Event       PersistenceEventType `json:"event"`
	Label       *string              `json:"label,omitempty"`
	Description *string              `json:"description,omitempty"`
	Unsubscribe func()               `json:"-"`
}

// RegisterSubscriptionOptions defines options for registering a subscription.
type RegisterSubscriptionOptions struct {
	Event       PersistenceEventType `json:"event"`
	Label       *string              `json:"label,omitempty"`
	Description *string              `json:"description,omitempty"`
	Callback    EventCallbackFunction
}

// QueryResult holds the objects returned by a find.
type QueryResult struct {
	Results []schema.Document `json:"results"`
	Count   int               `json:"count"`
}

// PersistenceInterface is the schema controller: the only way classes are
// created, changed or removed.
type PersistenceInterface interface {
	// GetClass returns the schema of a registered or pre-declared class,
	// including its indexes.
	GetClass(ctx context.Context, className string) (*schema.ClassSchema, error)
	// HasClass reports whether a schema is stored for className.
	HasClass(ctx context.Context, className string) (bool, error)
	// AllClasses lists every class without indexes, ordered by name.
	AllClasses(ctx context.Context) ([]*schema.ClassSchema, error)
	// CreateClass registers a new class.
	CreateClass(ctx context.Context, className string, req *schema.ClassRequest) (*schema.ClassSchema, error)
	// UpdateClass applies field, permission and index changes atomically.
	UpdateClass(ctx context.Context, className string, req *schema.ClassRequest) (*schema.ClassSchema, error)
	// DeleteClass removes an empty class. Missing classes are a no-op.
	DeleteClass(ctx context.Context, className string) error
	// EnforceFields adds the missing fields implied by a write, creating the
	// class when needed, and returns the resulting schema.
	EnforceFields(ctx context.Context, className string, fields schema.Fields) (*schema.ClassSchema, error)

	// VerifyIndexes reports declared indexes missing from storage and
	// physical indexes the schema does not declare.
	VerifyIndexes(ctx context.Context, className string) (*IndexDrift, error)

	// Collection returns the object service of a class.
	Collection(className string) (PersistenceCollectionInterface, error)

	RegisterSubscription(options RegisterSubscriptionOptions) string
	UnregisterSubscription(id string)
	Subscriptions() ([]SubscriptionInfo, error)
}

// PersistenceCollectionInterface is the permission-checked object API of a
// single class.
type PersistenceCollectionInterface interface {
	Create(ctx context.Context, auth permissions.Auth, data map[string]any) (schema.Document, error)
	Get(ctx context.Context, auth permissions.Auth, objectID string) (schema.Document, error)
	Find(ctx context.Context, auth permissions.Auth, where map[string]any) (*QueryResult, error)
	Update(ctx context.Context, auth permissions.Auth, objectID string, patch map[string]any) (schema.Document, error)
	Delete(ctx context.Context, auth permissions.Auth, objectID string) error
	Count(ctx context.Context, auth permissions.Auth, where map[string]any) (int, error)
}
