package persistence

import (
	"context"
	"time"

	"github.com/asaidimu/go-anansi-schema/core/permissions"
	"github.com/asaidimu/go-anansi-schema/core/schema"
	"github.com/asaidimu/go-events"
)

// Collection wraps a CollectionBase and adds event emission
type Collection struct {
	collection *CollectionBase
	bus        *events.TypedEventBus[PersistenceEvent]
}

var _ PersistenceCollectionInterface = (*Collection)(nil)

// NewEventEmittingCollection creates a new event-emitting collection wrapper
func NewEventEmittingCollection(collection *CollectionBase, bus *events.TypedEventBus[PersistenceEvent]) *Collection {
	return &Collection{
		collection: collection,
		bus:        bus,
	}
}

func (e *Collection) emitEvent(event PersistenceEvent) {
	if e.bus != nil {
		e.bus.Emit(string(event.Type), event)
	}
}

// withEventEmission wraps an operation with start, success, and failure events
func (e *Collection) withEventEmission(
	operation string,
	startEventType PersistenceEventType,
	successEventType PersistenceEventType,
	failedEventType PersistenceEventType,
	input any,
	queryParam any,
	fn func() (any, error),
) (any, error) {
	startTime := time.Now()
	className := e.collection.className

	e.emitEvent(createEvent(startEventType, operation, className, input, nil, queryParam, nil, startTime))

	result, err := fn()
	documentOperations.WithLabelValues(operation, resultLabel(err)).Inc()
	if err != nil {
		e.emitEvent(createEvent(failedEventType, operation, className, input, nil, queryParam, err, startTime))
		return nil, err
	}

	e.emitEvent(createEvent(successEventType, operation, className, input, result, queryParam, nil, startTime))
	return result, nil
}

// Create wraps the collection's Create method with event emission
func (e *Collection) Create(ctx context.Context, auth permissions.Auth, data map[string]any) (schema.Document, error) {
	result, err := e.withEventEmission("create", DocumentCreateStart, DocumentCreateSuccess, DocumentCreateFailed, data, nil,
		func() (any, error) {
			return e.collection.Create(ctx, auth, data)
		})
	if err != nil {
		return nil, err
	}
	return result.(schema.Document), nil
}

// Get wraps the collection's Get method with event emission
func (e *Collection) Get(ctx context.Context, auth permissions.Auth, objectID string) (schema.Document, error) {
	query := map[string]any{schema.FieldObjectID: objectID}
	result, err := e.withEventEmission("read", DocumentReadStart, DocumentReadSuccess, DocumentReadFailed, nil, query,
		func() (any, error) {
			return e.collection.Get(ctx, auth, objectID)
		})
	if err != nil {
		return nil, err
	}
	return result.(schema.Document), nil
}

// Find wraps the collection's Find method with event emission
func (e *Collection) Find(ctx context.Context, auth permissions.Auth, where map[string]any) (*QueryResult, error) {
	result, err := e.withEventEmission("read", DocumentReadStart, DocumentReadSuccess, DocumentReadFailed, nil, where,
		func() (any, error) {
			return e.collection.Find(ctx, auth, where)
		})
	if err != nil {
		return nil, err
	}
	return result.(*QueryResult), nil
}

// Update wraps the collection's Update method with event emission
func (e *Collection) Update(ctx context.Context, auth permissions.Auth, objectID string, patch map[string]any) (schema.Document, error) {
	query := map[string]any{schema.FieldObjectID: objectID}
	result, err := e.withEventEmission("update", DocumentUpdateStart, DocumentUpdateSuccess, DocumentUpdateFailed, patch, query,
		func() (any, error) {
			return e.collection.Update(ctx, auth, objectID, patch)
		})
	if err != nil {
		return nil, err
	}
	return result.(schema.Document), nil
}

// Delete wraps the collection's Delete method with event emission
func (e *Collection) Delete(ctx context.Context, auth permissions.Auth, objectID string) error {
	query := map[string]any{schema.FieldObjectID: objectID}
	_, err := e.withEventEmission("delete", DocumentDeleteStart, DocumentDeleteSuccess, DocumentDeleteFailed, nil, query,
		func() (any, error) {
			return objectID, e.collection.Delete(ctx, auth, objectID)
		})
	return err
}

// Count delegates to the underlying collection (counting emits no events)
func (e *Collection) Count(ctx context.Context, auth permissions.Auth, where map[string]any) (int, error) {
	return e.collection.Count(ctx, auth, where)
}
