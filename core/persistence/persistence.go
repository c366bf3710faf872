// Package persistence owns the authoritative description of every class. It
// stores schemas through a DatabaseInteractor, caches them, serializes
// mutations per class, keeps physical indexes in line with the declared ones
// and exposes the permission-checked object API.
package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/asaidimu/go-anansi-schema/core"
	"github.com/asaidimu/go-anansi-schema/core/permissions"
	"github.com/asaidimu/go-anansi-schema/core/schema"
	"github.com/asaidimu/go-events"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Options configures a Persistence.
type Options struct {
	Logger *zap.Logger
	// DisableCache makes every read go to the store.
	DisableCache bool
	// MaxRoleDepth bounds role inheritance. Zero means the enforcer default.
	MaxRoleDepth int
}

// Persistence is the schema controller. It orchestrates validation, index
// management, storage and cache refresh for every class mutation and hands
// out permission-checked object collections.
type Persistence struct {
	interactor    DatabaseInteractor
	store         *SchemaStore
	cache         *SchemaCache
	indexes       *IndexManager
	locks         *classLocks
	executor      *Executor
	enforcer      *permissions.Enforcer
	logger        *zap.Logger
	subscriptions map[string]*SubscriptionInfo
	subMu         sync.RWMutex
	bus           *events.TypedEventBus[PersistenceEvent]
}

var _ PersistenceInterface = (*Persistence)(nil)

// NewPersistence creates the controller over interactor.
func NewPersistence(interactor DatabaseInteractor, opts *Options) (*Persistence, error) {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	bus, err := events.NewTypedEventBus[PersistenceEvent](events.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("could not initialize event bus: %w", err)
	}

	p := &Persistence{
		interactor:    interactor,
		store:         NewSchemaStore(interactor, logger),
		cache:         NewSchemaCache(!opts.DisableCache, logger),
		indexes:       NewIndexManager(interactor, logger),
		locks:         newClassLocks(),
		executor:      NewExecutor(interactor, logger),
		logger:        logger,
		subscriptions: make(map[string]*SubscriptionInfo),
		bus:           bus,
	}
	enforcerOpts := []permissions.Option{permissions.WithLogger(logger)}
	if opts.MaxRoleDepth > 0 {
		enforcerOpts = append(enforcerOpts, permissions.WithMaxRoleDepth(opts.MaxRoleDepth))
	}
	p.enforcer = permissions.NewEnforcer(p, NewRoleGraph(interactor), enforcerOpts...)
	return p, nil
}

// Enforcer returns the permission enforcer bound to this controller.
func (p *Persistence) Enforcer() *permissions.Enforcer {
	return p.enforcer
}

// Cache exposes the schema cache.
func (p *Persistence) Cache() *SchemaCache {
	return p.cache
}

func classNotFound(className string) error {
	return core.NewError(core.KindInvalidClassName, "Class %s does not exist.", className)
}

func invalidClassName(className string) error {
	return core.NewError(core.KindInvalidClassName, "%s", schema.InvalidClassNameMessage(className))
}

// lookup returns the stored schema, the default schema of an unstored system
// class, or nil.
func (p *Persistence) lookup(ctx context.Context, className string) (*schema.ClassSchema, error) {
	s, err := p.cache.GetOrLoad(ctx, className, p.store.Get)
	if err != nil {
		return nil, err
	}
	if s == nil && schema.IsSystemClass(className) {
		return schema.DefaultSchema(className), nil
	}
	return s, nil
}

// GetClass returns the schema of className including its indexes.
func (p *Persistence) GetClass(ctx context.Context, className string) (*schema.ClassSchema, error) {
	if !schema.UserClassNameIsValid(className) {
		return nil, invalidClassName(className)
	}
	s, err := p.lookup(ctx, className)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, classNotFound(className)
	}
	return s, nil
}

// HasClass reports whether a schema is stored for className.
func (p *Persistence) HasClass(ctx context.Context, className string) (bool, error) {
	if !schema.UserClassNameIsValid(className) {
		return false, nil
	}
	s, err := p.cache.GetOrLoad(ctx, className, p.store.Get)
	if err != nil {
		return false, err
	}
	return s != nil, nil
}

// AllClasses lists the stored classes and the pre-declared system classes,
// ordered by name and without indexes.
func (p *Persistence) AllClasses(ctx context.Context) ([]*schema.ClassSchema, error) {
	stored, err := p.store.List(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*schema.ClassSchema, len(stored))
	for _, s := range stored {
		byName[s.ClassName] = s
	}
	for _, name := range schema.SystemClasses() {
		if _, ok := byName[name]; !ok {
			byName[name] = schema.DefaultSchema(name)
		}
	}
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*schema.ClassSchema, 0, len(names))
	for _, name := range names {
		out = append(out, byName[name].WithoutIndexes())
	}
	return out, nil
}

// CreateClass registers className with the requested fields, permissions and
// indexes. Nothing is stored unless every part validates.
func (p *Persistence) CreateClass(ctx context.Context, className string, req *schema.ClassRequest) (*schema.ClassSchema, error) {
	if req == nil {
		req = &schema.ClassRequest{}
	}
	return p.withClassEvents(ctx, "create", ClassCreateStart, ClassCreateSuccess, ClassCreateFailed, className, req,
		func() (*schema.ClassSchema, error) {
			if !schema.UserClassNameIsValid(className) {
				return nil, invalidClassName(className)
			}
			unlock := p.locks.Lock(className)
			defer unlock()

			existing, err := p.store.Get(ctx, className)
			if err != nil {
				return nil, err
			}
			if existing != nil {
				return nil, core.NewError(core.KindClassExists, "Class %s already exists.", className)
			}

			requested, err := req.FieldTypes()
			if err != nil {
				return nil, err
			}
			next, plan, err := p.proposeCreate(className, requested, req.ClassLevelPermissions, req.Indexes)
			if err != nil {
				return nil, err
			}
			if err := p.commitCreate(ctx, next, plan); err != nil {
				return nil, err
			}
			return next, nil
		})
}

// proposeCreate builds the schema of a new class in memory.
func (p *Persistence) proposeCreate(className string, requested schema.Fields, clpInput schema.CLPInput, indexOps map[string]schema.IndexOp) (*schema.ClassSchema, *IndexPlan, error) {
	fields := schema.DefaultFields(className)
	for _, name := range requested.Names() {
		if err := schema.ValidateFieldName(className, name); err != nil {
			return nil, nil, err
		}
		t, err := schema.ValidateFieldType(requested[name])
		if err != nil {
			return nil, nil, err
		}
		fields[name] = t
	}
	if err := schema.CheckGeoPoints(fields); err != nil {
		return nil, nil, err
	}
	clp, err := schema.ValidateCLP(clpInput.Document(), fields)
	if err != nil {
		return nil, nil, err
	}
	plan, err := PlanIndexOps(schema.DefaultIndexes(), indexOps, fields)
	if err != nil {
		return nil, nil, err
	}
	next := &schema.ClassSchema{
		ClassName:             className,
		Fields:                fields,
		ClassLevelPermissions: clp,
		Indexes:               plan.Indexes,
	}
	return next, plan, nil
}

func (p *Persistence) commitCreate(ctx context.Context, next *schema.ClassSchema, plan *IndexPlan) error {
	if err := p.interactor.CreateCollection(ctx, next.ClassName); err != nil {
		return fmt.Errorf("failed to create collection %s: %w", next.ClassName, err)
	}
	if err := p.createJoinCollections(ctx, next.ClassName, next.Fields); err != nil {
		return err
	}
	if err := p.indexes.EnsureUnique(ctx, next.ClassName); err != nil {
		return err
	}
	if err := p.indexes.Apply(ctx, next.ClassName, plan); err != nil {
		return err
	}
	if err := p.store.Put(ctx, next); err != nil {
		p.indexes.Revert(ctx, next.ClassName, plan)
		return err
	}
	p.cache.Put(next)
	p.logger.Info("class created",
		zap.String("class", next.ClassName),
		zap.Int("fields", len(next.Fields)),
		zap.Int("indexes", len(next.Indexes)))
	return nil
}

func (p *Persistence) createJoinCollections(ctx context.Context, className string, fields schema.Fields) error {
	for _, name := range fields.Names() {
		if fields[name].Type != schema.TypeRelation {
			continue
		}
		join := schema.JoinClassName(name, className)
		if err := p.interactor.CreateCollection(ctx, join); err != nil {
			return fmt.Errorf("failed to create join structure %s: %w", join, err)
		}
	}
	return nil
}

// UpdateClass applies field additions and deletions, a CLP replacement and
// index changes to className. Every rule is checked against the projected
// post-update schema before anything is written.
func (p *Persistence) UpdateClass(ctx context.Context, className string, req *schema.ClassRequest) (*schema.ClassSchema, error) {
	if req == nil {
		req = &schema.ClassRequest{}
	}
	return p.withClassEvents(ctx, "update", ClassUpdateStart, ClassUpdateSuccess, ClassUpdateFailed, className, req,
		func() (*schema.ClassSchema, error) {
			if !schema.UserClassNameIsValid(className) {
				return nil, invalidClassName(className)
			}
			unlock := p.locks.Lock(className)
			defer unlock()

			current, err := p.store.Get(ctx, className)
			if err != nil {
				return nil, err
			}
			if current == nil {
				if !schema.IsSystemClass(className) {
					return nil, classNotFound(className)
				}
				current = schema.DefaultSchema(className)
			}

			next, plan, removed, err := p.proposeUpdate(current, req)
			if err != nil {
				return nil, err
			}
			if err := p.commitUpdate(ctx, current, next, plan, removed); err != nil {
				return nil, err
			}
			return next, nil
		})
}

func (p *Persistence) proposeUpdate(current *schema.ClassSchema, req *schema.ClassRequest) (*schema.ClassSchema, *IndexPlan, schema.Fields, error) {
	className := current.ClassName
	next := current.Clone()
	removed := schema.Fields{}

	names := make([]string, 0, len(req.Fields))
	for name := range req.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !req.Fields[name].Delete {
			continue
		}
		t, exists := current.Fields[name]
		if !exists {
			return nil, nil, nil, core.NewError(core.KindSchemaMismatch, "Field %s does not exist, cannot delete.", name)
		}
		if schema.IsDefaultField(className, name) {
			return nil, nil, nil, core.NewError(core.KindChangedImmutableField, "field %s cannot be changed", name)
		}
		removed[name] = t
		delete(next.Fields, name)
	}

	for _, name := range names {
		op := req.Fields[name]
		if op.Delete {
			continue
		}
		if _, exists := current.Fields[name]; exists {
			return nil, nil, nil, core.NewError(core.KindSchemaMismatch, "Field %s exists, cannot update.", name)
		}
		if err := schema.ValidateFieldName(className, name); err != nil {
			return nil, nil, nil, err
		}
		t, err := schema.ValidateFieldType(op.Type)
		if err != nil {
			return nil, nil, nil, err
		}
		next.Fields[name] = t
	}

	if err := schema.CheckGeoPoints(next.Fields); err != nil {
		return nil, nil, nil, err
	}

	if req.ClassLevelPermissions.Present() {
		clp, err := schema.ValidateCLP(req.ClassLevelPermissions.Document(), next.Fields)
		if err != nil {
			return nil, nil, nil, err
		}
		next.ClassLevelPermissions = clp
	} else if err := schema.ValidateUserFields(next.CLP(), next.Fields); err != nil {
		return nil, nil, nil, err
	}

	plan, err := PlanIndexOps(current.Indexes, req.Indexes, next.Fields)
	if err != nil {
		return nil, nil, nil, err
	}
	next.Indexes = plan.Indexes
	return next, plan, removed, nil
}

func (p *Persistence) commitUpdate(ctx context.Context, current, next *schema.ClassSchema, plan *IndexPlan, removed schema.Fields) error {
	className := next.ClassName
	added := schema.Fields{}
	for name, t := range next.Fields {
		if _, ok := current.Fields[name]; !ok {
			added[name] = t
		}
	}
	if err := p.interactor.CreateCollection(ctx, className); err != nil {
		return fmt.Errorf("failed to create collection %s: %w", className, err)
	}
	if err := p.createJoinCollections(ctx, className, added); err != nil {
		return err
	}
	if err := p.indexes.EnsureUnique(ctx, className); err != nil {
		return err
	}
	if err := p.indexes.Apply(ctx, className, plan); err != nil {
		return err
	}
	if err := p.store.Put(ctx, next); err != nil {
		p.indexes.Revert(ctx, className, plan)
		return err
	}
	p.cache.Put(next)
	p.logger.Info("class updated",
		zap.String("class", className),
		zap.Strings("added", added.Names()),
		zap.Strings("removed", removed.Names()),
		zap.Strings("indexesCreated", plan.Create),
		zap.Strings("indexesDropped", plan.Drop))

	p.purgeFields(ctx, className, removed)
	return nil
}

// purgeFields removes the data of deleted fields. The schema no longer
// declares them so failures only leave unreachable values behind.
func (p *Persistence) purgeFields(ctx context.Context, className string, removed schema.Fields) {
	var plain []string
	for _, name := range removed.Names() {
		if removed[name].Type == schema.TypeRelation {
			join := schema.JoinClassName(name, className)
			if err := p.interactor.DropCollection(ctx, join); err != nil {
				p.logger.Warn("failed to drop join structure", zap.String("join", join), zap.Error(err))
			}
			continue
		}
		plain = append(plain, name)
	}
	if len(plain) == 0 {
		return
	}
	if err := p.interactor.UnsetFields(ctx, className, plain); err != nil {
		p.logger.Warn("failed to purge deleted fields",
			zap.String("class", className), zap.Strings("fields", plain), zap.Error(err))
	}
}

// DeleteClass removes className with its indexes and join structures. The
// class must hold no objects. Deleting a missing class succeeds.
func (p *Persistence) DeleteClass(ctx context.Context, className string) error {
	_, err := p.withClassEvents(ctx, "delete", ClassDeleteStart, ClassDeleteSuccess, ClassDeleteFailed, className, nil,
		func() (*schema.ClassSchema, error) {
			if !schema.UserClassNameIsValid(className) {
				return nil, invalidClassName(className)
			}
			if schema.IsSystemClass(className) {
				return nil, core.NewError(core.KindOperationForbidden, "Class %s is a system class and cannot be deleted.", className)
			}
			unlock := p.locks.Lock(className)
			defer unlock()

			current, err := p.store.Get(ctx, className)
			if err != nil {
				return nil, err
			}
			exists, err := p.interactor.CollectionExists(ctx, className)
			if err != nil {
				return nil, err
			}
			if current == nil && !exists {
				return nil, nil
			}

			count, err := p.interactor.CountObjects(ctx, className)
			if err != nil {
				return nil, err
			}
			if count > 0 {
				return nil, core.NewError(core.KindSchemaMismatch,
					"Class %s is not empty, contains %d objects, cannot drop schema.", className, count)
			}

			// The schema goes first: a failed drop leaves an empty,
			// unregistered table that a repeated delete removes.
			if err := p.store.Delete(ctx, className); err != nil {
				return nil, err
			}
			p.cache.Invalidate(className)
			if err := p.interactor.DropCollectionAndJoinTables(ctx, className); err != nil {
				return nil, fmt.Errorf("failed to drop collection %s: %w", className, err)
			}
			p.logger.Info("class deleted", zap.String("class", className))
			return nil, nil
		})
	return err
}

// EnforceFields adds the fields a write introduces, creating className with
// the open default permissions when it does not exist yet. A field already
// declared with another type fails with an IncorrectType error.
func (p *Persistence) EnforceFields(ctx context.Context, className string, fields schema.Fields) (*schema.ClassSchema, error) {
	if !schema.UserClassNameIsValid(className) {
		return nil, invalidClassName(className)
	}
	unlock := p.locks.Lock(className)
	defer unlock()

	current, err := p.store.Get(ctx, className)
	if err != nil {
		return nil, err
	}
	if current == nil {
		next, plan, err := p.proposeCreate(className, missingFields(schema.DefaultFields(className), className, fields), schema.CLPInput{}, nil)
		if err != nil {
			return nil, err
		}
		start := p.emitStart("create", ClassCreateStart, className, fields)
		err = p.commitCreate(ctx, next, plan)
		p.emitResult("create", ClassCreateSuccess, ClassCreateFailed, className, fields, next, err, start)
		if err != nil {
			return nil, err
		}
		return next.Clone(), nil
	}

	for _, name := range fields.Names() {
		if declared, ok := current.Fields[name]; ok && !declared.Equal(fields[name]) {
			if declared.Type == schema.TypeACL && fields[name].Type == schema.TypeObject {
				continue
			}
			return nil, core.NewError(core.KindIncorrectType,
				"schema mismatch for %s.%s; expected %s but got %s", className, name, declared, fields[name])
		}
	}
	missing := missingFields(current.Fields, className, fields)
	if len(missing) == 0 {
		p.cache.Put(current)
		return current, nil
	}

	ops := make(map[string]schema.FieldOp, len(missing))
	for name, t := range missing {
		ops[name] = schema.AddField(t)
	}
	req := &schema.ClassRequest{Fields: ops}
	start := p.emitStart("update", ClassUpdateStart, className, req)
	next, plan, removed, err := p.proposeUpdate(current, req)
	if err == nil {
		err = p.commitUpdate(ctx, current, next, plan, removed)
	}
	p.emitResult("update", ClassUpdateSuccess, ClassUpdateFailed, className, req, next, err, start)
	if err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

func missingFields(declared schema.Fields, className string, fields schema.Fields) schema.Fields {
	out := schema.Fields{}
	for name, t := range fields {
		if _, ok := declared[name]; ok {
			continue
		}
		if schema.IsDefaultField(className, name) {
			continue
		}
		out[name] = t
	}
	return out
}

// Collection returns the permission-checked object API of className.
func (p *Persistence) Collection(className string) (PersistenceCollectionInterface, error) {
	if !schema.UserClassNameIsValid(className) {
		return nil, invalidClassName(className)
	}
	return NewEventEmittingCollection(&CollectionBase{
		className: className,
		owner:     p,
		executor:  p.executor,
		enforcer:  p.enforcer,
		logger:    p.logger.With(zap.String("class", className)),
	}, p.bus), nil
}

// RegisterSubscription registers a callback for an event type and returns
// the id to unregister it with.
func (p *Persistence) RegisterSubscription(options RegisterSubscriptionOptions) string {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	unsubscribe := p.bus.Subscribe(string(options.Event), options.Callback)
	id := uuid.New().String()

	p.subscriptions[id] = &SubscriptionInfo{
		Id:          &id,
		Event:       options.Event,
		Unsubscribe: unsubscribe,
		Label:       options.Label,
		Description: options.Description,
	}
	p.logger.Debug("subscription registered", zap.String("id", id), zap.String("event", string(options.Event)))
	p.emitEvent(createEvent(SubscriptionRegister, "subscribe", "", options.Event, id, nil, nil, time.Time{}))
	return id
}

// UnregisterSubscription removes a subscription by its ID.
func (p *Persistence) UnregisterSubscription(id string) {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	if info, ok := p.subscriptions[id]; ok {
		info.Unsubscribe()
		delete(p.subscriptions, id)
		p.emitEvent(createEvent(SubscriptionUnregister, "unsubscribe", "", info.Event, id, nil, nil, time.Time{}))
	}
}

// Subscriptions returns every active subscription.
func (p *Persistence) Subscriptions() ([]SubscriptionInfo, error) {
	p.subMu.RLock()
	defer p.subMu.RUnlock()

	subs := make([]SubscriptionInfo, 0, len(p.subscriptions))
	for _, sub := range p.subscriptions {
		subs = append(subs, *sub)
	}
	sort.Slice(subs, func(i, j int) bool { return *subs[i].Id < *subs[j].Id })
	return subs, nil
}

// VerifyIndexes compares the declared indexes of className with the ones
// present in storage. Nothing is changed on either side.
func (p *Persistence) VerifyIndexes(ctx context.Context, className string) (*IndexDrift, error) {
	s, err := p.GetClass(ctx, className)
	if err != nil {
		return nil, err
	}
	return p.indexes.Verify(ctx, s)
}

// Close releases the subscriptions and the storage.
func (p *Persistence) Close() error {
	p.subMu.Lock()
	for id, info := range p.subscriptions {
		info.Unsubscribe()
		delete(p.subscriptions, id)
	}
	p.subMu.Unlock()
	return p.interactor.Close()
}
