package permissions

import (
	"context"
	"fmt"

	"github.com/asaidimu/go-anansi-schema/core"
	"github.com/asaidimu/go-anansi-schema/core/schema"
	"go.uber.org/zap"
)

// DefaultMaxRoleDepth bounds how many role-to-role hops are followed.
const DefaultMaxRoleDepth = 20

// Option configures an Enforcer.
type Option func(*Enforcer)

// WithMaxRoleDepth overrides DefaultMaxRoleDepth.
func WithMaxRoleDepth(depth int) Option {
	return func(e *Enforcer) {
		if depth > 0 {
			e.maxDepth = depth
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Enforcer) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Enforcer decides whether a caller may perform an action on a class.
type Enforcer struct {
	source   SchemaSource
	roles    RoleResolver
	maxDepth int
	logger   *zap.Logger
}

// NewEnforcer creates an enforcer. roles may be nil, in which case role
// grants never match.
func NewEnforcer(source SchemaSource, roles RoleResolver, opts ...Option) *Enforcer {
	e := &Enforcer{
		source:   source,
		roles:    roles,
		maxDepth: DefaultMaxRoleDepth,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Authorize loads the permissions of className and checks op for the caller.
// candidate is the stored object for per-object checks, or nil.
func (e *Enforcer) Authorize(ctx context.Context, className string, op schema.Operation, auth Auth, candidate schema.Document) error {
	if auth.IsMaster {
		decisions.WithLabelValues(string(op), "master").Inc()
		return nil
	}
	s, err := e.source.GetClass(ctx, className)
	if err != nil {
		return err
	}
	return e.AuthorizeSchema(ctx, s, op, auth, candidate)
}

// AuthorizeSchema checks op against an already loaded schema.
func (e *Enforcer) AuthorizeSchema(ctx context.Context, s *schema.ClassSchema, op schema.Operation, auth Auth, candidate schema.Document) error {
	if auth.IsMaster {
		decisions.WithLabelValues(string(op), "master").Inc()
		return nil
	}
	clp := s.CLP()
	allowed, err := e.Check(ctx, clp, op, auth)
	if err != nil {
		return err
	}
	if allowed {
		decisions.WithLabelValues(string(op), "allow").Inc()
		return nil
	}
	if candidate != nil && OwnsObject(clp, op, auth, candidate) {
		decisions.WithLabelValues(string(op), "owner").Inc()
		return nil
	}
	decisions.WithLabelValues(string(op), "deny").Inc()
	e.logger.Debug("permission denied",
		zap.String("class", s.ClassName),
		zap.String("action", string(op)),
		zap.String("user", auth.UserID))
	return core.PermissionDenied(string(op), s.ClassName)
}

// Check evaluates the access map of op without looking at any object.
func (e *Enforcer) Check(ctx context.Context, clp *schema.CLP, op schema.Operation, auth Auth) (bool, error) {
	if auth.IsMaster {
		return true, nil
	}
	access := clp.Access(op)
	if access.Has(schema.PublicAccess) {
		return true, nil
	}
	if !auth.Authenticated() {
		return false, nil
	}
	if access.Has(auth.UserID) {
		return true, nil
	}
	wanted := access.Roles()
	if len(wanted) == 0 || e.roles == nil {
		return false, nil
	}
	held, err := e.Roles(ctx, auth.UserID)
	if err != nil {
		return false, err
	}
	for _, role := range wanted {
		if _, ok := held[role]; ok {
			return true, nil
		}
	}
	return false, nil
}

// Roles resolves every role the user holds, directly or through role
// inheritance. The walk is breadth-first, tolerates cycles and stops after
// the configured depth.
func (e *Enforcer) Roles(ctx context.Context, userID string) (map[string]struct{}, error) {
	held := map[string]struct{}{}
	if e.roles == nil || userID == "" {
		return held, nil
	}
	frontier, err := e.roles.UserRoles(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve roles of user %s: %w", userID, err)
	}
	for depth := 0; len(frontier) > 0; depth++ {
		if depth > e.maxDepth {
			e.logger.Warn("role graph deeper than limit, truncating",
				zap.String("user", userID), zap.Int("limit", e.maxDepth))
			break
		}
		var next []string
		for _, role := range frontier {
			if _, seen := held[role]; seen {
				continue
			}
			held[role] = struct{}{}
			parents, err := e.roles.ParentRoles(ctx, role)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve parents of role %s: %w", role, err)
			}
			next = append(next, parents...)
		}
		frontier = next
	}
	return held, nil
}

// OwnsObject reports whether one of the ownership fields consulted for op
// references the caller in candidate.
func OwnsObject(clp *schema.CLP, op schema.Operation, auth Auth, candidate schema.Document) bool {
	if !auth.Authenticated() {
		return false
	}
	for _, field := range clp.UserFields(op) {
		if referencesUser(candidate[field], auth.UserID) {
			return true
		}
	}
	return false
}

func referencesUser(value any, userID string) bool {
	switch v := value.(type) {
	case map[string]any:
		id, _ := v[schema.FieldObjectID].(string)
		className, _ := v["className"].(string)
		return id == userID && (className == "" || className == schema.UserClassName)
	case schema.Document:
		return referencesUser(map[string]any(v), userID)
	case []any:
		for _, item := range v {
			if referencesUser(item, userID) {
				return true
			}
		}
	case []string:
		for _, id := range v {
			if id == userID {
				return true
			}
		}
	case string:
		return v == userID
	}
	return false
}
