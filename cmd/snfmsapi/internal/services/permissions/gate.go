package permissions

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"go.uber.org/zap"

	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/db/models"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/errs"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/tenancy"
)

//go:embed model.conf
var casbinModelContent string

// Reserved role names.
const (
	AdminRoleName       = "Admin Role"
	AdminNavigationName = "Admin Navigation"
)

// Capabilities referenced by the default route policy.
const (
	CapabilityCRMAdmin       = "security.crmadmin"
	CapabilityMarketingAdmin = "security.marketingadmin"
)

// Route objects and actions.
const (
	ObjectUsers  = "users"
	ActionList   = "list"
	ActionCreate = "create"
)

// DefaultPolicy is loaded when no policy file is configured. Each rule is
// (capability, object, action); holding any capability listed for a route
// admits the caller.
var DefaultPolicy = [][]string{
	{CapabilityMarketingAdmin, ObjectUsers, ActionList},
	{CapabilityCRMAdmin, ObjectUsers, ActionList},
	{CapabilityMarketingAdmin, ObjectUsers, ActionCreate},
	{CapabilityCRMAdmin, ObjectUsers, ActionCreate},
}

// Owned is a record attributed to a tenant user by user name.
type Owned interface {
	OwnerUserName() string
}

// Gate makes authorization decisions. Route requirements live in a casbin
// enforcer; admin checks read role membership through the tenant accessor.
type Gate struct {
	enforcer casbin.IEnforcer
	logger   *zap.Logger
}

// NewGate loads the route policy from policyPath (casbin CSV), or the
// default policy when policyPath is empty.
func NewGate(policyPath string, logger *zap.Logger) (*Gate, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	m, err := model.NewModelFromString(casbinModelContent)
	if err != nil {
		return nil, fmt.Errorf("parse casbin model: %w", err)
	}

	var enforcer *casbin.SyncedEnforcer
	if policyPath != "" {
		enforcer, err = casbin.NewSyncedEnforcer(m, policyPath)
		if err != nil {
			return nil, fmt.Errorf("load route policy %s: %w", policyPath, err)
		}
	} else {
		enforcer, err = casbin.NewSyncedEnforcer(m)
		if err != nil {
			return nil, fmt.Errorf("create casbin enforcer: %w", err)
		}
		if _, err := enforcer.AddPolicies(DefaultPolicy); err != nil {
			return nil, fmt.Errorf("load default route policy: %w", err)
		}
	}

	return &Gate{enforcer: enforcer, logger: logger}, nil
}

// Required returns the capabilities that admit a caller to (obj, act).
func (g *Gate) Required(obj, act string) (CapabilitySet, error) {
	rules, err := g.enforcer.GetFilteredPolicy(1, obj, act)
	if err != nil {
		return nil, fmt.Errorf("read route policy: %w", err)
	}
	required := make(CapabilitySet, len(rules))
	for _, rule := range rules {
		if len(rule) > 0 {
			required.Add(rule[0])
		}
	}
	return required, nil
}

// Allow reports whether held admits the caller to (obj, act). Routes with
// no policy admit nobody.
func (g *Gate) Allow(held CapabilitySet, obj, act string) (bool, error) {
	required, err := g.Required(obj, act)
	if err != nil {
		return false, err
	}
	allowed := IsAuthorized(required, held)
	if !allowed {
		g.logger.Debug("route denied",
			zap.String("object", obj),
			zap.String("action", act),
			zap.Strings("required", required.Sorted()))
	}
	return allowed, nil
}

// IsAdmin reports whether the user holds the admin role with data access.
func (g *Gate) IsAdmin(ctx context.Context, acc *tenancy.Accessor, userID int64) (bool, error) {
	return acc.UserRoles().HoldsRoleNamed(ctx, userID, AdminRoleName, true)
}

// RequireAdmin returns errs.ErrForbidden unless the user is an admin.
func (g *Gate) RequireAdmin(ctx context.Context, acc *tenancy.Accessor, userID int64) error {
	ok, err := g.IsAdmin(ctx, acc, userID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("admin role required: %w", errs.ErrForbidden)
	}
	return nil
}

// CheckRoleGrant guards privilege escalation: only admins may hand out the
// reserved admin roles.
func (g *Gate) CheckRoleGrant(ctx context.Context, acc *tenancy.Accessor, actorID int64, role *models.Role) error {
	if !IsReservedRole(role.Name) {
		return nil
	}
	if err := g.RequireAdmin(ctx, acc, actorID); err != nil {
		return fmt.Errorf("assign %q: %w", role.Name, err)
	}
	return nil
}

// CanAlter reports whether actor may modify obj: owners always may, and
// admins may modify any record.
func (g *Gate) CanAlter(ctx context.Context, acc *tenancy.Accessor, actor *models.User, obj Owned) (bool, error) {
	if Owns(actor.UserName, obj) {
		return true, nil
	}
	return g.IsAdmin(ctx, acc, actor.ID)
}

// Owns reports whether obj belongs to the user with the given local identifier.
func Owns(local string, obj Owned) bool {
	return obj != nil && local != "" && obj.OwnerUserName() == local
}

// IsReservedRole reports whether name is one of the admin-only roles.
func IsReservedRole(name string) bool {
	return name == AdminRoleName || name == AdminNavigationName
}
