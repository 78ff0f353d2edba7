// Package users implements the tenant user operations: listing, creation with
// a default role, profile edits, attributes and role assignment.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/db/bunx"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/db/models"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/errs"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/services"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/services/permissions"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/tenancy"
)

// Service runs user operations on behalf of an authenticated tenant user.
type Service struct {
	gate   *permissions.Gate
	agg    *permissions.Aggregator
	logger *zap.Logger
}

// NewService creates a user service.
func NewService(gate *permissions.Gate, agg *permissions.Aggregator, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{gate: gate, agg: agg, logger: logger.Named("users")}
}

// Profile is the caller's own view of themselves.
type Profile struct {
	User         *models.User `json:"user"`
	Tenant       string       `json:"tenant"`
	Capabilities []string     `json:"capabilities"`
	IsAdmin      bool         `json:"is_admin"`
}

// CreateRequest is the payload for creating a user.
type CreateRequest struct {
	UserName    string `json:"user_name"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	DefaultRole int64  `json:"default_role"`
}

// Patch lists the user columns a caller may change.
type Patch struct {
	Name      *string `mapstructure:"name"`
	FirstName *string `mapstructure:"first_name"`
	LastName  *string `mapstructure:"last_name"`
	Email     *string `mapstructure:"email"`
}

// Current returns the tenant user behind the local identifier. Several users
// sharing the name is a data error, not a denial.
func (s *Service) Current(ctx context.Context, acc *tenancy.Accessor, local string) (*models.User, error) {
	users, err := acc.Users().FindByUserName(ctx, local)
	if err != nil {
		return nil, fmt.Errorf("current user: %w", err)
	}
	switch len(users) {
	case 0:
		return nil, fmt.Errorf("no user %q in tenant: %w", local, errs.ErrForbidden)
	case 1:
		return &users[0], nil
	default:
		s.logger.Error("duplicate users for authenticated username",
			zap.String("user_name", local),
			zap.String("tenant", acc.Tenant().DomainName),
			zap.Int("count", len(users)))
		return nil, fmt.Errorf("%s: %w", local, errs.ErrDuplicateUsers)
	}
}

// Me returns the caller's profile with effective capabilities.
func (s *Service) Me(ctx context.Context, acc *tenancy.Accessor, actor *models.User) (*Profile, error) {
	caps, err := permissions.Capabilities(ctx, s.agg, acc, actor.ID)
	if err != nil {
		return nil, err
	}
	isAdmin, err := s.gate.IsAdmin(ctx, acc, actor.ID)
	if err != nil {
		return nil, err
	}
	return &Profile{
		User:         actor,
		Tenant:       acc.Tenant().DomainName,
		Capabilities: caps.Sorted(),
		IsAdmin:      isAdmin,
	}, nil
}

func (s *Service) authorize(ctx context.Context, acc *tenancy.Accessor, actor *models.User, act string) error {
	caps, err := permissions.Capabilities(ctx, s.agg, acc, actor.ID)
	if err != nil {
		return err
	}
	ok, err := s.gate.Allow(caps, permissions.ObjectUsers, act)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("users:%s: %w", act, errs.ErrForbidden)
	}
	return nil
}

// requireAlter loads the target user and checks the actor owns it or is admin.
// Users the actor may not alter are reported as not found.
func (s *Service) requireAlter(ctx context.Context, acc *tenancy.Accessor, actor *models.User, id int64) (*models.User, error) {
	target, err := acc.Users().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.gate.CanAlter(ctx, acc, actor, target)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, errs.ErrNotFound)
	}
	return target, nil
}

// List returns the active users of the tenant.
func (s *Service) List(ctx context.Context, acc *tenancy.Accessor, actor *models.User) ([]models.User, error) {
	if err := s.authorize(ctx, acc, actor, permissions.ActionList); err != nil {
		return nil, err
	}
	return acc.Users().ListActive(ctx)
}

// Create adds a user and, when requested, assigns its default role in the
// same transaction.
func (s *Service) Create(ctx context.Context, acc *tenancy.Accessor, actor *models.User, req CreateRequest) (*models.User, error) {
	if err := s.authorize(ctx, acc, actor, permissions.ActionCreate); err != nil {
		return nil, err
	}

	first := strings.TrimSpace(req.FirstName)
	last := strings.TrimSpace(req.LastName)
	userName := strings.TrimSpace(req.UserName)
	if userName == "" {
		if first == "" || last == "" {
			return nil, fmt.Errorf("user_name or first_name and last_name are required: %w", errs.ErrInvalidInput)
		}
		userName = strings.ToLower(first + "." + last)
	}

	user := &models.User{
		UserName:  userName,
		Name:      DisplayName(first, last),
		FirstName: first,
		LastName:  last,
		Status:    models.UserStatusActive,
	}
	if email := strings.TrimSpace(req.Email); email != "" {
		user.Email = &email
	}

	err := acc.RunInTx(ctx, func(ctx context.Context, tx *tenancy.Accessor) error {
		var role *models.Role
		if req.DefaultRole != 0 {
			var err error
			role, err = tx.Roles().GetByID(ctx, req.DefaultRole)
			if err != nil {
				if errors.Is(err, errs.ErrNotFound) {
					return fmt.Errorf("default_role %d does not exist: %w", req.DefaultRole, errs.ErrInvalidInput)
				}
				return err
			}
			if err := s.gate.CheckRoleGrant(ctx, tx, actor.ID, role); err != nil {
				return err
			}
		}

		existing, err := tx.Users().FindByUserName(ctx, userName)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return fmt.Errorf("user %q: %w", userName, errs.ErrAlreadyExists)
		}

		if err := tx.Users().Create(ctx, user); err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		if role != nil {
			if err := tx.UserRoles().Create(ctx, &models.UserRole{UserID: user.ID, RoleID: role.ID}); err != nil {
				return fmt.Errorf("assign default role: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user created",
		zap.Int64("user_id", user.ID),
		zap.String("user_name", user.UserName),
		zap.Int64("default_role", req.DefaultRole),
		zap.String("by", actor.UserName))
	return user, nil
}

// Get returns a user the actor owns or administers.
func (s *Service) Get(ctx context.Context, acc *tenancy.Accessor, actor *models.User, id int64) (*models.User, error) {
	return s.requireAlter(ctx, acc, actor, id)
}

// Update applies a partial update. When first or last name changes without
// an explicit name, the display name is rebuilt.
func (s *Service) Update(ctx context.Context, acc *tenancy.Accessor, actor *models.User, id int64, input map[string]any) (*models.User, error) {
	var patch Patch
	if err := services.DecodePatch(input, &patch); err != nil {
		return nil, err
	}

	target, err := s.requireAlter(ctx, acc, actor, id)
	if err != nil {
		return nil, err
	}

	fields := bunx.Fields{}
	if patch.FirstName != nil {
		target.FirstName = strings.TrimSpace(*patch.FirstName)
		fields["first_name"] = target.FirstName
	}
	if patch.LastName != nil {
		target.LastName = strings.TrimSpace(*patch.LastName)
		fields["last_name"] = target.LastName
	}
	switch {
	case patch.Name != nil:
		fields["name"] = strings.TrimSpace(*patch.Name)
	case patch.FirstName != nil || patch.LastName != nil:
		fields["name"] = DisplayName(target.FirstName, target.LastName)
	}
	if patch.Email != nil {
		email := strings.TrimSpace(*patch.Email)
		if email == "" {
			fields["email"] = nil
		} else {
			fields["email"] = email
		}
	}

	if err := acc.Users().Update(ctx, id, fields); err != nil {
		return nil, err
	}
	return acc.Users().GetByID(ctx, id)
}

// Roles lists the roles the user holds. Memberships pointing at deleted
// roles are skipped.
func (s *Service) Roles(ctx context.Context, acc *tenancy.Accessor, actor *models.User, id int64) ([]models.Role, error) {
	if _, err := s.requireAlter(ctx, acc, actor, id); err != nil {
		return nil, err
	}
	ids, err := acc.UserRoles().RoleIDsForUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []models.Role{}, nil
	}
	return tenancy.Collection[models.Role](acc).Query(ctx, bunx.Filters{"role_id": ids}, "role_name ASC")
}

// AssignRole gives the user a role. Assigning a role the user already holds
// fails with errs.ErrUserRoleAlreadyAssigned and leaves one membership row.
func (s *Service) AssignRole(ctx context.Context, acc *tenancy.Accessor, actor *models.User, userID, roleID int64) (*models.UserRole, error) {
	var assignment *models.UserRole
	err := acc.RunInTx(ctx, func(ctx context.Context, tx *tenancy.Accessor) error {
		if _, err := tx.Users().GetByID(ctx, userID); err != nil {
			return err
		}
		role, err := tx.Roles().GetByID(ctx, roleID)
		if err != nil {
			return err
		}
		if err := s.gate.CheckRoleGrant(ctx, tx, actor.ID, role); err != nil {
			return err
		}

		exists, err := tx.UserRoles().Exists(ctx, userID, roleID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("user %d role %q: %w", userID, role.Name, errs.ErrUserRoleAlreadyAssigned)
		}

		assignment = &models.UserRole{UserID: userID, RoleID: roleID}
		return tx.UserRoles().Create(ctx, assignment)
	})
	if err != nil {
		return nil, err
	}

	forget(ctx, acc, userID)
	s.logger.Info("role assigned",
		zap.Int64("user_id", userID),
		zap.Int64("role_id", roleID),
		zap.String("by", actor.UserName))
	return assignment, nil
}

// Attributes lists the user's attributes.
func (s *Service) Attributes(ctx context.Context, acc *tenancy.Accessor, actor *models.User, id int64) ([]models.UserAttribute, error) {
	if _, err := s.requireAlter(ctx, acc, actor, id); err != nil {
		return nil, err
	}
	return acc.UserAttributes().ListByUser(ctx, id)
}

// SetAttribute stores one attribute value. Capability grants can only be
// changed by admins, even on the caller's own record.
func (s *Service) SetAttribute(ctx context.Context, acc *tenancy.Accessor, actor *models.User, id int64, name, value string) (*models.UserAttribute, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("attribute name is required: %w", errs.ErrInvalidInput)
	}
	if _, err := s.requireAlter(ctx, acc, actor, id); err != nil {
		return nil, err
	}
	if models.HasSecurityPrefix(name) {
		if err := s.gate.RequireAdmin(ctx, acc, actor.ID); err != nil {
			return nil, fmt.Errorf("set %s: %w", name, err)
		}
	}

	attr, err := acc.UserAttributes().Set(ctx, id, name, value)
	if err != nil {
		return nil, err
	}
	forget(ctx, acc, id)
	return attr, nil
}

// DisplayName joins first and last name with a space when both are present.
func DisplayName(first, last string) string {
	if first != "" && last != "" {
		return first + " " + last
	}
	return first + last
}

func forget(ctx context.Context, acc *tenancy.Accessor, userID int64) {
	if memo, ok := permissions.MemoFromContext(ctx); ok {
		memo.Forget(acc, userID)
	}
}
