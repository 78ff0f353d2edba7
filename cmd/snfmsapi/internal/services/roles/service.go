// Package roles implements role management: CRUD, atomic cloning, bulk
// membership changes and role attribute flags.
package roles

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/db/bunx"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/db/models"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/errs"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/services"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/services/permissions"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/tenancy"
)

// Service runs role operations on behalf of an authenticated tenant user.
type Service struct {
	gate   *permissions.Gate
	logger *zap.Logger
}

// NewService creates a role service.
func NewService(gate *permissions.Gate, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{gate: gate, logger: logger.Named("roles")}
}

// CreateRequest is the payload for creating a role.
type CreateRequest struct {
	Name        string `json:"role_name"`
	Description string `json:"role_description"`
}

// CloneRequest names the copy and optionally overrides its description.
type CloneRequest struct {
	Name        string  `json:"role_name"`
	Description *string `json:"role_description,omitempty"`
}

// Patch lists the role columns a caller may change. The access flags arrive
// as the literal strings "True" or "False".
type Patch struct {
	Name        *string `mapstructure:"role_name"`
	Description *string `mapstructure:"role_description"`
	DataAccess  *string `mapstructure:"data_access"`
	MenuAccess  *string `mapstructure:"menu_access"`
}

// Selection picks the users a bulk membership change applies to: every
// eligible active user, or an explicit id list.
type Selection struct {
	All     bool    `json:"all"`
	UserIDs []int64 `json:"user_ids"`
}

// List returns every role ordered by name.
func (s *Service) List(ctx context.Context, acc *tenancy.Accessor) ([]models.Role, error) {
	return acc.Roles().List(ctx)
}

// Get returns one role.
func (s *Service) Get(ctx context.Context, acc *tenancy.Accessor, id int64) (*models.Role, error) {
	return acc.Roles().GetByID(ctx, id)
}

// Create adds a role. Names are unique.
func (s *Service) Create(ctx context.Context, acc *tenancy.Accessor, actor *models.User, req CreateRequest) (*models.Role, error) {
	role := &models.Role{
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
		CreatedByID: actor.ID,
		UpdatedByID: actor.ID,
	}
	if err := acc.Roles().Create(ctx, role); err != nil {
		return nil, err
	}
	s.logger.Info("role created", zap.Int64("role_id", role.ID), zap.String("role_name", role.Name), zap.String("by", actor.UserName))
	return role, nil
}

// Update applies a partial update to a role.
func (s *Service) Update(ctx context.Context, acc *tenancy.Accessor, actor *models.User, id int64, input map[string]any) (*models.Role, error) {
	var patch Patch
	if err := services.DecodePatch(input, &patch); err != nil {
		return nil, err
	}

	fields := bunx.Fields{}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, fmt.Errorf("role_name cannot be blank: %w", errs.ErrInvalidInput)
		}
		fields["role_name"] = name
	}
	if patch.Description != nil {
		fields["role_description"] = strings.TrimSpace(*patch.Description)
	}
	for column, raw := range map[string]*string{"data_access": patch.DataAccess, "menu_access": patch.MenuAccess} {
		if raw == nil {
			continue
		}
		flag, err := models.ParseFlag(*raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %v", column, errs.ErrInvalidInput, err)
		}
		fields[column] = bool(flag)
	}

	if len(fields) > 0 {
		fields["updated_by_id"] = actor.ID
		if err := acc.Roles().Update(ctx, id, fields); err != nil {
			return nil, err
		}
	}
	return acc.Roles().GetByID(ctx, id)
}

// Delete removes a role together with its attributes and memberships.
func (s *Service) Delete(ctx context.Context, acc *tenancy.Accessor, actor *models.User, id int64) error {
	err := acc.RunInTx(ctx, func(ctx context.Context, tx *tenancy.Accessor) error {
		role, err := tx.Roles().GetByID(ctx, id)
		if err != nil {
			return err
		}
		if permissions.IsReservedRole(role.Name) {
			if err := s.gate.RequireAdmin(ctx, tx, actor.ID); err != nil {
				return fmt.Errorf("delete %q: %w", role.Name, err)
			}
		}
		if _, err := tx.RoleAttributes().DeleteByRole(ctx, id); err != nil {
			return fmt.Errorf("delete role attributes: %w", err)
		}
		if _, err := tx.UserRoles().DeleteForRole(ctx, id, nil); err != nil {
			return fmt.Errorf("delete role memberships: %w", err)
		}
		return tx.Roles().Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.logger.Info("role deleted", zap.Int64("role_id", id), zap.String("by", actor.UserName))
	return nil
}

// Clone copies a role with its attributes and user assignments under a new
// name. Either every row is written or none is.
func (s *Service) Clone(ctx context.Context, acc *tenancy.Accessor, actor *models.User, sourceID int64, req CloneRequest) (*models.Role, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("role_name is required: %w", errs.ErrInvalidInput)
	}

	var clone *models.Role
	err := acc.RunInTx(ctx, func(ctx context.Context, tx *tenancy.Accessor) error {
		source, err := tx.Roles().GetByID(ctx, sourceID)
		if err != nil {
			return err
		}

		copied := *source
		copied.ID = 0
		copied.Name = name
		if req.Description != nil {
			copied.Description = *req.Description
		}
		copied.CreatedByID = actor.ID
		copied.UpdatedByID = actor.ID
		copied.CreatedDate = time.Time{}
		if err := tx.Roles().Create(ctx, &copied); err != nil {
			return err
		}

		attrs, err := tx.RoleAttributes().ListByRole(ctx, sourceID)
		if err != nil {
			return err
		}
		for i := range attrs {
			attrs[i].ID = 0
			attrs[i].RoleID = copied.ID
		}
		if err := tx.RoleAttributes().BulkCreate(ctx, attrs); err != nil {
			return fmt.Errorf("copy role attributes: %w", err)
		}

		members, err := tx.UserRoles().UserIDsForRole(ctx, sourceID)
		if err != nil {
			return err
		}
		assignments := make([]models.UserRole, 0, len(members))
		for _, userID := range members {
			assignments = append(assignments, models.UserRole{UserID: userID, RoleID: copied.ID})
		}
		if err := tx.UserRoles().BulkCreate(ctx, assignments); err != nil {
			return fmt.Errorf("copy role assignments: %w", err)
		}

		clone = &copied
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("role cloned",
		zap.Int64("source_role_id", sourceID),
		zap.Int64("role_id", clone.ID),
		zap.String("role_name", clone.Name),
		zap.String("by", actor.UserName))
	return clone, nil
}

// Users lists the users attached to a role.
func (s *Service) Users(ctx context.Context, acc *tenancy.Accessor, roleID int64) ([]models.User, error) {
	if _, err := acc.Roles().GetByID(ctx, roleID); err != nil {
		return nil, err
	}
	return acc.Users().ListInRole(ctx, roleID)
}

// Unlinked lists the active users not attached to a role.
func (s *Service) Unlinked(ctx context.Context, acc *tenancy.Accessor, roleID int64) ([]models.User, error) {
	if _, err := acc.Roles().GetByID(ctx, roleID); err != nil {
		return nil, err
	}
	return acc.Users().ListActiveNotInRole(ctx, roleID)
}

// guardBulk loads the role and applies the escalation guards shared by
// Attach and Detach.
func (s *Service) guardBulk(ctx context.Context, tx *tenancy.Accessor, actor *models.User, roleID int64, sel Selection) (*models.Role, error) {
	if !sel.All && len(sel.UserIDs) == 0 {
		return nil, fmt.Errorf("either all or user_ids is required: %w", errs.ErrInvalidInput)
	}
	role, err := tx.Roles().GetByID(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if err := s.gate.CheckRoleGrant(ctx, tx, actor.ID, role); err != nil {
		return nil, err
	}
	if sel.All {
		if err := s.gate.RequireAdmin(ctx, tx, actor.ID); err != nil {
			return nil, fmt.Errorf("bulk change of every user: %w", err)
		}
	}
	return role, nil
}

// Attach adds the role to the selected users who do not hold it yet and
// returns how many memberships were created. With All, every active user is
// selected; explicit ids may name inactive users.
func (s *Service) Attach(ctx context.Context, acc *tenancy.Accessor, actor *models.User, roleID int64, sel Selection) (int, error) {
	var created int
	err := acc.RunInTx(ctx, func(ctx context.Context, tx *tenancy.Accessor) error {
		if _, err := s.guardBulk(ctx, tx, actor, roleID, sel); err != nil {
			return err
		}

		var candidates []models.User
		var err error
		if sel.All {
			candidates, err = tx.Users().ListActiveNotInRole(ctx, roleID)
		} else {
			candidates, err = tenancy.Collection[models.User](tx).Query(ctx, bunx.Filters{"user_id": sel.UserIDs}, "user_id ASC")
		}
		if err != nil {
			return err
		}

		members, err := tx.UserRoles().UserIDsForRole(ctx, roleID)
		if err != nil {
			return err
		}
		held := make(map[int64]struct{}, len(members))
		for _, id := range members {
			held[id] = struct{}{}
		}

		assignments := make([]models.UserRole, 0, len(candidates))
		for _, u := range candidates {
			if _, ok := held[u.ID]; ok {
				continue
			}
			held[u.ID] = struct{}{}
			assignments = append(assignments, models.UserRole{UserID: u.ID, RoleID: roleID})
		}
		if err := tx.UserRoles().BulkCreate(ctx, assignments); err != nil {
			return err
		}
		created = len(assignments)
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("role attached",
		zap.Int64("role_id", roleID),
		zap.Bool("all", sel.All),
		zap.Int("created", created),
		zap.String("by", actor.UserName))
	return created, nil
}

// Detach removes the role from the selected users and returns how many
// memberships were deleted. With All, every active member is selected.
func (s *Service) Detach(ctx context.Context, acc *tenancy.Accessor, actor *models.User, roleID int64, sel Selection) (int64, error) {
	var removed int64
	err := acc.RunInTx(ctx, func(ctx context.Context, tx *tenancy.Accessor) error {
		if _, err := s.guardBulk(ctx, tx, actor, roleID, sel); err != nil {
			return err
		}

		ids := sel.UserIDs
		if sel.All {
			members, err := tx.Users().ListInRole(ctx, roleID)
			if err != nil {
				return err
			}
			ids = make([]int64, 0, len(members))
			for _, u := range members {
				if u.IsActive() {
					ids = append(ids, u.ID)
				}
			}
		}

		n, err := tx.UserRoles().DeleteForRole(ctx, roleID, ids)
		if err != nil {
			return fmt.Errorf("detach role: %w", err)
		}
		removed = n
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("role detached",
		zap.Int64("role_id", roleID),
		zap.Bool("all", sel.All),
		zap.Int64("removed", removed),
		zap.String("by", actor.UserName))
	return removed, nil
}

// Attributes lists the flags attached to a role.
func (s *Service) Attributes(ctx context.Context, acc *tenancy.Accessor, roleID int64) ([]models.RoleAttribute, error) {
	if _, err := acc.Roles().GetByID(ctx, roleID); err != nil {
		return nil, err
	}
	return acc.RoleAttributes().ListByRole(ctx, roleID)
}

// AddAttributes sets each named flag to True, creating missing ones.
func (s *Service) AddAttributes(ctx context.Context, acc *tenancy.Accessor, actor *models.User, roleID int64, names []string) error {
	return s.setAttributes(ctx, acc, actor, roleID, names, true)
}

// RemoveAttributes sets each named flag to False, creating missing ones.
func (s *Service) RemoveAttributes(ctx context.Context, acc *tenancy.Accessor, actor *models.User, roleID int64, names []string) error {
	return s.setAttributes(ctx, acc, actor, roleID, names, false)
}

func (s *Service) setAttributes(ctx context.Context, acc *tenancy.Accessor, actor *models.User, roleID int64, names []string, value models.Flag) error {
	cleaned := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			cleaned = append(cleaned, n)
		}
	}
	if len(cleaned) == 0 {
		return fmt.Errorf("names are required: %w", errs.ErrInvalidInput)
	}

	err := acc.RunInTx(ctx, func(ctx context.Context, tx *tenancy.Accessor) error {
		if _, err := tx.Roles().GetByID(ctx, roleID); err != nil {
			return err
		}
		return tx.RoleAttributes().SetValue(ctx, roleID, cleaned, value)
	})
	if err != nil {
		return err
	}

	s.logger.Info("role attributes changed",
		zap.Int64("role_id", roleID),
		zap.Strings("names", cleaned),
		zap.Stringer("value", value),
		zap.String("by", actor.UserName))
	return nil
}
