package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/db/bunx"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/db/models"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/errs"
	"github.com/uptrace/bun"
)

// ========================================
// Role Repository
// ========================================

// BunRoleRepository implements RoleRepository using Bun ORM
type BunRoleRepository struct {
	db    bun.IDB
	roles *bunx.Collection[models.Role]
}

// NewBunRoleRepository creates a new Bun-based role repository
func NewBunRoleRepository(db bun.IDB) RoleRepository {
	return &BunRoleRepository{db: db, roles: bunx.NewCollection[models.Role](db)}
}

// Create inserts a new role
func (r *BunRoleRepository) Create(ctx context.Context, role *models.Role) error {
	role.Name = strings.TrimSpace(role.Name)
	if role.Name == "" {
		return fmt.Errorf("role name is required: %w", errs.ErrInvalidInput)
	}
	now := time.Now().UTC()
	if role.CreatedDate.IsZero() {
		role.CreatedDate = now
	}
	role.UpdatedDate = now

	if err := r.roles.Create(ctx, role); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("role %q: %w", role.Name, errs.ErrAlreadyExists)
		}
		return err
	}
	return nil
}

// GetByID retrieves a role by ID
func (r *BunRoleRepository) GetByID(ctx context.Context, id int64) (*models.Role, error) {
	role, err := r.roles.Get(ctx, bunx.Filters{"role_id": id})
	if err != nil {
		return nil, notFound(err, "role", id)
	}
	return role, nil
}

// GetByName retrieves a role by name
func (r *BunRoleRepository) GetByName(ctx context.Context, name string) (*models.Role, error) {
	role, err := r.roles.Get(ctx, bunx.Filters{"role_name": name})
	if err != nil {
		return nil, notFound(err, "role", name)
	}
	return role, nil
}

// List returns all roles ordered by name
func (r *BunRoleRepository) List(ctx context.Context) ([]models.Role, error) {
	return r.roles.Query(ctx, nil, "role_name ASC")
}

// Update applies fields to the role and bumps updated_date
func (r *BunRoleRepository) Update(ctx context.Context, id int64, fields bunx.Fields) error {
	if len(fields) == 0 {
		return nil
	}
	fields["updated_date"] = time.Now().UTC()
	n, err := r.roles.Update(ctx, bunx.Filters{"role_id": id}, fields)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("role name: %w", errs.ErrAlreadyExists)
		}
		return fmt.Errorf("update role: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("role %d: %w", id, errs.ErrNotFound)
	}
	return nil
}

// Delete deletes a role by ID
func (r *BunRoleRepository) Delete(ctx context.Context, id int64) error {
	n, err := r.roles.Delete(ctx, bunx.Filters{"role_id": id})
	if err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("role %d: %w", id, errs.ErrNotFound)
	}
	return nil
}

// ExistingIDs returns the subset of ids that still exist in roles
func (r *BunRoleRepository) ExistingIDs(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var existing []int64
	err := r.db.NewSelect().
		Model((*models.Role)(nil)).
		Column("r.role_id").
		Where("r.role_id IN (?)", bun.In(ids)).
		Scan(ctx, &existing)
	if err != nil {
		return nil, fmt.Errorf("validate role ids: %w", err)
	}
	return existing, nil
}

// ========================================
// Role Attribute Repository
// ========================================

// BunRoleAttributeRepository implements RoleAttributeRepository using Bun ORM
type BunRoleAttributeRepository struct {
	db    bun.IDB
	attrs *bunx.Collection[models.RoleAttribute]
}

// NewBunRoleAttributeRepository creates a new Bun-based role attribute repository
func NewBunRoleAttributeRepository(db bun.IDB) RoleAttributeRepository {
	return &BunRoleAttributeRepository{db: db, attrs: bunx.NewCollection[models.RoleAttribute](db)}
}

// ListByRole returns the attributes of a role
func (r *BunRoleAttributeRepository) ListByRole(ctx context.Context, roleID int64) ([]models.RoleAttribute, error) {
	return r.attrs.Query(ctx, bunx.Filters{"role_id": roleID}, "name ASC")
}

// SecurityGrants returns granted security attribute names of the given roles
func (r *BunRoleAttributeRepository) SecurityGrants(ctx context.Context, roleIDs []int64) ([]string, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	var names []string
	err := r.db.NewSelect().
		Model((*models.RoleAttribute)(nil)).
		Column("ra.name").
		Where("ra.role_id IN (?)", bun.In(roleIDs)).
		Where("LOWER(ra.name) LIKE ?", models.SecurityPrefix+"%").
		Where("ra.name_value = ?", models.FlagTrue).
		Scan(ctx, &names)
	if err != nil {
		return nil, fmt.Errorf("role security grants: %w", err)
	}
	return names, nil
}

// SetValue upserts each named attribute of the role to value
func (r *BunRoleAttributeRepository) SetValue(ctx context.Context, roleID int64, names []string, value models.Flag) error {
	for _, name := range names {
		n, err := r.attrs.Update(ctx, bunx.Filters{"role_id": roleID, "name": name}, bunx.Fields{"name_value": value})
		if err != nil {
			return fmt.Errorf("set role attribute %s: %w", name, err)
		}
		if n > 0 {
			continue
		}
		if err := r.attrs.Create(ctx, &models.RoleAttribute{RoleID: roleID, Name: name, Value: value}); err != nil {
			return fmt.Errorf("set role attribute %s: %w", name, err)
		}
	}
	return nil
}

// BulkCreate inserts role attributes in one statement
func (r *BunRoleAttributeRepository) BulkCreate(ctx context.Context, attrs []models.RoleAttribute) error {
	return r.attrs.BulkCreate(ctx, attrs)
}

// DeleteByRole removes every attribute of the role
func (r *BunRoleAttributeRepository) DeleteByRole(ctx context.Context, roleID int64) (int64, error) {
	return r.attrs.Delete(ctx, bunx.Filters{"role_id": roleID})
}

// ========================================
// User Role Repository
// ========================================

// BunUserRoleRepository implements UserRoleRepository using Bun ORM
type BunUserRoleRepository struct {
	db        bun.IDB
	userRoles *bunx.Collection[models.UserRole]
}

// NewBunUserRoleRepository creates a new Bun-based user-role repository
func NewBunUserRoleRepository(db bun.IDB) UserRoleRepository {
	return &BunUserRoleRepository{db: db, userRoles: bunx.NewCollection[models.UserRole](db)}
}

// Exists reports whether the user already holds the role
func (r *BunUserRoleRepository) Exists(ctx context.Context, userID, roleID int64) (bool, error) {
	n, err := r.userRoles.Count(ctx, bunx.Filters{"user_id": userID, "role_id": roleID})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Create assigns a role to a user. The unique index on (user_id, role_id)
// turns a lost race into ErrUserRoleAlreadyAssigned.
func (r *BunUserRoleRepository) Create(ctx context.Context, userRole *models.UserRole) error {
	if err := r.userRoles.Create(ctx, userRole); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %d role %d: %w", userRole.UserID, userRole.RoleID, errs.ErrUserRoleAlreadyAssigned)
		}
		return err
	}
	return nil
}

// BulkCreate inserts assignments in one statement
func (r *BunUserRoleRepository) BulkCreate(ctx context.Context, userRoles []models.UserRole) error {
	if err := r.userRoles.BulkCreate(ctx, userRoles); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("bulk assign: %w", errs.ErrUserRoleAlreadyAssigned)
		}
		return err
	}
	return nil
}

// RoleIDsForUser returns the role ids referenced by the user's memberships
func (r *BunUserRoleRepository) RoleIDsForUser(ctx context.Context, userID int64) ([]int64, error) {
	var ids []int64
	err := r.db.NewSelect().
		Model((*models.UserRole)(nil)).
		Column("ur.role_id").
		Where("ur.user_id = ?", userID).
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("user role ids: %w", err)
	}
	return ids, nil
}

// UserIDsForRole returns the members of a role
func (r *BunUserRoleRepository) UserIDsForRole(ctx context.Context, roleID int64) ([]int64, error) {
	var ids []int64
	err := r.db.NewSelect().
		Model((*models.UserRole)(nil)).
		Column("ur.user_id").
		Where("ur.role_id = ?", roleID).
		Order("ur.user_id ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("role user ids: %w", err)
	}
	return ids, nil
}

// HoldsRoleNamed reports whether the user is a member of the named role
func (r *BunUserRoleRepository) HoldsRoleNamed(ctx context.Context, userID int64, roleName string, requireDataAccess bool) (bool, error) {
	q := r.db.NewSelect().
		Model((*models.UserRole)(nil)).
		Join("JOIN roles AS r ON r.role_id = ur.role_id").
		Where("ur.user_id = ?", userID).
		Where("r.role_name = ?", roleName)
	if requireDataAccess {
		q = q.Where("r.data_access = ?", true)
	}
	exists, err := q.Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("check role membership: %w", err)
	}
	return exists, nil
}

// DeleteForRole removes the role from the given users, or from every member
// when userIDs is nil.
func (r *BunUserRoleRepository) DeleteForRole(ctx context.Context, roleID int64, userIDs []int64) (int64, error) {
	filters := bunx.Filters{"role_id": roleID}
	if userIDs != nil {
		if len(userIDs) == 0 {
			return 0, nil
		}
		filters["user_id"] = userIDs
	}
	return r.userRoles.Delete(ctx, filters)
}
