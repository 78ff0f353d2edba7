package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/db/bunx"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/db/models"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/errs"
	"github.com/uptrace/bun"
)

// ========================================
// User Repository
// ========================================

// BunUserRepository implements UserRepository using Bun ORM
type BunUserRepository struct {
	db    bun.IDB
	users *bunx.Collection[models.User]
}

// NewBunUserRepository creates a new Bun-based user repository
func NewBunUserRepository(db bun.IDB) UserRepository {
	return &BunUserRepository{db: db, users: bunx.NewCollection[models.User](db)}
}

// Create inserts a new user
func (r *BunUserRepository) Create(ctx context.Context, user *models.User) error {
	now := time.Now().UTC()
	if user.CreatedDate.IsZero() {
		user.CreatedDate = now
	}
	user.UpdatedDate = now
	return r.users.Create(ctx, user)
}

// GetByID retrieves a user by ID
func (r *BunUserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	user, err := r.users.Get(ctx, bunx.Filters{"user_id": id})
	if err != nil {
		return nil, notFound(err, "user", id)
	}
	return user, nil
}

// FindByUserName returns all users with the given user name
func (r *BunUserRepository) FindByUserName(ctx context.Context, userName string) ([]models.User, error) {
	return r.users.Query(ctx, bunx.Filters{"user_name": userName}, "user_id ASC")
}

// ListActive returns users whose status is not inactive
func (r *BunUserRepository) ListActive(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := r.db.NewSelect().
		Model(&users).
		Where("status != ?", models.UserStatusInactive).
		Order("user_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}
	return users, nil
}

// ListActiveByIDs returns the active users among ids
func (r *BunUserRepository) ListActiveByIDs(ctx context.Context, ids []int64) ([]models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var users []models.User
	err := r.db.NewSelect().
		Model(&users).
		Where("user_id IN (?)", bun.In(ids)).
		Where("status != ?", models.UserStatusInactive).
		Order("user_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users by ids: %w", err)
	}
	return users, nil
}

// ListInRole returns users holding the role
func (r *BunUserRepository) ListInRole(ctx context.Context, roleID int64) ([]models.User, error) {
	var users []models.User
	err := r.db.NewSelect().
		Model(&users).
		Where("u.user_id IN (?)", r.db.NewSelect().
			Model((*models.UserRole)(nil)).
			Column("ur.user_id").
			Where("ur.role_id = ?", roleID)).
		Order("u.user_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users in role: %w", err)
	}
	return users, nil
}

// ListActiveNotInRole returns active users that do not hold the role
func (r *BunUserRepository) ListActiveNotInRole(ctx context.Context, roleID int64) ([]models.User, error) {
	var users []models.User
	err := r.db.NewSelect().
		Model(&users).
		Where("u.status != ?", models.UserStatusInactive).
		Where("u.user_id NOT IN (?)", r.db.NewSelect().
			Model((*models.UserRole)(nil)).
			Column("ur.user_id").
			Where("ur.role_id = ?", roleID)).
		Order("u.user_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users not in role: %w", err)
	}
	return users, nil
}

// Update applies fields to the user and bumps updated_date
func (r *BunUserRepository) Update(ctx context.Context, id int64, fields bunx.Fields) error {
	if len(fields) == 0 {
		return nil
	}
	fields["updated_date"] = time.Now().UTC()
	n, err := r.users.Update(ctx, bunx.Filters{"user_id": id}, fields)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("user %d: %w", id, errs.ErrNotFound)
	}
	return nil
}

// ========================================
// User Attribute Repository
// ========================================

// BunUserAttributeRepository implements UserAttributeRepository using Bun ORM
type BunUserAttributeRepository struct {
	db    bun.IDB
	attrs *bunx.Collection[models.UserAttribute]
}

// NewBunUserAttributeRepository creates a new Bun-based user attribute repository
func NewBunUserAttributeRepository(db bun.IDB) UserAttributeRepository {
	return &BunUserAttributeRepository{db: db, attrs: bunx.NewCollection[models.UserAttribute](db)}
}

// ListByUser returns every attribute of the user
func (r *BunUserAttributeRepository) ListByUser(ctx context.Context, userID int64) ([]models.UserAttribute, error) {
	return r.attrs.Query(ctx, bunx.Filters{"user_id": userID}, "name ASC")
}

// SecurityGrants returns the names of granted security attributes, verbatim
func (r *BunUserAttributeRepository) SecurityGrants(ctx context.Context, userID int64) ([]string, error) {
	var names []string
	err := r.db.NewSelect().
		Model((*models.UserAttribute)(nil)).
		Column("ua.name").
		Where("ua.user_id = ?", userID).
		Where("LOWER(ua.name) LIKE ?", models.SecurityPrefix+"%").
		Where("ua.name_value = ?", models.FlagTrue).
		Scan(ctx, &names)
	if err != nil {
		return nil, fmt.Errorf("user security grants: %w", err)
	}
	return names, nil
}

// Set updates the named attribute or creates it when missing
func (r *BunUserAttributeRepository) Set(ctx context.Context, userID int64, name, value string) (*models.UserAttribute, error) {
	n, err := r.attrs.Update(ctx, bunx.Filters{"user_id": userID, "name": name}, bunx.Fields{"name_value": value})
	if err != nil {
		return nil, fmt.Errorf("set user attribute: %w", err)
	}
	if n == 0 {
		attr := &models.UserAttribute{UserID: userID, Name: name, Value: value}
		if err := r.attrs.Create(ctx, attr); err != nil {
			return nil, fmt.Errorf("set user attribute: %w", err)
		}
		return attr, nil
	}
	attr, err := r.attrs.Get(ctx, bunx.Filters{"user_id": userID, "name": name})
	if err != nil {
		return nil, notFound(err, "user attribute", name)
	}
	return attr, nil
}
