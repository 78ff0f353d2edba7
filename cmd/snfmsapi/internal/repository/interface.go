package repository

import (
	"context"
	"time"

	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/db/bunx"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/db/models"
)

// ========================================
// Controller database
// ========================================

// CustomerRepository reads and registers tenants in the controller database.
type CustomerRepository interface {
	Create(ctx context.Context, customer *models.Customer) error
	GetByID(ctx context.Context, id int64) (*models.Customer, error)
	GetByDomain(ctx context.Context, domain string) (*models.Customer, error)
	List(ctx context.Context) ([]models.Customer, error)
	SetStatus(ctx context.Context, id int64, processActive, loginEnabled bool) error
}

// SessionIdentityRepository persists the local identity of authenticated principals.
type SessionIdentityRepository interface {
	// Upsert creates or refreshes the identity keyed by Username and returns
	// the stored row.
	Upsert(ctx context.Context, identity *models.SessionIdentity) (*models.SessionIdentity, error)
	GetByUsername(ctx context.Context, username string) (*models.SessionIdentity, error)
	// SetOperator grants or revokes cross-customer access.
	SetOperator(ctx context.Context, username string, operator bool) error
}

// RevokedTokenRepository tracks logged-out token ids.
type RevokedTokenRepository interface {
	Revoke(ctx context.Context, jti, username string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// ========================================
// Tenant database
// ========================================

// UserRepository exposes tenant users.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id int64) (*models.User, error)
	// FindByUserName returns every user sharing the name; callers decide how
	// to treat zero or several matches.
	FindByUserName(ctx context.Context, userName string) ([]models.User, error)
	ListActive(ctx context.Context) ([]models.User, error)
	ListActiveByIDs(ctx context.Context, ids []int64) ([]models.User, error)
	ListInRole(ctx context.Context, roleID int64) ([]models.User, error)
	ListActiveNotInRole(ctx context.Context, roleID int64) ([]models.User, error)
	Update(ctx context.Context, id int64, fields bunx.Fields) error
}

// UserAttributeRepository exposes key/value attributes attached to users.
type UserAttributeRepository interface {
	ListByUser(ctx context.Context, userID int64) ([]models.UserAttribute, error)
	// SecurityGrants returns names of security-prefixed attributes whose value
	// is the granted literal.
	SecurityGrants(ctx context.Context, userID int64) ([]string, error)
	Set(ctx context.Context, userID int64, name, value string) (*models.UserAttribute, error)
}

// RoleRepository exposes tenant roles.
type RoleRepository interface {
	Create(ctx context.Context, role *models.Role) error
	GetByID(ctx context.Context, id int64) (*models.Role, error)
	GetByName(ctx context.Context, name string) (*models.Role, error)
	List(ctx context.Context) ([]models.Role, error)
	Update(ctx context.Context, id int64, fields bunx.Fields) error
	Delete(ctx context.Context, id int64) error
	// ExistingIDs filters ids down to roles that are still present.
	ExistingIDs(ctx context.Context, ids []int64) ([]int64, error)
}

// RoleAttributeRepository exposes the flags attached to roles.
type RoleAttributeRepository interface {
	ListByRole(ctx context.Context, roleID int64) ([]models.RoleAttribute, error)
	SecurityGrants(ctx context.Context, roleIDs []int64) ([]string, error)
	// SetValue upserts each named attribute of the role to value.
	SetValue(ctx context.Context, roleID int64, names []string, value models.Flag) error
	BulkCreate(ctx context.Context, attrs []models.RoleAttribute) error
	DeleteByRole(ctx context.Context, roleID int64) (int64, error)
}

// UserRoleRepository exposes role membership.
type UserRoleRepository interface {
	Exists(ctx context.Context, userID, roleID int64) (bool, error)
	Create(ctx context.Context, userRole *models.UserRole) error
	BulkCreate(ctx context.Context, userRoles []models.UserRole) error
	RoleIDsForUser(ctx context.Context, userID int64) ([]int64, error)
	UserIDsForRole(ctx context.Context, roleID int64) ([]int64, error)
	// HoldsRoleNamed reports whether the user is a member of the named role,
	// optionally requiring its data-access flag.
	HoldsRoleNamed(ctx context.Context, userID int64, roleName string, requireDataAccess bool) (bool, error)
	DeleteForRole(ctx context.Context, roleID int64, userIDs []int64) (int64, error)
}

// MessageRepository exposes internal messages, always scoped to their author.
type MessageRepository interface {
	Create(ctx context.Context, msg *models.Message) error
	ListByAuthor(ctx context.Context, authorID int64) ([]models.Message, error)
	GetForAuthor(ctx context.Context, id, authorID int64) (*models.Message, error)
	UpdateForAuthor(ctx context.Context, id, authorID int64, fields bunx.Fields) error
	DeleteForAuthor(ctx context.Context, id, authorID int64) error
}
