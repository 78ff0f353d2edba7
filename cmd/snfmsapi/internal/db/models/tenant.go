package models

import (
	"strconv"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// User status values. Anything non-zero is treated as active.
const (
	UserStatusInactive = 0
	UserStatusActive   = 1
)

// SecurityPrefix marks attribute names that grant capabilities.
const SecurityPrefix = "security."

// User lives in a tenant database. UserName is unique only by convention;
// legacy stores can hold duplicates.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID          int64     `bun:"user_id,pk,autoincrement" json:"id"`
	UserName    string    `bun:"user_name,notnull" json:"user_name"`
	Name        string    `bun:"name" json:"name"`
	FirstName   string    `bun:"first_name" json:"first_name"`
	LastName    string    `bun:"last_name" json:"last_name"`
	Email       *string   `bun:"email" json:"email"`
	Status      int       `bun:"status,notnull" json:"status"`
	HashedKey   []byte    `bun:"hashed_key" json:"-"`
	CreatedDate time.Time `bun:"created_date,notnull" json:"created_date"`
	UpdatedDate time.Time `bun:"updated_date,notnull" json:"updated_date"`
}

// OwnerUserName lets a user record be checked for ownership against itself.
func (u *User) OwnerUserName() string { return u.UserName }

// IsActive reports whether the user is listed and can be attached to roles.
func (u *User) IsActive() bool { return u.Status != UserStatusInactive }

// UserAttribute is a free-form key/value pair attached to a user.
type UserAttribute struct {
	bun.BaseModel `bun:"table:user_attributes,alias:ua"`

	ID     int64  `bun:"user_attribute_id,pk,autoincrement" json:"id"`
	UserID int64  `bun:"user_id,notnull" json:"user_id"`
	Name   string `bun:"name,notnull" json:"name"`
	Value  string `bun:"name_value" json:"value"`
}

// IsSecurity reports whether the attribute name carries the capability prefix.
func (a *UserAttribute) IsSecurity() bool {
	return HasSecurityPrefix(a.Name)
}

// AsBool coerces the stored value using the 'True' literal convention.
func (a *UserAttribute) AsBool() bool { return a.Value == FlagTrue }

// AsInt coerces the stored value to an integer.
func (a *UserAttribute) AsInt() (int, error) { return strconv.Atoi(strings.TrimSpace(a.Value)) }

// Role groups capability attributes and is assigned to users through UserRole.
type Role struct {
	bun.BaseModel `bun:"table:roles,alias:r"`

	ID              int64     `bun:"role_id,pk,autoincrement" json:"id"`
	Name            string    `bun:"role_name,notnull,unique" json:"role_name"`
	Description     string    `bun:"role_description" json:"role_description"`
	CreatedByID     int64     `bun:"created_by_id" json:"created_by_id"`
	CreatedDate     time.Time `bun:"created_date,notnull" json:"created_date"`
	UpdatedByID     int64     `bun:"updated_by_id" json:"updated_by_id"`
	UpdatedDate     time.Time `bun:"updated_date,notnull" json:"updated_date"`
	DataAccess      bool      `bun:"data_access,notnull" json:"data_access"`
	MenuAccess      bool      `bun:"menu_access,notnull" json:"menu_access"`
	DashboardAccess bool      `bun:"dashboard_access,notnull" json:"dashboard_access"`
	ReportAccess    bool      `bun:"report_access,notnull" json:"report_access"`
	Cases           bool      `bun:"cases,notnull" json:"cases"`
}

// RoleAttribute attaches a named flag to a role.
type RoleAttribute struct {
	bun.BaseModel `bun:"table:role_attributes,alias:ra"`

	ID     int64  `bun:"role_attribute_id,pk,autoincrement" json:"id"`
	RoleID int64  `bun:"role_id,notnull" json:"role_id"`
	Name   string `bun:"name,notnull" json:"name"`
	Value  Flag   `bun:"name_value,type:varchar(5),notnull" json:"value"`
}

// UserRole is the membership join between users and roles. A (user, role)
// pair appears at most once.
type UserRole struct {
	bun.BaseModel `bun:"table:user_roles,alias:ur"`

	ID     int64 `bun:"user_roles_id,pk,autoincrement" json:"id"`
	UserID int64 `bun:"user_id,notnull" json:"user_id"`
	RoleID int64 `bun:"role_id,notnull" json:"role_id"`
}

// Message is an internal note written by one user for another.
type Message struct {
	bun.BaseModel `bun:"table:messages,alias:m"`

	ID          int64     `bun:"message_id,pk,autoincrement" json:"id"`
	Text        string    `bun:"message_text,notnull" json:"message_text"`
	RecipientID int64     `bun:"recipient_id,notnull" json:"recipient_id"`
	CreatedByID int64     `bun:"created_by_id,notnull" json:"created_by_id"`
	CreatedDate time.Time `bun:"created_date,notnull" json:"created_date"`
	UpdatedByID int64     `bun:"updated_by_id" json:"updated_by_id"`
	UpdatedDate time.Time `bun:"updated_date,notnull" json:"updated_date"`
}

// HasSecurityPrefix reports whether name starts with "security.", ignoring case.
func HasSecurityPrefix(name string) bool {
	return len(name) >= len(SecurityPrefix) && strings.EqualFold(name[:len(SecurityPrefix)], SecurityPrefix)
}
