package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Customer is a tenant registered in the controller database. Each customer
// owns an isolated database reachable through ConnectionString.
type Customer struct {
	bun.BaseModel `bun:"table:customers,alias:c"`

	ID               int64     `bun:"customer_id,pk,autoincrement" json:"id"`
	Name             string    `bun:"customer_name,notnull" json:"name"`
	DomainName       string    `bun:"domain_name,notnull,unique" json:"domain_name"`
	ProcessActive    bool      `bun:"process_active,notnull" json:"process_active"`
	LoginEnabled     bool      `bun:"login_enabled,notnull" json:"login_enabled"`
	ConnectionString string    `bun:"connection_string,notnull" json:"-"`
	CredentialScheme string    `bun:"credential_scheme,notnull" json:"credential_scheme"`
	CreatedAt        time.Time `bun:"created_at,notnull" json:"created_at"`
}

// CanLogin reports whether users of this customer may authenticate.
func (c *Customer) CanLogin() bool {
	return c != nil && c.ProcessActive && c.LoginEnabled
}

// SessionIdentity is the local record unifying an external "local@tenant"
// identity with its profile. It is upserted on every successful login.
// Operator identities may select any customer with the X-Customer-ID header;
// the flag is granted from the CLI and logins never change it.
type SessionIdentity struct {
	bun.BaseModel `bun:"table:session_identities,alias:si"`

	ID           string     `bun:"id,pk,type:varchar(36)" json:"id"`
	Username     string     `bun:"username,notnull,unique" json:"username"`
	Email        string     `bun:"email,notnull" json:"email"`
	FirstName    string     `bun:"first_name" json:"first_name"`
	LastName     string     `bun:"last_name" json:"last_name"`
	PasswordHash string     `bun:"password_hash" json:"-"`
	CreatedAt    time.Time  `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt    time.Time  `bun:"updated_at,notnull" json:"updated_at"`
	LastLoginAt  *time.Time `bun:"last_login_at" json:"last_login_at,omitempty"`
	DisabledAt   *time.Time `bun:"disabled_at" json:"-"`
	Operator     bool       `bun:"operator,notnull,default:false" json:"operator"`
}

// Active reports whether the identity may still hold sessions.
func (s *SessionIdentity) Active() bool {
	return s != nil && s.DisabledAt == nil
}

// RevokedToken records a logged-out session token until it would have expired.
type RevokedToken struct {
	bun.BaseModel `bun:"table:revoked_tokens,alias:rt"`

	JTI       string    `bun:"jti,pk,type:varchar(36)"`
	Username  string    `bun:"username,notnull"`
	ExpiresAt time.Time `bun:"expires_at,notnull"`
	RevokedAt time.Time `bun:"revoked_at,notnull"`
}
