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
// Session Identity Repository
// ========================================

// BunSessionIdentityRepository implements SessionIdentityRepository using Bun ORM
type BunSessionIdentityRepository struct {
	db bun.IDB
}

// NewBunSessionIdentityRepository creates a new Bun-based session identity repository
func NewBunSessionIdentityRepository(db bun.IDB) SessionIdentityRepository {
	return &BunSessionIdentityRepository{db: db}
}

// Upsert inserts the identity or refreshes profile, password hash and login time
// of the existing row with the same username.
func (r *BunSessionIdentityRepository) Upsert(ctx context.Context, identity *models.SessionIdentity) (*models.SessionIdentity, error) {
	now := time.Now().UTC()
	if identity.ID == "" {
		identity.ID = bunx.NewUUIDv7()
	}
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = now
	}
	identity.UpdatedAt = now

	_, err := r.db.NewInsert().
		Model(identity).
		On("CONFLICT (username) DO UPDATE").
		Set("email = EXCLUDED.email").
		Set("first_name = EXCLUDED.first_name").
		Set("last_name = EXCLUDED.last_name").
		Set("password_hash = EXCLUDED.password_hash").
		Set("last_login_at = EXCLUDED.last_login_at").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("upsert session identity: %w", err)
	}

	return r.GetByUsername(ctx, identity.Username)
}

// GetByUsername retrieves an identity by its full local@tenant name
func (r *BunSessionIdentityRepository) GetByUsername(ctx context.Context, username string) (*models.SessionIdentity, error) {
	identity := new(models.SessionIdentity)
	err := r.db.NewSelect().
		Model(identity).
		Where("username = ?", username).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "session identity", username)
	}
	return identity, nil
}

// SetOperator updates the operator flag of an existing identity
func (r *BunSessionIdentityRepository) SetOperator(ctx context.Context, username string, operator bool) error {
	result, err := r.db.NewUpdate().
		Model((*models.SessionIdentity)(nil)).
		Set("operator = ?", operator).
		Set("updated_at = ?", time.Now().UTC()).
		Where("username = ?", username).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set operator for %s: %w", username, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("session identity %s: %w", username, errs.ErrNotFound)
	}
	return nil
}

// ========================================
// Revoked Token Repository
// ========================================

// BunRevokedTokenRepository implements RevokedTokenRepository using Bun ORM
type BunRevokedTokenRepository struct {
	db bun.IDB
}

// NewBunRevokedTokenRepository creates a new Bun-based revoked token repository
func NewBunRevokedTokenRepository(db bun.IDB) RevokedTokenRepository {
	return &BunRevokedTokenRepository{db: db}
}

// Revoke records jti as revoked. Revoking twice is not an error.
func (r *BunRevokedTokenRepository) Revoke(ctx context.Context, jti, username string, expiresAt time.Time) error {
	token := &models.RevokedToken{
		JTI:       jti,
		Username:  username,
		ExpiresAt: expiresAt.UTC(),
		RevokedAt: time.Now().UTC(),
	}
	_, err := r.db.NewInsert().
		Model(token).
		On("CONFLICT (jti) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// IsRevoked reports whether jti was revoked
func (r *BunRevokedTokenRepository) IsRevoked(ctx context.Context, jti string) (bool, error) {
	exists, err := r.db.NewSelect().
		Model((*models.RevokedToken)(nil)).
		Where("jti = ?", jti).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return exists, nil
}

// DeleteExpired removes revocations whose tokens can no longer be presented
func (r *BunRevokedTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.NewDelete().
		Model((*models.RevokedToken)(nil)).
		Where("expires_at < ?", now.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete expired revocations: %w", err)
	}
	return result.RowsAffected()
}
