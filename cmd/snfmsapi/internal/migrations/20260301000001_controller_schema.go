package migrations

import (
	"context"
	"fmt"

	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/db/models"
	"github.com/uptrace/bun"
)

func init() {
	Controller.MustRegister(up_20260301000001, down_20260301000001)
}

// up_20260301000001 creates the customers registry and session tables.
func up_20260301000001(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [up] creating customers table...")
	if _, err := db.NewCreateTable().
		Model((*models.Customer)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create customers table: %w", err)
	}
	fmt.Println(" OK")

	fmt.Print(" [up] creating session_identities table...")
	if _, err := db.NewCreateTable().
		Model((*models.SessionIdentity)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create session_identities table: %w", err)
	}
	fmt.Println(" OK")

	fmt.Print(" [up] creating revoked_tokens table...")
	if _, err := db.NewCreateTable().
		Model((*models.RevokedToken)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create revoked_tokens table: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_revoked_tokens_expires_at ON revoked_tokens(expires_at)`); err != nil {
		return fmt.Errorf("failed to create revoked_tokens index: %w", err)
	}
	fmt.Println(" OK")

	return nil
}

// down_20260301000001 drops the controller tables.
func down_20260301000001(ctx context.Context, db *bun.DB) error {
	for _, model := range []any{
		(*models.RevokedToken)(nil),
		(*models.SessionIdentity)(nil),
		(*models.Customer)(nil),
	} {
		if _, err := db.NewDropTable().Model(model).IfExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to drop table: %w", err)
		}
	}
	return nil
}
