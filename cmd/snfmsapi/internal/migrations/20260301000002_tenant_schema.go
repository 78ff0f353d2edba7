package migrations

import (
	"context"
	"fmt"

	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/db/models"
	"github.com/uptrace/bun"
)

func init() {
	Tenant.MustRegister(up_20260301000002, down_20260301000002)
}

// up_20260301000002 creates the per-customer schema. Join and attribute tables
// deliberately carry no foreign keys: existing customer data holds references
// to deleted roles and the capability lookup tolerates them.
func up_20260301000002(ctx context.Context, db *bun.DB) error {
	tables := []struct {
		name  string
		model any
	}{
		{"users", (*models.User)(nil)},
		{"user_attributes", (*models.UserAttribute)(nil)},
		{"roles", (*models.Role)(nil)},
		{"role_attributes", (*models.RoleAttribute)(nil)},
		{"user_roles", (*models.UserRole)(nil)},
		{"messages", (*models.Message)(nil)},
	}

	for _, tbl := range tables {
		fmt.Printf(" [up] creating %s table...", tbl.name)
		if _, err := db.NewCreateTable().
			Model(tbl.model).
			IfNotExists().
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to create %s table: %w", tbl.name, err)
		}
		fmt.Println(" OK")
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_users_user_name ON users(user_name)`,
		`CREATE INDEX IF NOT EXISTS idx_user_attributes_user_id ON user_attributes(user_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_role_attributes_role_name ON role_attributes(role_id, name)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_user_roles_user_role ON user_roles(user_id, role_id)`,
		`CREATE INDEX IF NOT EXISTS idx_user_roles_role_id ON user_roles(role_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_created_by_id ON messages(created_by_id)`,
	}
	fmt.Print(" [up] creating tenant indexes...")
	for _, stmt := range indexes {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	fmt.Println(" OK")

	return nil
}

// down_20260301000002 drops the tenant schema.
func down_20260301000002(ctx context.Context, db *bun.DB) error {
	for _, model := range []any{
		(*models.Message)(nil),
		(*models.UserRole)(nil),
		(*models.RoleAttribute)(nil),
		(*models.Role)(nil),
		(*models.UserAttribute)(nil),
		(*models.User)(nil),
	} {
		if _, err := db.NewDropTable().Model(model).IfExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to drop table: %w", err)
		}
	}
	return nil
}
