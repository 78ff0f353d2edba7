// Package migrations holds the schema for both database tiers: the controller
// database listing customers and session identities, and the per-customer
// tenant database every customer gets a copy of.
package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

var (
	// Controller migrates the deployment-wide controller database.
	Controller = migrate.NewMigrations()

	// Tenant migrates one customer database.
	Tenant = migrate.NewMigrations()
)

// Up initializes the migration tables and applies every pending migration of set.
func Up(ctx context.Context, db *bun.DB, set *migrate.Migrations) (*migrate.MigrationGroup, error) {
	migrator := migrate.NewMigrator(db, set)
	if err := migrator.Init(ctx); err != nil {
		return nil, fmt.Errorf("init migrator: %w", err)
	}
	if err := migrator.Lock(ctx); err != nil {
		return nil, fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() { _ = migrator.Unlock(ctx) }()

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return group, nil
}
