package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"

	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/db/bunx"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/migrations"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Controller database management commands",
	Long: `Commands for managing the controller database schema. Tenant databases are
migrated with 'snfmsapi tenant migrate'.`,
}

// withControllerMigrator opens the controller database and hands fn a migrator over it.
func withControllerMigrator(fn func(ctx context.Context, migrator *migrate.Migrator) error) error {
	db, err := bunx.NewDBWithOptions(cfg.DatabaseURL, bunx.Options{MaxOpenConns: cfg.DatabaseMaxConns})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer bunx.Close(db)

	return fn(context.Background(), migrate.NewMigrator(db, migrations.Controller))
}

// locked runs fn while holding the migration lock.
func locked(ctx context.Context, migrator *migrate.Migrator, fn func() error) error {
	if err := migrator.Lock(ctx); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer func() {
		if err := migrator.Unlock(ctx); err != nil {
			logger.Warn("failed to release migration lock", zap.Error(err))
		}
	}()
	return fn()
}

var dbInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize migration tables",
	Long:  `Creates the migration tracking tables in the controller database. Run this once during initial setup.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withControllerMigrator(func(ctx context.Context, migrator *migrate.Migrator) error {
			if err := migrator.Init(ctx); err != nil {
				return fmt.Errorf("failed to initialize migrator: %w", err)
			}
			logger.Info("migration tables initialized")
			return nil
		})
	},
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long:  `Applies all pending migrations to the controller database with locking to prevent concurrent migrations.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withControllerMigrator(func(ctx context.Context, migrator *migrate.Migrator) error {
			return locked(ctx, migrator, func() error {
				group, err := migrator.Migrate(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				logGroup("applied migration group", "no new migrations to apply", group)
				return nil
			})
		})
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	Long:  `Displays the current migration status and pending migrations.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withControllerMigrator(func(ctx context.Context, migrator *migrate.Migrator) error {
			return printStatus(ctx, cmd, migrator)
		})
	},
}

var dbRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Rollback last migration group",
	Long:  `Rolls back the most recently applied migration group with locking to prevent concurrent operations.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withControllerMigrator(func(ctx context.Context, migrator *migrate.Migrator) error {
			return locked(ctx, migrator, func() error {
				group, err := migrator.Rollback(ctx)
				if err != nil {
					return fmt.Errorf("rollback failed: %w", err)
				}
				logGroup("rolled back migration group", "no migrations to rollback", group)
				return nil
			})
		})
	},
}

var dbUnlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Force release migration lock",
	Long:  `Force releases the migration lock. Use this if a migration crashed while holding the lock.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withControllerMigrator(func(ctx context.Context, migrator *migrate.Migrator) error {
			if err := migrator.Unlock(ctx); err != nil {
				return fmt.Errorf("failed to release migration lock: %w", err)
			}
			logger.Info("migration lock released")
			return nil
		})
	},
}

func printStatus(ctx context.Context, cmd *cobra.Command, migrator *migrate.Migrator) error {
	ms, err := migrator.MigrationsWithStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Migrations:")
	for _, m := range ms {
		status := "pending"
		if m.GroupID > 0 {
			status = fmt.Sprintf("applied (group %d)", m.GroupID)
		}
		fmt.Fprintf(out, "  %s: %s\n", m.Name, status)
	}
	return nil
}

func logGroup(applied, empty string, group *migrate.MigrationGroup) {
	if group == nil || group.ID == 0 {
		logger.Info(empty)
		return
	}
	logger.Info(applied, zap.Int64("group", group.ID), zap.Int("migrations", len(group.Migrations)))
}

// migrateTenant brings one tenant database up to date.
func migrateTenant(ctx context.Context, db *bun.DB) (*migrate.MigrationGroup, error) {
	return migrations.Up(ctx, db, migrations.Tenant)
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbInitCmd)
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.AddCommand(dbRollbackCmd)
	dbCmd.AddCommand(dbUnlockCmd)
}
