package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/db/bunx"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/repository"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/tenancy"
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Session identity management commands",
}

var revokeOperator bool

var identityOperatorCmd = &cobra.Command{
	Use:   "set-operator <local@tenant>",
	Short: "Grant or revoke cross-customer access",
	Long: `Operators may select any customer with the X-Customer-ID header. The
identity must have logged in at least once. Use --revoke to take the grant away.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := tenancy.Resolve(args[0])
		if !id.HasTenant || id.Local == "" || id.Tenant == "" {
			return fmt.Errorf("identity %q must look like local@tenant", args[0])
		}

		db, err := bunx.NewDBWithOptions(cfg.DatabaseURL, bunx.Options{MaxOpenConns: cfg.DatabaseMaxConns})
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer bunx.Close(db)

		identities := repository.NewBunSessionIdentityRepository(db)
		if err := identities.SetOperator(context.Background(), id.String(), !revokeOperator); err != nil {
			return err
		}
		logger.Info("operator flag updated",
			zap.String("identity", id.String()),
			zap.Bool("operator", !revokeOperator))
		return nil
	},
}

func init() {
	identityOperatorCmd.Flags().BoolVar(&revokeOperator, "revoke", false, "Revoke instead of grant")

	rootCmd.AddCommand(identityCmd)
	identityCmd.AddCommand(identityOperatorCmd)
}
