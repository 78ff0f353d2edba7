package cmd

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/auth"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/db/bunx"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/db/models"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/repository"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/tenancy"
)

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Customer tenant management commands",
	Long:  `Commands for registering customers in the controller database and migrating their databases.`,
}

// withCustomers opens the controller database and a gateway over it.
func withCustomers(fn func(ctx context.Context, customers repository.CustomerRepository, gw *tenancy.Gateway) error) error {
	db, err := bunx.NewDBWithOptions(cfg.DatabaseURL, bunx.Options{MaxOpenConns: cfg.DatabaseMaxConns})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer bunx.Close(db)

	customers := repository.NewBunCustomerRepository(db)
	gw, err := tenancy.NewGateway(customers,
		tenancy.WithPoolSize(1),
		tenancy.WithOpener(tenantOpener()),
		tenancy.WithLogger(logger))
	if err != nil {
		return err
	}
	defer gw.Close()

	return fn(context.Background(), customers, gw)
}

var (
	tenantName         string
	tenantDomain       string
	tenantDSN          string
	tenantScheme       string
	tenantLoginEnabled bool
	tenantMigrate      bool
)

var tenantCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a customer",
	Long: `Registers a customer in the controller database. With --migrate the
customer's database is brought up to date as well.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		scheme, err := auth.ParseScheme(tenantScheme)
		if err != nil {
			return err
		}
		domain := strings.TrimSpace(tenantDomain)
		if domain == "" || strings.Contains(domain, "@") {
			return fmt.Errorf("invalid domain %q", tenantDomain)
		}
		if strings.TrimSpace(tenantDSN) == "" {
			return fmt.Errorf("--dsn is required")
		}

		return withCustomers(func(ctx context.Context, customers repository.CustomerRepository, _ *tenancy.Gateway) error {
			customer := &models.Customer{
				Name:             tenantName,
				DomainName:       domain,
				ProcessActive:    true,
				LoginEnabled:     tenantLoginEnabled,
				ConnectionString: tenantDSN,
				CredentialScheme: string(scheme),
			}
			if customer.Name == "" {
				customer.Name = domain
			}
			if err := customers.Create(ctx, customer); err != nil {
				return fmt.Errorf("create customer: %w", err)
			}
			logger.Info("customer created",
				zap.Int64("customer_id", customer.ID),
				zap.String("domain", customer.DomainName),
				zap.String("scheme", customer.CredentialScheme))

			if tenantMigrate {
				return migrateCustomer(ctx, customer)
			}
			return nil
		})
	},
}

var tenantListCmd = &cobra.Command{
	Use:   "list",
	Short: "List customers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCustomers(func(ctx context.Context, customers repository.CustomerRepository, _ *tenancy.Gateway) error {
			list, err := customers.List(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tDOMAIN\tNAME\tACTIVE\tLOGIN\tSCHEME")
			for _, c := range list {
				fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%t\t%s\n",
					c.ID, c.DomainName, c.Name, c.ProcessActive, c.LoginEnabled, c.CredentialScheme)
			}
			return w.Flush()
		})
	},
}

var tenantMigrateCmd = &cobra.Command{
	Use:   "migrate [id|domain...]",
	Short: "Migrate tenant databases",
	Long:  `Applies pending tenant migrations to the named customers, or to every customer when none is named.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCustomers(func(ctx context.Context, customers repository.CustomerRepository, gw *tenancy.Gateway) error {
			var targets []models.Customer
			if len(args) == 0 {
				all, err := customers.List(ctx)
				if err != nil {
					return err
				}
				targets = all
			}
			for _, arg := range args {
				customer, err := gw.Lookup(ctx, arg)
				if err != nil {
					return fmt.Errorf("%s: %w", arg, err)
				}
				targets = append(targets, *customer)
			}

			for i := range targets {
				if err := migrateCustomer(ctx, &targets[i]); err != nil {
					return err
				}
			}
			return nil
		})
	},
}

var (
	statusProcessActive bool
	statusLoginEnabled  bool
)

var tenantSetStatusCmd = &cobra.Command{
	Use:   "set-status <id|domain>",
	Short: "Enable or disable a customer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCustomers(func(ctx context.Context, customers repository.CustomerRepository, gw *tenancy.Gateway) error {
			customer, err := gw.Lookup(ctx, args[0])
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			processActive, loginEnabled := customer.ProcessActive, customer.LoginEnabled
			if cmd.Flags().Changed("process-active") {
				processActive = statusProcessActive
			}
			if cmd.Flags().Changed("login-enabled") {
				loginEnabled = statusLoginEnabled
			}
			if err := customers.SetStatus(ctx, customer.ID, processActive, loginEnabled); err != nil {
				return err
			}
			logger.Info("customer status updated",
				zap.Int64("customer_id", customer.ID),
				zap.Bool("process_active", processActive),
				zap.Bool("login_enabled", loginEnabled))
			return nil
		})
	},
}

var tenantEncryptCmd = &cobra.Command{
	Use:   "encrypt-credential <plaintext>",
	Short: "Encrypt a credential for decrypt-* tenants",
	Long: `Prints the base64 AES-CBC form of a credential using the configured
credential.aes_key and credential.aes_iv, as clients of decrypt-sha256 and
decrypt-base64 tenants send it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.Credential.Enabled() {
			return fmt.Errorf("credential.aes_key and credential.aes_iv must be configured")
		}
		cipher, err := auth.NewCipher([]byte(cfg.Credential.AESKey), []byte(cfg.Credential.AESIV))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), cipher.Encrypt(args[0]))
		return nil
	},
}

func migrateCustomer(ctx context.Context, customer *models.Customer) error {
	db, err := tenantOpener()(customer.ConnectionString)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", customer.DomainName, err)
	}
	defer bunx.Close(db)

	group, err := migrateTenant(ctx, db)
	if err != nil {
		return fmt.Errorf("migrate %s: %w", customer.DomainName, err)
	}
	logGroup("tenant migrated", "tenant already up to date", group)
	logger.Debug("tenant migration finished", zap.String("domain", customer.DomainName))
	return nil
}

func init() {
	tenantCreateCmd.Flags().StringVar(&tenantName, "name", "", "Customer display name (defaults to the domain)")
	tenantCreateCmd.Flags().StringVar(&tenantDomain, "domain", "", "Domain users log in with, as in user@domain")
	tenantCreateCmd.Flags().StringVar(&tenantDSN, "dsn", "", "Connection string of the customer database")
	tenantCreateCmd.Flags().StringVar(&tenantScheme, "scheme", string(auth.SchemeSHA256), "Credential scheme: plain, sha256, decrypt-sha256 or decrypt-base64")
	tenantCreateCmd.Flags().BoolVar(&tenantLoginEnabled, "login-enabled", true, "Allow users of this customer to log in")
	tenantCreateCmd.Flags().BoolVar(&tenantMigrate, "migrate", false, "Migrate the customer database after registering it")
	_ = tenantCreateCmd.MarkFlagRequired("domain")
	_ = tenantCreateCmd.MarkFlagRequired("dsn")

	tenantSetStatusCmd.Flags().BoolVar(&statusProcessActive, "process-active", true, "Whether the customer is active")
	tenantSetStatusCmd.Flags().BoolVar(&statusLoginEnabled, "login-enabled", true, "Whether users may log in")

	rootCmd.AddCommand(tenantCmd)
	tenantCmd.AddCommand(tenantCreateCmd)
	tenantCmd.AddCommand(tenantListCmd)
	tenantCmd.AddCommand(tenantMigrateCmd)
	tenantCmd.AddCommand(tenantSetStatusCmd)
	tenantCmd.AddCommand(tenantEncryptCmd)
}
