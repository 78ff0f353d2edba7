package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/auth"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/db/bunx"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/repository"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/server"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/services/login"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/services/messages"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/services/permissions"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/services/roles"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/services/users"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/tenancy"
)

const revokedPurgeInterval = time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long:  `Starts the HTTP server with the authentication endpoints and the tenant-scoped REST API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.TokenSecret == "" {
			return errors.New("token_secret is required to serve (env: SNFMS_TOKEN_SECRET)")
		}

		// Connect to the controller database
		db, err := bunx.NewDBWithOptions(cfg.DatabaseURL, bunx.Options{MaxOpenConns: cfg.DatabaseMaxConns})
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer bunx.Close(db)

		logger.Info("connected to controller database")

		customers := repository.NewBunCustomerRepository(db)
		gateway, err := tenancy.NewGateway(customers,
			tenancy.WithPoolSize(cfg.TenantPoolSize),
			tenancy.WithOpener(tenantOpener()),
			tenancy.WithLogger(logger.Named("gateway")),
		)
		if err != nil {
			return fmt.Errorf("create tenant gateway: %w", err)
		}
		defer gateway.Close()

		gate, err := permissions.NewGate(cfg.PolicyPath, logger)
		if err != nil {
			return fmt.Errorf("configure authorization gate: %w", err)
		}
		agg := permissions.NewAggregator(logger)

		var cipher *auth.Cipher
		if cfg.Credential.Enabled() {
			cipher, err = auth.NewCipher([]byte(cfg.Credential.AESKey), []byte(cfg.Credential.AESIV))
			if err != nil {
				return fmt.Errorf("configure credential cipher: %w", err)
			}
		}

		issuer, err := auth.NewTokenIssuer(cfg.TokenSecret, cfg.TokenTTL)
		if err != nil {
			return fmt.Errorf("configure token issuer: %w", err)
		}

		loginSvc := login.NewService(login.Config{
			Customers:  customers,
			Identities: repository.NewBunSessionIdentityRepository(db),
			Revoked:    repository.NewBunRevokedTokenRepository(db),
			Gateway:    gateway,
			Issuer:     issuer,
			Cipher:     cipher,
			Logger:     logger,
		})

		corsOpts := server.DefaultCORSOptions()
		if len(cfg.CORSOrigins) > 0 {
			corsOpts.AllowedOrigins = cfg.CORSOrigins
		}

		handler, err := server.NewH2CHandler(server.RouterOptions{
			Login:       loginSvc,
			Users:       users.NewService(gate, agg, logger),
			Roles:       roles.NewService(gate, logger),
			Messages:    messages.NewService(logger),
			Gateway:     gateway,
			Aggregator:  agg,
			Logger:      logger,
			CORSOptions: &corsOpts,
		})
		if err != nil {
			return fmt.Errorf("build router: %w", err)
		}

		// Drop revocations of tokens that have expired since.
		purgeCtx, cancelPurge := context.WithCancel(cmd.Context())
		defer cancelPurge()
		go func() {
			ticker := time.NewTicker(revokedPurgeInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					n, err := loginSvc.PurgeRevoked(purgeCtx)
					if err != nil {
						logger.Error("purge revoked tokens", zap.Error(err))
						continue
					}
					if n > 0 {
						logger.Info("purged revoked tokens", zap.Int64("count", n))
					}
				case <-purgeCtx.Done():
					return
				}
			}
		}()

		srv := &http.Server{
			Addr:         cfg.ServerAddr,
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("starting server", zap.String("addr", cfg.ServerAddr))
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			return fmt.Errorf("server error: %w", err)

		case sig := <-shutdown:
			logger.Info("shutting down gracefully", zap.String("signal", sig.String()))

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				srv.Close()
				return fmt.Errorf("graceful shutdown failed: %w", err)
			}

			logger.Info("server stopped")
			return nil
		}
	},
}

// tenantOpener opens customer databases with the configured connection cap.
func tenantOpener() tenancy.Opener {
	opts := bunx.Options{MaxOpenConns: cfg.TenantMaxConns}
	return func(dsn string) (*bun.DB, error) {
		return bunx.NewDBWithOptions(dsn, opts)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
