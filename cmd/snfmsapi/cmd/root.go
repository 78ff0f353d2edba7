package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/config"
	"github.com/PavelPyasecky/snfms/cmd/snfmsapi/internal/logging"
)

var (
	cfg        *config.Config
	logger     *zap.Logger
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "snfmsapi",
	Short: "snfms multi-tenant API server",
	Long: `snfmsapi serves the users, roles and messages of every customer tenant.
Each customer owns a separate database; the controller database lists customers
and the connection strings of their databases.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := readConfigFile(); err != nil {
			return err
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		logger, err = logging.New(cfg.LogLevel, cfg.LogFormat, "snfmsapi")
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// readConfigFile loads --config when given, otherwise an optional
// snfmsapi.yaml from the working directory or /etc/snfms.
func readConfigFile() error {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("snfmsapi")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/snfms")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Config file (default ./snfmsapi.yaml)")
	flags.String("db-url", "", "Controller database connection URL (env: SNFMS_DATABASE_URL)")
	flags.String("server-addr", "", "Server bind address (env: SNFMS_SERVER_ADDR)")
	flags.Bool("debug", false, "Enable debug logging (env: SNFMS_DEBUG)")
	flags.String("log-format", "", "Log format: json or console (env: SNFMS_LOG_FORMAT)")

	for key, flag := range map[string]string{
		"database_url": "db-url",
		"server_addr":  "server-addr",
		"debug":        "debug",
		"log_format":   "log-format",
	} {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
