package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	ma "github.com/panyam/microauth"
	"github.com/panyam/microauth/config"
	redisstore "github.com/panyam/microauth/stores/redis"
)

// environment is read from the process environment after .env is loaded.
// Flags override it.
type environment struct {
	ConfigPath  string `env:"MICROAUTH_CONFIG" envDefault:"config/config.yaml"`
	DataDir     string `env:"MICROAUTH_DATA_DIR" envDefault:"data"`
	Backend     string `env:"MICROAUTH_BACKEND" envDefault:"fs"`
	DatabaseDSN string `env:"MICROAUTH_DATABASE_DSN" envDefault:"microauth.db"`
	GCPProject  string `env:"MICROAUTH_GCP_PROJECT"`
	Namespace   string `env:"MICROAUTH_DATASTORE_NAMESPACE"`
	LogLevel    string `env:"MICROAUTH_LOG_LEVEL" envDefault:"info"`

	Redis redisstore.Config
}

var (
	settings environment
	logger   *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "authctl",
	Short:         "Run and maintain a microauth deployment",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var level slog.Level
		if err := level.UnmarshalText([]byte(settings.LogLevel)); err != nil {
			return fmt.Errorf("invalid log level %q: %w", settings.LogLevel, err)
		}
		logger = ma.NewLogger(os.Stderr, level)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	// A missing .env is fine.
	_ = godotenv.Load()
	if err := env.Parse(&settings); err != nil {
		fmt.Fprintln(os.Stderr, "parse env:", err)
		os.Exit(1)
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&settings.ConfigPath, "config", settings.ConfigPath, "config file")
	flags.StringVar(&settings.DataDir, "data", settings.DataDir, "data directory for the fs backend")
	flags.StringVar(&settings.Backend, "backend", settings.Backend, "record store: fs, redis, gorm or datastore")
	flags.StringVar(&settings.LogLevel, "log-level", settings.LogLevel, "debug, info, warn or error")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(settings.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", settings.ConfigPath, err)
	}
	if n := cfg.ApplyEnv(os.Environ()); n > 0 {
		logger.Debug("Applied config overrides from environment", "count", n)
	}
	return cfg, nil
}
