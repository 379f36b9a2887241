package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/pulseq/am"
	"github.com/teranos/pulseq/db"
	"github.com/teranos/pulseq/db/postgres"
	"github.com/teranos/pulseq/errors"
	"github.com/teranos/pulseq/logger"
	"github.com/teranos/pulseq/mail"
	"github.com/teranos/pulseq/pulse/async"
	"github.com/teranos/pulseq/sym"
)

// config is the effective configuration, loaded once by Setup.
var config *am.Config

// Setup loads configuration and initialises the global logger.
// Wired as the root command's PersistentPreRunE.
func Setup(cmd *cobra.Command, args []string) error {
	verbosity, _ := cmd.Flags().GetCount("verbose")
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	config = cfg

	if err := logger.Initialize(cfg.Log.JSON, logger.VerbosityToLevel(verbosity)); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	warnUnknownKeys(am.LoadedFiles())
	return nil
}

// warnUnknownKeys logs config keys that no setting reads.
func warnUnknownKeys(files []string) {
	for _, path := range files {
		keys, err := am.UnknownKeys(path)
		if err != nil {
			logger.Logger.Debugw(sym.AM+" Could not check config file", logger.FieldPath, path, logger.FieldError, err)
			continue
		}
		for _, key := range keys {
			logger.Logger.Warnw(sym.AM+" Unknown config key ignored", "key", key, logger.FieldPath, path)
		}
	}
}

func loadConfig(path string) (*am.Config, error) {
	if path != "" {
		return am.LoadFromFile(path)
	}
	cfg, err := am.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// openStore opens and migrates the configured backend. The returned func
// releases it.
func openStore(ctx context.Context, cfg *am.Config) (async.Store, func(), error) {
	switch cfg.Database.Driver {
	case am.DriverPostgres:
		pool, err := postgres.Open(ctx, cfg.Database.URL, cfg.Database.MaxConns, logger.Logger)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.Migrate(ctx, pool, logger.Logger); err != nil {
			pool.Close()
			return nil, nil, errors.Wrap(err, "failed to run migrations")
		}
		return async.NewPostgresStore(pool), pool.Close, nil

	case am.DriverSQLite, "":
		dbPath := cfg.GetDatabasePath()
		database, err := db.OpenWithMigrations(dbPath, logger.Logger)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
		}
		return async.NewSQLiteStore(database), func() { database.Close() }, nil

	default:
		return nil, nil, errors.Newf("unsupported database driver %q", cfg.Database.Driver)
	}
}

// newService builds a queue service with every application handler registered.
func newService(store async.Store, cfg *am.Config, opts ...async.ServiceOption) *async.Service {
	registry := async.NewHandlerRegistry()
	mail.RegisterHandlers(registry, mail.NewLogSender(logger.Logger))

	opts = append([]async.ServiceOption{async.WithDefaultMaxAttempts(cfg.GetDefaultMaxAttempts())}, opts...)
	return async.NewService(store, registry, logger.Logger, opts...)
}
