// Package bootstrap initializes shared infrastructure: the logger and the
// configured storage backend.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	coreconfig "github.com/m3rciful/linkguard/core/config"
	coredatabase "github.com/m3rciful/linkguard/core/database"
	"github.com/m3rciful/linkguard/core/logger"
	"github.com/m3rciful/linkguard/internal/kvstore"
	"github.com/m3rciful/linkguard/internal/kvstore/jsonfile"
	"github.com/m3rciful/linkguard/internal/kvstore/postgres"
)

// Options control the bootstrap pipeline. Nil hooks use the defaults.
type Options struct {
	Config *coreconfig.Config

	LoggerInit func(*coreconfig.Config) error
	Connect    func(context.Context, coreconfig.DatabaseConfig) (*sqlx.DB, error)
	Migrate    func(context.Context, coreconfig.DatabaseConfig) error
}

// Result exposes infrastructure initialized by the bootstrap pipeline.
type Result struct {
	Store kvstore.Store
	// DB is set only for the postgres driver.
	DB *sqlx.DB
}

// Close releases the database connection, if any.
func (r *Result) Close() error {
	if r == nil || r.DB == nil {
		return nil
	}
	return r.DB.Close()
}

// Run initializes the logger and opens the store selected by
// storage.driver, applying migrations for postgres.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.InitLogger
	}
	if err := loggerInit(opts.Config); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	start := time.Now()
	st := opts.Config.Storage
	switch st.Driver {
	case coreconfig.StorageJSONFile, "":
		store, err := jsonfile.Open(st.Dir)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: open store: %w", err)
		}
		logger.Info(ctx, logger.CompStore, "store.open",
			slog.String("driver", coreconfig.StorageJSONFile),
			slog.String("dir", st.Dir),
			slog.Duration("duration", logger.Took(start)),
		)
		return &Result{Store: store}, nil

	case coreconfig.StoragePostgres:
		connect := opts.Connect
		if connect == nil {
			connect = coredatabase.Connect
		}
		db, err := connect(ctx, st.Database)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: database initialization failed: %w", err)
		}

		migrate := opts.Migrate
		if migrate == nil {
			migrate = coredatabase.RunMigrations
		}
		if err := migrate(ctx, st.Database); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("bootstrap: migrations failed: %w", err)
		}
		logger.Info(ctx, logger.CompStore, "store.open",
			slog.String("driver", coreconfig.StoragePostgres),
			slog.Duration("duration", logger.Took(start)),
		)
		return &Result{Store: postgres.New(db), DB: db}, nil
	}
	return nil, fmt.Errorf("bootstrap: unknown storage driver %q", st.Driver)
}
