// Package app builds the object graph behind every command from a workspace and its config.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/imeapplication/regulatory-patrol/internal/compliance"
	"github.com/imeapplication/regulatory-patrol/internal/config"
	"github.com/imeapplication/regulatory-patrol/internal/db"
	"github.com/imeapplication/regulatory-patrol/internal/engine"
	"github.com/imeapplication/regulatory-patrol/internal/history"
	"github.com/imeapplication/regulatory-patrol/internal/logging"
	"github.com/imeapplication/regulatory-patrol/internal/metrics"
	"github.com/imeapplication/regulatory-patrol/internal/migrate"
	"github.com/imeapplication/regulatory-patrol/internal/repo"
	"github.com/imeapplication/regulatory-patrol/internal/seed"
	"github.com/imeapplication/regulatory-patrol/internal/store"
	"github.com/imeapplication/regulatory-patrol/internal/users"
)

// Options selects the workspace and overrides config values.
type Options struct {
	Workspace string
	Config    *config.Config
	// Driver and LogLevel override the config when set.
	Driver   string
	LogLevel string
	Now      func() time.Time
}

// App is one opened workspace.
type App struct {
	Config  *config.Config
	Log     zerolog.Logger
	Metrics *metrics.Recorder
	Store   store.Store
	Repo    repo.Repo
	Engine  engine.Engine

	closers []io.Closer
}

// Open loads config, opens the configured store and restores users, history and the
// compliance document from it.
func Open(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.LoadOptional(opts.Workspace); err != nil {
			return nil, err
		}
	}
	if opts.Driver != "" {
		cfg.Store.Driver = opts.Driver
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		Console:    cfg.Log.Console,
	})
	a := &App{Config: cfg, Log: logger, Metrics: metrics.NewRecorder()}

	s, err := a.openStore(ctx, opts.Workspace)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = s
	a.Repo = repo.Repo{Store: s, Log: logging.Component(logger, "repo"), Metrics: a.Metrics}

	seedUsers, err := cfg.SeedUsers()
	if err != nil {
		a.Close()
		return nil, err
	}
	dir, err := users.Load(ctx, a.Repo, seedUsers, logging.Component(logger, "users"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load users: %w", err)
	}
	hist, err := history.Load(ctx, a.Repo, a.Metrics, logging.Component(logger, "history"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load history: %w", err)
	}
	doc, err := seed.Compliance()
	if err != nil {
		a.Close()
		return nil, err
	}
	holder, err := compliance.Load(ctx, a.Repo, doc, logging.Component(logger, "compliance"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load compliance data: %w", err)
	}
	a.Engine = engine.New(dir, hist, holder, a.Metrics, logging.Component(logger, "engine"))
	if opts.Now != nil {
		hist.Now = opts.Now
		a.Engine.Now = opts.Now
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context, workspace string) (store.Store, error) {
	driver, err := store.ParseDriver(a.Config.Store.Driver)
	if err != nil {
		return nil, err
	}
	switch driver {
	case store.DriverMemory:
		return store.NewMemory(), nil
	case store.DriverRedis:
		rc := a.Config.Store.Redis
		r := store.NewRedis(store.RedisConfig{Addr: rc.Addr, Password: rc.Password, DB: rc.DB, Prefix: rc.Prefix})
		a.closers = append(a.closers, r)
		if err := r.Ping(ctx); err != nil {
			return nil, fmt.Errorf("redis %s: %w", rc.Addr, err)
		}
		return r, nil
	default:
		conn, err := db.Open(db.Config{Workspace: workspace})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, conn)
		version, err := migrate.Migrate(ctx, conn)
		if err != nil {
			return nil, fmt.Errorf("migrate %s: %w", db.Path(workspace), err)
		}
		a.Log.Debug().Int("schema_version", version).Str("path", db.Path(workspace)).Msg("workspace database ready")
		return store.SQL{DB: conn}, nil
	}
}

// DB returns the workspace database when the SQLite driver is in use.
func (a *App) DB() (*sql.DB, bool) {
	for _, c := range a.closers {
		if conn, ok := c.(*sql.DB); ok {
			return conn, true
		}
	}
	return nil, false
}

// Close flushes metrics to the configured textfile and releases the store.
func (a *App) Close() error {
	var first error
	if path := a.Config.Metrics.Textfile; path != "" && a.Metrics != nil {
		if err := a.Metrics.WriteTextfile(path); err != nil {
			a.Log.Warn().Err(err).Str("path", path).Msg("metrics textfile not written")
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
