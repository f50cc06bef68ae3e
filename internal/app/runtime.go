// Package app assembles a workspace runtime: database, config, generator and engine.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"missionline/internal/config"
	"missionline/internal/db"
	"missionline/internal/engine"
	"missionline/internal/generator"
	"missionline/internal/migrate"
	"missionline/internal/notify"
	"missionline/internal/repo"
)

type Options struct {
	Workspace string
	// OpenRouterAPIKey is required when the configured provider is openrouter.
	OpenRouterAPIKey string
	Logger           *slog.Logger
}

// Runtime is an opened workspace. Close releases the database.
type Runtime struct {
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
	Logger *slog.Logger
}

// Open migrates the workspace database, loads missionline.yml (defaults when
// missing) and seeds the opening balance on first use.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		return nil, err
	}
	gen, err := NewGenerator(cfg.Generator, opts.OpenRouterAPIKey)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	e := engine.New(conn, engine.Options{
		Config:    cfg,
		Generator: gen,
		Logger:    logger,
	})
	if err := e.Open(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return &Runtime{DB: conn, Config: cfg, Engine: e, Logger: logger}, nil
}

func (r *Runtime) Close() error {
	return r.DB.Close()
}

// Notifier returns the webhook dispatcher for the configured hooks.
func (r *Runtime) Notifier() *notify.Dispatcher {
	return notify.New(repo.Repo{DB: r.DB}, r.Config.Notifications.Webhooks, r.Logger)
}

// NewGenerator picks the content generator named by the config.
func NewGenerator(cfg config.Generator, apiKey string) (generator.Generator, error) {
	switch cfg.Provider {
	case "", config.ProviderHeuristic:
		return generator.Heuristic{}, nil
	case config.ProviderOpenRouter:
		if apiKey == "" {
			return nil, fmt.Errorf("generator provider %s needs an api key; set MISSIONLINE_OPENROUTER_API_KEY or --openrouter-api-key", cfg.Provider)
		}
		return generator.NewOpenRouterClient(generator.OpenRouterOptions{
			APIKey:            apiKey,
			Tier:              cfg.Model,
			Endpoint:          cfg.Endpoint,
			Timeout:           time.Duration(cfg.TimeoutSeconds) * time.Second,
			RequestsPerMinute: cfg.RequestsPerMinute,
		})
	default:
		return nil, fmt.Errorf("unknown generator provider %q", cfg.Provider)
	}
}
