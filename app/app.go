// Package app is the main orchestrator that ties all server components together.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/notewise-ai/notewise/api"
	"github.com/notewise-ai/notewise/auth"
	"github.com/notewise-ai/notewise/billing"
	"github.com/notewise-ai/notewise/capability"
	"github.com/notewise-ai/notewise/config"
	"github.com/notewise-ai/notewise/intent"
	"github.com/notewise-ai/notewise/oracle"
	"github.com/notewise-ai/notewise/quota"
	"github.com/notewise-ai/notewise/store"
)

// App is the assembled server process.
type App struct {
	cfg    *config.Config
	store  store.Store
	api    *api.Server
	logger *slog.Logger
}

// New creates the app from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	// Initialize storage.
	db, err := store.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	// Create auth provider based on config.
	authProvider, err := auth.NewProvider(cfg.Auth, db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init auth provider: %w", err)
	}

	// Bootstrap (creates the initial admin for the builtin provider).
	if err := authProvider.Bootstrap(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap auth: %w", err)
	}

	var loginProvider auth.LoginProvider
	if lp, ok := authProvider.(auth.LoginProvider); ok {
		loginProvider = lp
	}

	plans := billing.NewStoreResolver(db)
	ledger := quota.NewLedger(db, plans, logger)
	registry := capability.DefaultRegistry()

	apiKey := os.Getenv(cfg.Oracle.APIKeyEnv)
	if apiKey == "" {
		logger.Warn("oracle API key env var is empty, classification calls will fail",
			"env", cfg.Oracle.APIKeyEnv)
	}
	gen := oracle.NewClient(cfg.Oracle.BaseURL, cfg.Oracle.Model, apiKey, logger)

	builder := intent.NewStoreContextBuilder(db, plans)
	rt := intent.NewRouter(ledger, registry, gen, builder, intent.Options{
		ClassificationEstimate: cfg.Quota.ClassificationEstimate,
		OracleTimeout:          cfg.Oracle.Timeout.Duration,
		Temperature:            cfg.Oracle.Temperature,
		MaxOutputTokens:        cfg.Oracle.MaxOutputTokens,
		CommitOnUpstreamError:  cfg.Quota.CommitOnUpstreamError,
	}, logger)

	apiSrv := api.NewServer(cfg, db, authProvider, loginProvider, rt, ledger, registry, logger)

	a := &App{
		cfg:    cfg,
		store:  db,
		api:    apiSrv,
		logger: logger.With("component", "app"),
	}

	// Startup validation warnings (only for builtin provider).
	if authProvider.Name() == "builtin" {
		if len(cfg.Auth.JWTSecret) < 32 {
			logger.Warn("JWT secret is shorter than 32 characters — use a stronger secret in production")
		}
		if cfg.Auth.InitialAdmin != nil &&
			cfg.Auth.InitialAdmin.Username == "admin" && cfg.Auth.InitialAdmin.Password == "admin" {
			logger.Warn("default admin credentials detected (admin/admin) — change immediately in production")
		}
	}
	for _, origin := range cfg.Server.AllowedOrigins {
		if origin == "*" {
			logger.Warn("CORS allowed_origins contains wildcard '*' — restrict to specific origins in production")
			break
		}
	}

	return a, nil
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	err := a.api.Run(ctx)

	a.logger.Info("closing store")
	_ = a.store.Close()

	if err != nil && err != context.Canceled {
		return err
	}
	return ctx.Err()
}
