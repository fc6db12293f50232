// Package app assembles the store, engine, analyzer and identity service
// described by a Config.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"ideaflow/internal/analysis"
	"ideaflow/internal/config"
	"ideaflow/internal/db"
	"ideaflow/internal/domain"
	"ideaflow/internal/engine"
	"ideaflow/internal/events"
	"ideaflow/internal/genai"
	"ideaflow/internal/identity"
	"ideaflow/internal/repo"
)

type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	DB       *sql.DB
	Store    repo.Store
	Engine   engine.Engine
	Identity identity.Service
	// EventLog is nil for the jsonfile backend.
	EventLog *events.SQLWriter
}

// Open builds every collaborator. The caller must Close the result.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	var sink events.Sink
	var sessions identity.SessionStore
	switch cfg.Storage.Backend {
	case config.BackendJSONFile:
		store, err := repo.OpenJSONStore(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		a.Store = store
		sink = events.LogWriter{Logger: logger}
		sessions = identity.NewMemorySessions()
	default:
		conn, err := db.Open(ctx, cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		a.DB = conn
		a.Store = repo.SQLStore{DB: conn}
		a.EventLog = &events.SQLWriter{DB: conn}
		sink = events.Multi{a.EventLog, events.LogWriter{Logger: logger}}
		sessions = identity.SQLSessions{DB: conn}
	}

	dir, err := identity.LoadDirectory(cfg.Auth.UsersFile)
	if err != nil {
		a.Close()
		return nil, err
	}
	secret := cfg.Auth.JWTSecret
	if strings.TrimSpace(secret) == "" {
		secret = uuid.NewString()
		logger.Warn("auth.jwt_secret not set; using a per-process secret, sessions end on restart")
	}
	a.Identity = identity.Service{
		Directory: dir,
		Sessions:  sessions,
		Secret:    secret,
		TTL:       cfg.Auth.TokenTTL,
	}

	a.Engine = engine.New(a.Store, sink, NewAnalyzer(cfg, logger))
	a.Engine.Logger = logger
	return a, nil
}

func (a *App) Close() error {
	if a.Store != nil {
		return a.Store.Close()
	}
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}

// NewAnalyzer returns the analyzer for cfg, with a generative client when
// analysis.generative.enabled is set.
func NewAnalyzer(cfg *config.Config, logger *slog.Logger) analysis.Analyzer {
	a := analysis.Analyzer{
		Objectives: cfg.Analysis.Objectives,
		Logger:     logger,
	}
	g := cfg.Analysis.Generative
	if !g.Enabled {
		return a
	}
	retry := genai.DefaultRetryConfig()
	if g.MaxAttempts > 0 {
		retry.MaxAttempts = g.MaxAttempts
	}
	if g.BackoffBase > 0 {
		retry.BackoffBase = g.BackoffBase
	}
	if g.MaxBackoff > 0 {
		retry.MaxBackoff = g.MaxBackoff
	}
	opts := []genai.ClientOption{
		genai.WithRetryConfig(retry),
		genai.WithLogger(logger),
		genai.WithAPIKey(g.APIKey()),
	}
	if g.Timeout > 0 {
		opts = append(opts, genai.WithTimeout(g.Timeout))
	}
	a.Generator = genai.NewClient(g.URL, g.Model, opts...)
	a.DisableFallback = g.DisableFallback
	return a
}

// NewLogger builds the slog logger described by cfg.
func NewLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Actor resolves a username from the users file for CLI commands.
func (a *App) Actor(username string) (domain.User, error) {
	u, ok := a.Identity.Directory.Lookup(username)
	if !ok {
		return domain.User{}, fmt.Errorf("unknown user %q", username)
	}
	return u, nil
}
