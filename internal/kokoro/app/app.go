// Package app wires the Kokoro memory engine together: configuration,
// semantic backend selection, the per-user registry, and the optional
// health/status HTTP server.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ayane-dev/Kokoro/internal/kokoro/config"
	"github.com/ayane-dev/Kokoro/internal/kokoro/memory"
	"github.com/ayane-dev/Kokoro/internal/kokoro/semantic"
)

// App is the running Kokoro service.
type App struct {
	cfg          *config.File
	registry     *memory.Registry
	searcher     semantic.Searcher
	healthServer *HealthServer
}

// New builds the application from a validated configuration.
func New(cfg *config.File) (*App, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	embedder, err := buildEmbedder(cfg.Semantic.Embedder)
	if err != nil {
		return nil, err
	}
	searcher, err := buildSearcher(cfg.Semantic, embedder)
	if err != nil {
		return nil, err
	}

	memCfg := memory.Config{
		HistoryDir:       cfg.HistoryDir,
		MaxShortTerm:     cfg.Memory.MaxShortTerm,
		MaxLongTerm:      cfg.Memory.MaxLongTerm,
		AutoSaveInterval: cfg.Memory.AutoSaveInterval,
		QuietPeriod:      cfg.Memory.QuietPeriod,
	}
	registry := memory.NewRegistry(memCfg, nil, searcher, slog.Default())
	slog.Info("memory registry ready",
		"history_dir", cfg.HistoryDir,
		"max_short_term", cfg.Memory.MaxShortTerm,
		"max_long_term", cfg.Memory.MaxLongTerm,
		"semantic_backend", cfg.Semantic.Backend,
	)

	a := &App{
		cfg:      cfg,
		registry: registry,
		searcher: searcher,
	}
	if cfg.ListenAddr != "" {
		a.healthServer = NewHealthServer(cfg.ListenAddr, registry)
	}
	return a, nil
}

// Registry exposes the per-user manager registry to callers embedding the
// engine in a larger program.
func (a *App) Registry() *memory.Registry {
	return a.registry
}

// Run starts the optional HTTP server and blocks until an interrupt or
// termination signal arrives.
func (a *App) Run() error {
	if a.healthServer != nil {
		if err := a.healthServer.Start(); err != nil {
			slog.Warn("health server failed to start; continuing without it", "err", err)
		}
	}

	slog.Info("kokoro is running; press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down")
	return nil
}

// Stop flushes every user's memory to disk and releases the semantic backend.
func (a *App) Stop() {
	if a.healthServer != nil {
		slog.Info("stopping health server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		a.healthServer.Stop(ctx)
		cancel()
	}

	slog.Info("stopping memory registry")
	a.registry.Shutdown()

	if err := a.searcher.Close(); err != nil {
		slog.Warn("semantic backend close", "err", err)
	}
}

// buildEmbedder constructs the embedding client selected by cfg.
func buildEmbedder(cfg config.Embedder) (semantic.Embedder, error) {
	switch cfg.Provider {
	case config.EmbedderNone:
		return semantic.NoopEmbedder{}, nil
	case config.EmbedderOpenAI:
		key := os.Getenv(cfg.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("app: embedder API key environment variable %q is not set", cfg.APIKeyEnv)
		}
		return semantic.NewOpenAIEmbedder(semantic.OpenAIEmbedderConfig{
			APIKey:  key,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("app: unknown embedder provider %q", cfg.Provider)
	}
}

// buildSearcher constructs the vector-search backend selected by cfg.
func buildSearcher(cfg config.Semantic, embedder semantic.Embedder) (semantic.Searcher, error) {
	switch cfg.Backend {
	case config.BackendNone:
		return semantic.NewNoopSearcher(slog.Default()), nil
	case config.BackendSQLite:
		s, err := semantic.NewSQLiteSearcher(cfg.SQLitePath, embedder, slog.Default())
		if err != nil {
			return nil, fmt.Errorf("app: sqlite semantic backend: %w", err)
		}
		slog.Info("semantic backend: sqlite", "path", cfg.SQLitePath)
		return s, nil
	case config.BackendChromem:
		slog.Info("semantic backend: chromem")
		return semantic.NewChromemSearcher(embedder, slog.Default()), nil
	default:
		return nil, fmt.Errorf("app: unknown semantic backend %q", cfg.Backend)
	}
}
