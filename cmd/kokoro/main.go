package main

import (
	"fmt"
	"os"

	"github.com/ayane-dev/Kokoro/common/environment"
	"github.com/ayane-dev/Kokoro/common/version"
	"github.com/ayane-dev/Kokoro/internal/kokoro/app"
	"github.com/ayane-dev/Kokoro/internal/kokoro/config"
)

func main() {
	fmt.Printf("Kokoro Memory Engine\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	kokoro, err := app.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize Kokoro: %v\n", err)
		os.Exit(1)
	}
	defer kokoro.Stop()

	if err := kokoro.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running Kokoro: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads kokoro.yaml and applies environment overrides on top.
// The file path itself comes from KOKORO_CONFIG (default ./kokoro.yaml);
// a missing file leaves the documented defaults in effect.
func loadConfig() (*config.File, error) {
	path := environment.StringOr("KOKORO_CONFIG", "./kokoro.yaml")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	cfg.ListenAddr = environment.StringOr("KOKORO_LISTEN_ADDR", cfg.ListenAddr)
	cfg.HistoryDir = environment.StringOr("KOKORO_HISTORY_DIR", cfg.HistoryDir)
	cfg.Memory.MaxShortTerm = environment.IntOr("KOKORO_MAX_SHORT_TERM", cfg.Memory.MaxShortTerm)
	cfg.Memory.MaxLongTerm = environment.IntOr("KOKORO_MAX_LONG_TERM", cfg.Memory.MaxLongTerm)
	cfg.Memory.AutoSaveInterval = environment.DurationOr("KOKORO_AUTO_SAVE_INTERVAL", cfg.Memory.AutoSaveInterval)
	cfg.Memory.QuietPeriod = environment.DurationOr("KOKORO_QUIET_PERIOD", cfg.Memory.QuietPeriod)
	cfg.Semantic.Backend = environment.StringOr("KOKORO_SEMANTIC_BACKEND", cfg.Semantic.Backend)
	cfg.Semantic.SQLitePath = environment.StringOr("KOKORO_SEMANTIC_SQLITE_PATH", cfg.Semantic.SQLitePath)
	cfg.Semantic.Embedder.Provider = environment.StringOr("KOKORO_EMBEDDER_PROVIDER", cfg.Semantic.Embedder.Provider)
	cfg.Semantic.Embedder.APIKeyEnv = environment.StringOr("KOKORO_EMBEDDER_API_KEY_ENV", cfg.Semantic.Embedder.APIKeyEnv)
	cfg.Semantic.Embedder.BaseURL = environment.StringOr("KOKORO_EMBEDDER_BASE_URL", cfg.Semantic.Embedder.BaseURL)
	cfg.Semantic.Embedder.Model = environment.StringOr("KOKORO_EMBEDDER_MODEL", cfg.Semantic.Embedder.Model)
	cfg.Retrieval.MinSimilarity = environment.Float64Or("KOKORO_MIN_SIMILARITY", cfg.Retrieval.MinSimilarity)

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
