// Package config loads and validates the kokoro.yaml service configuration.
//
// The file is optional: every field has a working default, so a missing file
// yields a usable in-memory configuration. A present but malformed file is a
// hard error so that typos fail fast at startup instead of silently running
// with defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Semantic backend names accepted in kokoro.yaml.
const (
	BackendNone    = "none"
	BackendSQLite  = "sqlite"
	BackendChromem = "chromem"
)

// Embedder provider names accepted in kokoro.yaml.
const (
	EmbedderNone   = "none"
	EmbedderOpenAI = "openai"
)

// File is the top-level kokoro.yaml document.
type File struct {
	// ListenAddr is the address of the health/status HTTP listener.
	ListenAddr string `yaml:"listen_addr"`

	// HistoryDir is the root directory for per-user memory snapshots.
	HistoryDir string `yaml:"history_dir"`

	Memory    Memory    `yaml:"memory"`
	Semantic  Semantic  `yaml:"semantic"`
	Retrieval Retrieval `yaml:"retrieval"`
}

// Memory bounds the per-user stores and the auto-save cadence.
type Memory struct {
	MaxShortTerm     int           `yaml:"max_short_term"`
	MaxLongTerm      int           `yaml:"max_long_term"`
	AutoSaveInterval time.Duration `yaml:"auto_save_interval"`
	QuietPeriod      time.Duration `yaml:"quiet_period"`
}

// Semantic selects the vector search backend and its embedder.
type Semantic struct {
	// Backend is one of "none", "sqlite", "chromem".
	Backend string `yaml:"backend"`

	// SQLitePath is the database file used when Backend is "sqlite".
	SQLitePath string `yaml:"sqlite_path"`

	Embedder Embedder `yaml:"embedder"`
}

// Embedder configures the embedding API client.
type Embedder struct {
	// Provider is one of "none", "openai".
	Provider string `yaml:"provider"`

	// APIKeyEnv names the environment variable holding the API key.
	// The key itself never lives in the config file.
	APIKeyEnv string `yaml:"api_key_env"`

	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// Retrieval tunes hybrid search and prompt assembly.
type Retrieval struct {
	MinSimilarity  float64 `yaml:"min_similarity"`
	SearchLimit    int     `yaml:"search_limit"`
	HistoryLimit   int     `yaml:"history_limit"`
	MaxPromptToken int     `yaml:"max_prompt_tokens"`
}

// Default returns the configuration used when no kokoro.yaml is present.
func Default() *File {
	return &File{
		ListenAddr: ":8420",
		HistoryDir: "./data/history",
		Memory: Memory{
			MaxShortTerm:     50,
			MaxLongTerm:      500,
			AutoSaveInterval: 5 * time.Minute,
			QuietPeriod:      60 * time.Second,
		},
		Semantic: Semantic{
			Backend: BackendNone,
			Embedder: Embedder{
				Provider: EmbedderNone,
			},
		},
		Retrieval: Retrieval{
			MinSimilarity:  0.3,
			SearchLimit:    5,
			HistoryLimit:   20,
			MaxPromptToken: 2000,
		},
	}
}

// Load reads path and returns the parsed, validated configuration.
// A missing file is not an error; Default() is returned in that case.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	return Parse(data)
}

// Parse decodes a kokoro.yaml document, fills defaults for absent fields and
// validates the result. It is the canonical entry point for loading
// configurations from bytes.
func Parse(data []byte) (*File, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config parse: %w", err)
	}
	cfg.fillDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fillDefaults restores defaults for fields the YAML set to their zero value.
// yaml.Unmarshal overwrites pre-seeded struct fields when the key is present
// but empty, so defaults are applied again after decoding.
func (f *File) fillDefaults() {
	def := Default()
	if strings.TrimSpace(f.ListenAddr) == "" {
		f.ListenAddr = def.ListenAddr
	}
	if strings.TrimSpace(f.HistoryDir) == "" {
		f.HistoryDir = def.HistoryDir
	}
	if f.Memory.MaxShortTerm == 0 {
		f.Memory.MaxShortTerm = def.Memory.MaxShortTerm
	}
	if f.Memory.MaxLongTerm == 0 {
		f.Memory.MaxLongTerm = def.Memory.MaxLongTerm
	}
	if f.Memory.AutoSaveInterval == 0 {
		f.Memory.AutoSaveInterval = def.Memory.AutoSaveInterval
	}
	if f.Memory.QuietPeriod == 0 {
		f.Memory.QuietPeriod = def.Memory.QuietPeriod
	}
	if strings.TrimSpace(f.Semantic.Backend) == "" {
		f.Semantic.Backend = BackendNone
	}
	if strings.TrimSpace(f.Semantic.Embedder.Provider) == "" {
		f.Semantic.Embedder.Provider = EmbedderNone
	}
	if f.Retrieval.MinSimilarity == 0 {
		f.Retrieval.MinSimilarity = def.Retrieval.MinSimilarity
	}
	if f.Retrieval.SearchLimit == 0 {
		f.Retrieval.SearchLimit = def.Retrieval.SearchLimit
	}
	if f.Retrieval.HistoryLimit == 0 {
		f.Retrieval.HistoryLimit = def.Retrieval.HistoryLimit
	}
	if f.Retrieval.MaxPromptToken == 0 {
		f.Retrieval.MaxPromptToken = def.Retrieval.MaxPromptToken
	}
}

// Validate checks a File for structural correctness without touching the
// filesystem. It returns the first validation error encountered, or nil.
func Validate(cfg *File) error {
	if cfg == nil {
		return fmt.Errorf("config must not be nil")
	}

	if strings.TrimSpace(cfg.HistoryDir) == "" {
		return fmt.Errorf("history_dir must not be empty")
	}

	if cfg.Memory.MaxShortTerm < 1 {
		return fmt.Errorf("memory.max_short_term must be >= 1, got %d", cfg.Memory.MaxShortTerm)
	}
	if cfg.Memory.MaxLongTerm < 1 {
		return fmt.Errorf("memory.max_long_term must be >= 1, got %d", cfg.Memory.MaxLongTerm)
	}
	if cfg.Memory.AutoSaveInterval < 0 {
		return fmt.Errorf("memory.auto_save_interval must be >= 0")
	}
	if cfg.Memory.QuietPeriod < 0 {
		return fmt.Errorf("memory.quiet_period must be >= 0")
	}

	switch cfg.Semantic.Backend {
	case BackendNone, BackendSQLite, BackendChromem:
	default:
		return fmt.Errorf("semantic.backend must be one of %q, %q, %q; got %q",
			BackendNone, BackendSQLite, BackendChromem, cfg.Semantic.Backend)
	}
	if cfg.Semantic.Backend == BackendSQLite && strings.TrimSpace(cfg.Semantic.SQLitePath) == "" {
		return fmt.Errorf("semantic.sqlite_path must be set when backend is %q", BackendSQLite)
	}

	switch cfg.Semantic.Embedder.Provider {
	case EmbedderNone, EmbedderOpenAI:
	default:
		return fmt.Errorf("semantic.embedder.provider must be %q or %q; got %q",
			EmbedderNone, EmbedderOpenAI, cfg.Semantic.Embedder.Provider)
	}
	if cfg.Semantic.Backend != BackendNone && cfg.Semantic.Embedder.Provider == EmbedderNone {
		return fmt.Errorf("semantic.backend %q requires an embedder provider", cfg.Semantic.Backend)
	}
	if cfg.Semantic.Embedder.Provider == EmbedderOpenAI && strings.TrimSpace(cfg.Semantic.Embedder.APIKeyEnv) == "" {
		return fmt.Errorf("semantic.embedder.api_key_env must be set for provider %q", EmbedderOpenAI)
	}
	if cfg.Semantic.Embedder.Timeout < 0 {
		return fmt.Errorf("semantic.embedder.timeout must be >= 0")
	}

	if cfg.Retrieval.MinSimilarity < 0 || cfg.Retrieval.MinSimilarity > 1 {
		return fmt.Errorf("retrieval.min_similarity %.2f is outside valid range [0.0, 1.0]", cfg.Retrieval.MinSimilarity)
	}
	if cfg.Retrieval.SearchLimit < 1 {
		return fmt.Errorf("retrieval.search_limit must be >= 1")
	}
	if cfg.Retrieval.HistoryLimit < 1 {
		return fmt.Errorf("retrieval.history_limit must be >= 1")
	}
	if cfg.Retrieval.MaxPromptToken < 1 {
		return fmt.Errorf("retrieval.max_prompt_tokens must be >= 1")
	}

	return nil
}
