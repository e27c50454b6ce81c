package app_test

import (
	"testing"

	"github.com/ayane-dev/Kokoro/internal/kokoro/app"
	"github.com/ayane-dev/Kokoro/internal/kokoro/config"
	"github.com/ayane-dev/Kokoro/internal/kokoro/memory"
)

// defaultTestConfig returns a validated configuration rooted in a temp
// directory, with the HTTP listener disabled.
func defaultTestConfig(t *testing.T) *config.File {
	t.Helper()
	cfg := config.Default()
	cfg.ListenAddr = ""
	cfg.HistoryDir = t.TempDir()
	return cfg
}

func TestApp_EndToEndThroughRegistry(t *testing.T) {
	a, err := app.New(defaultTestConfig(t))
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}

	m := a.Registry().Open("alice")
	if _, err := m.AddMemory(t.Context(), "记得我对花生过敏", memory.SourceUser, memory.AddOptions{}); err != nil {
		t.Fatalf("AddMemory: %v", err)
	}

	short, long := m.Counts()
	if short != 1 || long != 0 {
		t.Fatalf("expected 1 short-term record, got short=%d long=%d", short, long)
	}

	stats := a.Registry().Stats()
	if len(stats) != 1 || stats[0].UserID != "alice" || stats[0].ShortTerm != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	// Stop must flush without error even with the noop semantic backend.
	a.Stop()
}

func TestApp_UnknownEmbedderProvider(t *testing.T) {
	cfg := defaultTestConfig(t)
	cfg.Semantic.Backend = config.BackendChromem
	cfg.Semantic.Embedder.Provider = config.EmbedderOpenAI
	cfg.Semantic.Embedder.APIKeyEnv = "KOKORO_TEST_MISSING_KEY"
	if _, err := app.New(cfg); err == nil {
		t.Fatal("expected error when the API key env var is unset, got nil")
	}
}
