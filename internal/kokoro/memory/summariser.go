package memory

import (
	"context"
	"fmt"
)

// Summariser condenses a batch of history items into a short text that is
// stored back as a system_summary record. Implementations may call an LLM;
// the engine only sees the resulting string.
type Summariser interface {
	Summarise(ctx context.Context, items []HistoryItem) (string, error)
}

// NoopSummariser concatenates the last few turns. Crude but functional —
// session closes still leave a human-readable trace without an LLM call.
type NoopSummariser struct{}

// Summarise returns up to the last 3 turns as "role: content" lines.
func (NoopSummariser) Summarise(_ context.Context, items []HistoryItem) (string, error) {
	if len(items) == 0 {
		return "", nil
	}

	start := len(items) - 3
	if start < 0 {
		start = 0
	}

	var summary string
	for i, it := range items[start:] {
		if i > 0 {
			summary += "\n"
		}
		summary += fmt.Sprintf("%s: %s", it.Role, it.Content)
	}
	return summary, nil
}

// Compile-time interface satisfaction check.
var _ Summariser = NoopSummariser{}

// SealSession condenses the current short-term window into one
// system_summary record via the given summariser. The summary enters the
// store through the normal ingestion path, so it is classified, deduped,
// and persisted like any other record. An empty window is a no-op.
func (m *Manager) SealSession(ctx context.Context, s Summariser) (*Record, error) {
	m.mu.Lock()
	window := make([]HistoryItem, len(m.short))
	for i, r := range m.short {
		window[i] = HistoryItem{Role: r.Source, Content: r.Content, Timestamp: r.Timestamp}
	}
	m.mu.Unlock()

	if len(window) == 0 {
		return nil, nil
	}

	summary, err := s.Summarise(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("memory: summarise session: %w", err)
	}
	if summary == "" {
		return nil, nil
	}

	return m.AddMemory(ctx, summary, SourceSystemSummary, AddOptions{})
}
