package semantic

import (
	"context"
	"log/slog"
)

// NoopSearcher discards indexed documents and returns no hits. It is the
// default backend: with it wired, hybrid search degrades to the lexical
// pass only.
type NoopSearcher struct {
	logger *slog.Logger
}

// NewNoopSearcher creates a NoopSearcher that logs discarded documents at
// DEBUG level. If logger is nil, the default slog logger is used.
func NewNoopSearcher(logger *slog.Logger) *NoopSearcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoopSearcher{logger: logger}
}

// Index logs and discards the document.
func (n *NoopSearcher) Index(_ context.Context, doc Document) error {
	n.logger.Debug("semantic noop: discarding document",
		"record_id", doc.RecordID,
		"user_id", doc.UserID,
		"content_len", len(doc.Content),
	)
	return nil
}

// Search always returns no hits.
func (n *NoopSearcher) Search(_ context.Context, _, _ string, _ int) ([]Hit, error) {
	return nil, nil
}

// Forget is a no-op.
func (n *NoopSearcher) Forget(_ context.Context, _, _ string) error { return nil }

// Close is a no-op.
func (n *NoopSearcher) Close() error { return nil }

// Compile-time interface satisfaction check.
var _ Searcher = (*NoopSearcher)(nil)

// NoopEmbedder is a stub Embedder that returns nil vectors, signalling that
// embedding is unavailable.
type NoopEmbedder struct{}

// Embed returns nil with no error.
func (NoopEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return nil, nil
}

// Compile-time interface satisfaction check.
var _ Embedder = NoopEmbedder{}
