package semantic

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// ChromemSearcher implements Searcher on chromem-go, a pure-Go embedded
// vector database. Each user gets their own collection for namespace
// isolation. Everything lives in process memory; pair it with the memory
// engine's own snapshots when durability matters.
type ChromemSearcher struct {
	db       *chromem.DB
	embedder Embedder
	logger   *slog.Logger

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

// NewChromemSearcher creates an empty in-memory chromem index. If logger is
// nil, the default slog logger is used.
func NewChromemSearcher(embedder Embedder, logger *slog.Logger) *ChromemSearcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChromemSearcher{
		db:          chromem.NewDB(),
		embedder:    embedder,
		logger:      logger,
		collections: make(map[string]*chromem.Collection),
	}
}

// collection returns the per-user collection, creating it on first use.
func (s *ChromemSearcher) collection(userID string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, ok := s.collections[userID]
	s.mu.RUnlock()
	if ok {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.collections[userID]; ok {
		return col, nil
	}

	name := "user_" + userID
	col, err := s.db.CreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("semantic chromem: create collection: %w", err)
	}
	s.collections[userID] = col
	return col, nil
}

// Index embeds the document and adds it to the user's collection. Documents
// that cannot be embedded (noop embedder) are skipped silently.
func (s *ChromemSearcher) Index(ctx context.Context, doc Document) error {
	vec, err := s.embedder.Embed(ctx, doc.Content)
	if err != nil {
		return fmt.Errorf("semantic chromem: embed document: %w", err)
	}
	if vec == nil {
		return nil
	}

	col, err := s.collection(doc.UserID)
	if err != nil {
		return err
	}

	metadata := map[string]string{"user_id": doc.UserID}
	for k, v := range doc.Metadata {
		metadata[k] = v
	}

	err = col.AddDocument(ctx, chromem.Document{
		ID:        doc.RecordID,
		Content:   doc.Content,
		Embedding: vec,
		Metadata:  metadata,
	})
	if err != nil {
		return fmt.Errorf("semantic chromem: add document: %w", err)
	}
	return nil
}

// Search embeds the query and returns up to topK nearest documents. chromem
// rejects nResults larger than the collection, so the limit is clamped to
// the current document count.
func (s *ChromemSearcher) Search(ctx context.Context, userID, query string, topK int) ([]Hit, error) {
	if topK <= 0 || query == "" {
		return nil, nil
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("semantic chromem: embed query: %w", err)
	}
	if queryVec == nil {
		return nil, nil
	}

	col, err := s.collection(userID)
	if err != nil {
		return nil, err
	}

	if count := col.Count(); count < topK {
		topK = count
	}
	if topK == 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, queryVec, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("semantic chromem: query: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, res := range results {
		hits = append(hits, Hit{
			RecordID:   res.ID,
			Content:    res.Content,
			Similarity: float64(res.Similarity),
			Metadata:   res.Metadata,
		})
	}
	return hits, nil
}

// Forget removes the document from the user's collection.
func (s *ChromemSearcher) Forget(ctx context.Context, userID, recordID string) error {
	s.mu.RLock()
	col, ok := s.collections[userID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	if err := col.Delete(ctx, nil, nil, recordID); err != nil {
		return fmt.Errorf("semantic chromem: delete document: %w", err)
	}
	return nil
}

// Close is a no-op; chromem keeps everything in memory.
func (s *ChromemSearcher) Close() error { return nil }

// Compile-time interface satisfaction check.
var _ Searcher = (*ChromemSearcher)(nil)
