// Package semantic defines the embedding/vector-search collaborator used by
// the memory engine for the fuzzy half of hybrid retrieval. The engine
// treats a Searcher as a black box: it feeds records in, asks for ranked
// hits back, and applies only its own similarity filter and deduplication.
package semantic

import "context"

// Document is the slice of a memory record a Searcher indexes: identity,
// owner, and raw content. Metadata carries anything the backend wants to
// round-trip (topics, source role).
type Document struct {
	RecordID string
	UserID   string
	Content  string
	Metadata map[string]string
}

// Hit is one ranked result from a similarity search.
type Hit struct {
	RecordID   string
	Content    string
	Similarity float64 // cosine similarity in [0, 1], higher is closer
	Metadata   map[string]string
}

// Searcher is the vector-search collaborator interface. Implementations
// must be safe for concurrent use. The memory engine never calls a Searcher
// while holding its store lock.
type Searcher interface {
	// Index stores or refreshes a document. Indexing is best-effort from the
	// engine's point of view: failures are logged, never surfaced to callers.
	Index(ctx context.Context, doc Document) error

	// Search returns up to topK hits for the query, most similar first,
	// scoped to the given user.
	Search(ctx context.Context, userID, query string, topK int) ([]Hit, error)

	// Forget removes a record from the index. Called after eviction and
	// history wipes so the index never outlives the store.
	Forget(ctx context.Context, userID, recordID string) error

	// Close releases backend resources.
	Close() error
}

// Embedder produces vector embeddings for text. A nil vector with no error
// signals that embedding is unavailable (noop), which disables similarity
// search without failing the pipeline.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
