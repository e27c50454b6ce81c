package semantic

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteSearcher implements Searcher on a local SQLite file: documents are
// embedded on Index and similarity search is brute-force cosine computed in
// Go. Suitable for the hundreds-to-low-thousands of records one user's
// conversational memory produces.
//
// Cosine runs Go-side rather than in a SQLite extension because
// modernc.org/sqlite cannot load custom C functions; at this scale loading
// all vectors per query is fast and keeps the binary pure Go.
type SQLiteSearcher struct {
	db       *sql.DB
	embedder Embedder
	logger   *slog.Logger
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS semantic_documents (
	record_id  TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	content    TEXT NOT NULL,
	embedding  BLOB,
	metadata   BLOB,
	indexed_at TEXT NOT NULL,
	PRIMARY KEY (user_id, record_id)
);
CREATE INDEX IF NOT EXISTS idx_semantic_documents_user ON semantic_documents (user_id);
`

// NewSQLiteSearcher opens (or creates) the index database at path and
// ensures the schema exists. If logger is nil, the default slog logger is
// used.
func NewSQLiteSearcher(path string, embedder Embedder, logger *slog.Logger) (*SQLiteSearcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("semantic sqlite: open %q: %w", path, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("semantic sqlite: create schema: %w", err)
	}
	return &SQLiteSearcher{db: db, embedder: embedder, logger: logger}, nil
}

// Index embeds the document content and upserts the row. A nil embedding
// (noop embedder) is stored as NULL: the document exists but never matches
// a similarity query.
func (s *SQLiteSearcher) Index(ctx context.Context, doc Document) error {
	vec, err := s.embedder.Embed(ctx, doc.Content)
	if err != nil {
		return fmt.Errorf("semantic sqlite: embed document: %w", err)
	}

	var embeddingJSON []byte
	if vec != nil {
		embeddingJSON, err = json.Marshal(vec)
		if err != nil {
			return fmt.Errorf("semantic sqlite: marshal embedding: %w", err)
		}
	}

	var metadataJSON []byte
	if len(doc.Metadata) > 0 {
		metadataJSON, err = json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("semantic sqlite: marshal metadata: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO semantic_documents
			(record_id, user_id, content, embedding, metadata, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		doc.RecordID,
		doc.UserID,
		doc.Content,
		embeddingJSON,
		metadataJSON,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("semantic sqlite: insert document: %w", err)
	}

	s.logger.Debug("semantic sqlite: indexed document",
		"record_id", doc.RecordID,
		"user_id", doc.UserID,
		"has_embedding", vec != nil,
	)
	return nil
}

// Search embeds the query and returns the topK most cosine-similar
// documents for the user, most similar first. Returns nil when the query
// cannot be embedded (noop embedder) or nothing is indexed.
func (s *SQLiteSearcher) Search(ctx context.Context, userID, query string, topK int) ([]Hit, error) {
	if topK <= 0 || query == "" {
		return nil, nil
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("semantic sqlite: embed query: %w", err)
	}
	if queryVec == nil {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id, content, embedding, metadata
		FROM semantic_documents
		WHERE user_id = ? AND embedding IS NOT NULL`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("semantic sqlite: query documents: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			hit           Hit
			embeddingJSON []byte
			metadataJSON  sql.NullString
		)
		if err := rows.Scan(&hit.RecordID, &hit.Content, &embeddingJSON, &metadataJSON); err != nil {
			s.logger.Warn("semantic sqlite: skip malformed row", "err", err)
			continue
		}

		var vec []float32
		if err := json.Unmarshal(embeddingJSON, &vec); err != nil {
			s.logger.Warn("semantic sqlite: skip row with bad embedding",
				"record_id", hit.RecordID, "err", err)
			continue
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &hit.Metadata); err != nil {
				hit.Metadata = nil
			}
		}

		hit.Similarity = cosineSimilarity(queryVec, vec)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("semantic sqlite: iterate rows: %w", err)
	}

	sortHitsByScore(hits)
	if topK < len(hits) {
		hits = hits[:topK]
	}
	return hits, nil
}

// Forget deletes the document row. Deleting an absent row is a no-op.
func (s *SQLiteSearcher) Forget(ctx context.Context, userID, recordID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM semantic_documents WHERE user_id = ? AND record_id = ?`,
		userID, recordID,
	)
	if err != nil {
		return fmt.Errorf("semantic sqlite: delete document: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteSearcher) Close() error {
	return s.db.Close()
}

// cosineSimilarity computes the cosine similarity between two vectors.
// Returns 0 if the vectors differ in length, are empty, or have zero
// magnitude.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// sortHitsByScore sorts hits by descending similarity. Insertion sort —
// fine for the small N expected per query.
func sortHitsByScore(hits []Hit) {
	for i := 1; i < len(hits); i++ {
		key := hits[i]
		j := i - 1
		for j >= 0 && hits[j].Similarity < key.Similarity {
			hits[j+1] = hits[j]
			j--
		}
		hits[j+1] = key
	}
}

// Compile-time interface satisfaction check.
var _ Searcher = (*SQLiteSearcher)(nil)
