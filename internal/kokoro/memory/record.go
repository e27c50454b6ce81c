// Package memory implements Kokoro's tiered, weighted conversational memory
// engine. Short-term memory keeps the most recent exchange window in full
// fidelity; long-term memory keeps a larger, score-curated set of records
// that survived short-term eviction. A derived topic index and a pluggable
// semantic-search collaborator provide fast topical and fuzzy recall.
package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Source identifies the origin of a memory record.
type Source string

const (
	SourceUser          Source = "user"
	SourceAssistant     Source = "assistant"
	SourceSystem        Source = "system"
	SourceSystemSummary Source = "system_summary"
)

// Valid reports whether s is one of the known record sources.
func (s Source) Valid() bool {
	switch s {
	case SourceUser, SourceAssistant, SourceSystem, SourceSystemSummary:
		return true
	}
	return false
}

// TopicUserInstruction is the reserved topic attached to records that carry
// an explicit standing instruction from the user ("remember that...",
// "never do X again"). Records carrying it are returned by ImportantPrompts
// regardless of recency.
const TopicUserInstruction = "user_instruction"

// Record is one turn of conversation or one derived artifact (for example a
// session summary). Records are created by Manager.AddMemory, mutated in
// place only to merge content-hash duplicates or bump LastReference, and
// destroyed only by eviction or an explicit history wipe.
type Record struct {
	ID            string   `json:"id"`
	Content       string   `json:"content"`
	Source        Source   `json:"source"`
	Timestamp     int64    `json:"timestamp"`           // creation time, unix seconds
	LastReference int64    `json:"last_reference_time"` // bumped on re-surfacing and duplicate merges
	Topics        []string `json:"topics,omitempty"`
	Emotion       string   `json:"emotion,omitempty"`
	Important     bool     `json:"is_important,omitempty"`
	ContentHash   string   `json:"content_hash"`

	// seq preserves insertion order for records created in the same second.
	// Assigned by the manager, not persisted; reload order re-establishes it.
	seq int64
}

// newRecord creates a Record with a fresh UUID and the given creation time.
func newRecord(content string, source Source, now time.Time) *Record {
	ts := now.Unix()
	return &Record{
		ID:            uuid.New().String(),
		Content:       content,
		Source:        source,
		Timestamp:     ts,
		LastReference: ts,
		ContentHash:   HashContent(content),
	}
}

// HashContent returns the deduplication fingerprint for a content body:
// the hex-encoded SHA-256 of the raw text.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// HasTopic reports whether the record carries the given topic label.
func (r *Record) HasTopic(topic string) bool {
	for _, t := range r.Topics {
		if t == topic {
			return true
		}
	}
	return false
}

// addTopics unions the given labels into the record's topic set, preserving
// the existing order and appending unseen labels. Empty labels are skipped.
func (r *Record) addTopics(topics []string) (changed bool) {
	for _, t := range topics {
		if t == "" || r.HasTopic(t) {
			continue
		}
		r.Topics = append(r.Topics, t)
		changed = true
	}
	return changed
}

// mergeDuplicate folds a duplicate insert into an existing record: topic
// union, importance OR, and a LastReference bump. The record's content and
// identity are untouched.
func (r *Record) mergeDuplicate(topics []string, important bool, now time.Time) {
	r.addTopics(topics)
	if important {
		r.Important = true
	}
	r.LastReference = now.Unix()
}

// before reports whether r was created before other, falling back on
// insertion sequence for records created in the same second.
func (r *Record) before(other *Record) bool {
	if r.Timestamp != other.Timestamp {
		return r.Timestamp < other.Timestamp
	}
	return r.seq < other.seq
}
