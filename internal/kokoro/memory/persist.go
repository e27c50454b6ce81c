package memory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Snapshot layout: {HistoryDir}/{user}_short.json,
// {HistoryDir}/long_term/{user}_long.json and {HistoryDir}/{user}_prefs.json.
// All files are indented UTF-8 JSON, safe to hand-edit between runs.

const longTermSubdir = "long_term"

// snapshotSchema is the structural contract for a persisted record array.
// Loads validate against it before unmarshalling; a violation degrades that
// tier to empty rather than aborting initialisation.
const snapshotSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["id", "content", "source", "timestamp"],
    "properties": {
      "id": {"type": "string", "minLength": 1},
      "content": {"type": "string", "minLength": 1},
      "source": {"enum": ["user", "assistant", "system", "system_summary"]},
      "timestamp": {"type": "integer"},
      "last_reference_time": {"type": "integer"},
      "topics": {"type": "array", "items": {"type": "string"}},
      "emotion": {"type": "string"},
      "is_important": {"type": "boolean"},
      "content_hash": {"type": "string"}
    }
  }
}`

var recordArraySchema = jsonschema.MustCompileString("records.schema.json", snapshotSchema)

func (m *Manager) shortTermPath() string {
	return filepath.Join(m.cfg.HistoryDir, m.userID+"_short.json")
}

func (m *Manager) longTermPath() string {
	return filepath.Join(m.cfg.HistoryDir, longTermSubdir, m.userID+"_long.json")
}

func (m *Manager) prefsPath() string {
	return filepath.Join(m.cfg.HistoryDir, m.userID+"_prefs.json")
}

// Save snapshots both tiers and the preference counters to disk. The lock
// is held only long enough to copy the in-memory stores; the (potentially
// slow) file writes happen with the lock released, so a save never blocks
// concurrent reads or writes for the duration of disk I/O.
func (m *Manager) Save() error {
	m.mu.Lock()
	shortCopy := copyRecords(m.short)
	longCopy := copyRecords(m.long)
	prefsCopy := m.prefs.Snapshot()
	prefsEmpty := m.prefs.empty()
	m.mu.Unlock()

	if err := os.MkdirAll(filepath.Join(m.cfg.HistoryDir, longTermSubdir), 0o755); err != nil {
		return fmt.Errorf("memory: create history dir: %w", err)
	}

	if err := atomicWriteJSON(m.shortTermPath(), shortCopy); err != nil {
		return fmt.Errorf("memory: save short-term snapshot: %w", err)
	}
	if err := atomicWriteJSON(m.longTermPath(), longCopy); err != nil {
		return fmt.Errorf("memory: save long-term snapshot: %w", err)
	}
	if !prefsEmpty {
		if err := atomicWriteJSON(m.prefsPath(), prefsCopy); err != nil {
			return fmt.Errorf("memory: save preferences: %w", err)
		}
	}

	now := time.Now()
	m.mu.Lock()
	m.lastSave = now
	// Mutations that raced the write stay dirty for the next flush.
	if !m.lastMut.After(now) {
		m.dirty = false
	}
	m.mu.Unlock()

	m.logger.Debug("memory: snapshot saved",
		"user_id", m.userID,
		"short", len(shortCopy),
		"long", len(longCopy),
	)
	return nil
}

// Load reads both tier snapshots and the preference file if present. A
// missing or malformed file degrades to an empty store for that tier —
// partial memory beats total failure. Indexes are rebuilt and a
// reclassification pass fills topic/emotion gaps left by older snapshots.
func (m *Manager) Load() {
	shortRecs := m.loadTier(m.shortTermPath(), "short-term")
	longRecs := m.loadTier(m.longTermPath(), "long-term")

	prefs := NewPreferences()
	if data, err := os.ReadFile(m.prefsPath()); err == nil {
		if err := json.Unmarshal(data, prefs); err != nil {
			m.logger.Warn("memory: malformed preference file, starting empty",
				"user_id", m.userID,
				"err", err,
			)
			prefs = NewPreferences()
		}
	}
	if prefs.LikedTopics == nil {
		prefs.LikedTopics = make(map[string]int)
	}
	if prefs.DislikedTopics == nil {
		prefs.DislikedTopics = make(map[string]int)
	}
	if prefs.StyleHints == nil {
		prefs.StyleHints = make(map[string]int)
	}

	m.mu.Lock()
	m.short = shortRecs
	m.long = longRecs
	m.prefs = prefs
	for i, r := range append(append([]*Record(nil), longRecs...), shortRecs...) {
		r.seq = int64(i)
	}
	m.nextSeq = int64(len(shortRecs) + len(longRecs))
	m.rebuildHashIndexLocked()
	m.rebuildTopicIndexLocked()
	m.dirty = false
	m.mu.Unlock()

	m.Reclassify()

	m.logger.Info("memory: loaded snapshots",
		"user_id", m.userID,
		"short", len(shortRecs),
		"long", len(longRecs),
	)
}

// loadTier reads, validates, and normalises one tier's snapshot file.
// Any failure returns an empty tier.
func (m *Manager) loadTier(path, tier string) []*Record {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			m.logger.Warn("memory: snapshot unreadable, starting empty",
				"user_id", m.userID, "tier", tier, "err", err)
		}
		return nil
	}

	var probe interface{}
	if err := json.Unmarshal(data, &probe); err != nil {
		m.logger.Warn("memory: snapshot is not valid JSON, starting empty",
			"user_id", m.userID, "tier", tier, "err", err)
		return nil
	}
	if err := recordArraySchema.Validate(probe); err != nil {
		m.logger.Warn("memory: snapshot failed schema validation, starting empty",
			"user_id", m.userID, "tier", tier, "err", err)
		return nil
	}

	var recs []*Record
	if err := json.Unmarshal(data, &recs); err != nil {
		m.logger.Warn("memory: snapshot decode failed, starting empty",
			"user_id", m.userID, "tier", tier, "err", err)
		return nil
	}

	// Absent optional fields take their defaults instead of rejecting the file.
	for _, r := range recs {
		if r.LastReference == 0 {
			r.LastReference = r.Timestamp
		}
		if r.ContentHash == "" {
			r.ContentHash = HashContent(r.Content)
		}
		if r.Emotion == "" {
			r.Emotion = EmotionNeutral
		}
	}
	return recs
}

// removeSnapshots deletes this user's snapshot files. Missing files are not
// an error.
func (m *Manager) removeSnapshots() error {
	var errs []error
	for _, p := range []string{m.shortTermPath(), m.longTermPath(), m.prefsPath()} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("memory: remove snapshots: %w", errors.Join(errs...))
	}
	return nil
}

// atomicWriteJSON writes v as indented JSON to path via a temporary sibling
// file and an atomic rename, so a crash mid-write never corrupts the
// previously durable snapshot.
func atomicWriteJSON(path string, v interface{}) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// copyRecords deep-copies a record slice so the write can proceed outside
// the lock.
func copyRecords(records []*Record) []Record {
	out := make([]Record, len(records))
	for i, r := range records {
		out[i] = *r
		out[i].Topics = append([]string(nil), r.Topics...)
	}
	return out
}
