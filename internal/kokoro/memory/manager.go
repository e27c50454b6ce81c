package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ayane-dev/Kokoro/common/redact"
	"github.com/ayane-dev/Kokoro/internal/kokoro/semantic"
)

// Input errors surfaced by AddMemory. Everything else the engine absorbs:
// reads degrade to empty results and background faults are logged, so a
// memory fault can never break a chat turn.
var (
	ErrEmptyContent  = errors.New("memory: content must not be empty")
	ErrUnknownSource = errors.New("memory: unknown record source")
)

// Config holds per-manager tuning knobs.
type Config struct {
	// HistoryDir is the directory snapshot files are written under.
	HistoryDir string

	// MaxShortTerm bounds the short-term store. Default: 50.
	MaxShortTerm int

	// MaxLongTerm bounds the long-term store. Default: 500.
	MaxLongTerm int

	// AutoSaveInterval is the minimum gap between two scheduled snapshot
	// flushes. Default: 5 minutes.
	AutoSaveInterval time.Duration

	// QuietPeriod is how long the stores must sit unmutated before a
	// scheduled flush fires. Together with AutoSaveInterval this debounces
	// write bursts into a single flush. Default: 60 seconds.
	QuietPeriod time.Duration
}

// DefaultConfig returns a Config with the documented defaults.
func DefaultConfig() Config {
	return Config{
		HistoryDir:       "./history",
		MaxShortTerm:     50,
		MaxLongTerm:      500,
		AutoSaveInterval: 5 * time.Minute,
		QuietPeriod:      60 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HistoryDir == "" {
		c.HistoryDir = d.HistoryDir
	}
	if c.MaxShortTerm <= 0 {
		c.MaxShortTerm = d.MaxShortTerm
	}
	if c.MaxLongTerm <= 0 {
		c.MaxLongTerm = d.MaxLongTerm
	}
	if c.AutoSaveInterval <= 0 {
		c.AutoSaveInterval = d.AutoSaveInterval
	}
	if c.QuietPeriod <= 0 {
		c.QuietPeriod = d.QuietPeriod
	}
	return c
}

// Manager owns one user's tiered memory: the short-term window, the
// long-term store, the derived topic index, and the preference counters.
// All store mutations happen under a single mutex; external collaborators
// (semantic search, summarisation) are always invoked with the lock
// released. Managers are created through a Registry.
type Manager struct {
	userID     string
	cfg        Config
	classifier Classifier
	searcher   semantic.Searcher
	logger     *slog.Logger

	mu       sync.Mutex
	short    []*Record
	long     []*Record
	byTopic  map[string][]*Record // derived, rebuilt after every bulk change
	byHash   map[string]*Record   // content-hash dedup index across both tiers
	prefs    *Preferences
	nextSeq  int64
	lastMut  time.Time // last store mutation
	lastSave time.Time // last completed snapshot
	dirty    bool      // true when the stores have mutations not yet flushed
}

// NewManager creates a memory manager for one user. A nil classifier
// defaults to the keyword classifier; a nil searcher disables the semantic
// half of hybrid search; a nil logger defaults to slog.Default.
func NewManager(userID string, cfg Config, classifier Classifier, searcher semantic.Searcher, logger *slog.Logger) *Manager {
	if classifier == nil {
		classifier = KeywordClassifier{}
	}
	if searcher == nil {
		searcher = NewNoopSearcherAdapter()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		userID:     userID,
		cfg:        cfg.withDefaults(),
		classifier: classifier,
		searcher:   searcher,
		logger:     logger,
		byTopic:    make(map[string][]*Record),
		byHash:     make(map[string]*Record),
		prefs:      NewPreferences(),
		lastSave:   time.Now(),
	}
}

// NewNoopSearcherAdapter returns the default do-nothing semantic backend.
func NewNoopSearcherAdapter() semantic.Searcher {
	return semantic.NewNoopSearcher(nil)
}

// UserID returns the user this manager belongs to.
func (m *Manager) UserID() string { return m.userID }

// AddOptions carries the caller-supplied classification overrides for one
// AddMemory call. Zero-value fields defer to the automatic classifier.
type AddOptions struct {
	Topics    []string // explicit topic labels; suppresses topic auto-detection
	Emotion   string   // explicit emotion label; suppresses emotion auto-detection
	Important bool     // force-mark important (ORed with detector verdicts)
}

// AddMemory ingests one exchange turn. The flow is: validate, dedup by
// content hash (duplicates merge into the existing record instead of
// growing a store), classify, append to short-term, and trim if the window
// overflowed. The semantic index is fed after the lock is released.
func (m *Manager) AddMemory(ctx context.Context, content string, source Source, opts AddOptions) (*Record, error) {
	if content == "" {
		return nil, ErrEmptyContent
	}
	if !source.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}

	now := time.Now()
	return m.addMemoryAt(ctx, content, source, opts, now)
}

// addMemoryAt is the time-injectable core of AddMemory (for testing).
func (m *Manager) addMemoryAt(ctx context.Context, content string, source Source, opts AddOptions, now time.Time) (*Record, error) {
	cls := m.classifySafe(content)

	topics := opts.Topics
	if len(topics) == 0 {
		topics = cls.Topics
	} else if cls.Important {
		// Caller-supplied topics replace detection, but a detected standing
		// instruction must stay deterministically retrievable.
		for _, t := range cls.Topics {
			if t == TopicUserInstruction {
				topics = append(topics, TopicUserInstruction)
			}
		}
	}
	emotion := opts.Emotion
	if emotion == "" {
		emotion = cls.Emotion
	}
	important := opts.Important || cls.Important

	hash := HashContent(content)

	m.mu.Lock()
	if existing, ok := m.byHash[hash]; ok {
		existing.mergeDuplicate(topics, important, now)
		m.rebuildTopicIndexLocked()
		m.markMutatedLocked(now)
		m.mu.Unlock()
		m.logger.Debug("memory: merged duplicate insert",
			"user_id", m.userID,
			"record_id", existing.ID,
			"topics", existing.Topics,
		)
		return existing, nil
	}

	rec := newRecord(content, source, now)
	rec.Topics = append([]string(nil), topics...)
	rec.Emotion = emotion
	rec.Important = important
	rec.seq = m.nextSeq
	m.nextSeq++

	m.short = append(m.short, rec)
	m.byHash[hash] = rec
	for _, t := range rec.Topics {
		m.byTopic[t] = append(m.byTopic[t], rec)
	}

	if source == SourceUser {
		m.prefs.Observe(content, rec.Topics)
	}

	var evictedIDs []string
	if len(m.short) > m.cfg.MaxShortTerm {
		evictedIDs = m.trimShortTermLocked(now)
	}
	m.markMutatedLocked(now)
	m.mu.Unlock()

	m.logger.Debug("memory: recorded turn",
		"user_id", m.userID,
		"record_id", rec.ID,
		"source", source,
		"topics", rec.Topics,
		"emotion", rec.Emotion,
		"important", rec.Important,
		"preview", redact.Preview(content, 32),
	)

	m.indexSemantic(ctx, rec)
	m.forgetSemantic(ctx, evictedIDs)

	return rec, nil
}

// classifySafe runs the classifier, degrading to "no topics, neutral
// emotion" if it panics. Ingestion must never be blocked by a
// classification bug.
func (m *Manager) classifySafe(content string) (cls Classification) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("memory: classifier panicked, degrading to neutral",
				"user_id", m.userID,
				"panic", r,
			)
			cls = Classification{Emotion: EmotionNeutral}
		}
	}()
	return m.classifier.Classify(content)
}

// trimShortTermLocked evicts the short-term window down to MaxShortTerm.
// Records are scored, the top MaxShortTerm stay (re-sorted back into
// chronological order), and the rest are promoted into long-term storage
// via the content-hash merge path. Long-term overflow is trimmed in turn.
// Returns the IDs of records dropped entirely. Must be called with mu held.
func (m *Manager) trimShortTermLocked(now time.Time) (droppedIDs []string) {
	if len(m.short) <= m.cfg.MaxShortTerm {
		return nil
	}

	scored := append([]*Record(nil), m.short...)
	sort.SliceStable(scored, func(i, j int) bool {
		return shortTermScore(scored[i], now) > shortTermScore(scored[j], now)
	})

	keep := scored[:m.cfg.MaxShortTerm]
	overflow := scored[m.cfg.MaxShortTerm:]

	sort.SliceStable(keep, func(i, j int) bool { return keep[i].before(keep[j]) })
	m.short = keep

	for _, r := range overflow {
		m.promoteLocked(r, now)
	}

	droppedIDs = m.trimLongTermLocked(now)
	m.rebuildTopicIndexLocked()

	m.logger.Debug("memory: trimmed short-term store",
		"user_id", m.userID,
		"kept", len(keep),
		"promoted", len(overflow),
		"dropped", len(droppedIDs),
	)
	return droppedIDs
}

// promoteLocked moves a record evicted from short-term into the long-term
// store, merging into an existing record when the content hash collides.
func (m *Manager) promoteLocked(r *Record, now time.Time) {
	if existing, ok := m.byHash[r.ContentHash]; ok && existing != r {
		existing.mergeDuplicate(r.Topics, r.Important, now)
		return
	}
	m.long = append(m.long, r)
}

// trimLongTermLocked evicts the long-term store down to MaxLongTerm using
// the long-distance score, then restores chronological order. Returns the
// IDs of dropped records. Must be called with mu held.
func (m *Manager) trimLongTermLocked(now time.Time) (droppedIDs []string) {
	if len(m.long) <= m.cfg.MaxLongTerm {
		return nil
	}

	scored := append([]*Record(nil), m.long...)
	sort.SliceStable(scored, func(i, j int) bool {
		return longTermScore(scored[i], now) > longTermScore(scored[j], now)
	})

	keep := scored[:m.cfg.MaxLongTerm]
	dropped := scored[m.cfg.MaxLongTerm:]

	sort.SliceStable(keep, func(i, j int) bool { return keep[i].before(keep[j]) })
	m.long = keep

	for _, r := range dropped {
		delete(m.byHash, r.ContentHash)
		droppedIDs = append(droppedIDs, r.ID)
	}
	return droppedIDs
}

// rebuildTopicIndexLocked rebuilds the derived topic index from scratch.
// The index is never merged incrementally after a bulk structural change;
// a full rebuild avoids incremental-update bugs. Must be called with mu held.
func (m *Manager) rebuildTopicIndexLocked() {
	idx := make(map[string][]*Record)
	for _, r := range m.short {
		for _, t := range r.Topics {
			idx[t] = append(idx[t], r)
		}
	}
	for _, r := range m.long {
		for _, t := range r.Topics {
			idx[t] = append(idx[t], r)
		}
	}
	m.byTopic = idx
}

// rebuildHashIndexLocked rebuilds the dedup index from both tiers.
// Must be called with mu held.
func (m *Manager) rebuildHashIndexLocked() {
	idx := make(map[string]*Record, len(m.short)+len(m.long))
	for _, r := range m.long {
		idx[r.ContentHash] = r
	}
	for _, r := range m.short {
		idx[r.ContentHash] = r
	}
	m.byHash = idx
}

// markMutatedLocked records a mutation for the auto-save debounce.
// Must be called with mu held.
func (m *Manager) markMutatedLocked(now time.Time) {
	m.lastMut = now
	m.dirty = true
}

// indexSemantic feeds a record into the semantic collaborator, best-effort.
func (m *Manager) indexSemantic(ctx context.Context, r *Record) {
	doc := semantic.Document{
		RecordID: r.ID,
		UserID:   m.userID,
		Content:  r.Content,
		Metadata: map[string]string{"source": string(r.Source)},
	}
	if err := m.searcher.Index(ctx, doc); err != nil {
		m.logger.Warn("memory: semantic indexing failed",
			"user_id", m.userID,
			"record_id", r.ID,
			"err", err,
		)
	}
}

// forgetSemantic removes evicted records from the semantic collaborator,
// best-effort, so the index never outlives the stores.
func (m *Manager) forgetSemantic(ctx context.Context, ids []string) {
	for _, id := range ids {
		if err := m.searcher.Forget(ctx, m.userID, id); err != nil {
			m.logger.Warn("memory: semantic forget failed",
				"user_id", m.userID,
				"record_id", id,
				"err", err,
			)
		}
	}
}

// Counts returns the current short-term and long-term store sizes.
func (m *Manager) Counts() (shortTerm, longTerm int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.short), len(m.long)
}

// Preferences returns a snapshot copy of the user's preference counters.
func (m *Manager) Preferences() PreferenceSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prefs.Snapshot()
}

// Reclassify re-scans long-term records whose topics or emotion are missing
// with the current keyword tables. It runs on load and once in the
// background at startup so table improvements reach old records without a
// full rebuild. Running it twice with unchanged tables mutates nothing.
func (m *Manager) Reclassify() (changed int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, r := range m.long {
		if len(r.Topics) > 0 && r.Emotion != "" {
			continue
		}
		cls := m.classifySafe(r.Content)
		recChanged := false
		if len(r.Topics) == 0 && r.addTopics(cls.Topics) {
			recChanged = true
		}
		if r.Emotion == "" {
			r.Emotion = cls.Emotion
			if r.Emotion == "" {
				r.Emotion = EmotionNeutral
			}
			recChanged = true
		}
		if cls.Important && !r.Important {
			r.Important = true
			recChanged = true
		}
		if recChanged {
			changed++
		}
	}

	if changed > 0 {
		m.rebuildTopicIndexLocked()
		m.markMutatedLocked(now)
		m.logger.Info("memory: reclassified long-term records",
			"user_id", m.userID,
			"changed", changed,
		)
	}
	return changed
}

// clear wipes both tiers and all derived state. Called by the registry's
// ClearHistory after snapshot files have been removed.
func (m *Manager) clear(ctx context.Context) {
	m.mu.Lock()
	var ids []string
	for _, r := range m.short {
		ids = append(ids, r.ID)
	}
	for _, r := range m.long {
		ids = append(ids, r.ID)
	}
	m.short = nil
	m.long = nil
	m.byTopic = make(map[string][]*Record)
	m.byHash = make(map[string]*Record)
	m.prefs = NewPreferences()
	m.markMutatedLocked(time.Now())
	m.mu.Unlock()

	m.forgetSemantic(ctx, ids)
}
