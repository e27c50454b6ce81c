package memory

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ayane-dev/Kokoro/internal/kokoro/semantic"
)

// Registry hands out one Manager per user. It replaces the original
// module-level singleton cache with an explicit object the orchestration
// layer owns and injects, so tests can construct isolated instances
// without cross-test leakage.
//
// Opening a user loads their snapshots, kicks off a background
// reclassification pass, and starts the auto-save loop. Shutdown stops
// every loop and issues final saves.
type Registry struct {
	cfg        Config
	classifier Classifier
	searcher   semantic.Searcher
	logger     *slog.Logger

	mu       sync.Mutex
	managers map[string]*Manager
	savers   map[string]*AutoSaver
	runCtx   context.Context
	cancel   context.CancelFunc
}

// shutdownJoinTimeout bounds how long Shutdown waits for each auto-save
// loop to exit.
const shutdownJoinTimeout = 5 * time.Second

// NewRegistry creates a Registry. A nil classifier defaults to the keyword
// classifier, a nil searcher to the noop backend, a nil logger to
// slog.Default.
func NewRegistry(cfg Config, classifier Classifier, searcher semantic.Searcher, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		cfg:        cfg.withDefaults(),
		classifier: classifier,
		searcher:   searcher,
		logger:     logger,
		managers:   make(map[string]*Manager),
		savers:     make(map[string]*AutoSaver),
		runCtx:     ctx,
		cancel:     cancel,
	}
}

// Open returns the manager for userID, creating and loading it on first
// use. The returned manager is shared: subsequent Opens for the same user
// return the same instance.
func (reg *Registry) Open(userID string) *Manager {
	reg.mu.Lock()
	if m, ok := reg.managers[userID]; ok {
		reg.mu.Unlock()
		return m
	}

	m := NewManager(userID, reg.cfg, reg.classifier, reg.searcher, reg.logger)
	saver := NewAutoSaver(m, 0, reg.logger)
	reg.managers[userID] = m
	reg.savers[userID] = saver
	runCtx := reg.runCtx
	reg.mu.Unlock()

	m.Load()
	go saver.Run(runCtx)

	reg.logger.Info("memory: opened user manager", "user_id", userID)
	return m
}

// ClearHistory wipes a user's memory: in-process stores, semantic index,
// and snapshot files. The manager stays registered and usable.
func (reg *Registry) ClearHistory(ctx context.Context, userID string) error {
	reg.mu.Lock()
	m, ok := reg.managers[userID]
	reg.mu.Unlock()
	if !ok {
		// Never opened this run; still remove any files left from earlier runs.
		m = NewManager(userID, reg.cfg, reg.classifier, reg.searcher, reg.logger)
		return m.removeSnapshots()
	}

	m.clear(ctx)
	if err := m.removeSnapshots(); err != nil {
		return err
	}
	reg.logger.Info("memory: cleared user history", "user_id", userID)
	return nil
}

// UserStats summarises one open manager for status reporting.
type UserStats struct {
	UserID    string `json:"user_id"`
	ShortTerm int    `json:"short_term"`
	LongTerm  int    `json:"long_term"`
}

// Stats returns per-user store sizes for all currently open managers.
func (reg *Registry) Stats() []UserStats {
	reg.mu.Lock()
	managers := make([]*Manager, 0, len(reg.managers))
	for _, m := range reg.managers {
		managers = append(managers, m)
	}
	reg.mu.Unlock()

	stats := make([]UserStats, 0, len(managers))
	for _, m := range managers {
		short, long := m.Counts()
		stats = append(stats, UserStats{UserID: m.UserID(), ShortTerm: short, LongTerm: long})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].UserID < stats[j].UserID })
	return stats
}

// Users returns the IDs of all currently open managers.
func (reg *Registry) Users() []string {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	ids := make([]string, 0, len(reg.managers))
	for id := range reg.managers {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown stops all auto-save loops and issues a final synchronous save
// per user. Each loop join is bounded by shutdownJoinTimeout.
func (reg *Registry) Shutdown() {
	reg.cancel()

	reg.mu.Lock()
	savers := make([]*AutoSaver, 0, len(reg.savers))
	for _, s := range reg.savers {
		savers = append(savers, s)
	}
	reg.mu.Unlock()

	for _, s := range savers {
		s.Shutdown(shutdownJoinTimeout)
	}
	reg.logger.Info("memory: registry shut down", "users", len(savers))
}
