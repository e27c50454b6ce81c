package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// AutoSaver periodically flushes a manager's stores to disk. A flush only
// fires when both debounce conditions hold: the stores have been quiet for
// Config.QuietPeriod since the last mutation, and Config.AutoSaveInterval
// has elapsed since the last save. Write bursts therefore collapse into a
// single flush while long idle periods are never starved.
type AutoSaver struct {
	manager  *Manager
	interval time.Duration // wake-up cadence of the check loop
	logger   *slog.Logger

	stopMu sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

// defaultTickInterval is how often the loop wakes to evaluate the debounce
// conditions. It bounds how late a flush can fire, not how often one does.
const defaultTickInterval = 10 * time.Second

// NewAutoSaver creates an auto-saver for the given manager. If tick is
// non-positive it defaults to 10 seconds. If logger is nil, the default
// slog logger is used.
func NewAutoSaver(manager *Manager, tick time.Duration, logger *slog.Logger) *AutoSaver {
	if tick <= 0 {
		tick = defaultTickInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AutoSaver{
		manager:  manager,
		interval: tick,
		logger:   logger,
	}
}

// Run starts the periodic flush loop. It blocks until ctx is cancelled or
// Stop is called. Call this in a goroutine.
func (a *AutoSaver) Run(ctx context.Context) {
	a.stopMu.Lock()
	a.stopCh = make(chan struct{})
	a.doneCh = make(chan struct{})
	done := a.doneCh
	a.stopMu.Unlock()
	defer close(done)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.flushIfDue(time.Now())
		}
	}
}

// Stop signals the loop to exit. Safe to call multiple times and before Run.
func (a *AutoSaver) Stop() {
	a.stopMu.Lock()
	defer a.stopMu.Unlock()

	if a.stopCh != nil {
		select {
		case <-a.stopCh:
			// Already closed.
		default:
			close(a.stopCh)
		}
	}
}

// Shutdown stops the loop, waits for it to exit with a bounded timeout (a
// hung save must not block process exit), and issues one final synchronous
// save so no mutation is lost.
func (a *AutoSaver) Shutdown(timeout time.Duration) {
	a.Stop()

	a.stopMu.Lock()
	done := a.doneCh
	a.stopMu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-time.After(timeout):
			a.logger.Warn("memory: auto-save loop did not stop in time",
				"user_id", a.manager.UserID(),
				"timeout", timeout.String(),
			)
		}
	}

	if err := a.manager.Save(); err != nil {
		a.logger.Error("memory: final save on shutdown failed",
			"user_id", a.manager.UserID(),
			"err", err,
		)
	}
}

// flushIfDue evaluates the debounce conditions and saves when both hold.
// Save errors are logged and the flush is retried on the next tick.
func (a *AutoSaver) flushIfDue(now time.Time) {
	if !a.manager.saveDue(now) {
		return
	}
	if err := a.manager.Save(); err != nil {
		a.logger.Warn("memory: scheduled save failed, will retry",
			"user_id", a.manager.UserID(),
			"err", err,
		)
	}
}

// saveDue reports whether a scheduled flush should fire now: dirty stores,
// a full quiet period since the last mutation, and a full save interval
// since the last save.
func (m *Manager) saveDue(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.dirty {
		return false
	}
	if now.Sub(m.lastMut) < m.cfg.QuietPeriod {
		return false
	}
	if now.Sub(m.lastSave) < m.cfg.AutoSaveInterval {
		return false
	}
	return true
}
