package bucket

import (
	"context"
	"log/slog"
	"time"

	"github.com/functionland/fula-gateway/internal/metrics"
)

// DefaultWatchInterval is how often the pointer file is polled for changes
// made by external writers.
const DefaultWatchInterval = 30 * time.Second

// Watch polls the registry pointer file until ctx is cancelled. When the
// pointer names a CID other than the one last loaded or written by this
// process, the registry is reloaded from the block store. Errors are logged
// and polling continues; a broken cycle must never take the watcher down.
func (m *Manager) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("registry watcher started", "path", m.pointerPath, "interval", interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("registry watcher stopped")
			return
		case <-ticker.C:
			m.checkPointer(ctx)
		}
	}
}

// checkPointer runs one poll cycle.
func (m *Manager) checkPointer(ctx context.Context) {
	cid, err := m.ReadPointerFile()
	if err != nil {
		slog.Error("registry watcher read error", "error", err)
		return
	}
	// An empty cid means the pointer file vanished or was blanked. That is
	// still a transition when we previously saw a CID, so it falls through to
	// the comparison and reloads into an empty registry.
	m.mu.Lock()
	changed := cid != m.lastSeen
	m.mu.Unlock()
	if !changed {
		return
	}

	slog.Info("registry pointer changed, reloading", "cid", cid)
	users, err := m.LoadRegistry(ctx)
	if err != nil {
		slog.Error("registry reload error", "error", err, "cid", cid)
		return
	}
	metrics.RegistryReloadsTotal.Inc()
	slog.Info("registry reloaded", "users", users, "cid", cid)
}
