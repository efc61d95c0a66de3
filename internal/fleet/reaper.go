package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgnsrekt/browser_fleet/internal/relay"
)

// StartReaper launches the background idle sweep. No-op when the idle
// timeout is disabled or the reaper already runs.
func (m *Manager) StartReaper() {
	if m.opts.IdleTimeout <= 0 || m.opts.ReapInterval <= 0 {
		slog.Info("idle reaper disabled")
		return
	}
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()
	go m.reapLoop()
}

func (m *Manager) stopReaper() {
	m.reapOnce.Do(func() { close(m.reapDone) })
}

func (m *Manager) reapLoop() {
	ticker := time.NewTicker(m.opts.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.reapIdle()
		case <-m.reapDone:
			return
		}
	}
}

// reapIdle destroys every ready session idle past the threshold. One
// session failing to die never stops the sweep from reaching the rest.
func (m *Manager) reapIdle() {
	now := time.Now()
	m.mu.Lock()
	var stale []string
	for id, s := range m.sessions {
		if s.status == StateReady && now.Sub(s.lastActivityAt) > m.opts.IdleTimeout {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		if err := m.reapOne(id); err != nil {
			slog.Warn("idle reap failed", "session_id", id, "error", err)
		}
	}
}

// reapOne re-checks idleness after taking the session's lock: a forward may
// have refreshed the session while the sweep waited, and a session that
// just became active must be spared.
func (m *Manager) reapOne(id string) error {
	lock := m.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok || s.status != StateReady {
		m.mu.Unlock()
		return nil
	}
	idle := time.Since(s.lastActivityAt)
	if idle <= m.opts.IdleTimeout {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	slog.Info("reaping idle session", "session_id", id, "idle", idle.Round(time.Second))
	return m.teardown(context.Background(), s, relay.TypeSessionReaped,
		fmt.Sprintf("idle for %s", idle.Round(time.Second)))
}
