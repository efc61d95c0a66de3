package fleet

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/browser_fleet/internal/relay"
)

func newReaperManager(opts ManagerOptions) (*Manager, *fakeSupervisor, *relay.Broker) {
	sup := newFakeSupervisor(true)
	broker := relay.NewBroker()
	m := NewManager(sup, newTestAllocator(9101, 16), NewHealthGate(time.Millisecond), broker, opts)
	return m, sup, broker
}

// injectIdle plants a ready session whose last activity lies idleFor in the
// past, with a port really claimed from the pool.
func injectIdle(m *Manager, id string, idleFor time.Duration) *session {
	s := injectSession(m, id, StateReady)
	port, _ := m.ports.Allocate()
	m.mu.Lock()
	s.port = port
	s.lastActivityAt = time.Now().Add(-idleFor)
	m.mu.Unlock()
	return s
}

func TestReapIdleDestroysStaleSessions(t *testing.T) {
	m, sup, broker := newReaperManager(ManagerOptions{IdleTimeout: time.Hour})
	_, ch := broker.Subscribe()

	injectIdle(m, "stale", 2*time.Hour)
	injectIdle(m, "fresh", 0)

	m.reapIdle()

	if _, err := m.Get("stale"); !IsCode(err, CodeSessionNotFound) {
		t.Fatalf("Get(stale) error = %v, want %s", err, CodeSessionNotFound)
	}
	if _, err := m.Get("fresh"); err != nil {
		t.Fatalf("Get(fresh) error = %v, want the session spared", err)
	}
	if st := m.Stats(); st.PortsInUse != 1 {
		t.Fatalf("ports in use = %d, want 1 (stale port released)", st.PortsInUse)
	}
	if got := sup.stopCount("h-stale"); got != 1 {
		t.Fatalf("stops for stale worker = %d, want 1", got)
	}

	select {
	case evt := <-ch:
		if evt.Type != relay.TypeSessionReaped || evt.SessionID != "stale" {
			t.Fatalf("event = %+v, want %s for stale", evt, relay.TypeSessionReaped)
		}
		if !strings.HasPrefix(evt.Detail, "idle for") {
			t.Fatalf("event detail = %q, want an idle duration", evt.Detail)
		}
	case <-time.After(time.Second):
		t.Fatalf("no reap event published")
	}
}

func TestReapSkipsStartingSessions(t *testing.T) {
	m, _, _ := newReaperManager(ManagerOptions{IdleTimeout: time.Hour})

	s := injectSession(m, "booting", StateStarting)
	m.mu.Lock()
	s.lastActivityAt = time.Now().Add(-2 * time.Hour)
	m.mu.Unlock()

	m.reapIdle()

	if _, err := m.Get("booting"); err != nil {
		t.Fatalf("Get(booting) error = %v, want starting session spared", err)
	}
}

func TestReapFailureIsolatedAndRetried(t *testing.T) {
	m, sup, _ := newReaperManager(ManagerOptions{IdleTimeout: time.Hour})

	injectIdle(m, "sticky", 2*time.Hour)
	injectIdle(m, "plain", 2*time.Hour)
	sup.mu.Lock()
	sup.stopErrFor["h-sticky"] = errors.New("daemon busy")
	sup.mu.Unlock()

	m.reapIdle()

	// The failed teardown leaves its record and port so the sweep can retry;
	// the other session still went down.
	if _, err := m.Get("sticky"); err != nil {
		t.Fatalf("Get(sticky) error = %v, want record kept after stop failure", err)
	}
	if _, err := m.Get("plain"); !IsCode(err, CodeSessionNotFound) {
		t.Fatalf("Get(plain) error = %v, want %s", err, CodeSessionNotFound)
	}
	if st := m.Stats(); st.PortsInUse != 1 {
		t.Fatalf("ports in use = %d, want 1", st.PortsInUse)
	}

	sup.mu.Lock()
	delete(sup.stopErrFor, "h-sticky")
	sup.mu.Unlock()

	m.reapIdle()

	if _, err := m.Get("sticky"); !IsCode(err, CodeSessionNotFound) {
		t.Fatalf("Get(sticky) after retry error = %v, want %s", err, CodeSessionNotFound)
	}
	if st := m.Stats(); st.PortsInUse != 0 {
		t.Fatalf("ports in use after retry = %d, want 0", st.PortsInUse)
	}
}

func TestReapSparesRecentlyTouched(t *testing.T) {
	m, sup, _ := newReaperManager(ManagerOptions{IdleTimeout: time.Hour})

	injectIdle(m, "revived", 2*time.Hour)
	// A forward lands between the sweep's snapshot and the per-session lock.
	m.Touch("revived")

	if err := m.reapOne("revived"); err != nil {
		t.Fatalf("reapOne() error = %v", err)
	}
	if _, err := m.Get("revived"); err != nil {
		t.Fatalf("Get(revived) error = %v, want touched session spared", err)
	}
	if sup.stopTotal() != 0 {
		t.Fatalf("stops = %d, want 0", sup.stopTotal())
	}
}

func TestStartReaperDisabledWithoutIdleTimeout(t *testing.T) {
	m, _, _ := newReaperManager(ManagerOptions{IdleTimeout: 0, ReapInterval: time.Second})

	m.StartReaper()

	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if started {
		t.Fatalf("reaper started despite disabled idle timeout")
	}
}

func TestReaperLoopSweeps(t *testing.T) {
	m, _, _ := newReaperManager(ManagerOptions{IdleTimeout: 10 * time.Millisecond, ReapInterval: 20 * time.Millisecond})

	injectIdle(m, "doomed", time.Minute)
	m.StartReaper()
	defer m.stopReaper()

	waitFor(t, func() bool {
		_, err := m.Get("doomed")
		return IsCode(err, CodeSessionNotFound)
	}, "idle session to be reaped")
}
