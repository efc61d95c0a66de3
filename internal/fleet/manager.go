// Package fleet is the session orchestration core: it owns the registry of
// live sessions, allocates each worker's host port, gates readiness, routes
// teardown, and reclaims idle sessions.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgnsrekt/browser_fleet/internal/relay"
)

// stopTimeout bounds worker teardown calls that run off the request path
// (rollback, reaping).
const stopTimeout = 30 * time.Second

// SpawnSpec tells the supervisor what to launch for one session.
type SpawnSpec struct {
	SessionID string
	HostPort  int
	Headless  bool
	Proxy     string
}

// WorkerSupervisor starts and stops isolated worker instances. Stop must be
// idempotent: stopping an instance that is already gone is not an error.
type WorkerSupervisor interface {
	Spawn(ctx context.Context, spec SpawnSpec) (handle string, err error)
	Stop(ctx context.Context, handle string) error
}

// ManagerOptions tune session lifecycle behavior.
type ManagerOptions struct {
	HeadlessDefault bool
	HealthTimeout   time.Duration
	IdleTimeout     time.Duration
	ReapInterval    time.Duration
	// MaxSessions caps live sessions when > 0; the port range is the only
	// cap otherwise.
	MaxSessions int
}

// Manager is the authoritative session registry. The registry mutex guards
// only map access; spawning and health waits run outside it so unrelated
// creates never block each other. Per-session mutexes serialize forwarded
// operations and teardown on one session.
type Manager struct {
	supervisor WorkerSupervisor
	ports      *PortAllocator
	gate       *HealthGate
	broker     *relay.Broker
	opts       ManagerOptions

	mu       sync.Mutex
	sessions map[string]*session

	sessionLocksMu sync.Mutex
	sessionLocks   map[string]*sync.Mutex

	reapDone chan struct{}
	reapOnce sync.Once
	started  bool
}

// NewManager wires the registry to its collaborators.
func NewManager(supervisor WorkerSupervisor, ports *PortAllocator, gate *HealthGate, broker *relay.Broker, opts ManagerOptions) *Manager {
	return &Manager{
		supervisor:   supervisor,
		ports:        ports,
		gate:         gate,
		broker:       broker,
		opts:         opts,
		sessions:     make(map[string]*session),
		sessionLocks: make(map[string]*sync.Mutex),
		reapDone:     make(chan struct{}),
	}
}

// Create allocates a port, spawns a worker, and waits for it to report
// healthy. Any failure rolls everything back: the worker is stopped, the
// port released, the record deleted. A failed create never leaves a
// resource behind.
func (m *Manager) Create(ctx context.Context, opts CreateOptions) (SessionInfo, error) {
	headless := m.opts.HeadlessDefault
	if opts.Headless != nil {
		headless = *opts.Headless
	}

	port, err := m.ports.Allocate()
	if err != nil {
		return SessionInfo{}, err
	}

	startCtx, cancel := context.WithCancel(ctx)
	now := time.Now()
	s := &session{
		port:           port,
		status:         StateStarting,
		createdAt:      now,
		lastActivityAt: now,
		headless:       headless,
		proxy:          opts.Proxy,
		cancelStart:    cancel,
	}

	m.mu.Lock()
	if m.opts.MaxSessions > 0 && len(m.sessions) >= m.opts.MaxSessions {
		m.mu.Unlock()
		cancel()
		m.ports.Release(port)
		return SessionInfo{}, NewError(CodePortExhausted,
			fmt.Sprintf("session limit %d reached", m.opts.MaxSessions), nil)
	}
	s.id = m.newIDLocked()
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.publish(relay.TypeSessionCreated, s.id, "")
	slog.Info("session starting", "session_id", s.id, "port", port, "headless", headless)

	// Long-running steps, outside every lock.
	handle, err := m.supervisor.Spawn(startCtx, SpawnSpec{
		SessionID: s.id, HostPort: port, Headless: headless, Proxy: opts.Proxy,
	})
	if err != nil {
		m.rollbackCreate(s, handle, "spawn failed")
		if startCtx.Err() != nil {
			return SessionInfo{}, NewError(CodeSessionNotFound,
				fmt.Sprintf("session %s destroyed during startup", s.id), startCtx.Err())
		}
		return SessionInfo{}, err
	}

	if err := m.gate.Await(startCtx, port, m.opts.HealthTimeout); err != nil {
		m.rollbackCreate(s, handle, "health check failed")
		if errors.Is(err, context.Canceled) {
			return SessionInfo{}, NewError(CodeSessionNotFound,
				fmt.Sprintf("session %s destroyed during startup", s.id), err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return SessionInfo{}, NewError(CodeHealthCheckTimeout,
				fmt.Sprintf("session %s creation deadline expired", s.id), err)
		}
		return SessionInfo{}, err
	}

	// Flip to ready, unless a destroy won the race while the gate was open.
	m.mu.Lock()
	cur, ok := m.sessions[s.id]
	if !ok || cur != s || startCtx.Err() != nil {
		m.mu.Unlock()
		m.rollbackCreate(s, handle, "destroyed during startup")
		return SessionInfo{}, NewError(CodeSessionNotFound,
			fmt.Sprintf("session %s destroyed during startup", s.id), nil)
	}
	s.handle = handle
	s.status = StateReady
	s.cancelStart = nil
	readyAt := time.Now()
	s.lastActivityAt = readyAt
	info := s.snapshot(readyAt)
	m.mu.Unlock()

	m.publish(relay.TypeSessionReady, s.id, "")
	slog.Info("session ready", "session_id", s.id, "port", port)
	return info, nil
}

// rollbackCreate undoes a partial create: record out of the registry first,
// then the worker, then the port. Runs on a background context so a dead
// caller cannot strand the worker.
func (m *Manager) rollbackCreate(s *session, handle, reason string) {
	m.mu.Lock()
	if cur, ok := m.sessions[s.id]; ok && cur == s {
		s.status = StateFailed
		delete(m.sessions, s.id)
	}
	m.mu.Unlock()
	m.pruneSessionLock(s.id)

	if handle != "" {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		if err := m.supervisor.Stop(stopCtx, handle); err != nil {
			slog.Error("rollback worker stop failed", "session_id", s.id, "error", err)
		}
		cancel()
	}
	m.ports.Release(s.port)
	m.publish(relay.TypeSessionFailed, s.id, reason)
	slog.Warn("session creation rolled back", "session_id", s.id, "reason", reason)
}

// Destroy tears a session down. Absent ids fail with SESSION_NOT_FOUND. A
// session still starting has its health wait cancelled and its record
// removed; the creator owns the resource rollback. A ready session is torn
// down under its per-session lock so concurrent destroys, forwards, and the
// reaper serialize and teardown runs exactly once.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return NewError(CodeSessionNotFound, fmt.Sprintf("no session %s", id), nil)
	}
	if s.status == StateStarting {
		if s.cancelStart != nil {
			s.cancelStart()
		}
		delete(m.sessions, id)
		m.mu.Unlock()
		m.pruneSessionLock(id)
		slog.Info("session destroy interrupted startup", "session_id", id)
		return nil
	}
	m.mu.Unlock()

	lock := m.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	// A concurrent destroy or the reaper may have finished while we waited.
	m.mu.Lock()
	cur, ok := m.sessions[id]
	if !ok || cur != s {
		m.mu.Unlock()
		return NewError(CodeSessionNotFound, fmt.Sprintf("no session %s", id), nil)
	}
	m.mu.Unlock()

	return m.teardown(ctx, s, relay.TypeSessionDestroyed, "")
}

// teardown stops the worker, removes the record, and releases the port, in
// that order: the record leaves the registry before the port returns to the
// pool so no instant exists where two records could share an endpoint.
// Caller holds the per-session lock. On a stop failure the record stays so
// destroy can be retried (and the reaper will keep retrying).
func (m *Manager) teardown(ctx context.Context, s *session, eventType, detail string) error {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()
	if err := m.supervisor.Stop(stopCtx, s.handle); err != nil {
		return fmt.Errorf("stop worker for session %s: %w", s.id, err)
	}

	m.mu.Lock()
	s.status = StateDestroyed
	delete(m.sessions, s.id)
	m.mu.Unlock()
	m.pruneSessionLock(s.id)
	m.ports.Release(s.port)

	m.publish(eventType, s.id, detail)
	slog.Info("session destroyed", "session_id", s.id, "event", eventType)
	return nil
}

// Get returns a snapshot of one session.
func (m *Manager) Get(id string) (SessionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return SessionInfo{}, NewError(CodeSessionNotFound, fmt.Sprintf("no session %s", id), nil)
	}
	return s.snapshot(time.Now()), nil
}

// List returns snapshots of all live sessions, oldest first.
func (m *Manager) List() []SessionInfo {
	now := time.Now()
	m.mu.Lock()
	infos := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, s.snapshot(now))
	}
	m.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Stats summarizes registry and port-pool occupancy.
type Stats struct {
	Starting     int `json:"starting"`
	Ready        int `json:"ready"`
	PortsInUse   int `json:"ports_in_use"`
	PortCapacity int `json:"port_capacity"`
}

// Stats returns current occupancy counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	st := Stats{}
	for _, s := range m.sessions {
		switch s.status {
		case StateStarting:
			st.Starting++
		case StateReady:
			st.Ready++
		}
	}
	m.mu.Unlock()
	st.PortsInUse = m.ports.InUse()
	st.PortCapacity = m.ports.Capacity()
	return st
}

// Shutdown stops the reaper, tears down every live session, and closes the
// event feed. Teardown here is an obligation, not best effort: each failure
// is collected and reported, never skipped silently.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stopReaper()

	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := m.Destroy(ctx, id); err != nil && !IsCode(err, CodeSessionNotFound) {
			errs = append(errs, fmt.Errorf("session %s: %w", id, err))
		}
	}
	if m.broker != nil {
		m.broker.Close()
	}
	slog.Info("session manager shut down", "sessions_torn_down", len(ids), "failures", len(errs))
	return errors.Join(errs...)
}

// IsCode reports whether err carries the given taxonomy code.
func IsCode(err error, code string) bool {
	var coded *CodedError
	return errors.As(err, &coded) && coded.Code == code
}

func (m *Manager) newIDLocked() string {
	for {
		id := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		if _, exists := m.sessions[id]; !exists {
			return id
		}
	}
}

func (m *Manager) sessionLock(id string) *sync.Mutex {
	m.sessionLocksMu.Lock()
	defer m.sessionLocksMu.Unlock()
	l, ok := m.sessionLocks[id]
	if !ok {
		l = &sync.Mutex{}
		m.sessionLocks[id] = l
	}
	return l
}

func (m *Manager) pruneSessionLock(id string) {
	m.sessionLocksMu.Lock()
	delete(m.sessionLocks, id)
	m.sessionLocksMu.Unlock()
}

func (m *Manager) publish(eventType, id, detail string) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(relay.Event{Type: eventType, SessionID: id, At: time.Now(), Detail: detail})
}
