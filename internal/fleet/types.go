package fleet

import (
	"context"
	"fmt"
	"time"
)

const (
	CodeValidation         = "VALIDATION"
	CodeSessionNotFound    = "SESSION_NOT_FOUND"
	CodeSessionNotReady    = "SESSION_NOT_READY"
	CodePortExhausted      = "PORT_EXHAUSTED"
	CodeWorkerSpawnFailed  = "WORKER_SPAWN_FAILED"
	CodeHealthCheckTimeout = "HEALTH_CHECK_TIMEOUT"
	CodeWorkerUnreachable  = "WORKER_UNREACHABLE"
	CodeWorkerError        = "WORKER_ERROR"
	CodeOperationTimeout   = "OPERATION_TIMEOUT"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

// NewError builds a CodedError. Message must be safe for callers; transport
// details (addresses, dial errors) belong in Cause, which only reaches logs.
func NewError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// SessionState is the lifecycle state of a session record.
type SessionState string

const (
	StateStarting  SessionState = "starting"
	StateReady     SessionState = "ready"
	StateFailed    SessionState = "failed"
	StateDestroyed SessionState = "destroyed"
)

// TabInfo is the coordinator's last-known view of one worker tab. The worker
// owns tab state; this is a cache refreshed by forwarded tab operations.
type TabInfo struct {
	ID      string `json:"id"`
	URL     string `json:"url,omitempty"`
	Current bool   `json:"current"`
}

// InterceptRule is one pattern/action pair last applied to the worker's
// network interception.
type InterceptRule struct {
	Pattern string `json:"pattern"`
	Action  string `json:"action"`
}

// CreateOptions are the caller-supplied knobs for a new session.
type CreateOptions struct {
	// Headless overrides the configured default when non-nil.
	Headless *bool
	// Proxy is passed to the worker verbatim when non-empty.
	Proxy string
}

// session is the internal registry record. Only the manager touches it; all
// reads by callers go through SessionInfo snapshots.
type session struct {
	id     string
	handle string // container id, empty until spawned
	port   int

	status         SessionState
	createdAt      time.Time
	lastActivityAt time.Time

	headless bool
	proxy    string

	tabs           []TabInfo
	interceptRules []InterceptRule

	// cancelStart interrupts the health wait when a destroy lands while the
	// session is still starting. Nil once the session is ready.
	cancelStart context.CancelFunc
}

// SessionInfo is a caller-visible snapshot of one session. Worker endpoint
// addressing stays internal.
type SessionInfo struct {
	ID             string          `json:"session_id"`
	Status         SessionState    `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	LastActivityAt time.Time       `json:"last_activity_at"`
	Headless       bool            `json:"headless"`
	Proxy          string          `json:"proxy,omitempty"`
	Tabs           []TabInfo       `json:"tabs,omitempty"`
	InterceptRules []InterceptRule `json:"intercept_rules,omitempty"`
	AgeSeconds     int64           `json:"age_seconds"`
	IdleSeconds    int64           `json:"idle_seconds"`
}

func (s *session) snapshot(now time.Time) SessionInfo {
	info := SessionInfo{
		ID:             s.id,
		Status:         s.status,
		CreatedAt:      s.createdAt,
		LastActivityAt: s.lastActivityAt,
		Headless:       s.headless,
		Proxy:          s.proxy,
		AgeSeconds:     int64(now.Sub(s.createdAt).Seconds()),
		IdleSeconds:    int64(now.Sub(s.lastActivityAt).Seconds()),
	}
	if len(s.tabs) > 0 {
		info.Tabs = append([]TabInfo(nil), s.tabs...)
	}
	if len(s.interceptRules) > 0 {
		info.InterceptRules = append([]InterceptRule(nil), s.interceptRules...)
	}
	return info
}
