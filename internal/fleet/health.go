package fleet

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HealthGate polls a worker's readiness endpoint until it answers 200,
// the timeout elapses, or the wait is cancelled. Each Await is independent;
// concurrent gates for different sessions never serialize on each other.
type HealthGate struct {
	// Interval between probes.
	Interval time.Duration
	// client caps each individual probe so one hung connection cannot eat
	// the whole budget.
	client *http.Client
}

// NewHealthGate builds a gate probing every interval with a short per-probe
// timeout.
func NewHealthGate(interval time.Duration) *HealthGate {
	if interval <= 0 {
		interval = time.Second
	}
	probeTimeout := interval
	if probeTimeout > 5*time.Second {
		probeTimeout = 5 * time.Second
	}
	return &HealthGate{
		Interval: interval,
		client:   &http.Client{Timeout: probeTimeout},
	}
}

// Await blocks until the worker on the given host port reports healthy.
// Connection errors and non-200 responses both mean "not yet" and are
// retried until the budget runs out. Returns HEALTH_CHECK_TIMEOUT when the
// timeout elapses and the context error when cancelled (the destroy path
// interrupts starting sessions this way).
func (g *HealthGate) Await(ctx context.Context, port int, timeout time.Duration) error {
	url := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	deadline := time.After(timeout)
	ticker := time.NewTicker(g.Interval)
	defer ticker.Stop()

	if g.probe(ctx, url) {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return NewError(CodeHealthCheckTimeout,
				fmt.Sprintf("worker not healthy within %s", timeout), nil)
		case <-ticker.C:
			if g.probe(ctx, url) {
				return nil
			}
		}
	}
}

func (g *HealthGate) probe(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
