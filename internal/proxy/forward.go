// Package proxy forwards session-scoped operations to the owning worker.
// Operations are opaque here: the worker defines their names, parameters,
// and result shapes; this layer only routes, bounds, and translates errors.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dgnsrekt/browser_fleet/internal/fleet"
)

// maxForwardTimeout caps per-request deadline overrides so no forward can
// block unbounded.
const maxForwardTimeout = 10 * time.Minute

// sniffLimit bounds how much of a tab/interception op's body is buffered
// for the record caches. Anything larger is forwarded untouched.
const sniffLimit = 1 << 20

// SessionGateway is what the forwarder needs from the session registry.
type SessionGateway interface {
	BeginOperation(id string) (port int, release func(), err error)
	Touch(id string)
	ReplaceTabs(id string, tabs []fleet.TabInfo)
	AddTab(id string, tab fleet.TabInfo)
	SetCurrentTab(id, tabID string)
	RemoveTab(id, tabID string)
	SetCurrentTabURL(id, url string)
	ReplaceInterceptRules(id string, rules []fleet.InterceptRule)
}

// Forwarder relays one operation at a time per session to its worker.
type Forwarder struct {
	sessions SessionGateway
	client   *http.Client
	timeout  time.Duration
}

// NewForwarder builds a forwarder with the given default per-operation
// deadline. The HTTP client carries no global timeout: per-request contexts
// bound every call, and a client timeout would break streamed payloads.
func NewForwarder(sessions SessionGateway, timeout time.Duration) *Forwarder {
	return &Forwarder{
		sessions: sessions,
		client: &http.Client{
			// Redirects are the worker's business; hand them back.
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: timeout,
	}
}

// Forward routes one operation to the worker owning the session. The op
// path, query, and body pass through verbatim; the worker's success
// responses return unchanged (streamed when large). Worker-reported errors
// come back with the worker's status and message under the WORKER_ERROR
// kind. Routing failures never expose worker addressing.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, sessionID, op string) {
	op = strings.Trim(op, "/")
	if op == "" || hasDotDot(op) {
		writeError(w, http.StatusBadRequest, fleet.CodeValidation,
			"invalid operation path", sessionID, op)
		return
	}

	timeout := f.timeout
	if raw := r.Header.Get("X-Forward-Timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, fleet.CodeValidation,
				"invalid X-Forward-Timeout", sessionID, op)
			return
		}
		if d > maxForwardTimeout {
			d = maxForwardTimeout
		}
		timeout = d
	}

	port, release, err := f.sessions.BeginOperation(sessionID)
	if err != nil {
		writeCoded(w, err, sessionID, op)
		return
	}
	defer release()

	// Tab and interception ops get buffered so their confirmed effects can
	// be mirrored into the session record.
	sniff := sniffable(op)
	var reqBody []byte
	upstreamBody := io.Reader(r.Body)
	if sniff && r.Body != nil {
		buf, err := io.ReadAll(io.LimitReader(r.Body, sniffLimit+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, fleet.CodeValidation,
				"reading request body", sessionID, op)
			return
		}
		if len(buf) > sniffLimit {
			sniff = false
			upstreamBody = io.MultiReader(bytes.NewReader(buf), r.Body)
		} else {
			reqBody = buf
			upstreamBody = bytes.NewReader(buf)
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	target := workerURL(port, op, r.URL.RawQuery)
	upstreamReq, err := http.NewRequestWithContext(ctx, r.Method, target, upstreamBody)
	if err != nil {
		writeError(w, http.StatusBadRequest, fleet.CodeValidation,
			"building worker request", sessionID, op)
		return
	}
	copyHeaders(upstreamReq.Header, r.Header)

	resp, err := f.client.Do(upstreamReq)
	if err != nil {
		f.writeTransportError(w, err, sessionID, op)
		return
	}
	defer resp.Body.Close()

	// The worker answered; the session is demonstrably in use even when the
	// answer is an operation error.
	f.sessions.Touch(sessionID)

	if resp.StatusCode >= http.StatusBadRequest {
		writeError(w, resp.StatusCode, fleet.CodeWorkerError,
			workerErrorMessage(resp), sessionID, op)
		return
	}

	if sniff {
		respBody, err := io.ReadAll(io.LimitReader(resp.Body, sniffLimit))
		if err != nil {
			writeError(w, http.StatusBadGateway, fleet.CodeWorkerUnreachable,
				"reading worker response", sessionID, op)
			return
		}
		f.applyCacheUpdate(sessionID, op, reqBody, respBody)
		copyHeaders(w.Header(), resp.Header)
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(respBody)
		return
	}

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	streamBody(w, resp)
}

func (f *Forwarder) writeTransportError(w http.ResponseWriter, err error, sessionID, op string) {
	switch {
	case errors.Is(err, context.Canceled):
		// Caller went away; nobody is reading the response.
		slog.Debug("forward cancelled", "session_id", sessionID, "operation", op)
	case errors.Is(err, context.DeadlineExceeded):
		slog.Warn("forward timed out", "session_id", sessionID, "operation", op)
		writeError(w, http.StatusGatewayTimeout, fleet.CodeOperationTimeout,
			"operation deadline exceeded", sessionID, op)
	default:
		// Transport detail (addresses, dial errors) stays in the log.
		slog.Warn("worker unreachable", "session_id", sessionID, "operation", op, "error", err)
		writeError(w, http.StatusBadGateway, fleet.CodeWorkerUnreachable,
			"worker unreachable", sessionID, op)
	}
}

func workerURL(port int, op, rawQuery string) string {
	url := "http://127.0.0.1:" + strconv.Itoa(port) + "/" + op
	if rawQuery != "" {
		url += "?" + rawQuery
	}
	return url
}

func hasDotDot(op string) bool {
	for _, seg := range strings.Split(op, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

// copyHeaders copies HTTP headers, excluding hop-by-hop headers that must
// not travel between connections.
func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		switch strings.ToLower(k) {
		case "connection", "keep-alive", "transfer-encoding",
			"te", "trailer", "upgrade", "host":
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// streamBody copies the worker response through, flushing incrementally for
// chunked or event-stream payloads so large screenshots and downloads are
// never buffered whole.
func streamBody(w http.ResponseWriter, resp *http.Response) {
	flusher, canFlush := w.(http.Flusher)
	if !canFlush || !isStreamingResponse(resp) {
		_, _ = io.Copy(w, resp.Body)
		return
	}
	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			flusher.Flush()
		}
		if err != nil {
			return
		}
	}
}

func isStreamingResponse(resp *http.Response) bool {
	ct := resp.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "text/event-stream") || strings.Contains(ct, "application/x-ndjson") {
		return true
	}
	for _, te := range resp.TransferEncoding {
		if te == "chunked" {
			return true
		}
	}
	return false
}
