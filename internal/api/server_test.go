package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/browser_fleet/internal/fleet"
	"github.com/dgnsrekt/browser_fleet/internal/relay"
)

type fakeService struct {
	sessions  map[string]fleet.SessionInfo
	createErr error
	created   []fleet.CreateOptions
	destroyed []string
	stats     fleet.Stats
}

func (f *fakeService) Create(ctx context.Context, opts fleet.CreateOptions) (fleet.SessionInfo, error) {
	if f.createErr != nil {
		return fleet.SessionInfo{}, f.createErr
	}
	f.created = append(f.created, opts)
	info := fleet.SessionInfo{
		ID:             "abc123def456",
		Status:         fleet.StateReady,
		CreatedAt:      time.Now(),
		LastActivityAt: time.Now(),
		Proxy:          opts.Proxy,
	}
	if opts.Headless != nil {
		info.Headless = *opts.Headless
	}
	return info, nil
}

func (f *fakeService) Get(id string) (fleet.SessionInfo, error) {
	info, ok := f.sessions[id]
	if !ok {
		return fleet.SessionInfo{}, fleet.NewError(fleet.CodeSessionNotFound, "session "+id+" not found", nil)
	}
	return info, nil
}

func (f *fakeService) List() []fleet.SessionInfo {
	out := make([]fleet.SessionInfo, 0, len(f.sessions))
	for _, info := range f.sessions {
		out = append(out, info)
	}
	return out
}

func (f *fakeService) Destroy(ctx context.Context, id string) error {
	if _, ok := f.sessions[id]; !ok {
		return fleet.NewError(fleet.CodeSessionNotFound, "session "+id+" not found", nil)
	}
	f.destroyed = append(f.destroyed, id)
	return nil
}

func (f *fakeService) Stats() fleet.Stats { return f.stats }

type fakeForwarder struct {
	sessionID string
	op        string
}

func (f *fakeForwarder) Forward(w http.ResponseWriter, r *http.Request, sessionID, op string) {
	f.sessionID = sessionID
	f.op = op
	w.WriteHeader(http.StatusOK)
}

func newTestServer(svc *fakeService, fwd *fakeForwarder) http.Handler {
	if svc.sessions == nil {
		svc.sessions = map[string]fleet.SessionInfo{}
	}
	return NewServer(svc, fwd, relay.NewBroker(), StatusConfig{IdleTimeout: 30 * time.Minute, ReapInterval: time.Minute})
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestCreateSession(t *testing.T) {
	svc := &fakeService{}
	h := newTestServer(svc, &fakeForwarder{})

	w := doJSON(t, h, http.MethodPost, "/api/v1/sessions", `{"headless":false,"proxy":"http://proxy.local:3128"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, http.StatusCreated, w.Body.String())
	}

	var info fleet.SessionInfo
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if info.ID != "abc123def456" {
		t.Fatalf("session_id = %q, want %q", info.ID, "abc123def456")
	}
	if len(svc.created) != 1 {
		t.Fatalf("create calls = %d, want 1", len(svc.created))
	}
	if svc.created[0].Headless == nil || *svc.created[0].Headless {
		t.Fatalf("headless option not passed through: %+v", svc.created[0])
	}
	if svc.created[0].Proxy != "http://proxy.local:3128" {
		t.Fatalf("proxy option = %q", svc.created[0].Proxy)
	}
}

func TestCreateSessionRejectsBadProxy(t *testing.T) {
	svc := &fakeService{}
	h := newTestServer(svc, &fakeForwarder{})

	w := doJSON(t, h, http.MethodPost, "/api/v1/sessions", `{"proxy":"ftp://nope"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, http.StatusBadRequest, w.Body.String())
	}
	if len(svc.created) != 0 {
		t.Fatalf("create calls = %d, want 0", len(svc.created))
	}
}

func TestCreateSessionErrorStatuses(t *testing.T) {
	cases := []struct {
		code string
		want int
	}{
		{fleet.CodePortExhausted, http.StatusServiceUnavailable},
		{fleet.CodeHealthCheckTimeout, http.StatusGatewayTimeout},
		{fleet.CodeWorkerSpawnFailed, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		svc := &fakeService{createErr: fleet.NewError(tc.code, "boom", nil)}
		h := newTestServer(svc, &fakeForwarder{})
		w := doJSON(t, h, http.MethodPost, "/api/v1/sessions", `{}`)
		if w.Code != tc.want {
			t.Fatalf("%s: status = %d, want %d (body %s)", tc.code, w.Code, tc.want, w.Body.String())
		}
	}
}

func TestGetSession(t *testing.T) {
	svc := &fakeService{sessions: map[string]fleet.SessionInfo{
		"s1": {ID: "s1", Status: fleet.StateReady},
	}}
	h := newTestServer(svc, &fakeForwarder{})

	w := doJSON(t, h, http.MethodGet, "/api/v1/sessions/s1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var info fleet.SessionInfo
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if info.ID != "s1" || info.Status != fleet.StateReady {
		t.Fatalf("unexpected session body: %+v", info)
	}

	w = doJSON(t, h, http.MethodGet, "/api/v1/sessions/missing", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing session status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestListSessions(t *testing.T) {
	svc := &fakeService{sessions: map[string]fleet.SessionInfo{
		"s1": {ID: "s1", Status: fleet.StateReady},
		"s2": {ID: "s2", Status: fleet.StateStarting},
	}}
	h := newTestServer(svc, &fakeForwarder{})

	w := doJSON(t, h, http.MethodGet, "/api/v1/sessions", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body struct {
		Sessions []fleet.SessionInfo `json:"sessions"`
		Count    int                 `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Count != 2 || len(body.Sessions) != 2 {
		t.Fatalf("count = %d, sessions = %d, want 2/2", body.Count, len(body.Sessions))
	}
}

func TestDestroySession(t *testing.T) {
	svc := &fakeService{sessions: map[string]fleet.SessionInfo{
		"s1": {ID: "s1", Status: fleet.StateReady},
	}}
	h := newTestServer(svc, &fakeForwarder{})

	w := doJSON(t, h, http.MethodDelete, "/api/v1/sessions/s1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, http.StatusOK, w.Body.String())
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Status != "destroyed" {
		t.Fatalf("status field = %q, want %q", body.Status, "destroyed")
	}
	if len(svc.destroyed) != 1 || svc.destroyed[0] != "s1" {
		t.Fatalf("destroyed = %v, want [s1]", svc.destroyed)
	}

	w = doJSON(t, h, http.MethodDelete, "/api/v1/sessions/missing", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing session status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestHealthz(t *testing.T) {
	h := newTestServer(&fakeService{}, &fakeForwarder{})

	w := doJSON(t, h, http.MethodGet, "/api/v1/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Fatalf("healthz body = %s", w.Body.String())
	}
}

func TestStatusSnapshot(t *testing.T) {
	svc := &fakeService{stats: fleet.Stats{Starting: 1, Ready: 3, PortsInUse: 4, PortCapacity: 10}}
	h := newTestServer(svc, &fakeForwarder{})

	w := doJSON(t, h, http.MethodGet, "/api/v1/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body struct {
		Fleet               fleet.Stats `json:"fleet"`
		PortsFree           int         `json:"ports_free"`
		IdleTimeoutSeconds  int         `json:"idle_timeout_seconds"`
		ReapIntervalSeconds int         `json:"reap_interval_seconds"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Fleet.Ready != 3 || body.Fleet.Starting != 1 {
		t.Fatalf("fleet counters = %+v", body.Fleet)
	}
	if body.PortsFree != 6 {
		t.Fatalf("ports_free = %d, want 6", body.PortsFree)
	}
	if body.IdleTimeoutSeconds != 1800 || body.ReapIntervalSeconds != 60 {
		t.Fatalf("reap settings = %d/%d, want 1800/60", body.IdleTimeoutSeconds, body.ReapIntervalSeconds)
	}
}

func TestWorkerRouteDispatch(t *testing.T) {
	fwd := &fakeForwarder{}
	h := newTestServer(&fakeService{}, fwd)

	w := doJSON(t, h, http.MethodPost, "/api/v1/sessions/s1/worker/new_tab", `{"url":"https://example.com"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if fwd.sessionID != "s1" || fwd.op != "new_tab" {
		t.Fatalf("forward got (%q, %q), want (s1, new_tab)", fwd.sessionID, fwd.op)
	}

	doJSON(t, h, http.MethodGet, "/api/v1/sessions/s2/worker/cookies/export", "")
	if fwd.sessionID != "s2" || fwd.op != "cookies/export" {
		t.Fatalf("nested forward got (%q, %q), want (s2, cookies/export)", fwd.sessionID, fwd.op)
	}
}

func TestDocsDarkMode(t *testing.T) {
	h := newTestServer(&fakeService{}, &fakeForwarder{})

	w := doJSON(t, h, http.MethodGet, "/docs", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `data-theme="dark"`) {
		t.Fatalf("docs missing dark theme marker")
	}
}

func TestEventsDocsPage(t *testing.T) {
	h := newTestServer(&fakeService{}, &fakeForwarder{})

	w := doJSON(t, h, http.MethodGet, "/docs/events", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body := w.Body.String()
	for _, want := range []string{"session.created", "session.reaped", "/api/v1/events/ws"} {
		if !strings.Contains(body, want) {
			t.Fatalf("events docs missing %q", want)
		}
	}
}

func TestOpenAPIServed(t *testing.T) {
	h := newTestServer(&fakeService{}, &fakeForwarder{})

	w := doJSON(t, h, http.MethodGet, "/openapi.json", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "Browser Fleet Coordinator API") {
		t.Fatalf("openapi.json missing API title")
	}
}

func TestMapErrStatuses(t *testing.T) {
	cases := []struct {
		code string
		want int
	}{
		{fleet.CodeValidation, http.StatusBadRequest},
		{fleet.CodeSessionNotFound, http.StatusNotFound},
		{fleet.CodeSessionNotReady, http.StatusConflict},
		{fleet.CodePortExhausted, http.StatusServiceUnavailable},
		{fleet.CodeHealthCheckTimeout, http.StatusGatewayTimeout},
		{fleet.CodeOperationTimeout, http.StatusGatewayTimeout},
		{fleet.CodeWorkerUnreachable, http.StatusBadGateway},
		{fleet.CodeWorkerError, http.StatusBadGateway},
		{fleet.CodeWorkerSpawnFailed, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		err := mapErr(fleet.NewError(tc.code, "boom", nil))
		var se huma.StatusError
		if !errors.As(err, &se) {
			t.Fatalf("mapErr(%s) = %T, want StatusError", tc.code, err)
		}
		if se.GetStatus() != tc.want {
			t.Fatalf("mapErr(%s) status = %d, want %d", tc.code, se.GetStatus(), tc.want)
		}
	}

	if mapErr(nil) != nil {
		t.Fatalf("mapErr(nil) != nil")
	}
	if se := mapErr(errors.New("plain")); se == nil {
		t.Fatalf("mapErr(plain) = nil, want 500 error")
	}
}
