package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/dgnsrekt/browser_fleet/internal/fleet"
	"github.com/dgnsrekt/browser_fleet/internal/relay"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Service is the session registry surface the REST handlers call.
type Service interface {
	Create(ctx context.Context, opts fleet.CreateOptions) (fleet.SessionInfo, error)
	Get(id string) (fleet.SessionInfo, error)
	List() []fleet.SessionInfo
	Destroy(ctx context.Context, id string) error
	Stats() fleet.Stats
}

// Forwarder relays one request to a session's worker and writes the
// response. Implementations own error translation for the relayed call.
type Forwarder interface {
	Forward(w http.ResponseWriter, r *http.Request, sessionID, op string)
}

// StatusConfig carries the static reaper settings echoed by the status
// endpoint.
type StatusConfig struct {
	IdleTimeout  time.Duration
	ReapInterval time.Duration
}

func NewServer(svc Service, fwd Forwarder, broker *relay.Broker, status StatusConfig) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Browser Fleet Coordinator API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	router.Get("/docs/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(eventsDocsHTML)); err != nil {
			slog.Debug("events docs response write failed", "error", err)
		}
	})

	registerSessionHandlers(api, svc)
	registerStatusHandlers(api, svc, status, time.Now())

	// Worker ops stay outside huma: the coordinator relays them opaquely,
	// so there is no schema to publish and any method is legal.
	router.HandleFunc("/api/v1/sessions/{id}/worker/*", func(w http.ResponseWriter, r *http.Request) {
		fwd.Forward(w, r, chi.URLParam(r, "id"), chi.URLParam(r, "*"))
	})
	router.Get("/api/v1/events", relay.SSEHandler(broker))
	router.Get("/api/v1/events/ws", relay.WSHandler(broker))

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *fleet.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case fleet.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case fleet.CodeSessionNotFound:
			return huma.Error404NotFound(coded.Message)
		case fleet.CodeSessionNotReady:
			return huma.Error409Conflict(coded.Message)
		case fleet.CodePortExhausted:
			return huma.Error503ServiceUnavailable(coded.Message)
		case fleet.CodeHealthCheckTimeout, fleet.CodeOperationTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case fleet.CodeWorkerUnreachable, fleet.CodeWorkerError:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
