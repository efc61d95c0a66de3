package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/browser_fleet/internal/fleet"
)

func registerStatusHandlers(api huma.API, svc Service, status StatusConfig, start time.Time) {
	type healthzOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "healthz", Method: http.MethodGet, Path: "/api/v1/healthz", Summary: "Liveness check", Tags: []string{"Status"}},
		func(ctx context.Context, input *struct{}) (*healthzOutput, error) {
			out := &healthzOutput{}
			out.Body.Status = "ok"
			return out, nil
		})

	type statusOutput struct {
		Body struct {
			Fleet               fleet.Stats `json:"fleet"`
			PortsFree           int         `json:"ports_free"`
			UptimeSeconds       int64       `json:"uptime_seconds"`
			IdleTimeoutSeconds  int         `json:"idle_timeout_seconds"`
			ReapIntervalSeconds int         `json:"reap_interval_seconds"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "coordinator-status", Method: http.MethodGet, Path: "/api/v1/status", Summary: "Coordinator occupancy snapshot", Tags: []string{"Status"}},
		func(ctx context.Context, input *struct{}) (*statusOutput, error) {
			st := svc.Stats()
			out := &statusOutput{}
			out.Body.Fleet = st
			out.Body.PortsFree = st.PortCapacity - st.PortsInUse
			out.Body.UptimeSeconds = int64(time.Since(start).Seconds())
			out.Body.IdleTimeoutSeconds = int(status.IdleTimeout / time.Second)
			out.Body.ReapIntervalSeconds = int(status.ReapInterval / time.Second)
			return out, nil
		})
}
