package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/browser_fleet/internal/config"
	"github.com/dgnsrekt/browser_fleet/internal/fleet"
)

func registerSessionHandlers(api huma.API, svc Service) {
	type sessionOutput struct {
		Body fleet.SessionInfo
	}

	huma.Register(api, huma.Operation{OperationID: "create-session", Method: http.MethodPost, Path: "/api/v1/sessions", Summary: "Create a browser session", DefaultStatus: http.StatusCreated, Tags: []string{"Sessions"}},
		func(ctx context.Context, input *struct {
			Body struct {
				Headless *bool  `json:"headless,omitempty" doc:"Run the worker browser headless. Omit to use the coordinator default."`
				Proxy    string `json:"proxy,omitempty" doc:"Upstream proxy URL for the worker (http, https or socks5)."`
			}
		}) (*sessionOutput, error) {
			if err := config.ValidateProxyURL(input.Body.Proxy); err != nil {
				return nil, mapErr(fleet.NewError(fleet.CodeValidation, err.Error(), err))
			}
			info, err := svc.Create(ctx, fleet.CreateOptions{Headless: input.Body.Headless, Proxy: input.Body.Proxy})
			if err != nil {
				return nil, mapErr(err)
			}
			out := &sessionOutput{}
			out.Body = info
			return out, nil
		})

	type listSessionsOutput struct {
		Body struct {
			Sessions []fleet.SessionInfo `json:"sessions"`
			Count    int                 `json:"count"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-sessions", Method: http.MethodGet, Path: "/api/v1/sessions", Summary: "List all sessions", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *struct{}) (*listSessionsOutput, error) {
			infos := svc.List()
			out := &listSessionsOutput{}
			out.Body.Sessions = infos
			out.Body.Count = len(infos)
			return out, nil
		})

	type sessionIDInput struct {
		SessionID string `path:"id"`
	}
	huma.Register(api, huma.Operation{OperationID: "get-session", Method: http.MethodGet, Path: "/api/v1/sessions/{id}", Summary: "Get session detail", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *sessionIDInput) (*sessionOutput, error) {
			info, err := svc.Get(input.SessionID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &sessionOutput{}
			out.Body = info
			return out, nil
		})

	type destroySessionOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "destroy-session", Method: http.MethodDelete, Path: "/api/v1/sessions/{id}", Summary: "Destroy a session and its worker", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *sessionIDInput) (*destroySessionOutput, error) {
			if err := svc.Destroy(ctx, input.SessionID); err != nil {
				return nil, mapErr(err)
			}
			out := &destroySessionOutput{}
			out.Body.Status = "destroyed"
			return out, nil
		})
}
