package proxy

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/dgnsrekt/browser_fleet/internal/fleet"
)

// errorBody is the structured error shape of the routing layer: a stable
// kind from the taxonomy plus a caller-safe message, tagged with the
// session and operation the failure belongs to.
type errorBody struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	Operation string `json:"operation,omitempty"`
}

func writeError(w http.ResponseWriter, status int, kind, msg, sessionID, op string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{
		Kind:      kind,
		Message:   msg,
		SessionID: sessionID,
		Operation: op,
	})
}

// writeCoded maps a registry error onto its HTTP status.
func writeCoded(w http.ResponseWriter, err error, sessionID, op string) {
	var coded *fleet.CodedError
	if !errors.As(err, &coded) {
		writeError(w, http.StatusInternalServerError, fleet.CodeWorkerError,
			"internal error", sessionID, op)
		return
	}
	writeError(w, statusForCode(coded.Code), coded.Code, coded.Message, sessionID, op)
}

func statusForCode(code string) int {
	switch code {
	case fleet.CodeValidation:
		return http.StatusBadRequest
	case fleet.CodeSessionNotFound:
		return http.StatusNotFound
	case fleet.CodeSessionNotReady:
		return http.StatusConflict
	case fleet.CodePortExhausted:
		return http.StatusServiceUnavailable
	case fleet.CodeOperationTimeout, fleet.CodeHealthCheckTimeout:
		return http.StatusGatewayTimeout
	case fleet.CodeWorkerUnreachable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// workerErrorMessage extracts the worker's own failure message. Workers
// report errors as {"detail": "..."}; anything else is passed through as a
// bounded snippet.
func workerErrorMessage(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil || len(body) == 0 {
		return "worker reported an error"
	}
	var detail struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &detail) == nil && detail.Detail != "" {
		return detail.Detail
	}
	return strings.TrimSpace(string(body))
}
