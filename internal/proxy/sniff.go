package proxy

import (
	"encoding/json"
	"log/slog"

	"github.com/dgnsrekt/browser_fleet/internal/fleet"
)

// sniffable reports whether an op mutates worker tab or interception state
// that the session record mirrors. Only these ops get buffered bodies; all
// others stream through untouched.
func sniffable(op string) bool {
	switch op {
	case "navigate", "new_tab", "switch_tab", "close_tab", "list_tabs", "intercept_requests":
		return true
	}
	return false
}

// applyCacheUpdate mirrors a confirmed tab/interception change into the
// session record. Decode failures only skip the mirror: the caches are
// best-effort views, never the operation result.
func (f *Forwarder) applyCacheUpdate(sessionID, op string, reqBody, respBody []byte) {
	switch op {
	case "navigate":
		var out struct {
			URL string `json:"url"`
		}
		if json.Unmarshal(respBody, &out) == nil && out.URL != "" {
			f.sessions.SetCurrentTabURL(sessionID, out.URL)
		}

	case "new_tab":
		var out struct {
			TabID string `json:"tab_id"`
			URL   string `json:"url"`
		}
		if json.Unmarshal(respBody, &out) == nil && out.TabID != "" {
			f.sessions.AddTab(sessionID, fleet.TabInfo{ID: out.TabID, URL: out.URL})
		}

	case "switch_tab":
		var in struct {
			TabID string `json:"tab_id"`
		}
		if json.Unmarshal(reqBody, &in) == nil && in.TabID != "" {
			f.sessions.SetCurrentTab(sessionID, in.TabID)
		}

	case "close_tab":
		var in struct {
			TabID string `json:"tab_id"`
		}
		if json.Unmarshal(reqBody, &in) == nil && in.TabID != "" {
			f.sessions.RemoveTab(sessionID, in.TabID)
		}

	case "list_tabs":
		var out struct {
			Tabs []struct {
				ID      string `json:"id"`
				URL     string `json:"url"`
				Current bool   `json:"current"`
			} `json:"tabs"`
		}
		if json.Unmarshal(respBody, &out) != nil {
			return
		}
		tabs := make([]fleet.TabInfo, 0, len(out.Tabs))
		for _, t := range out.Tabs {
			tabs = append(tabs, fleet.TabInfo{ID: t.ID, URL: t.URL, Current: t.Current})
		}
		f.sessions.ReplaceTabs(sessionID, tabs)

	case "intercept_requests":
		var in struct {
			Patterns []string `json:"patterns"`
			Action   string   `json:"action"`
		}
		if json.Unmarshal(reqBody, &in) != nil {
			return
		}
		rules := make([]fleet.InterceptRule, 0, len(in.Patterns))
		for _, p := range in.Patterns {
			rules = append(rules, fleet.InterceptRule{Pattern: p, Action: in.Action})
		}
		f.sessions.ReplaceInterceptRules(sessionID, rules)

	default:
		slog.Debug("no cache rule for op", "operation", op)
	}
}
