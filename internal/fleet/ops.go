package fleet

import (
	"fmt"
	"time"
)

// BeginOperation resolves a ready session and claims its per-session lock,
// making the caller the session's single in-flight operation. The returned
// release func must be called when the operation finishes. Fails with
// SESSION_NOT_FOUND for unknown ids and SESSION_NOT_READY for sessions
// still starting.
func (m *Manager) BeginOperation(id string) (port int, release func(), err error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return 0, nil, NewError(CodeSessionNotFound, fmt.Sprintf("no session %s", id), nil)
	}
	if s.status != StateReady {
		status := s.status
		m.mu.Unlock()
		return 0, nil, NewError(CodeSessionNotReady,
			fmt.Sprintf("session %s is %s", id, status), nil)
	}
	m.mu.Unlock()

	lock := m.sessionLock(id)
	lock.Lock()

	// The session may have been torn down while we waited for its slot.
	m.mu.Lock()
	cur, ok := m.sessions[id]
	if !ok || cur != s || cur.status != StateReady {
		m.mu.Unlock()
		lock.Unlock()
		return 0, nil, NewError(CodeSessionNotFound, fmt.Sprintf("no session %s", id), nil)
	}
	port = cur.port
	m.mu.Unlock()
	return port, lock.Unlock, nil
}

// Touch advances the session's activity timestamp. Called by the router
// only after a forward actually reached the worker; a forward that died on
// the way must not defer idle reclamation.
func (m *Manager) Touch(id string) {
	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		s.lastActivityAt = time.Now()
	}
	m.mu.Unlock()
}

// The mutators below maintain the record's last-known mirror of worker tab
// and interception state. The worker stays the source of truth; the router
// calls these only after the worker confirmed the operation.

// ReplaceTabs overwrites the cached tab set, e.g. from a list_tabs result.
func (m *Manager) ReplaceTabs(id string, tabs []TabInfo) {
	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		s.tabs = append([]TabInfo(nil), tabs...)
	}
	m.mu.Unlock()
}

// AddTab appends a newly opened tab and marks it current.
func (m *Manager) AddTab(id string, tab TabInfo) {
	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		for i := range s.tabs {
			s.tabs[i].Current = false
		}
		tab.Current = true
		s.tabs = append(s.tabs, tab)
	}
	m.mu.Unlock()
}

// SetCurrentTab marks a tab current; unknown tabs are added as stubs, since
// the worker confirmed the id exists even if the cache never saw it.
func (m *Manager) SetCurrentTab(id, tabID string) {
	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		found := false
		for i := range s.tabs {
			s.tabs[i].Current = s.tabs[i].ID == tabID
			found = found || s.tabs[i].Current
		}
		if !found {
			s.tabs = append(s.tabs, TabInfo{ID: tabID, Current: true})
		}
	}
	m.mu.Unlock()
}

// RemoveTab drops a closed tab; if it was current, the first remaining tab
// becomes current, mirroring the worker's own fallback.
func (m *Manager) RemoveTab(id, tabID string) {
	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		wasCurrent := false
		kept := s.tabs[:0]
		for _, t := range s.tabs {
			if t.ID == tabID {
				wasCurrent = t.Current
				continue
			}
			kept = append(kept, t)
		}
		s.tabs = kept
		if wasCurrent && len(s.tabs) > 0 {
			s.tabs[0].Current = true
		}
	}
	m.mu.Unlock()
}

// SetCurrentTabURL records the current tab's last-known URL after a
// navigation. A cold cache stays cold: without a tab id there is nothing
// truthful to attach the URL to.
func (m *Manager) SetCurrentTabURL(id, url string) {
	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		for i := range s.tabs {
			if s.tabs[i].Current {
				s.tabs[i].URL = url
				break
			}
		}
	}
	m.mu.Unlock()
}

// ReplaceInterceptRules overwrites the cached interception rule list.
func (m *Manager) ReplaceInterceptRules(id string, rules []InterceptRule) {
	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		s.interceptRules = append([]InterceptRule(nil), rules...)
	}
	m.mu.Unlock()
}
