package manager

import (
	"time"

	"chatd/pkg/types"
)

// Snapshot returns a read-only view of the manager state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Snapshot{State: m.stateLocked()}
	if m.active != nil {
		s.ActiveModel = m.active.id
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}

func (m *Manager) stateLocked() State {
	switch {
	case m.Loading():
		return StateLoading
	case m.active != nil:
		return StateReady
	default:
		return StateEmpty
	}
}

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now()
	resp := types.StatusResponse{
		State:                   string(m.stateLocked()),
		Loading:                 m.Loading(),
		MaxQueueDepth:           m.maxQueueDepth,
		ActivationsTotal:        m.activationsTotal,
		ActivationFailuresTotal: m.failuresTotal,
		UptimeSeconds:           int64(now.Sub(m.startTime).Seconds()),
		ServerTimeUnix:          now.Unix(),
	}
	if m.active != nil {
		resp.ActiveModel = m.active.id
		resp.Waiting = m.active.waiting()
	}
	if m.lastErr != nil {
		resp.LastError = m.lastErr.Error()
	}
	return resp
}
