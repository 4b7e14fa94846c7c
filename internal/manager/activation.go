package manager

import (
	"context"
	"errors"
	"time"

	"chatd/internal/llm"
	"chatd/internal/registry"
	"chatd/internal/session"
)

// RequestActivation validates id and starts loading it in the background.
// Unknown ids and models whose weights were missing at startup fail
// synchronously without touching any state. On acceptance Loading reports
// true before this returns; the caller's ctx does not bound the load.
func (m *Manager) RequestActivation(ctx context.Context, id string) error {
	mdl, ok := m.registry.Lookup(id)
	if !ok {
		m.reject(id, "not_found")
		return ErrModelNotFound(id)
	}
	if !mdl.Available {
		m.reject(id, "unavailable")
		return ErrModelUnavailable(id)
	}
	if m.loader == nil {
		return ErrDependencyUnavailable("no model loader configured")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errClosed
	}
	m.wg.Add(1)
	m.loading.Add(1)
	m.mu.Unlock()
	loadingGauge.Inc()

	m.log.Info().Str("model", id).Msg("activation accepted")
	// Detached: the load outlives the request that asked for it.
	go m.activate(mdl)
	return nil
}

func (m *Manager) reject(id, reason string) {
	activationsTotal.WithLabelValues("rejected").Inc()
	m.log.Warn().Str("model", id).Str("reason", reason).Msg("activation rejected")
	m.publish(Event{Name: EventActivationRejected, ModelID: id, Fields: map[string]any{"reason": reason}})
}

func (m *Manager) activate(mdl registry.Model) {
	defer func() {
		m.loading.Add(-1)
		loadingGauge.Dec()
		m.wg.Done()
	}()

	m.activateMu.Lock()
	defer m.activateMu.Unlock()

	m.publish(Event{Name: EventActivationStart, ModelID: mdl.ID})
	activationsTotal.WithLabelValues("started").Inc()

	// The previous session goes first: two models never hold accelerator
	// memory at the same time.
	m.mu.Lock()
	old := m.active
	m.active = nil
	m.mu.Unlock()
	if old != nil {
		if err := m.retire(old); err != nil {
			m.log.Warn().Err(err).Str("model", old.id).Msg("closing previous session")
		}
	}

	start := time.Now()
	sess, err := m.loader(m.baseCtx, mdl)
	if err != nil {
		m.fail(mdl.ID, err)
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = sess.Close()
		m.fail(mdl.ID, errClosed)
		return
	}
	m.active = newActiveModel(mdl.ID, sess, m.maxQueueDepth)
	m.lastErr = nil
	m.activationsTotal++
	m.mu.Unlock()

	took := time.Since(start)
	activationsTotal.WithLabelValues("ready").Inc()
	m.log.Info().Str("model", mdl.ID).Dur("took", took).Msg("model active")
	m.publish(Event{Name: EventActivationReady, ModelID: mdl.ID, Fields: map[string]any{"took_ms": took.Milliseconds()}})
}

func (m *Manager) fail(id string, err error) {
	m.mu.Lock()
	m.lastErr = err
	m.failuresTotal++
	m.mu.Unlock()
	activationsTotal.WithLabelValues("failed").Inc()
	m.log.Error().Err(err).Str("model", id).Msg("activation failed")
	m.publish(Event{Name: EventActivationFailed, ModelID: id, Fields: map[string]any{"error": err.Error()}})
}

// retire waits for the request holding am, then closes its session.
func (m *Manager) retire(am *activeModel) error {
	am.sem <- struct{}{}
	defer func() { <-am.sem }()
	if am.closed {
		return nil
	}
	am.closed = true
	return am.sess.Close()
}

// SessionLoader returns a Loader that builds sessions with session.Load.
func SessionLoader(opts session.LoadOptions) Loader {
	return func(ctx context.Context, mdl registry.Model) (*session.Session, error) {
		return session.Load(ctx, mdl.ID, mdl.Config, opts)
	}
}

// noActiveErr explains an empty slot, surfacing a missing runtime when that
// is why the last activation failed.
func (m *Manager) noActiveErr() error {
	m.mu.RLock()
	last := m.lastErr
	m.mu.RUnlock()
	if last != nil && errors.Is(last, llm.ErrRuntimeUnavailable) {
		return ErrDependencyUnavailable(last.Error())
	}
	return ErrNoActiveModel
}
