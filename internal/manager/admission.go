package manager

import (
	"context"

	"chatd/internal/session"
)

// WithActive runs fn with exclusive use of the active session. The lock is
// held for the whole of fn, so a request's prefix processing and generation
// are never interleaved with another request or with an activation.
func (m *Manager) WithActive(ctx context.Context, fn func(s *session.Session) error) error {
	m.mu.RLock()
	am := m.active
	m.mu.RUnlock()
	if am == nil {
		return m.noActiveErr()
	}

	release, err := m.admit(ctx, am)
	if err != nil {
		return err
	}
	defer release()

	if am.closed {
		// Retired between the snapshot and acquiring the lock.
		return m.noActiveErr()
	}
	return fn(am.sess)
}

// admit reserves a queue slot, if the queue is bounded, and then the
// session lock. It returns a release func to be deferred.
func (m *Manager) admit(ctx context.Context, am *activeModel) (func(), error) {
	if err := ctx.Err(); err != nil {
		return func() {}, err
	}
	if am.queue != nil {
		select {
		case am.queue <- struct{}{}:
		default:
			return func() {}, ErrTooBusy(am.id)
		}
	}
	leaveQueue := func() {
		if am.queue != nil {
			<-am.queue
		}
	}

	select {
	case am.sem <- struct{}{}:
		return func() { <-am.sem; leaveQueue() }, nil
	case <-ctx.Done():
		leaveQueue()
		return func() {}, ctx.Err()
	}
}

// waiting reports requests queued for or holding the active session.
func (am *activeModel) waiting() int {
	if am.queue != nil {
		return len(am.queue)
	}
	return len(am.sem)
}
