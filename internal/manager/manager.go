package manager

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"chatd/internal/registry"
	"chatd/internal/session"
)

// Loader builds the session of one model.
type Loader func(ctx context.Context, m registry.Model) (*session.Session, error)

type Manager struct {
	registry      *registry.Registry
	loader        Loader
	maxQueueDepth int
	log           zerolog.Logger
	pub           EventPublisher

	// activateMu serializes activation tasks; racing activations queue here.
	activateMu sync.Mutex
	// loading counts accepted activations that have not finished.
	loading atomic.Int32

	// mu guards the fields below and is only held briefly.
	mu               sync.RWMutex
	active           *activeModel
	lastErr          error
	activationsTotal uint64
	failuresTotal    uint64
	closed           bool

	baseCtx   context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startTime time.Time
}

func New(reg *registry.Registry, loader Loader) *Manager {
	return NewWithConfig(ManagerConfig{Registry: reg, Loader: loader})
}

// SetEventPublisher replaces the event sink. Call before activations start.
func (m *Manager) SetEventPublisher(p EventPublisher) {
	if p == nil {
		p = noopPublisher{}
	}
	m.mu.Lock()
	m.pub = p
	m.mu.Unlock()
}

func (m *Manager) publish(e Event) {
	m.mu.RLock()
	p := m.pub
	m.mu.RUnlock()
	p.Publish(e)
}

// Ready reports whether a session is installed.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active != nil
}

// Loading reports whether an activation is in progress. It never blocks on
// the activation itself.
func (m *Manager) Loading() bool { return m.loading.Load() > 0 }

// ActiveModelID returns the id of the installed session, if any.
func (m *Manager) ActiveModelID() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == nil {
		return "", false
	}
	return m.active.id, true
}

// ListModels returns every known model ordered by id.
func (m *Manager) ListModels() []registry.Model { return m.registry.List() }

// Close stops accepting activations, waits for running ones, and releases
// the active session after its request in flight.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()

	m.mu.Lock()
	am := m.active
	m.active = nil
	m.mu.Unlock()
	if am != nil {
		return m.retire(am)
	}
	return nil
}
