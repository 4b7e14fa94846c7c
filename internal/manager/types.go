package manager

import "chatd/internal/session"

// State is the lifecycle state of the active slot.
type State string

const (
	StateEmpty   State = "empty"
	StateLoading State = "loading"
	StateReady   State = "ready"
)

// activeModel is the installed session. sem is its exclusive lock: a request
// holds it for prefix processing plus generation, and retirement takes it to
// wait out the request in flight. queue, when non-nil, bounds how many
// requests may wait for or hold sem.
type activeModel struct {
	id     string
	sess   *session.Session
	sem    chan struct{}
	queue  chan struct{}
	closed bool
}

func newActiveModel(id string, sess *session.Session, maxQueueDepth int) *activeModel {
	am := &activeModel{id: id, sess: sess, sem: make(chan struct{}, 1)}
	if maxQueueDepth > 0 {
		am.queue = make(chan struct{}, maxQueueDepth)
	}
	return am
}

// Snapshot is a read-only projection of the manager state.
type Snapshot struct {
	State       State
	ActiveModel string
	LastError   string
}
