package manager

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"chatd/internal/registry"
)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	Registry *registry.Registry
	// Loader builds a session for a known, available model. Required.
	Loader Loader
	// MaxQueueDepth bounds requests waiting for or holding the session.
	// Zero means unlimited.
	MaxQueueDepth int
	Logger        zerolog.Logger
	Publisher     EventPublisher
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	reg := cfg.Registry
	if reg == nil {
		reg = registry.Build(nil)
	}
	var pub EventPublisher = noopPublisher{}
	if cfg.Publisher != nil {
		pub = cfg.Publisher
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		registry:      reg,
		loader:        cfg.Loader,
		maxQueueDepth: max(cfg.MaxQueueDepth, 0),
		log:           cfg.Logger.With().Str("component", "manager").Logger(),
		pub:           pub,
		baseCtx:       ctx,
		cancel:        cancel,
		startTime:     time.Now(),
	}
}
