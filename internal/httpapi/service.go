package httpapi

import (
	"context"

	"chatd/internal/chat"
	"chatd/internal/manager"
	"chatd/pkg/types"
)

// Core backs the HTTP API with the activation manager and chat service.
type Core struct {
	mgr  *manager.Manager
	chat *chat.Service
}

func NewCore(mgr *manager.Manager, cs *chat.Service) *Core {
	return &Core{mgr: mgr, chat: cs}
}

func (c *Core) Models() types.ModelList { return c.chat.Models() }

func (c *Core) Complete(ctx context.Context, req types.ChatRequest) (types.ChatResponse, error) {
	return c.chat.Complete(ctx, req)
}

func (c *Core) Activate(ctx context.Context, id string) error {
	return c.mgr.RequestActivation(ctx, id)
}

// Status merges manager state with the prefix cache size.
func (c *Core) Status() types.StatusResponse {
	st := c.mgr.Status()
	st.CachedPrefixes = c.chat.CachedPrefixLen()
	return st
}

func (c *Core) Ready() bool { return c.mgr.Ready() }
