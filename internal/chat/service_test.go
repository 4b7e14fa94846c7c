package chat

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatd/internal/cache"
	"chatd/internal/config"
	"chatd/internal/llm/llmtest"
	"chatd/internal/manager"
	"chatd/internal/registry"
	"chatd/internal/sampler"
	"chatd/internal/session"
	"chatd/pkg/types"
)

const (
	stopA = 290
	stopB = 59
)

func modelConfig(weights string) config.ModelConfig {
	return config.ModelConfig{
		Weights:       weights,
		RoleSystem:    config.RoleConfig{Suffix: []uint16{261}},
		RoleUser:      config.RoleConfig{Prefix: []uint16{270, stopB}, Suffix: []uint16{261}},
		RoleAssistant: config.RoleConfig{Prefix: []uint16{280, 281, stopB}, Suffix: []uint16{261}},
		StopSequence:  []uint16{stopA, stopB},
	}
}

type harness struct {
	mgr *manager.Manager
	svc *Service

	mu       sync.Mutex
	runtimes map[string]*llmtest.Runtime
}

// newHarness activates "a" with a runtime scripted to answer " Fable.".
func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	dir := t.TempDir()
	models := map[string]config.ModelConfig{}
	for _, id := range []string{"a", "b"} {
		p := filepath.Join(dir, id+".st")
		require.NoError(t, os.WriteFile(p, []byte("w"), 0o644))
		models[id] = modelConfig(p)
	}
	h := &harness{runtimes: map[string]*llmtest.Runtime{}}
	loader := func(ctx context.Context, m registry.Model) (*session.Session, error) {
		rt := llmtest.NewRuntime(300, 8)
		script(rt, " Fable.")
		h.mu.Lock()
		h.runtimes[m.ID] = rt
		h.mu.Unlock()
		return session.New(ctx, session.Params{
			ID:             m.ID,
			Config:         m.Config,
			Tokenizer:      llmtest.ByteTokenizer{},
			Runtime:        rt,
			SamplerOptions: []sampler.Option{sampler.WithRand(func() float32 { return 0.25 })},
		})
	}
	h.mgr = manager.New(registry.Build(models), loader)
	t.Cleanup(func() { _ = h.mgr.Close() })
	h.svc = NewService(h.mgr, cache.New(), opts)
	h.activate(t, "a")
	return h
}

func (h *harness) activate(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, h.mgr.RequestActivation(context.Background(), id))
	require.Eventually(t, func() bool {
		got, ok := h.mgr.ActiveModelID()
		return ok && got == id && !h.mgr.Loading()
	}, 2*time.Second, 5*time.Millisecond)
}

func (h *harness) runtime(id string) *llmtest.Runtime {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runtimes[id]
}

func script(rt *llmtest.Runtime, answer string) {
	prev := uint16(stopB)
	for i := 0; i < len(answer); i++ {
		rt.Next[prev] = uint16(answer[i]) + 1
		prev = uint16(answer[i]) + 1
	}
	rt.Next[prev] = stopA
	rt.Next[stopA] = stopB
}

const (
	systemPrompt = "You are a helpful writing assistant."
	userPrompt   = "Write a funny parable about a fox jumping over a dog."
)

func foxConversation() []types.ChatMessage {
	return []types.ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	}
}

func TestCompleteFoxAndDog(t *testing.T) {
	h := newHarness(t, Options{})
	resp, err := h.svc.Complete(context.Background(), types.ChatRequest{Messages: foxConversation()})
	require.NoError(t, err)

	require.Len(t, resp.Choices, 1)
	choice := resp.Choices[0]
	assert.Equal(t, "Fable.", choice.Message.Content)
	assert.Equal(t, types.RoleAssistant, choice.Message.Role)
	assert.Equal(t, types.FinishStop, choice.FinishReason)
	assert.False(t, strings.HasPrefix(choice.Message.Content, " "))
	assert.True(t, strings.HasPrefix(resp.ID, "chatcmpl-"))
	assert.Equal(t, "chat.completion", resp.Object)
	assert.Equal(t, "a", resp.Model)

	wantPrompt := (len(systemPrompt) + 1) + (2 + len(userPrompt) + 1) + 3
	assert.Equal(t, types.Usage{PromptTokens: wantPrompt, CompletionTokens: 9, TotalTokens: wantPrompt + 9}, resp.Usage)
	assert.Equal(t, 2, h.svc.CachedPrefixLen())
}

func TestCompleteReusesCachedPrefix(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	first := foxConversation()
	_, err := h.svc.Complete(ctx, types.ChatRequest{Messages: first})
	require.NoError(t, err)

	second := append(append([]types.ChatMessage{}, first...),
		types.ChatMessage{Role: "assistant", Content: "Fable."},
		types.ChatMessage{Role: "user", Content: "More"},
	)
	resp, err := h.svc.Complete(ctx, types.ChatRequest{Messages: second})
	require.NoError(t, err)
	// Only the two new messages are folded, plus the assistant seed.
	assert.Equal(t, (3+6+1)+(2+4+1)+3, resp.Usage.PromptTokens)
	assert.Equal(t, 4, h.svc.CachedPrefixLen())
}

func TestCompleteDivergentHistoryStartsOver(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	_, err := h.svc.Complete(ctx, types.ChatRequest{Messages: foxConversation()})
	require.NoError(t, err)

	other := []types.ChatMessage{{Role: "user", Content: "Hi"}}
	resp, err := h.svc.Complete(ctx, types.ChatRequest{Messages: other})
	require.NoError(t, err)
	assert.Equal(t, (2+2+1)+3, resp.Usage.PromptTokens)
	assert.Equal(t, 1, h.svc.CachedPrefixLen())
}

func TestCompleteMatchesFreshComputation(t *testing.T) {
	// A cached resume must leave the runtime in the same state as
	// processing the whole conversation from the initial state.
	cached := newHarness(t, Options{})
	fresh := newHarness(t, Options{})
	ctx := context.Background()

	first := foxConversation()
	_, err := cached.svc.Complete(ctx, types.ChatRequest{Messages: first})
	require.NoError(t, err)
	second := append(append([]types.ChatMessage{}, first...),
		types.ChatMessage{Role: "assistant", Content: "Fable."},
		types.ChatMessage{Role: "user", Content: "Again"},
	)
	_, err = cached.svc.Complete(ctx, types.ChatRequest{Messages: second})
	require.NoError(t, err)
	_, err = fresh.svc.Complete(ctx, types.ChatRequest{Messages: second})
	require.NoError(t, err)

	var a, b []float32
	require.NoError(t, cached.mgr.WithActive(ctx, func(s *session.Session) error {
		st, err := s.ExportState(ctx)
		a = st.Data
		return err
	}))
	require.NoError(t, fresh.mgr.WithActive(ctx, func(s *session.Session) error {
		st, err := s.ExportState(ctx)
		b = st.Data
		return err
	}))
	assert.InDeltaSlice(t, b, a, 1e-6)
}

func TestCompleteModelMismatch(t *testing.T) {
	h := newHarness(t, Options{})
	_, err := h.svc.Complete(context.Background(), types.ChatRequest{Model: "b", Messages: foxConversation()})
	assert.True(t, IsModelNotActive(err), "got %v", err)

	resp, err := h.svc.Complete(context.Background(), types.ChatRequest{Model: "a", Messages: foxConversation()})
	require.NoError(t, err)
	assert.Equal(t, "a", resp.Model)
}

func TestCompleteInvalidRoleTouchesNothing(t *testing.T) {
	h := newHarness(t, Options{})
	msgs := []types.ChatMessage{{Role: "user", Content: "hi"}, {Role: "tool", Content: "x"}}
	_, err := h.svc.Complete(context.Background(), types.ChatRequest{Messages: msgs})
	assert.ErrorIs(t, err, session.ErrInvalidRole)
	assert.Empty(t, h.runtime("a").Fed())
	assert.Equal(t, 0, h.svc.CachedPrefixLen())
}

func TestCompleteValidation(t *testing.T) {
	h := newHarness(t, Options{})
	zero := 0
	neg := float32(-1)
	cases := map[string]types.ChatRequest{
		"no messages":     {},
		"zero max_tokens": {Messages: foxConversation(), MaxTokens: &zero},
		"negative temp":   {Messages: foxConversation(), Temperature: &neg},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.svc.Complete(context.Background(), req)
			assert.True(t, IsInvalidRequest(err), "got %v", err)
		})
	}
}

func TestCompleteMaxTokensClampedToLimit(t *testing.T) {
	h := newHarness(t, Options{MaxTokens: 2, MaxTokensLimit: 3})
	many := 100
	resp, err := h.svc.Complete(context.Background(), types.ChatRequest{Messages: foxConversation(), MaxTokens: &many})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Usage.CompletionTokens)
	assert.Equal(t, types.FinishLength, resp.Choices[0].FinishReason)
	assert.Equal(t, "Fa", resp.Choices[0].Message.Content)

	resp, err = h.svc.Complete(context.Background(), types.ChatRequest{Messages: foxConversation()})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Usage.CompletionTokens)
}

func TestCompleteNoActiveModel(t *testing.T) {
	mgr := manager.New(registry.Build(nil), nil)
	defer mgr.Close()
	svc := NewService(mgr, nil, Options{})
	_, err := svc.Complete(context.Background(), types.ChatRequest{Messages: foxConversation()})
	assert.True(t, manager.IsNoActiveModel(err), "got %v", err)
}

func TestCacheClearedWhenActiveSessionChanges(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	_, err := h.svc.Complete(ctx, types.ChatRequest{Messages: foxConversation()})
	require.NoError(t, err)

	h.activate(t, "b")
	resp, err := h.svc.Complete(ctx, types.ChatRequest{Messages: foxConversation()})
	require.NoError(t, err)
	full := (len(systemPrompt) + 1) + (2 + len(userPrompt) + 1) + 3
	assert.Equal(t, full, resp.Usage.PromptTokens, "states of another model must not be reused")
	assert.Equal(t, "b", resp.Model)
}

func TestModels(t *testing.T) {
	h := newHarness(t, Options{OwnedBy: "tests", Now: func() time.Time { return time.Unix(1700000000, 0) }})
	list := h.svc.Models()
	assert.Equal(t, "list", list.Object)
	require.Len(t, list.Data, 2)
	assert.Equal(t, types.ModelInfo{ID: "a", Object: "model", Created: 1700000000, OwnedBy: "tests", Available: true, Active: true}, list.Data[0])
	assert.False(t, list.Data[1].Active)
}

func TestCompleteUsesInjectedID(t *testing.T) {
	h := newHarness(t, Options{NewID: func() string { return "chatcmpl-fixed" }, Now: func() time.Time { return time.Unix(42, 0) }})
	resp, err := h.svc.Complete(context.Background(), types.ChatRequest{Messages: foxConversation()})
	require.NoError(t, err)
	assert.Equal(t, "chatcmpl-fixed", resp.ID)
	assert.Equal(t, int64(42), resp.Created)
}
