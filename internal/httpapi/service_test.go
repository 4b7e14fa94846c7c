package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"chatd/internal/cache"
	"chatd/internal/chat"
	"chatd/internal/config"
	"chatd/internal/llm/llmtest"
	"chatd/internal/manager"
	"chatd/internal/registry"
	"chatd/internal/sampler"
	"chatd/internal/session"
	"chatd/pkg/types"
)

// newCore wires a real manager and chat service over a runtime that answers
// "ok" to anything. Model "a" is loadable, "gone" has no weights file.
func newCore(t *testing.T) (*Core, *manager.Manager) {
	t.Helper()
	dir := t.TempDir()
	weights := filepath.Join(dir, "a.st")
	if err := os.WriteFile(weights, []byte("w"), 0o644); err != nil {
		t.Fatal(err)
	}
	mc := func(p string) config.ModelConfig {
		return config.ModelConfig{
			Weights:       p,
			RoleSystem:    config.RoleConfig{Suffix: []uint16{261}},
			RoleUser:      config.RoleConfig{Prefix: []uint16{270, 59}, Suffix: []uint16{261}},
			RoleAssistant: config.RoleConfig{Prefix: []uint16{280, 59}, Suffix: []uint16{261}},
			StopSequence:  []uint16{290, 59},
		}
	}
	reg := registry.Build(map[string]config.ModelConfig{
		"a":    mc(weights),
		"gone": mc(filepath.Join(dir, "gone.st")),
	})
	loader := func(ctx context.Context, m registry.Model) (*session.Session, error) {
		rt := llmtest.NewRuntime(300, 4)
		rt.Next[59] = 'o' + 1
		rt.Next['o'+1] = 'k' + 1
		rt.Next['k'+1] = 290
		rt.Next[290] = 59
		return session.New(ctx, session.Params{
			ID:             m.ID,
			Config:         m.Config,
			Tokenizer:      llmtest.ByteTokenizer{},
			Runtime:        rt,
			SamplerOptions: []sampler.Option{sampler.WithRand(func() float32 { return 0.25 })},
		})
	}
	mgr := manager.New(reg, loader)
	t.Cleanup(func() { _ = mgr.Close() })
	return NewCore(mgr, chat.NewService(mgr, cache.New(), chat.Options{})), mgr
}

func TestCoreEndToEnd(t *testing.T) {
	core, mgr := newCore(t)
	h := NewMux(core)

	w := postJSON(h, "/v1/chat/completions", helloBody)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("before activation: status=%d body=%s", w.Code, w.Body.String())
	}

	w = postJSON(h, "/v1/models/a/activate", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("activate: status=%d body=%s", w.Code, w.Body.String())
	}
	deadline := time.Now().Add(2 * time.Second)
	for !mgr.Ready() || mgr.Loading() {
		if time.Now().After(deadline) {
			t.Fatal("model never became active")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz=%d", rec.Code)
	}

	w = postJSON(h, "/v1/chat/completions", `{"model":"a","messages":[{"role":"system","content":"s"},{"role":"user","content":"hi"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("complete: status=%d body=%s", w.Code, w.Body.String())
	}
	var resp types.ChatResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.Model != "a" || len(resp.Choices) != 1 || resp.Choices[0].Message.Content != "ok" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Choices[0].FinishReason != types.FinishStop {
		t.Fatalf("finish_reason=%q", resp.Choices[0].FinishReason)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	var st types.StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("json: %v", err)
	}
	if st.ActiveModel != "a" || st.State != "ready" || st.CachedPrefixes != 2 {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestCoreActivationErrors(t *testing.T) {
	core, mgr := newCore(t)
	h := NewMux(core)

	if w := postJSON(h, "/v1/models/nope/activate", ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown: status=%d", w.Code)
	}
	if w := postJSON(h, "/v1/models/gone/activate", ""); w.Code != http.StatusConflict {
		t.Fatalf("missing weights: status=%d", w.Code)
	}
	if mgr.Loading() || mgr.Ready() {
		t.Fatalf("rejected activation changed state")
	}
}

func TestCoreModelNotActive(t *testing.T) {
	core, mgr := newCore(t)
	if err := mgr.RequestActivation(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !mgr.Ready() {
		if time.Now().After(deadline) {
			t.Fatal("model never became active")
		}
		time.Sleep(5 * time.Millisecond)
	}
	w := postJSON(NewMux(core), "/v1/chat/completions", `{"model":"gone","messages":[{"role":"user","content":"hi"}]}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	w = postJSON(NewMux(core), "/v1/chat/completions", `{"messages":[{"role":"tool","content":"hi"}]}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid role: status=%d body=%s", w.Code, w.Body.String())
	}
}
