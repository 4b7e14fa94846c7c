package manager

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"chatd/internal/config"
	"chatd/internal/llm/llmtest"
	"chatd/internal/registry"
	"chatd/internal/session"
)

func testModelConfig(weights string) config.ModelConfig {
	return config.ModelConfig{
		Weights:       weights,
		RoleUser:      config.RoleConfig{Suffix: []uint16{261}},
		RoleAssistant: config.RoleConfig{Prefix: []uint16{280, 59}},
		StopSequence:  []uint16{290, 59},
	}
}

// testRegistry knows every id in available (with a weights file on disk)
// and in missing (without one).
func testRegistry(t *testing.T, available []string, missing ...string) *registry.Registry {
	t.Helper()
	dir := t.TempDir()
	models := map[string]config.ModelConfig{}
	for _, id := range available {
		p := filepath.Join(dir, id+".st")
		if err := os.WriteFile(p, []byte("weights"), 0o644); err != nil {
			t.Fatalf("write weights: %v", err)
		}
		models[id] = testModelConfig(p)
	}
	for _, id := range missing {
		models[id] = testModelConfig(filepath.Join(dir, id+"-absent.st"))
	}
	return registry.Build(models)
}

// fakeLoader builds sessions over in-memory runtimes.
type fakeLoader struct {
	mu          sync.Mutex
	gate        chan struct{}
	errs        map[string]error
	runtimes    map[string][]*llmtest.Runtime
	calls       []string
	inflight    int
	maxInflight int
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{errs: map[string]error{}, runtimes: map[string][]*llmtest.Runtime{}}
}

func (f *fakeLoader) load(ctx context.Context, mdl registry.Model) (*session.Session, error) {
	f.mu.Lock()
	f.calls = append(f.calls, mdl.ID)
	f.inflight++
	f.maxInflight = max(f.maxInflight, f.inflight)
	gate := f.gate
	err := f.errs[mdl.ID]
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	rt := llmtest.NewRuntime(300, 4)
	f.mu.Lock()
	f.runtimes[mdl.ID] = append(f.runtimes[mdl.ID], rt)
	f.mu.Unlock()
	return session.New(ctx, session.Params{ID: mdl.ID, Config: mdl.Config, Tokenizer: llmtest.ByteTokenizer{}, Runtime: rt})
}

func (f *fakeLoader) runtime(id string) *llmtest.Runtime {
	f.mu.Lock()
	defer f.mu.Unlock()
	rts := f.runtimes[id]
	if len(rts) == 0 {
		return nil
	}
	return rts[len(rts)-1]
}

func (f *fakeLoader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitActive(t *testing.T, m *Manager, id string) {
	t.Helper()
	waitFor(t, "model "+id+" active", func() bool {
		got, ok := m.ActiveModelID()
		return ok && got == id && !m.Loading()
	})
}
