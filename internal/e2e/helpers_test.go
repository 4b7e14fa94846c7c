package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chatd/internal/cache"
	"chatd/internal/chat"
	"chatd/internal/config"
	"chatd/internal/httpapi"
	"chatd/internal/llm"
	"chatd/internal/llm/llmtest"
	"chatd/internal/manager"
	"chatd/internal/registry"
	"chatd/internal/session"
	"chatd/internal/weights/weightstest"
	"chatd/pkg/types"
)

const vocabSize = 300

// writeModelDir writes weights for each named model, a byte level
// vocabulary, and a chatd.toml referencing them by relative path.
func writeModelDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	var sb strings.Builder
	sb.WriteString("{")
	for b := 0; b < 256; b++ {
		if b > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, "%q:[%d]", fmt.Sprint(b+1), b)
	}
	sb.WriteString("}")
	if err := os.WriteFile(filepath.Join(dir, "vocab.json"), []byte(sb.String()), 0o644); err != nil {
		t.Fatal(err)
	}

	var cfg strings.Builder
	cfg.WriteString("max_tokens = 64\n")
	for _, n := range names {
		if err := weightstest.WriteModel(filepath.Join(dir, n+".st"), llm.V5, 2, vocabSize); err != nil {
			t.Fatal(err)
		}
		fmt.Fprintf(&cfg, `
[models.%[1]s]
weights = "%[1]s.st"
vocab = "vocab.json"
stop_sequence = [290, 59]
role_system = { prefix = [], suffix = [261] }
role_user = { prefix = [270, 59], suffix = [261] }
role_assistant = { prefix = [280, 281, 59], suffix = [261] }
`, n)
	}
	// A model whose weights never existed.
	cfg.WriteString(`
[models.ghost]
weights = "ghost.st"
vocab = "vocab.json"
stop_sequence = [290, 59]
role_assistant = { prefix = [280, 281, 59], suffix = [261] }
`)
	if err := os.WriteFile(filepath.Join(dir, "chatd.toml"), []byte(cfg.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	return filepath.Join(dir, "chatd.toml")
}

// scripted answers answer to any prompt ending in the assistant prefix.
// Each character of answer must be unique since the chain is keyed by the
// previous token.
func scripted(answer string) func(llm.BuildRequest) (llm.Runtime, error) {
	return func(req llm.BuildRequest) (llm.Runtime, error) {
		rt := llmtest.NewRuntime(req.Info.NumVocab, 8)
		prev := uint16(59)
		for i := 0; i < len(answer); i++ {
			tok := uint16(answer[i]) + 1
			rt.Next[prev] = tok
			prev = tok
		}
		rt.Next[prev] = 290
		rt.Next[290] = 59
		return rt, nil
	}
}

type stack struct {
	srv *httptest.Server
	mgr *manager.Manager
}

func newStack(t *testing.T, cfgPath string, backend llm.Backend, queueDepth int) *stack {
	t.Helper()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	mgr := manager.NewWithConfig(manager.ManagerConfig{
		Registry:      registry.Build(cfg.Models),
		Loader:        manager.SessionLoader(session.LoadOptions{Backend: backend}),
		MaxQueueDepth: queueDepth,
	})
	svc := chat.NewService(mgr, cache.New(), chat.Options{
		MaxTokens:      cfg.MaxTokens,
		MaxTokensLimit: cfg.MaxTokensLimit,
		Sampler:        cfg.Sampler,
	})
	srv := httptest.NewServer(httpapi.NewMux(httpapi.NewCore(mgr, svc)))
	t.Cleanup(func() {
		srv.Close()
		_ = mgr.Close()
	})
	return &stack{srv: srv, mgr: mgr}
}

func (s *stack) post(t *testing.T, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, s.srv.URL+path, r)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return do(t, req)
}

func (s *stack) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, s.srv.URL+path, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	return do(t, req)
}

func do(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, b
}

func (s *stack) status(t *testing.T) types.StatusResponse {
	t.Helper()
	_, b := s.get(t, "/status")
	var st types.StatusResponse
	if err := json.Unmarshal(b, &st); err != nil {
		t.Fatalf("decode status %q: %v", b, err)
	}
	return st
}

// waitStatus polls /status until cond holds.
func (s *stack) waitStatus(t *testing.T, what string, cond func(types.StatusResponse) bool) types.StatusResponse {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		st := s.status(t)
		if cond(st) {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; last status %+v", what, st)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (s *stack) activate(t *testing.T, id string) {
	t.Helper()
	resp, b := s.post(t, "/v1/models/"+id+"/activate", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("activate %s: %d %s", id, resp.StatusCode, b)
	}
	s.waitStatus(t, id+" active", func(st types.StatusResponse) bool {
		return st.ActiveModel == id && !st.Loading
	})
}

func (s *stack) complete(t *testing.T, req types.ChatRequest) (int, types.ChatResponse) {
	t.Helper()
	resp, b := s.post(t, "/v1/chat/completions", req)
	var out types.ChatResponse
	if resp.StatusCode == http.StatusOK {
		if err := json.Unmarshal(b, &out); err != nil {
			t.Fatalf("decode completion %q: %v", b, err)
		}
	}
	return resp.StatusCode, out
}
