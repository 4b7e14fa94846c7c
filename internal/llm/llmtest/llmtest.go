// Package llmtest provides in-memory runtimes and tokenizers for tests.
package llmtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"chatd/internal/llm"
)

// Runtime is a deterministic stand-in for a recurrent runtime. Every consumed
// token is folded into a small state vector; the logits produced after a
// token favour Next[token] (or Default when absent) so a test can script a
// generation as a chain of tokens.
type Runtime struct {
	Vocab   int
	Next    map[uint16]uint16
	Default uint16
	// ChunkLimit caps tokens consumed per Infer call, below the request's
	// chunk size, to exercise partial consumption. Zero means no extra cap.
	ChunkLimit int
	InferErr   error

	mu         sync.Mutex
	state      []float32
	fed        []uint16
	inferCalls int
	closed     bool
}

// NewRuntime returns a runtime with the given vocabulary size and a state of
// stateLen elements initialised to a fixed non-zero pattern.
func NewRuntime(vocab, stateLen int) *Runtime {
	st := make([]float32, stateLen)
	for i := range st {
		st[i] = float32(i%5) * 0.25
	}
	return &Runtime{Vocab: vocab, Next: map[uint16]uint16{}, state: st}
}

func (r *Runtime) Infer(ctx context.Context, in llm.Input) (llm.Input, llm.Output, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return in, nil, errors.New("runtime closed")
	}
	if r.InferErr != nil {
		return in, nil, r.InferErr
	}
	r.inferCalls++
	chunk := in.TokenChunkSize
	if chunk <= 0 {
		chunk = llm.DefaultTokenChunkSize
	}
	if r.ChunkLimit > 0 && r.ChunkLimit < chunk {
		chunk = r.ChunkLimit
	}

	out := make(llm.Output, len(in.Batches))
	rest := llm.Input{Batches: make([]llm.Batch, len(in.Batches)), TokenChunkSize: in.TokenChunkSize}
	for i, b := range in.Batches {
		n := min(chunk, len(b.Tokens))
		for _, tok := range b.Tokens[:n] {
			if int(tok) >= r.Vocab {
				return in, nil, fmt.Errorf("token %d out of vocabulary", tok)
			}
			r.fold(tok)
		}
		rest.Batches[i] = llm.Batch{Tokens: b.Tokens[n:], Option: b.Option}
		if n > 0 && (b.Option == llm.OptionFull || len(b.Tokens) == n) {
			out[i] = r.logits(b.Tokens[n-1])
		}
	}
	return rest, out, nil
}

func (r *Runtime) fold(tok uint16) {
	r.fed = append(r.fed, tok)
	for i := range r.state {
		r.state[i] = r.state[i]*0.5 + float32((int(tok)+i)%11)*0.125
	}
}

func (r *Runtime) logits(last uint16) llm.Tensor {
	next, ok := r.Next[last]
	if !ok {
		next = r.Default
	}
	data := make([]float32, r.Vocab)
	data[next] = 20
	return llm.Tensor{Shape: []int{r.Vocab, 1}, Data: data}
}

func (r *Runtime) Softmax(ctx context.Context, logits llm.Tensor) (llm.Tensor, error) {
	maxv := float32(math.Inf(-1))
	for _, v := range logits.Data {
		maxv = max(maxv, v)
	}
	out := make([]float32, len(logits.Data))
	var sum float64
	for i, v := range logits.Data {
		e := math.Exp(float64(v - maxv))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return llm.NewTensor(logits.Shape, out)
}

func (r *Runtime) Back(ctx context.Context, batch int) (llm.Tensor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if batch != 0 {
		return llm.Tensor{}, fmt.Errorf("batch %d out of range", batch)
	}
	t := llm.Tensor{Shape: []int{len(r.state)}, Data: r.state}
	return t.Clone(), nil
}

func (r *Runtime) Load(state llm.Tensor, batch int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if batch != 0 {
		return fmt.Errorf("batch %d out of range", batch)
	}
	if len(state.Data) != len(r.state) {
		return fmt.Errorf("state size %d, want %d", len(state.Data), len(r.state))
	}
	copy(r.state, state.Data)
	return nil
}

func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Fed returns every token folded into the state so far.
func (r *Runtime) Fed() []uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint16(nil), r.fed...)
}

// InferCalls counts successful Infer calls.
func (r *Runtime) InferCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inferCalls
}

func (r *Runtime) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Backend records build requests and hands out runtimes from New.
type Backend struct {
	New func(req llm.BuildRequest) (llm.Runtime, error)
	// Gate, when set, blocks Build until it is closed or receives.
	Gate chan struct{}

	mu       sync.Mutex
	requests []llm.BuildRequest
}

func (b *Backend) Build(ctx context.Context, req llm.BuildRequest) (llm.Runtime, error) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	b.mu.Unlock()
	if b.Gate != nil {
		select {
		case <-b.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if b.New == nil {
		return NewRuntime(req.Info.NumVocab, 8), nil
	}
	return b.New(req)
}

func (b *Backend) Requests() []llm.BuildRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]llm.BuildRequest(nil), b.requests...)
}

// ByteTokenizer maps every byte b to token b+1, keeping token 0 reserved.
type ByteTokenizer struct{}

func (ByteTokenizer) Encode(b []byte) ([]uint16, error) {
	out := make([]uint16, len(b))
	for i, c := range b {
		out[i] = uint16(c) + 1
	}
	return out, nil
}

func (ByteTokenizer) Decode(tokens []uint16) ([]byte, error) {
	out := make([]byte, 0, len(tokens))
	for _, t := range tokens {
		if t == 0 || t > 256 {
			return nil, fmt.Errorf("token %d has no byte", t)
		}
		out = append(out, byte(t-1))
	}
	return out, nil
}
