// Package llm is the seam between chatd and the recurrent-model inference
// runtime. It carries no inference math: it names the shapes exchanged with
// the runtime (token batches, logits and state tensors, version tags and
// quantization plans) and the two interfaces a runtime must satisfy.
//
// A native runtime registers itself under a backend name (see Register); the
// default build only ships the Unavailable backend, which refuses to build.
package llm

import "context"

// Runtime is a built, loaded model. It owns accelerator resources until Close.
//
// Infer may consume fewer tokens than supplied; callers resubmit the returned
// remainder until every batch is empty.
type Runtime interface {
	Infer(ctx context.Context, in Input) (Input, Output, error)
	// Softmax normalizes a logits tensor into a probability distribution.
	Softmax(ctx context.Context, logits Tensor) (Tensor, error)
	// Back reads back the live recurrent state of a batch slot.
	Back(ctx context.Context, batch int) (Tensor, error)
	// Load overwrites the live recurrent state of a batch slot.
	Load(state Tensor, batch int) error
	Close() error
}

// BuildRequest is everything a backend needs to construct a Runtime.
type BuildRequest struct {
	Info ModelInfo
	// Weights is the memory-mapped safetensors file. It stays valid until the
	// owning session closes, after the runtime.
	Weights []byte
	// Tensor returns the raw bytes of a named tensor inside Weights.
	Tensor func(name string) ([]byte, error)
	Quant  map[int]Quant
}

// Backend builds version-specific runtimes.
type Backend interface {
	Build(ctx context.Context, req BuildRequest) (Runtime, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, req BuildRequest) (Runtime, error)

func (f BackendFunc) Build(ctx context.Context, req BuildRequest) (Runtime, error) {
	return f(ctx, req)
}

// ModelInfo describes a model as derived from its weights metadata.
type ModelInfo struct {
	Version   Version
	NumLayer  int
	NumEmb    int
	NumHidden int
	NumVocab  int
	NumHead   int
}

// QuantPlan quantizes every layer of info with q.
func QuantPlan(info ModelInfo, q Quant) map[int]Quant {
	plan := make(map[int]Quant, info.NumLayer)
	for layer := 0; layer < info.NumLayer; layer++ {
		plan[layer] = q
	}
	return plan
}
