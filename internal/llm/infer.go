package llm

// Option selects which positions of a batch produce output.
type Option int

const (
	// OptionLast yields logits for the last consumed position only.
	OptionLast Option = iota
	// OptionFull yields logits for every consumed position.
	OptionFull
)

// DefaultTokenChunkSize is the chunk size chatd asks the runtime to use.
const DefaultTokenChunkSize = 32

// Batch is the pending token stream of one state slot.
type Batch struct {
	Tokens []uint16
	Option Option
}

// Input is a multi-slot inference request. The runtime chunks it by its own
// sizing rules and hands the unconsumed remainder back.
type Input struct {
	Batches        []Batch
	TokenChunkSize int
}

// NewInput builds an Input with a chunk size, defaulting non-positive sizes.
func NewInput(batches []Batch, chunk int) Input {
	if chunk <= 0 {
		chunk = DefaultTokenChunkSize
	}
	return Input{Batches: batches, TokenChunkSize: chunk}
}

// SingleLast is the one-slot, last-position input used by chatd.
func SingleLast(tokens []uint16) Input {
	return NewInput([]Batch{{Tokens: tokens, Option: OptionLast}}, DefaultTokenChunkSize)
}

// Pending reports whether any batch still has tokens to consume.
func (in Input) Pending() bool {
	for _, b := range in.Batches {
		if len(b.Tokens) > 0 {
			return true
		}
	}
	return false
}

// Output holds one logits tensor per batch. A tensor is zero when the batch
// produced no output in this call.
type Output []Tensor
