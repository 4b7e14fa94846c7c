package llm

import (
	"fmt"
	"slices"
)

// Tensor is a host-side copy of runtime data: logits, probabilities or a
// recurrent state snapshot. Its meaning is defined by the runtime.
type Tensor struct {
	Shape []int
	Data  []float32
}

// NewTensor checks that data fills shape exactly.
func NewTensor(shape []int, data []float32) (Tensor, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return Tensor{}, fmt.Errorf("invalid dim %d in shape %v", d, shape)
		}
		n *= d
	}
	if len(shape) == 0 || n != len(data) {
		return Tensor{}, fmt.Errorf("shape %v does not match %d elements", shape, len(data))
	}
	return Tensor{Shape: slices.Clone(shape), Data: data}, nil
}

// Clone returns an independent copy; mutating either never shows through the other.
func (t Tensor) Clone() Tensor {
	return Tensor{Shape: slices.Clone(t.Shape), Data: slices.Clone(t.Data)}
}

func (t Tensor) Len() int { return len(t.Data) }

func (t Tensor) IsZero() bool { return t.Shape == nil && t.Data == nil }

// Equal reports element-wise equality of shape and data.
func (t Tensor) Equal(o Tensor) bool {
	return slices.Equal(t.Shape, o.Shape) && slices.Equal(t.Data, o.Data)
}
