// Package weightstest writes small safetensors files for tests.
package weightstest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sort"

	"github.com/goccy/go-json"

	"chatd/internal/llm"
)

// Tensor is an F32 tensor filled with zeros.
type Tensor struct {
	Name  string
	Shape []int
}

// Encode renders tensors and metadata as a safetensors image.
func Encode(tensors []Tensor, meta map[string]string) ([]byte, error) {
	header := map[string]any{}
	if meta != nil {
		header["__metadata__"] = meta
	}
	sorted := append([]Tensor(nil), tensors...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var off int64
	for _, t := range sorted {
		n := int64(4)
		for _, d := range t.Shape {
			n *= int64(d)
		}
		header[t.Name] = map[string]any{
			"dtype":        "F32",
			"shape":        t.Shape,
			"data_offsets": []int64{off, off + n},
		}
		off += n
	}
	hb, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, uint64(len(hb)))
	buf.Write(hb)
	buf.Write(make([]byte, off))
	return buf.Bytes(), nil
}

// Model lists the tensors a file of the given shape carries, enough for
// architecture detection.
func Model(v llm.Version, layers, vocab, emb, hidden, heads int) []Tensor {
	out := []Tensor{{Name: "emb.weight", Shape: []int{vocab, emb}}}
	for i := 0; i < layers; i++ {
		p := fmt.Sprintf("blocks.%d.", i)
		out = append(out, Tensor{Name: p + "ffn.key.weight", Shape: []int{hidden, emb}})
		switch v {
		case llm.V4:
			out = append(out, Tensor{Name: p + "att.time_first", Shape: []int{emb}})
		case llm.V5:
			out = append(out, Tensor{Name: p + "att.time_faaaa", Shape: []int{heads, emb / heads}})
		case llm.V6:
			out = append(out,
				Tensor{Name: p + "att.time_faaaa", Shape: []int{heads, emb / heads}},
				Tensor{Name: p + "att.time_maa_x", Shape: []int{emb}},
			)
		}
	}
	return out
}

// WriteModel writes a detectable model file to path.
func WriteModel(path string, v llm.Version, layers, vocab int) error {
	raw, err := Encode(Model(v, layers, vocab, 8, 16, 2), map[string]string{"format": "pt"})
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
