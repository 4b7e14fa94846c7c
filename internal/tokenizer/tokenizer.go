// Package tokenizer implements the RWKV "world" tokenizer: a fixed byte-level
// vocabulary matched greedily, longest entry first.
package tokenizer

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/goccy/go-json"
)

var ErrUnknownToken = errors.New("unknown token")

type node struct {
	children map[byte]*node
	id       uint16
	terminal bool
}

// Tokenizer is immutable after construction and safe for concurrent use.
type Tokenizer struct {
	root   *node
	tokens map[uint16][]byte
}

// New builds a tokenizer from id -> byte sequence entries.
func New(vocab map[uint16][]byte) (*Tokenizer, error) {
	if len(vocab) == 0 {
		return nil, errors.New("empty vocabulary")
	}
	t := &Tokenizer{root: &node{}, tokens: make(map[uint16][]byte, len(vocab))}
	// Stable insertion so duplicate byte sequences always resolve to the
	// lowest id.
	ids := make([]int, 0, len(vocab))
	for id := range vocab {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)
	for _, i := range ids {
		id := uint16(i)
		b := vocab[id]
		if len(b) == 0 {
			return nil, fmt.Errorf("token %d: empty entry", id)
		}
		t.tokens[id] = append([]byte(nil), b...)
		n := t.root
		for _, c := range b {
			if n.children == nil {
				n.children = make(map[byte]*node)
			}
			next, ok := n.children[c]
			if !ok {
				next = &node{}
				n.children[c] = next
			}
			n = next
		}
		if !n.terminal {
			n.id, n.terminal = id, true
		}
	}
	return t, nil
}

// Load reads a vocabulary file mapping decimal ids to either a string or an
// array of byte values.
func Load(path string) (*Tokenizer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocab: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Tokenizer, error) {
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse vocab: %w", err)
	}
	vocab := make(map[uint16][]byte, len(entries))
	for key, val := range entries {
		id, err := strconv.ParseUint(key, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("parse vocab: bad id %q", key)
		}
		b, err := decodeEntry(val)
		if err != nil {
			return nil, fmt.Errorf("parse vocab: token %d: %w", id, err)
		}
		vocab[uint16(id)] = b
	}
	return New(vocab)
}

func decodeEntry(val json.RawMessage) ([]byte, error) {
	var s string
	if err := json.Unmarshal(val, &s); err == nil {
		return []byte(s), nil
	}
	var ints []int
	if err := json.Unmarshal(val, &ints); err != nil {
		return nil, errors.New("entry is neither string nor byte array")
	}
	out := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("byte value %d out of range", v)
		}
		out[i] = byte(v)
	}
	return out, nil
}

// Encode splits b into the longest vocabulary entries available at each
// position.
func (t *Tokenizer) Encode(b []byte) ([]uint16, error) {
	out := make([]uint16, 0, len(b)/2+1)
	for pos := 0; pos < len(b); {
		n := t.root
		var (
			best    uint16
			bestLen int
		)
		for i := pos; i < len(b); i++ {
			next, ok := n.children[b[i]]
			if !ok {
				break
			}
			n = next
			if n.terminal {
				best, bestLen = n.id, i-pos+1
			}
		}
		if bestLen == 0 {
			return nil, fmt.Errorf("no token for byte 0x%02x at offset %d", b[pos], pos)
		}
		out = append(out, best)
		pos += bestLen
	}
	return out, nil
}

// Decode concatenates the byte sequences of tokens. The result may hold
// invalid UTF-8 when a multi-byte rune is split across a boundary.
func (t *Tokenizer) Decode(tokens []uint16) ([]byte, error) {
	var out []byte
	for _, tok := range tokens {
		b, ok := t.tokens[tok]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownToken, tok)
		}
		out = append(out, b...)
	}
	return out, nil
}

// Size reports the number of entries.
func (t *Tokenizer) Size() int { return len(t.tokens) }
