// Package cache holds the recurrent state reached after processing the most
// recent conversation, so the next turn of the same conversation only has to
// fold in the new messages.
//
// The cache has exactly one slot. A query hits only when every cached message
// is, in order, a prefix of the queried conversation; there is no partial
// reuse of a diverging history.
package cache

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"

	"chatd/internal/llm"
	"chatd/pkg/types"
)

type entry struct {
	length int
	digest uint64
	state  llm.Tensor
}

// Cache is safe for concurrent use. Its lock is held only for the duration
// of a single Query or Set.
type Cache struct {
	mu    sync.Mutex
	entry *entry
}

func New() *Cache { return &Cache{} }

// Query returns the number of leading messages already folded into the
// returned state. ok is false on a miss.
func (c *Cache) Query(messages []types.ChatMessage) (int, llm.Tensor, bool) {
	if len(messages) == 0 {
		return 0, llm.Tensor{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entry
	if e == nil || e.length > len(messages) {
		return 0, llm.Tensor{}, false
	}
	if Digest(messages[:e.length]) != e.digest {
		return 0, llm.Tensor{}, false
	}
	return e.length, e.state.Clone(), true
}

// Set replaces the slot with messages and the state reached after folding
// all of them.
func (c *Cache) Set(messages []types.ChatMessage, state llm.Tensor) {
	e := &entry{length: len(messages), digest: Digest(messages), state: state.Clone()}
	c.mu.Lock()
	c.entry = e
	c.mu.Unlock()
}

// Clear empties the slot.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entry = nil
	c.mu.Unlock()
}

// Len reports the number of messages covered by the slot, 0 when empty.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entry == nil {
		return 0
	}
	return c.entry.length
}

// Digest hashes an ordered message list. Fields are length-prefixed so
// ("ab","c") and ("a","bc") differ.
func Digest(messages []types.ChatMessage) uint64 {
	h := xxhash.New()
	var n [8]byte
	write := func(s string) {
		binary.LittleEndian.PutUint64(n[:], uint64(len(s)))
		_, _ = h.Write(n[:])
		_, _ = h.WriteString(s)
	}
	for _, m := range messages {
		write(m.Role)
		write(m.Content)
	}
	return h.Sum64()
}
