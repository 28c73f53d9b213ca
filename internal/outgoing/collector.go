// Package outgoing buffers mutations the host world makes to shared state so
// the bridge can report them back to the scene script on its next call.
package outgoing

import (
	"sync"

	"github.com/roach88/scenebridge/internal/wire"
)

// Pending is one buffered mutation and its encoded length.
type Pending struct {
	Message wire.Message
	Length  int
}

// Collector is a multi-producer buffer drained by a single consumer.
//
// Producers call Push from any goroutine. The bridge takes an exclusive
// drain block, encodes the pending entries, and releases the block, which
// clears them. While a block is held every Push waits.
type Collector struct {
	mu      sync.Mutex
	entries []Pending
	arena   []byte // backing storage for pending payloads
	size    int    // encoded size of entries
	closed  bool

	// drain state, guarded by mu being held by the drainer
	draining bool
	gen      uint64
}

// New creates an empty collector.
func New() *Collector {
	return &Collector{
		entries: make([]Pending, 0, 32),
	}
}

// Push buffers m, copying its payload. Returns false if the collector is
// closed.
func (c *Collector) Push(m wire.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	if len(m.Payload) > 0 {
		start := len(c.arena)
		c.arena = append(c.arena, m.Payload...)
		// Cap the view so a later append to the arena never writes through it.
		m.Payload = c.arena[start:len(c.arena):len(c.arena)]
	} else {
		m.Payload = nil
	}

	n := m.EncodedLen()
	c.entries = append(c.entries, Pending{Message: m, Length: n})
	c.size += n
	return true
}

// Len returns the number of pending entries.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Block is an exclusive, lock-held view of the pending entries. It must be
// released exactly once; Release on a stale copy is ignored.
type Block struct {
	c   *Collector
	gen uint64
}

// DrainBlock locks the collector and returns a view of everything pushed
// since the last drain. Producers block until the view is released.
func (c *Collector) DrainBlock() Block {
	c.mu.Lock()
	c.draining = true
	c.gen++
	return Block{c: c, gen: c.gen}
}

func (b Block) live() bool {
	return b.c != nil && b.c.draining && b.c.gen == b.gen
}

// Entries returns the pending entries in push order. The slice is only valid
// until Release.
func (b Block) Entries() []Pending {
	if !b.live() {
		return nil
	}
	return b.c.entries
}

// Len returns the number of pending entries.
func (b Block) Len() int {
	if !b.live() {
		return 0
	}
	return len(b.c.entries)
}

// EncodedLen returns the total wire size of the pending entries.
func (b Block) EncodedLen() int {
	if !b.live() {
		return 0
	}
	return b.c.size
}

// EncodeTo writes every pending entry into dst and returns the bytes written.
// Size dst with EncodedLen.
func (b Block) EncodeTo(dst []byte) (int, error) {
	if !b.live() {
		return 0, nil
	}
	if len(dst) < b.c.size {
		return 0, wire.ErrShortBuffer
	}
	off := 0
	for i := range b.c.entries {
		n, err := wire.PutMessage(dst[off:], b.c.entries[i].Message)
		if err != nil {
			return off, err
		}
		off += n
	}
	return off, nil
}

// Release clears the drained entries and unlocks the collector.
func (b Block) Release() {
	if !b.live() {
		return
	}
	c := b.c
	// Nil out payload views so the arena can be reused without retaining
	// references through the entries' backing array.
	clear(c.entries)
	c.entries = c.entries[:0]
	c.arena = c.arena[:0]
	c.size = 0
	c.draining = false
	c.mu.Unlock()
}

// Drain runs fn with an exclusive block and releases it afterwards, even if
// fn panics.
func (c *Collector) Drain(fn func(Block) error) error {
	b := c.DrainBlock()
	defer b.Release()
	return fn(b)
}

// Close stops accepting pushes and drops anything pending.
func (c *Collector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	clear(c.entries)
	c.entries = c.entries[:0]
	c.arena = nil
	c.size = 0
}
