package crdt

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/roach88/scenebridge/internal/wire"
)

// SlotView is a detached copy of one slot, safe to keep after the store
// changes.
type SlotView struct {
	Key       Key
	Kind      wire.Type
	Timestamp wire.Timestamp

	// Payload is the put payload, or the concatenated append log.
	Payload []byte

	// Entries holds each appended value in arrival order. Nil for put slots.
	Entries [][]byte
}

func (s *slot) view(k Key) SlotView {
	v := SlotView{
		Key:       k,
		Kind:      s.kind,
		Timestamp: s.ts,
		Payload:   append([]byte(nil), s.data...),
	}
	if s.kind == wire.TypeAppendComponent {
		v.Entries = make([][]byte, len(s.ends))
		start := 0
		for i, end := range s.ends {
			v.Entries[i] = v.Payload[start:end:end]
			start = end
		}
	}
	return v
}

// Slot returns a copy of the slot at (e, c).
func (s *Store) Slot(e wire.EntityID, c wire.ComponentID) (SlotView, bool) {
	sl := s.lookup(e, c)
	if sl == nil {
		return SlotView{}, false
	}
	return sl.view(Key{Entity: e, Component: c}), true
}

// Slots returns copies of every live slot in ascending key order.
func (s *Store) Slots() []SlotView {
	keys := s.sortedKeys()
	out := make([]SlotView, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.entities[k.Entity][k.Component].view(k))
	}
	return out
}

// EntityLen returns the number of live slots held by e.
func (s *Store) EntityLen(e wire.EntityID) int {
	return len(s.entities[e])
}

// DomainState separates state digests from any other hash in the system.
const DomainState = "scenebridge/state/v1"

// Digest returns a hex SHA-256 over the canonical snapshot of the store.
// Two stores with the same live slot set have the same digest.
//
// Format: SHA256(domain + 0x00 + snapshot bytes)
func (s *Store) Digest() string {
	h := sha256.New()
	h.Write([]byte(DomainState))
	h.Write([]byte{0x00})

	var hdr [wire.HeaderSize]byte
	for _, k := range s.sortedKeys() {
		sl := s.entities[k.Entity][k.Component]
		hdr[0] = byte(sl.kind)
		binary.LittleEndian.PutUint32(hdr[1:5], uint32(k.Entity))
		binary.LittleEndian.PutUint32(hdr[5:9], uint32(k.Component))
		binary.LittleEndian.PutUint32(hdr[9:13], uint32(sl.ts))
		binary.LittleEndian.PutUint32(hdr[13:17], uint32(len(sl.data)))
		h.Write(hdr[:])
		h.Write(sl.data)
	}
	return hex.EncodeToString(h.Sum(nil))
}
