package crdt

import (
	"cmp"
	"slices"

	"github.com/roach88/scenebridge/internal/wire"
)

// Key identifies a slot.
type Key struct {
	Entity    wire.EntityID
	Component wire.ComponentID
}

func compareKeys(a, b Key) int {
	if c := cmp.Compare(a.Entity, b.Entity); c != 0 {
		return c
	}
	return cmp.Compare(a.Component, b.Component)
}

// slot owns its payload bytes. For append slots data is the concatenated log
// and ends holds the end offset of each entry.
type slot struct {
	kind wire.Type
	ts   wire.Timestamp
	data []byte
	ends []int
}

func (s *slot) reset() {
	s.kind = 0
	s.ts = 0
	s.data = s.data[:0]
	s.ends = s.ends[:0]
}

// maxRecycled bounds how many removed slots are kept for reuse.
const maxRecycled = 256

// Store is the conflict-resolution state for one scene.
type Store struct {
	entities map[wire.EntityID]map[wire.ComponentID]*slot
	count    int

	// deleted marks entities removed since the last BeginBatch.
	deleted map[wire.EntityID]struct{}

	recycled []*slot
	keys     []Key
}

// New returns an empty store.
func New() *Store {
	return &Store{
		entities: make(map[wire.EntityID]map[wire.ComponentID]*slot),
		deleted:  make(map[wire.EntityID]struct{}),
	}
}

// BeginBatch starts a new reconciliation batch. Entity deletions observed in
// the previous batch stop blocking writes.
func (s *Store) BeginBatch() {
	clear(s.deleted)
}

// ProcessMessage applies m and reports what changed. Payload bytes are copied,
// so m may alias a buffer that is reused afterwards.
func (s *Store) ProcessMessage(m wire.Message) Result {
	switch m.Type {
	case wire.TypePutComponent:
		return s.put(m)
	case wire.TypeAppendComponent:
		return s.append(m)
	case wire.TypeDeleteComponent:
		return s.deleteComponent(m.Entity, m.Component)
	case wire.TypeDeleteEntity:
		return s.deleteEntity(m.Entity)
	}
	return resultNoChange
}

func (s *Store) put(m wire.Message) Result {
	if _, gone := s.deleted[m.Entity]; gone {
		return resultMissing
	}
	sl := s.lookup(m.Entity, m.Component)
	if sl != nil && m.Timestamp <= sl.ts {
		return resultNoChange
	}
	if sl == nil {
		sl = s.create(m.Entity, m.Component)
	}
	sl.kind = wire.TypePutComponent
	sl.ts = m.Timestamp
	sl.data = append(sl.data[:0], m.Payload...)
	sl.ends = sl.ends[:0]
	return resultModified
}

func (s *Store) append(m wire.Message) Result {
	if _, gone := s.deleted[m.Entity]; gone {
		return resultMissing
	}
	sl := s.lookup(m.Entity, m.Component)
	if sl == nil {
		sl = s.create(m.Entity, m.Component)
	}
	if sl.kind != wire.TypeAppendComponent {
		// A put slot turning into a log starts the log fresh.
		sl.kind = wire.TypeAppendComponent
		sl.data = sl.data[:0]
		sl.ends = sl.ends[:0]
		sl.ts = 0
	}
	sl.data = append(sl.data, m.Payload...)
	sl.ends = append(sl.ends, len(sl.data))
	if m.Timestamp > sl.ts {
		sl.ts = m.Timestamp
	}
	return resultModified
}

func (s *Store) deleteComponent(e wire.EntityID, c wire.ComponentID) Result {
	comps, ok := s.entities[e]
	if !ok {
		return resultNoChange
	}
	sl, ok := comps[c]
	if !ok {
		return resultNoChange
	}
	delete(comps, c)
	if len(comps) == 0 {
		delete(s.entities, e)
	}
	s.count--
	s.recycle(sl)
	return resultModified
}

func (s *Store) deleteEntity(e wire.EntityID) Result {
	if comps, ok := s.entities[e]; ok {
		for _, sl := range comps {
			s.recycle(sl)
		}
		s.count -= len(comps)
		delete(s.entities, e)
	}
	s.deleted[e] = struct{}{}
	return resultEntityDel
}

func (s *Store) lookup(e wire.EntityID, c wire.ComponentID) *slot {
	if comps, ok := s.entities[e]; ok {
		return comps[c]
	}
	return nil
}

func (s *Store) create(e wire.EntityID, c wire.ComponentID) *slot {
	comps, ok := s.entities[e]
	if !ok {
		comps = make(map[wire.ComponentID]*slot, 4)
		s.entities[e] = comps
	}
	var sl *slot
	if last := len(s.recycled) - 1; last >= 0 {
		sl = s.recycled[last]
		s.recycled[last] = nil
		s.recycled = s.recycled[:last]
	} else {
		sl = &slot{}
	}
	comps[c] = sl
	s.count++
	return sl
}

func (s *Store) recycle(sl *slot) {
	sl.reset()
	if len(s.recycled) < maxRecycled {
		s.recycled = append(s.recycled, sl)
	}
}

// Len returns the number of live slots.
func (s *Store) Len() int { return s.count }

// MessageCount returns how many messages a snapshot of the current state holds.
// It is always Len: one message per live slot.
func (s *Store) MessageCount() int { return s.count }

// EncodedSize returns the byte size of a snapshot of the current state.
func (s *Store) EncodedSize() int {
	n := 0
	for _, comps := range s.entities {
		for _, sl := range comps {
			n += wire.HeaderSize + len(sl.data)
		}
	}
	return n
}

// sortedKeys fills the store's scratch list with every live key in
// ascending order. The result is valid until the next call.
func (s *Store) sortedKeys() []Key {
	keys := s.keys[:0]
	for e, comps := range s.entities {
		for c := range comps {
			keys = append(keys, Key{Entity: e, Component: c})
		}
	}
	slices.SortFunc(keys, compareKeys)
	s.keys = keys
	return keys
}

func (s *Store) messageFor(k Key, sl *slot) wire.Message {
	m := wire.Message{
		Type:      sl.kind,
		Entity:    k.Entity,
		Component: k.Component,
		Timestamp: sl.ts,
	}
	if len(sl.data) > 0 {
		m.Payload = sl.data
	}
	return m
}

// AppendMessages appends one snapshot message per live slot to dst.
// Payloads alias store memory and are only valid until the next mutation.
func (s *Store) AppendMessages(dst []wire.Message) []wire.Message {
	for _, k := range s.sortedKeys() {
		dst = append(dst, s.messageFor(k, s.entities[k.Entity][k.Component]))
	}
	return dst
}

// CreateMessagesFromCurrentState encodes a snapshot of every live slot into
// dst and returns the bytes written. Size dst with EncodedSize.
func (s *Store) CreateMessagesFromCurrentState(dst []byte) (int, error) {
	if len(dst) < s.EncodedSize() {
		return 0, wire.ErrShortBuffer
	}
	off := 0
	for _, k := range s.sortedKeys() {
		n, err := wire.PutMessage(dst[off:], s.messageFor(k, s.entities[k.Entity][k.Component]))
		if err != nil {
			return off, err
		}
		off += n
	}
	return off, nil
}

// Reset drops all state. The store can be reused for a new scene instance.
func (s *Store) Reset() {
	for _, comps := range s.entities {
		for _, sl := range comps {
			s.recycle(sl)
		}
	}
	clear(s.entities)
	clear(s.deleted)
	s.count = 0
}
