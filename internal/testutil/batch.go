package testutil

import (
	"github.com/roach88/scenebridge/internal/wire"
)

// Put builds a PutComponent message.
func Put(e, c, ts uint32, payload string) wire.Message {
	return wire.Message{Type: wire.TypePutComponent, Entity: wire.EntityID(e), Component: wire.ComponentID(c), Timestamp: wire.Timestamp(ts), Payload: bytesOrNil(payload)}
}

// Append builds an AppendComponent message.
func Append(e, c, ts uint32, payload string) wire.Message {
	return wire.Message{Type: wire.TypeAppendComponent, Entity: wire.EntityID(e), Component: wire.ComponentID(c), Timestamp: wire.Timestamp(ts), Payload: bytesOrNil(payload)}
}

// DeleteComponent builds a DeleteComponent message.
func DeleteComponent(e, c, ts uint32) wire.Message {
	return wire.Message{Type: wire.TypeDeleteComponent, Entity: wire.EntityID(e), Component: wire.ComponentID(c), Timestamp: wire.Timestamp(ts)}
}

// DeleteEntity builds a DeleteEntity message.
func DeleteEntity(e uint32) wire.Message {
	return wire.Message{Type: wire.TypeDeleteEntity, Entity: wire.EntityID(e)}
}

func bytesOrNil(s string) []byte {
	if s == "" {
		return nil
	}
	return []byte(s)
}

// Encode returns msgs as one wire batch.
func Encode(msgs ...wire.Message) []byte {
	buf := make([]byte, wire.EncodedLen(msgs))
	if _, err := wire.EncodeBatch(buf, msgs); err != nil {
		panic(err)
	}
	return buf
}

// Decode decodes buf and copies every payload so the result outlives buf.
// It panics on a malformed batch.
func Decode(buf []byte) []wire.Message {
	msgs, err := wire.DecodeAll(buf)
	if err != nil {
		panic(err)
	}
	for i := range msgs {
		if msgs[i].Payload != nil {
			msgs[i].Payload = append([]byte(nil), msgs[i].Payload...)
		}
	}
	return msgs
}

// Batch accumulates messages stamped by a TickClock.
type Batch struct {
	clock *TickClock
	msgs  []wire.Message
}

// NewBatch creates a batch builder using clock for timestamps.
func NewBatch(clock *TickClock) *Batch {
	return &Batch{clock: clock}
}

// Put adds a put stamped with the next tick.
func (b *Batch) Put(e, c uint32, payload string) *Batch {
	b.msgs = append(b.msgs, Put(e, c, uint32(b.clock.Next()), payload))
	return b
}

// Append adds an append stamped with the next tick.
func (b *Batch) Append(e, c uint32, payload string) *Batch {
	b.msgs = append(b.msgs, Append(e, c, uint32(b.clock.Next()), payload))
	return b
}

// DeleteComponent adds a component delete.
func (b *Batch) DeleteComponent(e, c uint32) *Batch {
	b.msgs = append(b.msgs, DeleteComponent(e, c, uint32(b.clock.Next())))
	return b
}

// DeleteEntity adds an entity delete.
func (b *Batch) DeleteEntity(e uint32) *Batch {
	b.msgs = append(b.msgs, DeleteEntity(e))
	return b
}

// Messages returns the accumulated messages.
func (b *Batch) Messages() []wire.Message { return b.msgs }

// Bytes encodes the batch.
func (b *Batch) Bytes() []byte { return Encode(b.msgs...) }
