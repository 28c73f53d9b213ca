package wire

import (
	"encoding/binary"
	"iter"
)

// Decoder is a lazy, restartable reader over an encoded batch.
//
// Usage follows bufio.Scanner:
//
//	dec := wire.Decode(buf)
//	for dec.Next() {
//	    msg := dec.Message()
//	    ...
//	}
//	if err := dec.Err(); err != nil {
//	    // prefix was delivered, the rest of the batch is dropped
//	}
type Decoder struct {
	src   []byte
	off   int
	index int
	cur   Message
	err   error
}

// Decode returns a Decoder positioned at the start of buf.
// buf is never modified.
func Decode(buf []byte) *Decoder {
	return &Decoder{src: buf}
}

// Reset rewinds the decoder to the start of its buffer.
func (d *Decoder) Reset() {
	d.off = 0
	d.index = 0
	d.cur = Message{}
	d.err = nil
}

// Next advances to the next record. It returns false at the end of the batch
// or at the first malformed record.
func (d *Decoder) Next() bool {
	if d.err != nil || d.off >= len(d.src) {
		return false
	}

	rest := d.src[d.off:]
	if len(rest) < HeaderSize {
		d.fail(&MalformedMessageError{Reason: ReasonTruncatedHeader, Offset: d.off, Index: d.index, Remaining: len(rest)})
		return false
	}

	typ := Type(rest[0])
	if !typ.Valid() {
		d.fail(&MalformedMessageError{Reason: ReasonUnknownType, Offset: d.off, Index: d.index})
		return false
	}

	length := binary.LittleEndian.Uint32(rest[13:17])
	avail := len(rest) - HeaderSize
	if uint64(length) > uint64(avail) {
		d.fail(&MalformedMessageError{
			Reason:    ReasonPayloadOverrun,
			Offset:    d.off,
			Index:     d.index,
			Declared:  length,
			Remaining: avail,
		})
		return false
	}

	end := HeaderSize + int(length)
	d.cur = Message{
		Type:      typ,
		Entity:    EntityID(binary.LittleEndian.Uint32(rest[1:5])),
		Component: ComponentID(binary.LittleEndian.Uint32(rest[5:9])),
		Timestamp: Timestamp(binary.LittleEndian.Uint32(rest[9:13])),
		// Cap the slice so an append by the caller cannot clobber the next record.
		Payload: rest[HeaderSize:end:end],
	}
	if length == 0 {
		d.cur.Payload = nil
	}
	d.off += end
	d.index++
	return true
}

func (d *Decoder) fail(err *MalformedMessageError) {
	d.cur = Message{}
	d.err = err
}

// Message returns the record produced by the last successful Next.
func (d *Decoder) Message() Message {
	return d.cur
}

// Err returns the MalformedMessageError that stopped decoding, if any.
func (d *Decoder) Err() error {
	return d.err
}

// Decoded returns how many records have been delivered since the last Reset.
func (d *Decoder) Decoded() int {
	return d.index
}

// All returns an iterator over the batch from the start. Each call rewinds,
// so the sequence can be ranged over more than once.
func (d *Decoder) All() iter.Seq[Message] {
	return func(yield func(Message) bool) {
		d.Reset()
		for d.Next() {
			if !yield(d.cur) {
				return
			}
		}
	}
}

// DecodeAll decodes every valid record in buf. Payloads alias buf.
// The returned error is non-nil only when the batch was cut short.
func DecodeAll(buf []byte) ([]Message, error) {
	d := Decode(buf)
	var out []Message
	for d.Next() {
		out = append(out, d.Message())
	}
	return out, d.Err()
}

// PutMessage writes m at the start of dst and returns the bytes written.
// dst must hold at least m.EncodedLen() bytes.
func PutMessage(dst []byte, m Message) (int, error) {
	n := m.EncodedLen()
	if len(dst) < n {
		return 0, ErrShortBuffer
	}
	dst[0] = byte(m.Type)
	binary.LittleEndian.PutUint32(dst[1:5], uint32(m.Entity))
	binary.LittleEndian.PutUint32(dst[5:9], uint32(m.Component))
	binary.LittleEndian.PutUint32(dst[9:13], uint32(m.Timestamp))
	binary.LittleEndian.PutUint32(dst[13:17], uint32(len(m.Payload)))
	copy(dst[HeaderSize:n], m.Payload)
	return n, nil
}

// PutHeader writes a record header whose payload is written separately by the
// caller. It is used when a payload is assembled from several pieces.
func PutHeader(dst []byte, typ Type, entity EntityID, component ComponentID, ts Timestamp, payloadLen int) (int, error) {
	if len(dst) < HeaderSize+payloadLen {
		return 0, ErrShortBuffer
	}
	dst[0] = byte(typ)
	binary.LittleEndian.PutUint32(dst[1:5], uint32(entity))
	binary.LittleEndian.PutUint32(dst[5:9], uint32(component))
	binary.LittleEndian.PutUint32(dst[9:13], uint32(ts))
	binary.LittleEndian.PutUint32(dst[13:17], uint32(payloadLen))
	return HeaderSize, nil
}

// EncodeBatch writes msgs back to back into dst and returns the bytes written.
// Size dst with EncodedLen; a short dst returns ErrShortBuffer and writes nothing.
func EncodeBatch(dst []byte, msgs []Message) (int, error) {
	if len(dst) < EncodedLen(msgs) {
		return 0, ErrShortBuffer
	}
	off := 0
	for i := range msgs {
		n, err := PutMessage(dst[off:], msgs[i])
		if err != nil {
			return off, err
		}
		off += n
	}
	return off, nil
}

// AppendMessage appends the encoding of m to dst, growing it as needed.
func AppendMessage(dst []byte, m Message) []byte {
	start := len(dst)
	need := start + m.EncodedLen()
	if cap(dst) < need {
		grown := make([]byte, start, need*2)
		copy(grown, dst)
		dst = grown
	}
	dst = dst[:need]
	_, _ = PutMessage(dst[start:], m)
	return dst
}
