package wire

import "fmt"

// EntityID identifies an entity within one scene's reconciliation scope.
type EntityID uint32

// ComponentID tags the kind of data attached to an entity.
type ComponentID uint32

// Timestamp is the producer-assigned logical clock of a write.
type Timestamp uint32

// Type is the closed set of record kinds.
type Type uint8

const (
	// TypePutComponent replaces a slot's payload if its timestamp is newer.
	TypePutComponent Type = 1
	// TypeDeleteComponent removes a single slot.
	TypeDeleteComponent Type = 2
	// TypeDeleteEntity removes every slot of an entity.
	TypeDeleteEntity Type = 3
	// TypeAppendComponent appends a log-like value to a slot.
	TypeAppendComponent Type = 4
)

// Valid reports whether t is one of the known record kinds.
func (t Type) Valid() bool {
	switch t {
	case TypePutComponent, TypeDeleteComponent, TypeDeleteEntity, TypeAppendComponent:
		return true
	}
	return false
}

func (t Type) String() string {
	switch t {
	case TypePutComponent:
		return "PutComponent"
	case TypeDeleteComponent:
		return "DeleteComponent"
	case TypeDeleteEntity:
		return "DeleteEntity"
	case TypeAppendComponent:
		return "AppendComponent"
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// HeaderSize is the fixed size of a record before its payload.
const HeaderSize = 1 + 4 + 4 + 4 + 4

// Message is one record, both on the wire and in memory.
//
// Payload is opaque. Messages produced by a Decoder alias the decoded buffer,
// so callers that keep a payload past the buffer's lifetime must copy it.
type Message struct {
	Type      Type
	Entity    EntityID
	Component ComponentID
	Timestamp Timestamp
	Payload   []byte
}

// EncodedLen returns the number of bytes m occupies on the wire.
func (m Message) EncodedLen() int {
	return HeaderSize + len(m.Payload)
}

func (m Message) String() string {
	return fmt.Sprintf("%s(e=%d,c=%d,t=%d,len=%d)", m.Type, m.Entity, m.Component, m.Timestamp, len(m.Payload))
}

// EncodedLen returns the total encoded size of msgs.
func EncodedLen(msgs []Message) int {
	n := 0
	for i := range msgs {
		n += msgs[i].EncodedLen()
	}
	return n
}
