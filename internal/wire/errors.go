package wire

import (
	"errors"
	"fmt"
)

// ErrMalformedMessage is matched by every MalformedMessageError.
var ErrMalformedMessage = errors.New("malformed message")

// ErrShortBuffer is returned when an encode destination cannot hold the batch.
var ErrShortBuffer = errors.New("destination buffer too small")

// MalformedReason says why a record could not be decoded.
type MalformedReason string

const (
	// ReasonTruncatedHeader means fewer than HeaderSize bytes remained.
	ReasonTruncatedHeader MalformedReason = "TRUNCATED_HEADER"
	// ReasonPayloadOverrun means the declared payload length exceeds the buffer.
	ReasonPayloadOverrun MalformedReason = "PAYLOAD_OVERRUN"
	// ReasonUnknownType means the type byte is not a known record kind.
	ReasonUnknownType MalformedReason = "UNKNOWN_TYPE"
)

// MalformedMessageError describes the record at which decoding stopped.
type MalformedMessageError struct {
	Reason MalformedReason

	// Offset is the byte offset of the offending record in the batch.
	Offset int

	// Index is the number of records decoded before the failure.
	Index int

	// Declared is the payload length the record claimed, when known.
	Declared uint32

	// Remaining is the number of bytes left after the header.
	Remaining int
}

func (e *MalformedMessageError) Error() string {
	switch e.Reason {
	case ReasonPayloadOverrun:
		return fmt.Sprintf("%s: record %d at offset %d declares %d payload bytes, %d remain",
			e.Reason, e.Index, e.Offset, e.Declared, e.Remaining)
	default:
		return fmt.Sprintf("%s: record %d at offset %d", e.Reason, e.Index, e.Offset)
	}
}

// Is makes errors.Is(err, ErrMalformedMessage) hold.
func (e *MalformedMessageError) Is(target error) bool {
	return target == ErrMalformedMessage
}
