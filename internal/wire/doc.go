// Package wire implements the binary batch format exchanged across the scene
// sandbox boundary.
//
// A batch is a back-to-back concatenation of records with no outer header.
// Every record is:
//
//	[ type u8 ][ entity u32 ][ component u32 ][ timestamp u32 ][ length u32 ][ payload ]
//
// All integers are little-endian. The end of the buffer is the end of the batch.
//
// # Decoding
//
// Decoding is lazy and non-destructive: a Decoder walks the source buffer and
// hands out Messages whose Payload aliases the source. Decoding the same buffer
// twice yields the same messages. A truncated or invalid record stops the
// decoder; everything before it is still delivered and Err reports the
// MalformedMessageError.
//
// # Encoding
//
// EncodeBatch writes into a caller-supplied buffer that must be sized with
// EncodedLen beforehand. Nothing in this package allocates on the encode path.
package wire
