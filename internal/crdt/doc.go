// Package crdt holds the authoritative per-scene component state and applies
// the reconciliation rules to incoming messages.
//
// State is a set of slots keyed by (entity, component). A slot is either a
// put slot, holding one payload and the timestamp that wrote it, or an append
// slot, holding an ordered log of payloads.
//
// # Rules
//
//   - Put: accepted when the slot is absent or the message timestamp is
//     strictly greater than the slot's. Equal timestamps are rejected, which
//     keeps replays idempotent.
//   - Append: always accepted; entries keep arrival order regardless of
//     timestamp.
//   - DeleteComponent: removes the slot if present, ignoring timestamps.
//   - DeleteEntity: removes every slot of the entity, ignoring timestamps.
//     Puts and appends for that entity are dropped for the rest of the batch
//     (MissingDependency). A later batch may recreate the entity's slots.
//
// # Snapshots
//
// CreateMessagesFromCurrentState emits one message per live slot in ascending
// (entity, component) order. Append slots emit a single Append whose payload
// is the concatenation of their entries. Replaying a snapshot into an empty
// store reproduces the same keys, payload bytes and timestamps.
//
// A Store is not safe for concurrent use. The owning bridge serializes calls.
package crdt
