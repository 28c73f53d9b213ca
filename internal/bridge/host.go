package bridge

import (
	"github.com/roach88/scenebridge/internal/crdt"
	"github.com/roach88/scenebridge/internal/wire"
)

// HostWorld is the host-side adapter the bridge forwards reconciled
// mutations to.
//
// msg.Payload aliases the inbound batch and is only valid for the duration
// of the call; implementations that keep it must copy it.
type HostWorld interface {
	// ApplyReconciledMessage stages one accepted mutation.
	ApplyReconciledMessage(msg wire.Message, effect crdt.Effect) error

	// FinalizeAndApply is called once per batch after every message has been
	// staged. It may apply the staged changes later; in that case it returns
	// a channel that yields (or is closed) once they are applied. A nil
	// channel means the changes were applied synchronously.
	FinalizeAndApply() <-chan error
}

// NopHost accepts everything and applies nothing.
type NopHost struct{}

// ApplyReconciledMessage implements HostWorld.
func (NopHost) ApplyReconciledMessage(wire.Message, crdt.Effect) error { return nil }

// FinalizeAndApply implements HostWorld.
func (NopHost) FinalizeAndApply() <-chan error { return nil }
