package testutil

import (
	"sync"

	"github.com/roach88/scenebridge/internal/crdt"
	"github.com/roach88/scenebridge/internal/wire"
)

// Applied is one call the host world received.
type Applied struct {
	Message wire.Message
	Effect  crdt.Effect
}

// RecordingHost is a host world that records what the bridge forwards.
//
// FailOn and PanicOn inject apply failures. Defer makes FinalizeAndApply
// return a channel the test completes with Complete.
type RecordingHost struct {
	FailOn  func(wire.Message) error
	PanicOn func(wire.Message) bool
	Defer   bool

	// FinalizePanic makes FinalizeAndApply panic with this value when non-nil.
	FinalizePanic any

	mu        sync.Mutex
	applied   []Applied
	finalized int
	pending   []chan error
}

// ApplyReconciledMessage records msg, copying its payload.
func (h *RecordingHost) ApplyReconciledMessage(msg wire.Message, effect crdt.Effect) error {
	if h.PanicOn != nil && h.PanicOn(msg) {
		panic("host world exploded")
	}
	if h.FailOn != nil {
		if err := h.FailOn(msg); err != nil {
			return err
		}
	}
	if msg.Payload != nil {
		msg.Payload = append([]byte(nil), msg.Payload...)
	}
	h.mu.Lock()
	h.applied = append(h.applied, Applied{Message: msg, Effect: effect})
	h.mu.Unlock()
	return nil
}

// FinalizeAndApply counts the call and, when Defer is set, returns a
// completion channel.
func (h *RecordingHost) FinalizeAndApply() <-chan error {
	if h.FinalizePanic != nil {
		panic(h.FinalizePanic)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finalized++
	if !h.Defer {
		return nil
	}
	ch := make(chan error, 1)
	h.pending = append(h.pending, ch)
	return ch
}

// Complete finishes the oldest deferred apply with err.
func (h *RecordingHost) Complete(err error) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.pending) == 0 {
		return false
	}
	ch := h.pending[0]
	h.pending = h.pending[1:]
	ch <- err
	close(ch)
	return true
}

// Applied returns every recorded call.
func (h *RecordingHost) Applied() []Applied {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Applied, len(h.applied))
	copy(out, h.applied)
	return out
}

// Finalized returns how many times FinalizeAndApply ran.
func (h *RecordingHost) Finalized() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.finalized
}

// Pending returns how many deferred applies have not completed.
func (h *RecordingHost) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}
