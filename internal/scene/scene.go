package scene

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/scenebridge/internal/bridge"
	"github.com/roach88/scenebridge/internal/outgoing"
)

// State is the lifecycle state of a loaded scene.
type State int32

const (
	// Running scenes reconcile every batch.
	Running State = iota
	// Suspended scenes ignore the sandbox until resumed.
	Suspended
	// Unloaded scenes are closed for good.
	Unloaded
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Suspended:
		return "suspended"
	case Unloaded:
		return "unloaded"
	}
	return "unknown"
}

// Scene is one loaded scene instance: a bridge plus its journal cursor.
//
// The boundary calls are serialized per scene. Different scenes run
// independently.
type Scene struct {
	id     string
	name   string
	bridge *bridge.Bridge
	mgr    *Manager
	logger *slog.Logger

	state atomic.Int32

	mu       sync.Mutex
	seq      int64
	snapshot []byte
}

// ID returns the scene instance id.
func (s *Scene) ID() string { return s.id }

// Name returns the name the scene was loaded with.
func (s *Scene) Name() string { return s.name }

// State returns the current lifecycle state.
func (s *Scene) State() State { return State(s.state.Load()) }

// Bridge returns the scene's bridge.
func (s *Scene) Bridge() *bridge.Bridge { return s.bridge }

// Outgoing returns the collector host systems push mutations into.
func (s *Scene) Outgoing() *outgoing.Collector { return s.bridge.Outgoing() }

// Seq returns the seq of the last journaled batch.
func (s *Scene) Seq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// SendToHost journals and reconciles one inbound batch. A suspended or
// unloaded scene returns nil and drops the batch.
func (s *Scene) SendToHost(in []byte) []byte {
	if s.State() != Running {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	j := s.mgr.journal
	if j != nil {
		s.seq++
		if err := j.AppendBatch(context.Background(), s.id, s.seq, in); err != nil {
			s.logger.Warn("journal append failed", "seq", s.seq, "error", err)
		}
	}

	resp := s.bridge.SendToHost(in)

	if j != nil && s.mgr.snapshotEvery > 0 && s.seq%int64(s.mgr.snapshotEvery) == 0 {
		s.writeSnapshotLocked()
	}
	return resp
}

// GetState returns the full wire snapshot, or nil when not running.
func (s *Scene) GetState() []byte {
	if s.State() != Running {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bridge.GetState()
}

// Checkpoint writes a journal snapshot of the current state now.
func (s *Scene) Checkpoint() {
	if s.mgr.journal == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeSnapshotLocked()
}

func (s *Scene) writeSnapshotLocked() {
	store := s.bridge.Store()
	size := store.EncodedSize()
	if cap(s.snapshot) < size {
		s.snapshot = make([]byte, size)
	}
	n, err := store.CreateMessagesFromCurrentState(s.snapshot[:size])
	if err != nil {
		s.logger.Warn("snapshot encode failed", "seq", s.seq, "error", err)
		return
	}
	err = s.mgr.journal.WriteSnapshot(context.Background(), s.id, s.seq, s.snapshot[:n], store.Digest())
	if err != nil {
		s.logger.Warn("journal snapshot failed", "seq", s.seq, "error", err)
		return
	}
	s.logger.Debug("snapshot written", "seq", s.seq, "bytes", n)
}

// Suspend stops the scene from reconciling until Resume.
func (s *Scene) Suspend() bool {
	ok := s.state.CompareAndSwap(int32(Running), int32(Suspended))
	if ok {
		s.logger.Warn("scene suspended")
	}
	return ok
}

// Resume restarts a suspended scene and clears its failure history.
func (s *Scene) Resume() bool {
	if !s.state.CompareAndSwap(int32(Suspended), int32(Running)) {
		return false
	}
	if s.mgr.window != nil {
		s.mgr.window.Reset(s.id)
	}
	s.logger.Info("scene resumed")
	return true
}

func (s *Scene) close() {
	s.state.Store(int32(Unloaded))
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bridge.Close()
}
