// Package hostworld provides an in-memory host world that mirrors the
// reconciled scene state component by component.
package hostworld

import (
	"log/slog"
	"sync"

	"github.com/roach88/scenebridge/internal/crdt"
	"github.com/roach88/scenebridge/internal/wire"
)

type value struct {
	kind wire.Type
	data []byte
}

type change struct {
	msg    wire.Message
	effect crdt.Effect
}

// Mirror stages mutations per batch and commits them on FinalizeAndApply.
// It is safe for concurrent readers.
type Mirror struct {
	logger *slog.Logger

	mu       sync.RWMutex
	staged   []change
	entities map[wire.EntityID]map[wire.ComponentID]*value
	batches  int
}

// NewMirror creates an empty mirror. A nil logger uses slog.Default.
func NewMirror(logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{
		logger:   logger,
		entities: make(map[wire.EntityID]map[wire.ComponentID]*value),
	}
}

// ApplyReconciledMessage stages msg, copying its payload.
func (m *Mirror) ApplyReconciledMessage(msg wire.Message, effect crdt.Effect) error {
	if msg.Payload != nil {
		msg.Payload = append([]byte(nil), msg.Payload...)
	}
	m.mu.Lock()
	m.staged = append(m.staged, change{msg: msg, effect: effect})
	m.mu.Unlock()
	return nil
}

// FinalizeAndApply commits the staged batch synchronously.
func (m *Mirror) FinalizeAndApply() <-chan error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.staged {
		m.commit(c)
	}
	m.logger.Debug("host batch applied", "changes", len(m.staged), "entities", len(m.entities))
	m.staged = m.staged[:0]
	m.batches++
	return nil
}

func (m *Mirror) commit(c change) {
	msg := c.msg
	switch msg.Type {
	case wire.TypeDeleteEntity:
		delete(m.entities, msg.Entity)
	case wire.TypeDeleteComponent:
		if comps, ok := m.entities[msg.Entity]; ok {
			delete(comps, msg.Component)
			if len(comps) == 0 {
				delete(m.entities, msg.Entity)
			}
		}
	case wire.TypePutComponent:
		m.components(msg.Entity)[msg.Component] = &value{kind: msg.Type, data: msg.Payload}
	case wire.TypeAppendComponent:
		comps := m.components(msg.Entity)
		v, ok := comps[msg.Component]
		if !ok || v.kind != wire.TypeAppendComponent {
			v = &value{kind: wire.TypeAppendComponent}
			comps[msg.Component] = v
		}
		v.data = append(v.data, msg.Payload...)
	}
}

func (m *Mirror) components(e wire.EntityID) map[wire.ComponentID]*value {
	comps, ok := m.entities[e]
	if !ok {
		comps = make(map[wire.ComponentID]*value)
		m.entities[e] = comps
	}
	return comps
}

// Component returns a copy of the committed value of (e, c). Append slots
// read as the concatenation of their entries.
func (m *Mirror) Component(e wire.EntityID, c wire.ComponentID) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entities[e][c]
	if !ok {
		return nil, false
	}
	return append([]byte{}, v.data...), true
}

// Entities returns the number of entities with at least one component.
func (m *Mirror) Entities() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entities)
}

// Batches returns how many batches have been committed.
func (m *Mirror) Batches() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.batches
}
