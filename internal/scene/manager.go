// Package scene manages the loaded scene instances of a host process.
//
// A Manager owns the shared response buffer pool, assigns scene ids, wires
// each scene's bridge to the diagnostics sinks and the optional journal, and
// suspends scenes whose host world keeps failing.
package scene

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roach88/scenebridge/internal/bridge"
	"github.com/roach88/scenebridge/internal/diag"
	"github.com/roach88/scenebridge/internal/journal"
	"github.com/roach88/scenebridge/internal/pool"
)

var (
	// ErrUnknownScene is returned for an id that is not loaded.
	ErrUnknownScene = errors.New("unknown scene")

	// ErrManagerClosed is returned by Load after Close.
	ErrManagerClosed = errors.New("scene manager closed")
)

// Manager is the process-wide scene registry.
type Manager struct {
	pools   *pool.Registry
	ids     IDGenerator
	sink    diag.Sink
	window  *diag.Window
	journal *journal.Journal
	logger  *slog.Logger

	snapshotEvery int
	bridgeOpts    []bridge.Option

	mu     sync.Mutex
	scenes map[string]*Scene
	closed bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithIDGenerator sets how scene ids are assigned. Default: UUIDv7.
func WithIDGenerator(g IDGenerator) Option {
	return func(m *Manager) {
		if g != nil {
			m.ids = g
		}
	}
}

// WithSink adds a diagnostics sink shared by every scene.
func WithSink(s diag.Sink) Option {
	return func(m *Manager) {
		if s != nil {
			m.sink = s
		}
	}
}

// WithFailureWindow suspends a scene after limit host failures within span.
// A limit of zero disables suspension.
func WithFailureWindow(limit int, span time.Duration) Option {
	return func(m *Manager) {
		if limit <= 0 {
			m.window = nil
			return
		}
		m.window = diag.NewWindow(limit, span, m.onTrip)
	}
}

// WithJournal records every batch in j and writes a snapshot every
// snapshotEvery batches (0 disables periodic snapshots).
func WithJournal(j *journal.Journal, snapshotEvery int) Option {
	return func(m *Manager) {
		m.journal = j
		m.snapshotEvery = snapshotEvery
	}
}

// WithBridgeOptions appends options applied to every scene's bridge.
func WithBridgeOptions(opts ...bridge.Option) Option {
	return func(m *Manager) { m.bridgeOpts = append(m.bridgeOpts, opts...) }
}

// WithLogger sets the manager logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a manager renting response buffers from pools.
func NewManager(pools *pool.Registry, opts ...Option) *Manager {
	m := &Manager{
		pools:  pools,
		ids:    UUIDv7Generator{},
		logger: slog.Default(),
		scenes: make(map[string]*Scene),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.sink == nil {
		m.sink = diag.NewSlogSink(m.logger)
	}
	return m
}

// Pools returns the shared buffer registry.
func (m *Manager) Pools() *pool.Registry { return m.pools }

// Load creates a running scene named name whose reconciled mutations go to
// host.
func (m *Manager) Load(ctx context.Context, name string, host bridge.HostWorld) (*Scene, error) {
	id := m.ids.Generate()
	if m.journal != nil {
		if err := m.journal.CreateScene(ctx, id, name); err != nil {
			return nil, fmt.Errorf("load scene %s: %w", name, err)
		}
	}
	return m.register(id, name, host, 0)
}

// Restore loads scene id from the journal, rebuilding its state from the
// latest snapshot and the batches after it.
func (m *Manager) Restore(ctx context.Context, id string, host bridge.HostWorld) (*Scene, error) {
	if m.journal == nil {
		return nil, fmt.Errorf("restore %s: no journal configured", id)
	}
	rec, err := m.journal.GetScene(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}
	store, seq, err := m.journal.Restore(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}
	return m.register(id, rec.Name, host, seq, bridge.WithStore(store))
}

func (m *Manager) register(id, name string, host bridge.HostWorld, seq int64, extra ...bridge.Option) (*Scene, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	if _, ok := m.scenes[id]; ok {
		return nil, fmt.Errorf("scene %s already loaded", id)
	}

	logger := m.logger.With("scene", id, "name", name)
	opts := []bridge.Option{
		bridge.WithSceneID(id),
		bridge.WithSink(m.sceneSink()),
		bridge.WithLogger(m.logger),
	}
	opts = append(opts, m.bridgeOpts...)
	opts = append(opts, extra...)

	s := &Scene{
		id:     id,
		name:   name,
		bridge: bridge.New(m.pools, host, opts...),
		mgr:    m,
		logger: logger,
		seq:    seq,
	}
	m.scenes[id] = s
	logger.Info("scene loaded", "seq", seq)
	return s, nil
}

func (m *Manager) sceneSink() diag.Sink {
	sinks := diag.Multi{m.sink}
	if m.journal != nil {
		sinks = append(sinks, journal.NewSink(m.journal, m.logger))
	}
	if m.window != nil {
		sinks = append(sinks, m.window)
	}
	return sinks
}

func (m *Manager) onTrip(sceneID string, last *diag.Failure) {
	s, ok := m.Get(sceneID)
	if !ok {
		return
	}
	if s.Suspend() {
		m.logger.Warn("repeated host failures", "scene", sceneID, "last", last.Error())
	}
}

// Get returns the loaded scene with id.
func (m *Manager) Get(id string) (*Scene, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scenes[id]
	return s, ok
}

// Scenes returns every loaded scene ordered by id.
func (m *Manager) Scenes() []*Scene {
	m.mu.Lock()
	out := make([]*Scene, 0, len(m.scenes))
	for _, s := range m.scenes {
		out = append(out, s)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Unload closes scene id and returns its response buffer to the pool.
func (m *Manager) Unload(id string) error {
	m.mu.Lock()
	s, ok := m.scenes[id]
	delete(m.scenes, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unload %s: %w", id, ErrUnknownScene)
	}
	s.close()
	if m.window != nil {
		m.window.Reset(id)
	}
	s.logger.Info("scene unloaded")
	return nil
}

// Close unloads every scene. Later Loads fail with ErrManagerClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	ids := make([]string, 0, len(m.scenes))
	for id := range m.scenes {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		_ = m.Unload(id)
	}
}
