package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/scenebridge/internal/crdt"
	"github.com/roach88/scenebridge/internal/diag"
	"github.com/roach88/scenebridge/internal/outgoing"
	"github.com/roach88/scenebridge/internal/pool"
	"github.com/roach88/scenebridge/internal/wire"
)

// ErrFinalizeTimeout is reported as HOST_FINALIZE_SLOW when the host does not
// finish applying a tick within the configured finalize timeout.
var ErrFinalizeTimeout = errors.New("host finalize timed out")

// Stats counts what the bridge has processed since it was created.
type Stats struct {
	Batches           uint64 `json:"batches"`
	Snapshots         uint64 `json:"snapshots"`
	Messages          uint64 `json:"messages"`
	Updated           uint64 `json:"updated"`
	Unchanged         uint64 `json:"unchanged"`
	MissingDependency uint64 `json:"missing_dependency"`
	Malformed         uint64 `json:"malformed"`
	HostFailures      uint64 `json:"host_failures"`
	OutgoingMessages  uint64 `json:"outgoing_messages"`
}

// Bridge reconciles one scene's sandbox writes against its state store.
type Bridge struct {
	sceneID string
	store   *crdt.Store
	pools   *pool.Registry
	host    HostWorld
	out     *outgoing.Collector
	sink    diag.Sink
	logger  *slog.Logger

	awaitApply      bool
	finalizeTimeout time.Duration

	// pending is the completion of the previous tick's deferred apply.
	pending <-chan error

	// last is the response handed out by the previous call.
	last pool.Lease

	observe func(wire.Message, crdt.Result)

	stats  Stats
	closed bool
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithSceneID tags every diagnostic with id.
func WithSceneID(id string) Option {
	return func(b *Bridge) { b.sceneID = id }
}

// WithSink sets where failures are reported. Default: a SlogSink on the
// bridge logger.
func WithSink(s diag.Sink) Option {
	return func(b *Bridge) {
		if s != nil {
			b.sink = s
		}
	}
}

// WithLogger sets the bridge logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithAwaitApply makes SendToHost wait for a deferred host apply before
// returning instead of at the start of the next call.
func WithAwaitApply(await bool) Option {
	return func(b *Bridge) { b.awaitApply = await }
}

// WithFinalizeTimeout sets how long a deferred host apply may run before it
// is reported as slow. The bridge waits for it either way. Zero disables the
// report.
func WithFinalizeTimeout(d time.Duration) Option {
	return func(b *Bridge) { b.finalizeTimeout = d }
}

// WithCollector uses c instead of a fresh collector.
func WithCollector(c *outgoing.Collector) Option {
	return func(b *Bridge) {
		if c != nil {
			b.out = c
		}
	}
}

// WithStore uses s instead of a fresh store. Used to resume from a restored
// snapshot.
func WithStore(s *crdt.Store) Option {
	return func(b *Bridge) {
		if s != nil {
			b.store = s
		}
	}
}

// WithObserver calls fn with every decoded inbound message and its
// reconciliation result, before the host sees it. Used for tracing.
func WithObserver(fn func(wire.Message, crdt.Result)) Option {
	return func(b *Bridge) { b.observe = fn }
}

// New creates a bridge for one scene. pools is the process-wide arena and
// host receives reconciled mutations.
func New(pools *pool.Registry, host HostWorld, opts ...Option) *Bridge {
	if host == nil {
		host = NopHost{}
	}
	b := &Bridge{
		store:  crdt.New(),
		pools:  pools,
		host:   host,
		out:    outgoing.New(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.sink == nil {
		b.sink = diag.NewSlogSink(b.logger)
	}
	b.logger = b.logger.With("scene", b.sceneID)
	return b
}

// SceneID returns the id used in diagnostics.
func (b *Bridge) SceneID() string { return b.sceneID }

// Outgoing returns the collector host systems push their own mutations into.
func (b *Bridge) Outgoing() *outgoing.Collector { return b.out }

// Store returns the scene's state store. Callers must not mutate it while a
// bridge operation may run.
func (b *Bridge) Store() *crdt.Store { return b.store }

// Stats returns processing counters.
func (b *Bridge) Stats() Stats { return b.stats }

// Outstanding returns how many response buffers this bridge currently holds
// (0 or 1).
func (b *Bridge) Outstanding() int {
	if b.last.Empty() {
		return 0
	}
	return 1
}

// SendToHost reconciles an inbound batch and returns the host's outgoing
// mutations since the previous call, encoded in the same wire format.
//
// The returned slice is valid until the next call on b. It is nil only after
// Close or an internal failure.
func (b *Bridge) SendToHost(in []byte) (resp []byte) {
	if b.closed {
		return nil
	}
	defer b.recoverInternal("send_to_host", &resp)

	b.awaitPending()
	b.releaseLast()
	b.stats.Batches++

	b.store.BeginBatch()
	dec := wire.Decode(in)
	for dec.Next() {
		msg := dec.Message()
		b.stats.Messages++

		res := b.store.ProcessMessage(msg)
		if b.observe != nil {
			b.observe(msg, res)
		}
		switch res.Outcome {
		case crdt.StateUpdated:
			b.stats.Updated++
			b.apply(msg, res.Effect)
		case crdt.MissingDependency:
			b.stats.MissingDependency++
			b.logger.Debug("write dropped for entity deleted in batch",
				"type", msg.Type.String(), "entity", uint32(msg.Entity), "component", uint32(msg.Component))
		case crdt.NoChange:
			b.stats.Unchanged++
		}
	}
	if err := dec.Err(); err != nil {
		b.stats.Malformed++
		b.sink.Report(diag.ForScene(diag.CodeMalformedMessage, b.sceneID, err))
	}

	b.finalize()
	return b.drainOutgoing()
}

// GetState returns a full snapshot of the store in the wire format.
// The returned slice is valid until the next call on b.
func (b *Bridge) GetState() (resp []byte) {
	if b.closed {
		return nil
	}
	defer b.recoverInternal("get_state", &resp)

	b.awaitPending()
	b.releaseLast()
	b.stats.Snapshots++

	lease := b.pools.Rent(b.store.EncodedSize())
	n, err := b.store.CreateMessagesFromCurrentState(lease.Bytes())
	if err != nil {
		_ = b.pools.Release(lease)
		b.sink.Report(diag.ForScene(diag.CodeEncodeFailure, b.sceneID, err))
		return b.emptyResponse()
	}
	b.last = lease
	return lease.Bytes()[:n]
}

// Close waits for any deferred apply, releases the outstanding response and
// drops the scene state. Later calls return nil.
func (b *Bridge) Close() {
	if b.closed {
		return
	}
	b.awaitPending()
	b.releaseLast()
	b.out.Close()
	b.store.Reset()
	b.closed = true
}

// apply forwards one accepted message to the host. Errors and panics are
// reported and never abort the batch.
func (b *Bridge) apply(msg wire.Message, effect crdt.Effect) {
	defer func() {
		if r := recover(); r != nil {
			b.hostFailure(msg, &diag.PanicError{Value: r})
		}
	}()
	if err := b.host.ApplyReconciledMessage(msg, effect); err != nil {
		b.hostFailure(msg, err)
	}
}

func (b *Bridge) hostFailure(msg wire.Message, err error) {
	b.stats.HostFailures++
	b.sink.Report(diag.ForMessage(diag.CodeHostApplyFailure, b.sceneID, msg, err))
}

// finalize asks the host to apply the staged tick.
func (b *Bridge) finalize() {
	var done <-chan error
	func() {
		defer func() {
			if r := recover(); r != nil {
				b.stats.HostFailures++
				b.sink.Report(diag.ForScene(diag.CodeHostFinalizeFailure, b.sceneID, &diag.PanicError{Value: r}))
			}
		}()
		done = b.host.FinalizeAndApply()
	}()
	if done == nil {
		return
	}
	b.pending = done
	if b.awaitApply {
		b.awaitPending()
	}
}

// awaitPending blocks until the previous tick's deferred apply completes.
// Passing the finalize timeout reports a slow host but keeps waiting: the
// next tick is never forwarded while the previous one is still applying.
func (b *Bridge) awaitPending() {
	if b.pending == nil {
		return
	}
	done := b.pending
	b.pending = nil

	var err error
	if b.finalizeTimeout > 0 {
		timer := time.NewTimer(b.finalizeTimeout)
		defer timer.Stop()
		select {
		case err = <-done:
		case <-timer.C:
			b.sink.Report(diag.ForScene(diag.CodeHostFinalizeSlow, b.sceneID, ErrFinalizeTimeout))
			err = <-done
		}
	} else {
		err = <-done
	}
	if err != nil {
		b.stats.HostFailures++
		b.sink.Report(diag.ForScene(diag.CodeHostFinalizeFailure, b.sceneID, err))
	}
}

// drainOutgoing encodes everything the host pushed since the last drain into
// a fresh response lease.
func (b *Bridge) drainOutgoing() []byte {
	blk := b.out.DrainBlock()
	defer blk.Release()

	lease := b.pools.Rent(blk.EncodedLen())
	n, err := blk.EncodeTo(lease.Bytes())
	if err != nil {
		_ = b.pools.Release(lease)
		b.sink.Report(diag.ForScene(diag.CodeEncodeFailure, b.sceneID, err))
		return b.emptyResponse()
	}
	b.stats.OutgoingMessages += uint64(blk.Len())
	b.last = lease
	return lease.Bytes()[:n]
}

// emptyResponse rents a zero-length response so the one-lease-per-call
// contract holds even when encoding failed.
func (b *Bridge) emptyResponse() []byte {
	b.last = b.pools.Rent(0)
	return b.last.Bytes()
}

// releaseLast returns the previous response to the pool. It always runs
// before a new response is rented.
func (b *Bridge) releaseLast() {
	if b.last.Empty() {
		return
	}
	if err := b.pools.Release(b.last); err != nil {
		b.logger.Warn("response release failed", "error", err)
	}
	b.last = pool.Lease{}
}

// recoverInternal converts a bridge panic into a diagnostic and a nil
// response.
func (b *Bridge) recoverInternal(op string, resp *[]byte) {
	r := recover()
	if r == nil {
		return
	}
	b.sink.Report(diag.ForScene(diag.CodeInternal, b.sceneID, fmt.Errorf("%s: %w", op, &diag.PanicError{Value: r})))
	b.releaseLast()
	*resp = nil
}
