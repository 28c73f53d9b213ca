package bridge

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scenebridge/internal/crdt"
	"github.com/roach88/scenebridge/internal/diag"
	"github.com/roach88/scenebridge/internal/pool"
	"github.com/roach88/scenebridge/internal/testutil"
	"github.com/roach88/scenebridge/internal/wire"
)

func newTestBridge(t *testing.T, host HostWorld, opts ...Option) (*Bridge, *pool.Registry, *diag.Recorder) {
	t.Helper()
	reg := pool.NewRegistry()
	rec := &diag.Recorder{}
	opts = append([]Option{WithSceneID("scene-test"), WithSink(rec)}, opts...)
	b := New(reg, host, opts...)
	t.Cleanup(b.Close)
	return b, reg, rec
}

func TestSendToHost_EndToEndScenario(t *testing.T) {
	host := &testutil.RecordingHost{}
	b, _, rec := newTestBridge(t, host)

	resp := b.SendToHost(testutil.Encode(
		testutil.Put(1, 1, 1, "A"),
		testutil.Put(1, 1, 2, "B"),
		testutil.Append(1, 2, 1, "L1"),
		testutil.Append(1, 2, 1, "L2"),
	))
	assert.NotNil(t, resp)
	assert.Empty(t, resp, "host pushed nothing")
	assert.Empty(t, rec.Failures())

	v, ok := b.Store().Slot(1, 1)
	require.True(t, ok)
	assert.Equal(t, "B", string(v.Payload))
	assert.Equal(t, wire.Timestamp(2), v.Timestamp)

	v, ok = b.Store().Slot(1, 2)
	require.True(t, ok)
	require.Len(t, v.Entries, 2)
	assert.Equal(t, "L1", string(v.Entries[0]))
	assert.Equal(t, "L2", string(v.Entries[1]))

	state := testutil.Decode(b.GetState())
	require.Len(t, state, 2)
	assert.Equal(t, testutil.Put(1, 1, 2, "B"), state[0])
	assert.Equal(t, testutil.Append(1, 2, 1, "L1L2"), state[1])

	applied := host.Applied()
	require.Len(t, applied, 4, "every accepted message reaches the host")
	assert.Equal(t, 1, host.Finalized())
}

func TestSendToHost_ForwardsOnlyUpdates(t *testing.T) {
	host := &testutil.RecordingHost{}
	b, _, _ := newTestBridge(t, host)

	b.SendToHost(testutil.Encode(
		testutil.Put(1, 1, 5, "new"),
		testutil.Put(1, 1, 3, "old"),
		testutil.Put(1, 1, 5, "same"),
		testutil.DeleteComponent(9, 9, 1),
	))

	applied := host.Applied()
	require.Len(t, applied, 1)
	assert.Equal(t, "new", string(applied[0].Message.Payload))
	assert.Equal(t, crdt.ComponentModified, applied[0].Effect)

	stats := b.Stats()
	assert.Equal(t, uint64(4), stats.Messages)
	assert.Equal(t, uint64(1), stats.Updated)
	assert.Equal(t, uint64(3), stats.Unchanged)
}

func TestSendToHost_EntityDeletionSupersedes(t *testing.T) {
	host := &testutil.RecordingHost{}
	b, _, _ := newTestBridge(t, host)

	b.SendToHost(testutil.Encode(
		testutil.Put(1, 5, 10, "x"),
		testutil.DeleteEntity(1),
		testutil.Put(1, 6, 99, "dropped"),
	))

	assert.Equal(t, 0, b.Store().EntityLen(1))
	applied := host.Applied()
	require.Len(t, applied, 2)
	assert.Equal(t, crdt.ComponentModified, applied[0].Effect)
	assert.Equal(t, crdt.EntityDeleted, applied[1].Effect)
	assert.Equal(t, uint64(1), b.Stats().MissingDependency)

	// Next tick: the entity may come back.
	b.SendToHost(testutil.Encode(testutil.Put(1, 6, 1, "back")))
	assert.Equal(t, 1, b.Store().EntityLen(1))
}

func TestSendToHost_ReturnsHostMutations(t *testing.T) {
	b, _, _ := newTestBridge(t, NopHost{})

	b.Outgoing().Push(testutil.Put(7, 1, 1, "pointer"))
	b.Outgoing().Push(testutil.Append(7, 2, 1, "click"))

	out := testutil.Decode(b.SendToHost(nil))
	require.Len(t, out, 2)
	assert.Equal(t, "pointer", string(out[0].Payload))
	assert.Equal(t, wire.TypeAppendComponent, out[1].Type)

	assert.Empty(t, b.SendToHost(nil), "drain is destructive")
	assert.Equal(t, uint64(2), b.Stats().OutgoingMessages)
}

func TestSendToHost_HostPushDuringApplyIsReturned(t *testing.T) {
	var b *Bridge
	host := &echoHost{}
	b, _, _ = newTestBridge(t, host)
	host.b = b

	out := testutil.Decode(b.SendToHost(testutil.Encode(testutil.Put(3, 3, 1, "ping"))))
	require.Len(t, out, 1)
	assert.Equal(t, "ping-ack", string(out[0].Payload))
}

// echoHost answers every put with an ack pushed to the outgoing collector.
type echoHost struct{ b *Bridge }

func (h *echoHost) ApplyReconciledMessage(msg wire.Message, _ crdt.Effect) error {
	ack := msg
	ack.Payload = append(append([]byte(nil), msg.Payload...), "-ack"...)
	h.b.Outgoing().Push(ack)
	return nil
}

func (h *echoHost) FinalizeAndApply() <-chan error { return nil }

func TestSendToHost_HostErrorDoesNotAbortBatch(t *testing.T) {
	var b *Bridge
	host := &testutil.RecordingHost{
		FailOn: func(m wire.Message) error {
			if m.Entity == 2 {
				b.Outgoing().Push(testutil.Put(2, 4, 9, "rolled-back"))
				return errors.New("renderer rejected")
			}
			return nil
		},
	}
	b, _, rec := newTestBridge(t, host)

	resp := b.SendToHost(testutil.Encode(
		testutil.Put(1, 1, 1, "a"),
		testutil.Put(2, 4, 1, "bad"),
		testutil.Put(3, 1, 1, "c"),
	))
	require.NotNil(t, resp)
	assert.Equal(t, []wire.Message{testutil.Put(2, 4, 9, "rolled-back")}, testutil.Decode(resp),
		"mutations pushed before the failure are still returned")

	assert.Len(t, host.Applied(), 2)
	assert.Equal(t, 3, b.Store().Len(), "store keeps the write even if the host failed it")

	failures := rec.Failures()
	require.Len(t, failures, 1)
	f := failures[0]
	assert.Equal(t, diag.CodeHostApplyFailure, f.Code)
	assert.Equal(t, "scene-test", f.SceneID)
	assert.Equal(t, wire.TypePutComponent, f.MessageType)
	assert.Equal(t, wire.EntityID(2), f.Entity)
	assert.Equal(t, wire.ComponentID(4), f.Component)
	assert.True(t, diag.IsHostApplyFailure(f))
}

func TestSendToHost_HostPanicIsContained(t *testing.T) {
	host := &testutil.RecordingHost{
		PanicOn: func(m wire.Message) bool { return m.Entity == 1 },
	}
	b, _, rec := newTestBridge(t, host)

	var resp []byte
	assert.NotPanics(t, func() {
		resp = b.SendToHost(testutil.Encode(
			testutil.Put(1, 1, 1, "boom"),
			testutil.Put(2, 1, 1, "fine"),
		))
	})
	assert.NotNil(t, resp)
	assert.Len(t, host.Applied(), 1)
	require.Equal(t, 1, rec.Count(diag.CodeHostApplyFailure))

	var pe *diag.PanicError
	assert.True(t, errors.As(rec.Failures()[0], &pe))
	assert.Equal(t, uint64(1), b.Stats().HostFailures)
}

func TestSendToHost_TruncatedBatchKeepsPrefix(t *testing.T) {
	host := &testutil.RecordingHost{}
	b, _, rec := newTestBridge(t, host)

	batch := testutil.Encode(testutil.Put(1, 1, 1, "a"), testutil.Put(2, 1, 1, "b"))
	tail := testutil.Encode(testutil.Put(3, 1, 1, "c"))
	binary.LittleEndian.PutUint32(tail[13:17], 500)
	batch = append(batch, tail...)

	var resp []byte
	assert.NotPanics(t, func() { resp = b.SendToHost(batch) })
	assert.NotNil(t, resp)
	assert.Equal(t, 2, b.Store().Len())
	assert.Len(t, host.Applied(), 2)
	assert.Equal(t, 1, rec.Count(diag.CodeMalformedMessage))
	assert.ErrorIs(t, rec.Failures()[0], wire.ErrMalformedMessage)
	assert.Equal(t, 1, host.Finalized(), "tick still finalizes")
}

func TestResponseBuffer_OneOutstanding(t *testing.T) {
	b, reg, _ := newTestBridge(t, NopHost{})

	for i := 0; i < 50; i++ {
		b.Outgoing().Push(testutil.Put(uint32(i), 1, 1, "payload"))
		b.SendToHost(testutil.Encode(testutil.Put(uint32(i), 1, uint32(i+1), "in")))
		assert.Equal(t, 1, b.Outstanding(), "iteration %d", i)
		assert.Equal(t, 1, reg.Outstanding(), "iteration %d", i)

		if i%10 == 0 {
			b.GetState()
			assert.Equal(t, 1, reg.Outstanding(), "after GetState, iteration %d", i)
		}
	}

	b.Close()
	assert.Equal(t, 0, reg.Outstanding())
}

func TestResponseBuffer_SharedRegistryAcrossScenes(t *testing.T) {
	reg := pool.NewRegistry()
	a := New(reg, NopHost{}, WithSceneID("a"), WithSink(diag.Discard))
	c := New(reg, NopHost{}, WithSceneID("c"), WithSink(diag.Discard))

	for i := 0; i < 5; i++ {
		a.SendToHost(nil)
		c.GetState()
	}
	assert.Equal(t, 2, reg.Outstanding())

	a.Close()
	assert.Equal(t, 1, reg.Outstanding())
	c.Close()
	assert.Equal(t, 0, reg.Outstanding())
}

func TestResponseBuffer_ValidUntilNextCall(t *testing.T) {
	b, _, _ := newTestBridge(t, NopHost{})
	b.SendToHost(testutil.Encode(testutil.Put(1, 1, 1, "first")))

	snap := b.GetState()
	copied := append([]byte(nil), snap...)
	assert.Equal(t, copied, snap)

	msgs := testutil.Decode(copied)
	require.Len(t, msgs, 1)
	assert.Equal(t, "first", string(msgs[0].Payload))
}

func TestGetState_IdempotentReplay(t *testing.T) {
	src, _, _ := newTestBridge(t, NopHost{})
	src.SendToHost(testutil.Encode(
		testutil.Put(1, 1, 4, "pos"),
		testutil.Append(2, 3, 8, "e1"),
		testutil.Append(2, 3, 2, "e2"),
		testutil.Put(9, 9, 1, ""),
	))
	snapshot := append([]byte(nil), src.GetState()...)

	dst, _, _ := newTestBridge(t, NopHost{})
	dst.SendToHost(snapshot)

	assert.Equal(t, src.Store().Digest(), dst.Store().Digest())
	assert.Equal(t, snapshot, dst.GetState())
}

func TestGetState_WritesStoreSnapshotIntoLease(t *testing.T) {
	b, reg, _ := newTestBridge(t, NopHost{})
	b.SendToHost(testutil.Encode(
		testutil.Put(3, 1, 5, "xyz"),
		testutil.Append(1, 2, 7, "e1"),
	))

	resp := b.GetState()
	want := make([]byte, b.Store().EncodedSize())
	n, err := b.Store().CreateMessagesFromCurrentState(want)
	require.NoError(t, err)
	assert.Equal(t, want[:n], resp)
	assert.Len(t, resp, b.Store().EncodedSize(), "lease is sized to the exact snapshot")
	assert.Equal(t, 1, b.Outstanding())
	assert.Equal(t, 1, reg.Outstanding())
}

func TestGetState_Empty(t *testing.T) {
	b, _, _ := newTestBridge(t, NopHost{})
	resp := b.GetState()
	assert.NotNil(t, resp)
	assert.Empty(t, resp)
}

func TestDeferredApply_AwaitedBeforeNextCall(t *testing.T) {
	host := &testutil.RecordingHost{Defer: true}
	b, _, _ := newTestBridge(t, host)

	b.SendToHost(testutil.Encode(testutil.Put(1, 1, 1, "a")))
	assert.Equal(t, 1, host.Pending(), "first tick returns without waiting")

	done := make(chan struct{})
	go func() {
		b.SendToHost(testutil.Encode(testutil.Put(1, 1, 2, "b")))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second call must wait for the first tick to apply")
	case <-time.After(20 * time.Millisecond):
	}
	require.True(t, host.Complete(nil))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second call did not proceed after completion")
	}
	assert.Equal(t, 1, host.Pending())
	require.True(t, host.Complete(nil))
}

func TestDeferredApply_AwaitInline(t *testing.T) {
	host := &testutil.RecordingHost{Defer: true}
	b, _, _ := newTestBridge(t, host, WithAwaitApply(true))

	go func() {
		for host.Pending() == 0 {
			time.Sleep(time.Millisecond)
		}
		host.Complete(nil)
	}()
	b.SendToHost(testutil.Encode(testutil.Put(1, 1, 1, "a")))
	assert.Equal(t, 0, host.Pending())
}

func TestDeferredApply_ErrorReported(t *testing.T) {
	host := &testutil.RecordingHost{Defer: true}
	b, _, rec := newTestBridge(t, host)

	b.SendToHost(nil)
	host.Complete(errors.New("gpu lost"))
	b.SendToHost(nil)
	host.Complete(nil)

	assert.Equal(t, 1, rec.Count(diag.CodeHostFinalizeFailure))
}

func TestDeferredApply_Timeout(t *testing.T) {
	host := &testutil.RecordingHost{Defer: true}
	b, _, rec := newTestBridge(t, host, WithFinalizeTimeout(10*time.Millisecond))

	b.SendToHost(testutil.Encode(testutil.Put(1, 1, 1, "a")))

	done := make(chan []byte, 1)
	go func() { done <- b.SendToHost(testutil.Encode(testutil.Put(2, 1, 1, "b"))) }()

	require.Eventually(t, func() bool {
		return rec.Count(diag.CodeHostFinalizeSlow) == 1
	}, time.Second, time.Millisecond)
	assert.ErrorIs(t, rec.Failures()[0], ErrFinalizeTimeout)
	assert.Len(t, host.Applied(), 1, "next tick must wait for the previous apply")
	select {
	case <-done:
		t.Fatal("SendToHost returned before the previous apply completed")
	default:
	}

	require.True(t, host.Complete(errors.New("gpu lost")))
	var resp []byte
	select {
	case resp = <-done:
	case <-time.After(time.Second):
		t.Fatal("SendToHost did not resume after the apply completed")
	}
	assert.NotNil(t, resp)
	assert.Len(t, host.Applied(), 2)
	assert.Equal(t, 1, rec.Count(diag.CodeHostFinalizeFailure), "late error is still reported")
	assert.Equal(t, uint64(1), b.Stats().HostFailures, "only the late error counts as a host failure")

	host.Complete(nil)
}

func TestFinalizePanicIsContained(t *testing.T) {
	host := &testutil.RecordingHost{FinalizePanic: "finalize bug"}
	b, _, rec := newTestBridge(t, host)

	var resp []byte
	assert.NotPanics(t, func() { resp = b.SendToHost(testutil.Encode(testutil.Put(1, 1, 1, "a"))) })
	assert.NotNil(t, resp)
	assert.Equal(t, 1, rec.Count(diag.CodeHostFinalizeFailure))
}

func TestInternalPanicReturnsNil(t *testing.T) {
	rec := &diag.Recorder{}
	// A bridge without a registry panics when it tries to rent a response.
	b := New(nil, NopHost{}, WithSceneID("broken"), WithSink(rec))

	var resp []byte
	assert.NotPanics(t, func() { resp = b.SendToHost(nil) })
	assert.Nil(t, resp)
	require.Equal(t, 1, rec.Count(diag.CodeInternal))
	assert.Contains(t, rec.Failures()[0].Error(), "send_to_host")
}

func TestClose(t *testing.T) {
	b, reg, _ := newTestBridge(t, NopHost{})
	b.SendToHost(testutil.Encode(testutil.Put(1, 1, 1, "a")))
	b.Close()
	b.Close()

	assert.Nil(t, b.SendToHost(nil))
	assert.Nil(t, b.GetState())
	assert.Equal(t, 0, reg.Outstanding())
	assert.Equal(t, 0, b.Store().Len())
	assert.False(t, b.Outgoing().Push(testutil.Put(1, 1, 1, "late")))
}

func TestObserverSeesEveryOutcome(t *testing.T) {
	var seen []crdt.Outcome
	b, _, _ := newTestBridge(t, NopHost{}, WithObserver(func(_ wire.Message, res crdt.Result) {
		seen = append(seen, res.Outcome)
	}))

	b.SendToHost(testutil.Encode(
		testutil.Put(1, 1, 2, "a"),
		testutil.Put(1, 1, 1, "stale"),
		testutil.DeleteEntity(1),
		testutil.Append(1, 2, 1, "x"),
	))
	assert.Equal(t, []crdt.Outcome{crdt.StateUpdated, crdt.NoChange, crdt.StateUpdated, crdt.MissingDependency}, seen)
}
