package harness

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/roach88/scenebridge/internal/bridge"
	"github.com/roach88/scenebridge/internal/crdt"
	"github.com/roach88/scenebridge/internal/diag"
	"github.com/roach88/scenebridge/internal/pool"
	"github.com/roach88/scenebridge/internal/testutil"
	"github.com/roach88/scenebridge/internal/wire"
)

// Harness runs one scenario against a fresh bridge.
type Harness struct {
	scenario *Scenario
	pools    *pool.Registry
	bridge   *bridge.Bridge
	host     *testutil.RecordingHost
	failures *diag.Recorder
	logger   *slog.Logger

	result   *Result
	tick     int
	outcomes []string
}

// Run executes a scenario and returns the result. Errors are reserved for
// scenarios that cannot run at all; failed expectations land in
// Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	h := newHarness(scenario)

	for i, t := range scenario.Ticks {
		if err := h.runTick(i, t); err != nil {
			h.bridge.Close()
			return nil, fmt.Errorf("tick %d: %w", i, err)
		}
	}

	store := h.bridge.Store()
	h.result.FinalDigest = store.Digest()
	h.result.Slots = store.Len()

	actx := &AssertionContext{
		Store:    store,
		Applied:  len(h.host.Applied()),
		Failures: h.failures,
	}
	for _, msg := range EvaluateAssertions(scenario.Assertions, actx) {
		h.result.AddError(msg)
	}

	h.bridge.Close()
	if n := h.pools.Outstanding(); n != 0 {
		h.result.AddError(fmt.Sprintf("%d response buffers still outstanding after close", n))
	}
	return h.result, nil
}

func newHarness(s *Scenario) *Harness {
	h := &Harness{
		scenario: s,
		pools:    pool.NewRegistry(),
		failures: &diag.Recorder{},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		result:   NewResult(),
	}
	h.host = &testutil.RecordingHost{
		FailOn: func(m wire.Message) error {
			if slices.Contains(s.Host.FailEntities, uint32(m.Entity)) {
				return fmt.Errorf("host rejected entity %d", m.Entity)
			}
			return nil
		},
		PanicOn: func(m wire.Message) bool {
			return slices.Contains(s.Host.PanicEntities, uint32(m.Entity))
		},
	}
	h.bridge = bridge.New(h.pools, &tracingHost{RecordingHost: h.host, h: h},
		bridge.WithSceneID(s.SceneID),
		bridge.WithSink(diag.Multi{h.failures, diag.SinkFunc(h.traceFailure)}),
		bridge.WithLogger(h.logger),
		bridge.WithObserver(h.traceInbound),
	)
	return h
}

func (h *Harness) runTick(i int, t Tick) error {
	h.tick = i
	h.outcomes = h.outcomes[:0]

	push, err := messages(t.HostPush)
	if err != nil {
		return err
	}
	for _, m := range push {
		h.bridge.Outgoing().Push(m)
	}

	var resp []byte
	kind := EventResponse
	if t.GetState {
		kind = EventSnapshot
		resp = h.bridge.GetState()
	} else {
		batch, err := t.Batch()
		if err != nil {
			return err
		}
		resp = h.bridge.SendToHost(batch)
	}
	if resp == nil {
		return errors.New("bridge returned no response")
	}

	got, err := wire.DecodeAll(resp)
	if err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	for _, m := range got {
		h.result.add(messageEvent(i, kind, m))
	}

	if t.Expect != nil {
		h.checkExpect(i, t.Expect, got)
	}
	h.logger.Info("tick completed", "tick", i, "outcomes", len(h.outcomes), "response", len(got))
	return nil
}

func (h *Harness) checkExpect(i int, want *TickExpect, got []wire.Message) {
	if want.Outcomes != nil && !slices.Equal(want.Outcomes, h.outcomes) {
		h.result.AddError(fmt.Sprintf("tick %d: outcomes %v, expected %v", i, h.outcomes, want.Outcomes))
	}
	if want.Response == nil {
		return
	}
	expected, _ := messages(want.Response)
	if len(expected) != len(got) {
		h.result.AddError(fmt.Sprintf("tick %d: response has %d messages, expected %d", i, len(got), len(expected)))
		return
	}
	for j := range expected {
		if !sameMessage(expected[j], got[j]) {
			h.result.AddError(fmt.Sprintf("tick %d: response[%d] is %s, expected %s", i, j, got[j], expected[j]))
		}
	}
}

func sameMessage(a, b wire.Message) bool {
	return a.Type == b.Type && a.Entity == b.Entity && a.Component == b.Component &&
		a.Timestamp == b.Timestamp && string(a.Payload) == string(b.Payload)
}

func outcomeName(o crdt.Outcome) string {
	switch o {
	case crdt.StateUpdated:
		return OutcomeUpdated
	case crdt.MissingDependency:
		return OutcomeMissingDependency
	}
	return OutcomeNoChange
}

func (h *Harness) traceInbound(m wire.Message, res crdt.Result) {
	name := outcomeName(res.Outcome)
	h.outcomes = append(h.outcomes, name)
	ev := messageEvent(h.tick, EventInbound, m)
	ev.Outcome = name
	h.result.add(ev)
}

func (h *Harness) traceFailure(f *diag.Failure) {
	ev := TraceEvent{Tick: h.tick, Kind: EventFailure, Code: string(f.Code)}
	if f.HasMessage {
		ev = messageEvent(h.tick, EventFailure, wire.Message{Type: f.MessageType, Entity: f.Entity, Component: f.Component})
		ev.Code = string(f.Code)
		ev.Timestamp = nil
	}
	if f.Err != nil {
		ev.Error = f.Err.Error()
	}
	h.result.add(ev)
}

// tracingHost records successful applies in the trace.
type tracingHost struct {
	*testutil.RecordingHost
	h *Harness
}

func (t *tracingHost) ApplyReconciledMessage(msg wire.Message, effect crdt.Effect) error {
	if err := t.RecordingHost.ApplyReconciledMessage(msg, effect); err != nil {
		return err
	}
	ev := messageEvent(t.h.tick, EventHostApply, msg)
	ev.Effect = effect.String()
	t.h.result.add(ev)
	return nil
}
