package harness

import (
	"github.com/roach88/scenebridge/internal/wire"
)

// Trace event kinds.
const (
	EventInbound   = "inbound"
	EventHostApply = "host_apply"
	EventFailure   = "failure"
	EventResponse  = "response"
	EventSnapshot  = "snapshot"
)

// TraceEvent is one observable step of a scenario run.
type TraceEvent struct {
	Tick      int     `json:"tick"`
	Kind      string  `json:"kind"`
	Type      string  `json:"type,omitempty"`
	Entity    *uint32 `json:"entity,omitempty"`
	Component *uint32 `json:"component,omitempty"`
	Timestamp *uint32 `json:"timestamp,omitempty"`
	Payload   string  `json:"payload,omitempty"`
	Outcome   string  `json:"outcome,omitempty"`
	Effect    string  `json:"effect,omitempty"`
	Code      string  `json:"code,omitempty"`
	Error     string  `json:"error,omitempty"`
}

func messageEvent(tick int, kind string, m wire.Message) TraceEvent {
	e, c, ts := uint32(m.Entity), uint32(m.Component), uint32(m.Timestamp)
	ev := TraceEvent{
		Tick:    tick,
		Kind:    kind,
		Type:    m.Type.String(),
		Entity:  &e,
		Payload: string(m.Payload),
	}
	if m.Type != wire.TypeDeleteEntity {
		ev.Component = &c
		ev.Timestamp = &ts
	}
	return ev
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace lists events in the order they happened.
	Trace []TraceEvent `json:"trace"`

	// Errors lists failed expectations and assertions.
	Errors []string `json:"errors,omitempty"`

	// FinalDigest is the state digest after the last tick.
	FinalDigest string `json:"final_digest"`

	// Slots is the live slot count after the last tick.
	Slots int `json:"slots"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{Pass: true, Trace: []TraceEvent{}, Errors: []string{}}
}

// AddError records a failed check and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) add(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
