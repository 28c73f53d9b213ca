// Package diag carries failure reports out of the reconciliation core.
//
// The bridge never lets an error cross the sandbox boundary. Instead every
// failure becomes a Failure handed to a Sink. Sinks here log through slog,
// append compressed JSONL files, fan out to several sinks, and count failures
// per scene so the host can suspend a scene that keeps failing.
package diag

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/scenebridge/internal/wire"
)

// Code categorizes a failure.
type Code string

const (
	// CodeMalformedMessage means an inbound batch was cut short.
	CodeMalformedMessage Code = "MALFORMED_MESSAGE"

	// CodeHostApplyFailure means the host world rejected or panicked on a
	// reconciled message.
	CodeHostApplyFailure Code = "HOST_APPLY_FAILURE"

	// CodeHostFinalizeFailure means the host failed to finalize a tick.
	CodeHostFinalizeFailure Code = "HOST_FINALIZE_FAILURE"

	// CodeHostFinalizeSlow means a deferred apply outlived the finalize
	// timeout. The bridge still waits for it.
	CodeHostFinalizeSlow Code = "HOST_FINALIZE_SLOW"

	// CodeEncodeFailure means a response could not be encoded.
	CodeEncodeFailure Code = "ENCODE_FAILURE"

	// CodeInternal means the bridge itself panicked.
	CodeInternal Code = "INTERNAL"
)

// Failure identifies one failure with enough context for the host to decide
// whether to suspend the scene.
type Failure struct {
	Code    Code
	SceneID string

	// HasMessage is set when the failure concerns a specific message.
	HasMessage  bool
	MessageType wire.Type
	Entity      wire.EntityID
	Component   wire.ComponentID

	Err  error
	Time time.Time
}

// Error implements the error interface.
func (f *Failure) Error() string {
	cause := "<nil>"
	if f.Err != nil {
		cause = f.Err.Error()
	}
	if f.HasMessage {
		return fmt.Sprintf("%s: %s (scene=%s, type=%s, entity=%d, component=%d)",
			f.Code, cause, f.SceneID, f.MessageType, f.Entity, f.Component)
	}
	return fmt.Sprintf("%s: %s (scene=%s)", f.Code, cause, f.SceneID)
}

// Unwrap returns the underlying cause.
func (f *Failure) Unwrap() error { return f.Err }

// IsHostApplyFailure reports whether err is a host apply failure.
// Uses errors.As to handle wrapped errors.
func IsHostApplyFailure(err error) bool {
	var f *Failure
	if errors.As(err, &f) {
		return f.Code == CodeHostApplyFailure
	}
	return false
}

// ForMessage returns a failure tied to msg.
func ForMessage(code Code, sceneID string, msg wire.Message, err error) *Failure {
	return &Failure{
		Code:        code,
		SceneID:     sceneID,
		HasMessage:  true,
		MessageType: msg.Type,
		Entity:      msg.Entity,
		Component:   msg.Component,
		Err:         err,
		Time:        time.Now(),
	}
}

// ForScene returns a failure that is not tied to a message.
func ForScene(code Code, sceneID string, err error) *Failure {
	return &Failure{Code: code, SceneID: sceneID, Err: err, Time: time.Now()}
}

// PanicError wraps a recovered panic value.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Record is the JSON form of a Failure.
type Record struct {
	Time        time.Time `json:"time"`
	Code        Code      `json:"code"`
	SceneID     string    `json:"scene_id"`
	MessageType string    `json:"message_type,omitempty"`
	Entity      *uint32   `json:"entity,omitempty"`
	Component   *uint32   `json:"component,omitempty"`
	Error       string    `json:"error"`
}

// Record converts f to its serializable form.
func (f *Failure) Record() Record {
	r := Record{Time: f.Time.UTC(), Code: f.Code, SceneID: f.SceneID}
	if f.Err != nil {
		r.Error = f.Err.Error()
	}
	if f.HasMessage {
		e, c := uint32(f.Entity), uint32(f.Component)
		r.MessageType = f.MessageType.String()
		r.Entity = &e
		r.Component = &c
	}
	return r
}
