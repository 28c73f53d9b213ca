package diag

import (
	"log/slog"
	"sync"
)

// Sink receives failure reports. Report must not panic and must be safe for
// concurrent use: several scenes share one sink.
type Sink interface {
	Report(f *Failure)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(f *Failure)

// Report calls fn(f).
func (fn SinkFunc) Report(f *Failure) { fn(f) }

// Discard drops every report.
var Discard Sink = SinkFunc(func(*Failure) {})

// SlogSink logs each failure at error level.
type SlogSink struct {
	Logger *slog.Logger
}

// NewSlogSink returns a sink writing to logger, or slog.Default() if nil.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{Logger: logger}
}

// Report logs f with its scene and message identity.
func (s *SlogSink) Report(f *Failure) {
	attrs := []any{
		"code", string(f.Code),
		"scene", f.SceneID,
		"error", f.Err,
	}
	if f.HasMessage {
		attrs = append(attrs,
			"type", f.MessageType.String(),
			"entity", uint32(f.Entity),
			"component", uint32(f.Component),
		)
	}
	switch f.Code {
	case CodeMalformedMessage:
		s.Logger.Warn("scene batch truncated", attrs...)
		return
	case CodeHostFinalizeSlow:
		s.Logger.Warn("host apply exceeded finalize timeout", attrs...)
		return
	}
	s.Logger.Error("scene reconciliation failure", attrs...)
}

// Multi fans out reports to every sink in order.
type Multi []Sink

// Report forwards f to each sink.
func (m Multi) Report(f *Failure) {
	for _, s := range m {
		if s != nil {
			s.Report(f)
		}
	}
}

// Recorder keeps every report in memory. Intended for tests and the harness.
type Recorder struct {
	mu       sync.Mutex
	failures []*Failure
}

// Report appends f.
func (r *Recorder) Report(f *Failure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, f)
}

// Failures returns a copy of everything recorded.
func (r *Recorder) Failures() []*Failure {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Failure, len(r.failures))
	copy(out, r.failures)
	return out
}

// Count returns how many reports carry code.
func (r *Recorder) Count(code Code) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, f := range r.failures {
		if f.Code == code {
			n++
		}
	}
	return n
}
