package diag

import (
	"sync"
	"time"
)

// Window counts failures per scene over a sliding time window. When a scene
// reaches Limit failures within Span it is tripped and OnTrip fires once.
//
// Only failures matching Codes are counted. An empty Codes counts
// host apply failures only.
type Window struct {
	Limit  int
	Span   time.Duration
	Codes  []Code
	OnTrip func(sceneID string, last *Failure)

	now func() time.Time

	mu      sync.Mutex
	history map[string][]time.Time
	tripped map[string]bool
}

// NewWindow creates a window with the given limit and span.
func NewWindow(limit int, span time.Duration, onTrip func(string, *Failure)) *Window {
	return &Window{
		Limit:   limit,
		Span:    span,
		OnTrip:  onTrip,
		now:     time.Now,
		history: make(map[string][]time.Time),
		tripped: make(map[string]bool),
	}
}

func (w *Window) counts(code Code) bool {
	if len(w.Codes) == 0 {
		return code == CodeHostApplyFailure
	}
	for _, c := range w.Codes {
		if c == code {
			return true
		}
	}
	return false
}

// Report records f and trips the scene if the limit is reached.
func (w *Window) Report(f *Failure) {
	if w.Limit <= 0 || !w.counts(f.Code) {
		return
	}

	w.mu.Lock()
	if w.tripped[f.SceneID] {
		w.mu.Unlock()
		return
	}
	now := w.now()
	cutoff := now.Add(-w.Span)
	hist := w.history[f.SceneID]
	keep := hist[:0]
	for _, t := range hist {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	keep = append(keep, now)
	w.history[f.SceneID] = keep

	trip := len(keep) >= w.Limit
	if trip {
		w.tripped[f.SceneID] = true
		delete(w.history, f.SceneID)
	}
	onTrip := w.OnTrip
	w.mu.Unlock()

	if trip && onTrip != nil {
		onTrip(f.SceneID, f)
	}
}

// Tripped reports whether sceneID has been tripped.
func (w *Window) Tripped(sceneID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tripped[sceneID]
}

// Reset clears history and trip state for sceneID.
func (w *Window) Reset(sceneID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.history, sceneID)
	delete(w.tripped, sceneID)
}
