// Package tracker owns the authoritative queue state.
//
// The tracker is the single writer of its snapshot: classified events are
// applied in arrival order and nothing else mutates position or total.
// Optimistic decrements on advance events are always superseded by the next
// authoritative position report; an upward correction is expected, not an
// error.
package tracker

import (
	"time"

	"queuewatch/internal/classify"
	"queuewatch/internal/velocity"
)

// Unknown marks a position or total that has not been observed yet.
const Unknown = -1

// Snapshot is the externally visible queue state.
// Position 0 means front of the queue (being served); totals are counts.
type Snapshot struct {
	Position    int
	Total       int
	LastUpdated time.Time
	Connected   bool
}

// Known reports whether both position and total are known.
func (s Snapshot) Known() bool { return s.Position != Unknown && s.Total != Unknown }

// Tracker applies classified events to the snapshot and derives ETA from the
// velocity estimator. Not safe for concurrent use: all calls must come from
// the single event-application goroutine.
type Tracker struct {
	snap Snapshot
	est  *velocity.Estimator
}

func New(est *velocity.Estimator) *Tracker {
	return &Tracker{
		snap: Snapshot{Position: Unknown, Total: Unknown},
		est:  est,
	}
}

// Apply folds one classified event into the snapshot.
func (t *Tracker) Apply(ev classify.Event, now time.Time) {
	switch ev.Kind {
	case classify.PositionUpdate:
		t.snap.Position = ev.Position
		if ev.Total > 0 {
			t.snap.Total = ev.Total
		}
		// A position-only report larger than the known total means the
		// total is stale; raise it rather than hold a broken invariant.
		if t.snap.Total != Unknown && t.snap.Position > t.snap.Total {
			t.snap.Total = t.snap.Position
		}
		t.snap.LastUpdated = now
		t.snap.Connected = true

	case classify.QueueAdvanced:
		t.est.RecordAdvance(now)
		// Advance events arrive more often than full reports; decrement
		// optimistically (bounded at 0) and let the next authoritative
		// report correct us.
		if t.snap.Position > 0 {
			t.snap.Position--
			t.snap.LastUpdated = now
		}

	case classify.SessionEnded:
		if ev.Reason == classify.EndVoluntary {
			// Deliberate exit: our place in the queue is gone.
			t.snap = Snapshot{Position: Unknown, Total: Unknown, LastUpdated: now}
			return
		}
		// Involuntary: keep last-known position for resume.
		t.snap.Connected = false
		t.snap.LastUpdated = now

	case classify.Mentioned, classify.Unrecognized:
		// No snapshot mutation.
	}
}

// SetConnected records transport-level connectivity without touching the
// queue numbers. Used by the recovery path.
func (t *Tracker) SetConnected(connected bool, now time.Time) {
	if t.snap.Connected == connected {
		return
	}
	t.snap.Connected = connected
	t.snap.LastUpdated = now
}

func (t *Tracker) Snapshot() Snapshot { return t.snap }

// ETA estimates time until service: position divided by the advance rate.
// ok is false while position or velocity is unknown.
func (t *Tracker) ETA(now time.Time) (time.Duration, bool) {
	if t.snap.Position == Unknown {
		return 0, false
	}
	rate, ok := t.est.Rate(now)
	if !ok || rate <= 0 {
		return 0, false
	}
	hours := float64(t.snap.Position) / rate
	return time.Duration(hours * float64(time.Hour)), true
}

// ResetVelocity clears the advance history. Invoked after a reconnect that
// followed an outage longer than the estimation window.
func (t *Tracker) ResetVelocity() { t.est.Reset() }
