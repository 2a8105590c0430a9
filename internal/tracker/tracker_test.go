package tracker

import (
	"testing"
	"time"

	"queuewatch/internal/classify"
	"queuewatch/internal/velocity"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTracker() *Tracker {
	return New(velocity.New(velocity.Config{}))
}

func posUpdate(p, t int) classify.Event {
	return classify.Event{Kind: classify.PositionUpdate, Position: p, Total: t}
}

func TestStartsUnknown(t *testing.T) {
	t.Parallel()
	tr := newTracker()
	s := tr.Snapshot()
	if s.Position != Unknown || s.Total != Unknown {
		t.Fatalf("fresh snapshot = %d/%d, want unknown/unknown", s.Position, s.Total)
	}
	if s.Connected {
		t.Fatal("fresh snapshot connected")
	}
}

func TestPositionUpdateOverwrites(t *testing.T) {
	t.Parallel()
	tr := newTracker()
	tr.Apply(posUpdate(8, 20), base)

	s := tr.Snapshot()
	if s.Position != 8 || s.Total != 20 {
		t.Fatalf("snapshot = %d/%d, want 8/20", s.Position, s.Total)
	}
	if !s.Connected {
		t.Fatal("position report should mark connected")
	}
	if !s.LastUpdated.Equal(base) {
		t.Fatalf("LastUpdated = %v, want %v", s.LastUpdated, base)
	}
}

func TestPositionInvariantHolds(t *testing.T) {
	t.Parallel()
	tr := newTracker()

	seq := []classify.Event{
		posUpdate(8, 20),
		posUpdate(5, 20),
		{Kind: classify.PositionUpdate, Position: 30}, // position-only, above known total
		posUpdate(2, 10),
	}
	for i, ev := range seq {
		tr.Apply(ev, base.Add(time.Duration(i)*time.Minute))
		s := tr.Snapshot()
		if s.Known() && s.Position > s.Total {
			t.Fatalf("after event %d: position %d > total %d", i, s.Position, s.Total)
		}
	}
	if s := tr.Snapshot(); s.Position != 2 || s.Total != 10 {
		t.Fatalf("final snapshot = %d/%d, want 2/10", s.Position, s.Total)
	}
}

func TestPositionOnlyReportKeepsTotal(t *testing.T) {
	t.Parallel()
	tr := newTracker()
	tr.Apply(posUpdate(9, 25), base)
	tr.Apply(classify.Event{Kind: classify.PositionUpdate, Position: 7}, base.Add(time.Minute))

	s := tr.Snapshot()
	if s.Position != 7 || s.Total != 25 {
		t.Fatalf("snapshot = %d/%d, want 7/25", s.Position, s.Total)
	}
}

func TestOptimisticDecrementBoundedAtZero(t *testing.T) {
	t.Parallel()
	tr := newTracker()
	tr.Apply(posUpdate(2, 10), base)

	adv := classify.Event{Kind: classify.QueueAdvanced}
	for i := 0; i < 5; i++ {
		tr.Apply(adv, base.Add(time.Duration(i+1)*time.Minute))
	}
	if s := tr.Snapshot(); s.Position != 0 {
		t.Fatalf("position = %d, want 0 (bounded)", s.Position)
	}
}

func TestAuthoritativeReportSupersedesDecrement(t *testing.T) {
	t.Parallel()
	tr := newTracker()
	tr.Apply(posUpdate(6, 12), base)
	tr.Apply(classify.Event{Kind: classify.QueueAdvanced}, base.Add(time.Minute))

	if s := tr.Snapshot(); s.Position != 5 {
		t.Fatalf("position = %d after advance, want 5", s.Position)
	}

	// The bot disagrees with our optimistic guess; it wins, and the upward
	// correction is not an error.
	tr.Apply(posUpdate(7, 12), base.Add(2*time.Minute))
	if s := tr.Snapshot(); s.Position != 7 {
		t.Fatalf("position = %d, want 7 (authoritative)", s.Position)
	}
}

func TestInvoluntaryEndPreservesState(t *testing.T) {
	t.Parallel()
	tr := newTracker()
	tr.Apply(posUpdate(4, 9), base)
	tr.Apply(classify.Event{Kind: classify.SessionEnded, Reason: classify.EndInvoluntary}, base.Add(time.Minute))

	s := tr.Snapshot()
	if s.Connected {
		t.Fatal("still connected after involuntary end")
	}
	if s.Position != 4 || s.Total != 9 {
		t.Fatalf("snapshot = %d/%d, want 4/9 preserved", s.Position, s.Total)
	}
}

func TestVoluntaryEndResets(t *testing.T) {
	t.Parallel()
	tr := newTracker()
	tr.Apply(posUpdate(4, 9), base)
	tr.Apply(classify.Event{Kind: classify.SessionEnded, Reason: classify.EndVoluntary}, base.Add(time.Minute))

	s := tr.Snapshot()
	if s.Position != Unknown || s.Total != Unknown {
		t.Fatalf("snapshot = %d/%d, want unknown/unknown", s.Position, s.Total)
	}
	if s.Connected {
		t.Fatal("connected after voluntary end")
	}
}

func TestMentionedAndUnrecognizedDoNotMutate(t *testing.T) {
	t.Parallel()
	tr := newTracker()
	tr.Apply(posUpdate(3, 8), base)
	before := tr.Snapshot()

	tr.Apply(classify.Event{Kind: classify.Mentioned, From: "bob"}, base.Add(time.Minute))
	tr.Apply(classify.Event{Kind: classify.Unrecognized}, base.Add(2*time.Minute))

	if got := tr.Snapshot(); got != before {
		t.Fatalf("snapshot mutated: %+v -> %+v", before, got)
	}
}

func TestETA(t *testing.T) {
	t.Parallel()
	tr := newTracker()

	if _, ok := tr.ETA(base); ok {
		t.Fatal("ETA with unknown position")
	}

	tr.Apply(posUpdate(6, 12), base)
	if _, ok := tr.ETA(base); ok {
		t.Fatal("ETA without velocity data")
	}

	// Two advances 10 minutes apart: 6/hour. Position is now 4.
	tr.Apply(classify.Event{Kind: classify.QueueAdvanced}, base.Add(10*time.Minute))
	tr.Apply(classify.Event{Kind: classify.QueueAdvanced}, base.Add(20*time.Minute))

	eta, ok := tr.ETA(base.Add(20 * time.Minute))
	if !ok {
		t.Fatal("expected an ETA")
	}
	want := 40 * time.Minute // 4 ahead at 6/hour
	if diff := eta - want; diff < -time.Minute || diff > time.Minute {
		t.Fatalf("eta = %v, want ~%v", eta, want)
	}
}

func TestETANonIncreasingBetweenAdvances(t *testing.T) {
	t.Parallel()
	tr := newTracker()
	tr.Apply(posUpdate(10, 20), base)
	tr.Apply(classify.Event{Kind: classify.QueueAdvanced}, base.Add(10*time.Minute))
	tr.Apply(classify.Event{Kind: classify.QueueAdvanced}, base.Add(20*time.Minute))

	prev, ok := tr.ETA(base.Add(20 * time.Minute))
	if !ok {
		t.Fatal("expected an ETA")
	}
	tr.Apply(classify.Event{Kind: classify.QueueAdvanced}, base.Add(30*time.Minute))
	next, ok := tr.ETA(base.Add(30 * time.Minute))
	if !ok {
		t.Fatal("expected an ETA")
	}
	if next > prev {
		t.Fatalf("eta increased across an advance: %v -> %v", prev, next)
	}
}

func TestResetVelocity(t *testing.T) {
	t.Parallel()
	est := velocity.New(velocity.Config{})
	tr := New(est)
	tr.Apply(posUpdate(5, 10), base)
	tr.Apply(classify.Event{Kind: classify.QueueAdvanced}, base.Add(5*time.Minute))
	tr.Apply(classify.Event{Kind: classify.QueueAdvanced}, base.Add(10*time.Minute))

	tr.ResetVelocity()
	if _, ok := tr.ETA(base.Add(11 * time.Minute)); ok {
		t.Fatal("ETA survived a velocity reset")
	}
}
