package velocity

import (
	"math"
	"testing"
	"time"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestRateNeedsTwoSamples(t *testing.T) {
	t.Parallel()
	e := New(Config{})

	if _, ok := e.Rate(base); ok {
		t.Fatal("empty estimator reported a rate")
	}
	e.RecordAdvance(base)
	if _, ok := e.Rate(base.Add(time.Minute)); ok {
		t.Fatal("single sample reported a rate")
	}
	e.RecordAdvance(base.Add(10 * time.Minute))
	if _, ok := e.Rate(base.Add(11 * time.Minute)); !ok {
		t.Fatal("two samples should report a rate")
	}
}

func TestRateSixPerHour(t *testing.T) {
	t.Parallel()
	e := New(Config{Window: 20 * time.Minute})

	// Advances at t=0, 600s, 1200s: two 10-minute intervals.
	e.RecordAdvance(base)
	e.RecordAdvance(base.Add(600 * time.Second))
	e.RecordAdvance(base.Add(1200 * time.Second))

	got, ok := e.Rate(base.Add(1200 * time.Second))
	if !ok {
		t.Fatal("expected a rate")
	}
	if math.Abs(got-6.0) > 0.01 {
		t.Fatalf("rate = %f, want ~6/hour", got)
	}
}

func TestRateClampsNearZeroElapsed(t *testing.T) {
	t.Parallel()
	e := New(Config{MinElapsed: time.Minute})

	// Two advances in the same second must not divide by ~zero.
	e.RecordAdvance(base)
	e.RecordAdvance(base.Add(200 * time.Millisecond))

	got, ok := e.Rate(base.Add(time.Second))
	if !ok {
		t.Fatal("expected a rate")
	}
	// 1 interval over the clamped 1-minute span.
	if got > 60.001 {
		t.Fatalf("rate = %f, want <= 60/hour with 1m clamp", got)
	}
}

func TestWindowEviction(t *testing.T) {
	t.Parallel()
	e := New(Config{Window: time.Hour, MaxSamples: 3})

	for i := 0; i < 10; i++ {
		e.RecordAdvance(base.Add(time.Duration(i) * time.Minute))
	}
	now := base.Add(10 * time.Minute)
	if n := e.Count(now); n != 10 {
		t.Fatalf("Count = %d, want 10 (all within the hour)", n)
	}

	// Three hours later only the count bound keeps samples alive.
	later := base.Add(3 * time.Hour)
	if n := e.Count(later); n != 3 {
		t.Fatalf("Count = %d, want 3 (MaxSamples floor)", n)
	}
}

func TestOutOfOrderSamples(t *testing.T) {
	t.Parallel()
	e := New(Config{Window: time.Hour})

	e.RecordAdvance(base.Add(20 * time.Minute))
	e.RecordAdvance(base) // late delivery
	e.RecordAdvance(base.Add(10 * time.Minute))

	got, ok := e.Rate(base.Add(20 * time.Minute))
	if !ok {
		t.Fatal("expected a rate")
	}
	// 2 intervals over 20 minutes = 6/hour regardless of arrival order.
	if math.Abs(got-6.0) > 0.01 {
		t.Fatalf("rate = %f, want ~6/hour", got)
	}
}

func TestReset(t *testing.T) {
	t.Parallel()
	e := New(Config{})
	e.RecordAdvance(base)
	e.RecordAdvance(base.Add(time.Minute))
	e.Reset()
	if _, ok := e.Rate(base.Add(2 * time.Minute)); ok {
		t.Fatal("rate reported after Reset")
	}
	if n := e.Count(base.Add(2 * time.Minute)); n != 0 {
		t.Fatalf("Count = %d after Reset, want 0", n)
	}
}
