// Package velocity estimates queue throughput from discrete advance events.
//
// Sampling is sparse and irregular: the estimator keeps a trailing window of
// advance timestamps and reports interviews-per-hour only once it has seen
// enough of them to say something defensible.
package velocity

import (
	"sync"
	"time"
)

const (
	DefaultWindow     = 3 * time.Hour
	DefaultMaxSamples = 20
	DefaultMinElapsed = time.Minute
)

// Config bounds the estimation window.
//
// The effective window is the greater of "last MaxSamples advances" and
// "last Window duration", so a slow night keeps old samples alive while a
// busy hour doesn't let ancient history drag the rate down.
type Config struct {
	Window     time.Duration
	MaxSamples int
	// MinElapsed clamps the elapsed span used for the rate so two advances
	// at nearly the same instant cannot produce an absurd rate.
	MinElapsed time.Duration
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.MaxSamples <= 0 {
		c.MaxSamples = DefaultMaxSamples
	}
	if c.MinElapsed <= 0 {
		c.MinElapsed = DefaultMinElapsed
	}
	return c
}

// Estimator owns the advance-event window. All mutation happens through
// RecordAdvance/Reset; the zero value is not usable, construct with New.
type Estimator struct {
	mu      sync.Mutex
	cfg     Config
	samples []time.Time // ascending
}

func New(cfg Config) *Estimator {
	return &Estimator{cfg: cfg.withDefaults()}
}

// RecordAdvance appends one advance event. Out-of-order timestamps are
// tolerated by insertion at the right place; duplicates are kept (two people
// can finish in the same second).
func (e *Estimator) RecordAdvance(t time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := len(e.samples)
	if n == 0 || !t.Before(e.samples[n-1]) {
		e.samples = append(e.samples, t)
	} else {
		i := n
		for i > 0 && t.Before(e.samples[i-1]) {
			i--
		}
		e.samples = append(e.samples, time.Time{})
		copy(e.samples[i+1:], e.samples[i:])
		e.samples[i] = t
	}
	e.evict(t)
}

// Rate returns the advance rate in events per hour over the current window.
// ok is false until at least 2 advances are inside the window.
//
// The rate counts intervals, not events: n advances spanning an hour are
// n-1 completed interviews per hour.
func (e *Estimator) Rate(now time.Time) (perHour float64, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.evict(now)
	in := e.inWindow(now)
	if len(in) < 2 {
		return 0, false
	}

	elapsed := in[len(in)-1].Sub(in[0])
	if elapsed < e.cfg.MinElapsed {
		elapsed = e.cfg.MinElapsed
	}
	return float64(len(in)-1) / elapsed.Hours(), true
}

// Count reports how many advances are currently inside the window.
func (e *Estimator) Count(now time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inWindow(now))
}

// Window returns the configured time span of the estimation window.
func (e *Estimator) Window() time.Duration {
	return e.cfg.Window
}

// Reset discards all history. Called after a long outage: stale velocity is
// worse than no velocity.
func (e *Estimator) Reset() {
	e.mu.Lock()
	e.samples = e.samples[:0]
	e.mu.Unlock()
}

// evict drops samples that fall outside both window bounds. A sample
// survives while it is within the trailing duration OR among the newest
// MaxSamples.
func (e *Estimator) evict(now time.Time) {
	cutoff := now.Add(-e.cfg.Window)
	drop := 0
	for i, s := range e.samples {
		if !s.Before(cutoff) {
			break
		}
		if len(e.samples)-i <= e.cfg.MaxSamples {
			break
		}
		drop = i + 1
	}
	if drop > 0 {
		e.samples = append(e.samples[:0], e.samples[drop:]...)
	}
}

// inWindow returns the ascending samples that count toward the rate at now.
func (e *Estimator) inWindow(now time.Time) []time.Time {
	cutoff := now.Add(-e.cfg.Window)
	start := 0
	for start < len(e.samples) && e.samples[start].Before(cutoff) {
		start++
	}
	in := e.samples[start:]
	// The count bound only widens the window: older samples beyond the time
	// cutoff still count while we have fewer than MaxSamples newer ones.
	if len(in) < e.cfg.MaxSamples {
		extra := e.cfg.MaxSamples - len(in)
		if extra > start {
			extra = start
		}
		in = e.samples[start-extra:]
	}
	return in
}
