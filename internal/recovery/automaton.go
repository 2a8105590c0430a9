// Package recovery drives reconnection after involuntary disconnects.
//
// Connectivity is modeled as an explicit finite-state automaton with a
// bounded retry budget: Connected -> Disconnected -> Recovering -> Connected,
// or -> Failed once the budget is spent. Failed is terminal; it is surfaced
// to the operator and nothing is retried until an external Reset.
//
// The automaton's state methods are not concurrency-safe on purpose: the
// run loop is the single writer. Only Dial performs I/O, so the loop can run
// it on a side goroutine and feed the result back through its own channel.
package recovery

import (
	"context"
	"errors"
	"time"

	logx "queuewatch/pkg/logx"
)

// ErrRecoveryExhausted is returned once the retry budget is spent.
// It is fatal: the operator must restart or Reset explicitly.
var ErrRecoveryExhausted = errors.New("recovery: retry budget exhausted")

// Transport is the external collaborator that owns the wire connection.
type Transport interface {
	Reconnect(ctx context.Context) error
	SendLine(ctx context.Context, text string) error
}

type State int

const (
	Connected State = iota
	Disconnected
	Recovering
	Failed
)

func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Recovering:
		return "recovering"
	default:
		return "failed"
	}
}

const (
	DefaultBackoffBase = 5 * time.Second
	DefaultBackoffMax  = 5 * time.Minute
	DefaultMaxRetries  = 10
)

type Config struct {
	BackoffBase time.Duration
	BackoffMax  time.Duration
	MaxRetries  int
	// StaleAfter is the outage duration beyond which velocity history must
	// be discarded after a successful reconnect.
	StaleAfter time.Duration
}

func (c Config) withDefaults() Config {
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = DefaultBackoffMax
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	return c
}

// Outcome describes the result of a completed recovery attempt.
type Outcome struct {
	State State
	// NextDelay is the re-armed backoff when State == Disconnected.
	NextDelay time.Duration
	// StaleVelocity is set on success when the outage exceeded StaleAfter.
	StaleVelocity bool
	// Err is ErrRecoveryExhausted when State == Failed, else the transport
	// error for a failed attempt, else nil.
	Err error
}

// Automaton tracks connectivity state and the retry budget.
type Automaton struct {
	cfg Config
	tr  Transport
	log logx.Logger

	// joinLine builds the idempotent queue-join command to resend after a
	// successful reconnect. Safe to resend even if the remote still holds
	// the session.
	joinLine func() string

	state          State
	disconnectedAt time.Time
	retryCount     int
}

func New(cfg Config, tr Transport, joinLine func() string, log logx.Logger) *Automaton {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Automaton{
		cfg:      cfg.withDefaults(),
		tr:       tr,
		joinLine: joinLine,
		log:      log,
		state:    Connected,
	}
}

func (a *Automaton) State() State              { return a.state }
func (a *Automaton) RetryCount() int           { return a.retryCount }
func (a *Automaton) DisconnectedAt() time.Time { return a.disconnectedAt }

// Arm transitions Connected -> Disconnected and returns the first backoff
// delay. ok is false when no timer should be armed (already recovering,
// or terminally failed).
func (a *Automaton) Arm(now time.Time) (delay time.Duration, ok bool) {
	switch a.state {
	case Failed:
		return 0, false
	case Disconnected, Recovering:
		// Already mid-recovery; keep the existing schedule.
		return 0, false
	}
	a.state = Disconnected
	a.disconnectedAt = now
	a.retryCount = 0
	d := a.backoff()
	a.log.Warn("connection lost; recovery armed",
		logx.Duration("backoff", d),
		logx.Int("max_retries", a.cfg.MaxRetries),
	)
	return d, true
}

// BeginAttempt transitions Disconnected -> Recovering. The caller then runs
// Dial on a side goroutine and reports back via CompleteAttempt.
func (a *Automaton) BeginAttempt() bool {
	if a.state != Disconnected {
		return false
	}
	a.state = Recovering
	return true
}

// Dial performs one reconnection attempt: reconnect the transport, then
// resend the queue-join request. It mutates no automaton state and may be
// called from any goroutine.
func (a *Automaton) Dial(ctx context.Context) error {
	if err := a.tr.Reconnect(ctx); err != nil {
		return err
	}
	if a.joinLine == nil {
		return nil
	}
	line := a.joinLine()
	if line == "" {
		return nil
	}
	return a.tr.SendLine(ctx, line)
}

// CompleteAttempt folds a Dial result back into the automaton.
//
// On success: -> Connected; StaleVelocity is set when the outage exceeded
// the staleness threshold. On failure: -> Disconnected with the next backoff
// delay, or -> Failed once retries exceed the budget.
func (a *Automaton) CompleteAttempt(dialErr error, now time.Time) Outcome {
	if a.state != Recovering {
		return Outcome{State: a.state}
	}

	if dialErr == nil {
		outage := now.Sub(a.disconnectedAt)
		stale := a.cfg.StaleAfter > 0 && outage > a.cfg.StaleAfter
		a.log.Info("recovered",
			logx.Duration("outage", outage),
			logx.Int("retries", a.retryCount),
			logx.Bool("stale_velocity", stale),
		)
		a.state = Connected
		a.retryCount = 0
		a.disconnectedAt = time.Time{}
		return Outcome{State: Connected, StaleVelocity: stale}
	}

	a.retryCount++
	if a.retryCount >= a.cfg.MaxRetries {
		a.state = Failed
		a.log.Error("recovery exhausted",
			logx.Err(dialErr),
			logx.Int("retries", a.retryCount),
		)
		return Outcome{State: Failed, Err: ErrRecoveryExhausted}
	}

	a.state = Disconnected
	d := a.backoff()
	a.log.Warn("reconnect failed; backing off",
		logx.Err(dialErr),
		logx.Int("retry", a.retryCount),
		logx.Duration("backoff", d),
	)
	return Outcome{State: Disconnected, NextDelay: d, Err: dialErr}
}

// Reset is the external re-initiation path out of Failed (or any state).
// It does not arm a timer; the next disconnect signal does.
func (a *Automaton) Reset() {
	a.state = Connected
	a.retryCount = 0
	a.disconnectedAt = time.Time{}
}

// backoff returns the delay before the next attempt: base doubled per retry,
// capped at BackoffMax.
func (a *Automaton) backoff() time.Duration {
	d := a.cfg.BackoffBase
	for i := 0; i < a.retryCount; i++ {
		d *= 2
		if d >= a.cfg.BackoffMax {
			return a.cfg.BackoffMax
		}
	}
	return d
}
