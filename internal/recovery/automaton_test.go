package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	logx "queuewatch/pkg/logx"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeTransport struct {
	reconnectErrs []error
	reconnects    int
	sent          []string
}

func (f *fakeTransport) Reconnect(ctx context.Context) error {
	var err error
	if f.reconnects < len(f.reconnectErrs) {
		err = f.reconnectErrs[f.reconnects]
	}
	f.reconnects++
	return err
}

func (f *fakeTransport) SendLine(ctx context.Context, text string) error {
	f.sent = append(f.sent, text)
	return nil
}

func newAutomaton(cfg Config, tr Transport) *Automaton {
	return New(cfg, tr, func() string { return "!queue https://example.test/r/1" }, logx.Nop())
}

// attempt runs one full Begin/Dial/Complete cycle the way the run loop does.
func attempt(t *testing.T, a *Automaton, now time.Time) Outcome {
	t.Helper()
	if !a.BeginAttempt() {
		t.Fatalf("BeginAttempt refused in state %v", a.State())
	}
	err := a.Dial(context.Background())
	return a.CompleteAttempt(err, now)
}

func TestRecoverLoop(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{}
	a := newAutomaton(Config{BackoffBase: time.Second}, tr)

	delay, ok := a.Arm(base)
	if !ok {
		t.Fatal("Arm refused")
	}
	if delay != time.Second {
		t.Fatalf("first backoff = %v, want 1s", delay)
	}
	if a.State() != Disconnected {
		t.Fatalf("state = %v, want Disconnected", a.State())
	}

	out := attempt(t, a, base.Add(delay))
	if out.State != Connected || out.Err != nil {
		t.Fatalf("outcome = %+v, want Connected", out)
	}
	if len(tr.sent) != 1 || tr.sent[0] != "!queue https://example.test/r/1" {
		t.Fatalf("join line not resent: %v", tr.sent)
	}
	if a.RetryCount() != 0 {
		t.Fatalf("retry count = %d after success, want 0", a.RetryCount())
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	t.Parallel()
	errDown := errors.New("network down")
	tr := &fakeTransport{reconnectErrs: []error{errDown, errDown, errDown, errDown}}
	a := newAutomaton(Config{BackoffBase: time.Second, BackoffMax: 5 * time.Second, MaxRetries: 10}, tr)

	a.Arm(base)
	wantDelays := []time.Duration{2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	now := base
	for i, want := range wantDelays {
		out := attempt(t, a, now)
		if out.State != Disconnected {
			t.Fatalf("attempt %d: state = %v, want Disconnected", i, out.State)
		}
		if out.NextDelay != want {
			t.Fatalf("attempt %d: delay = %v, want %v", i, out.NextDelay, want)
		}
		now = now.Add(out.NextDelay)
	}
}

func TestFailsAfterExactBudget(t *testing.T) {
	t.Parallel()
	const maxRetries = 3
	errDown := errors.New("network down")
	tr := &fakeTransport{reconnectErrs: []error{errDown, errDown, errDown, errDown}}
	a := newAutomaton(Config{BackoffBase: time.Millisecond, MaxRetries: maxRetries}, tr)

	a.Arm(base)
	var out Outcome
	for i := 0; i < maxRetries; i++ {
		out = attempt(t, a, base.Add(time.Duration(i)*time.Second))
	}
	if out.State != Failed {
		t.Fatalf("state = %v after %d failures, want Failed", out.State, maxRetries)
	}
	if !errors.Is(out.Err, ErrRecoveryExhausted) {
		t.Fatalf("err = %v, want ErrRecoveryExhausted", out.Err)
	}
	if tr.reconnects != maxRetries {
		t.Fatalf("reconnect attempts = %d, want exactly %d", tr.reconnects, maxRetries)
	}

	// Terminal: no further attempts without external re-initiation.
	if a.BeginAttempt() {
		t.Fatal("BeginAttempt allowed in Failed state")
	}
	if _, ok := a.Arm(base.Add(time.Hour)); ok {
		t.Fatal("Arm allowed in Failed state")
	}

	a.Reset()
	if a.State() != Connected {
		t.Fatalf("state = %v after Reset, want Connected", a.State())
	}
	if _, ok := a.Arm(base.Add(2 * time.Hour)); !ok {
		t.Fatal("Arm refused after Reset")
	}
}

func TestStaleVelocityThreshold(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{}
	a := newAutomaton(Config{BackoffBase: time.Second, StaleAfter: time.Hour}, tr)

	// Short outage: history stays.
	a.Arm(base)
	out := attempt(t, a, base.Add(10*time.Minute))
	if out.State != Connected || out.StaleVelocity {
		t.Fatalf("outcome = %+v, want fresh Connected", out)
	}

	// Outage longer than one estimation window: history must be discarded.
	a.Arm(base.Add(time.Hour))
	out = attempt(t, a, base.Add(time.Hour).Add(3700*time.Second))
	if out.State != Connected || !out.StaleVelocity {
		t.Fatalf("outcome = %+v, want stale Connected", out)
	}
}

func TestArmIgnoredWhileRecovering(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{}
	a := newAutomaton(Config{BackoffBase: time.Second}, tr)

	a.Arm(base)
	if _, ok := a.Arm(base.Add(time.Second)); ok {
		t.Fatal("second Arm accepted while Disconnected")
	}
	a.BeginAttempt()
	if _, ok := a.Arm(base.Add(2 * time.Second)); ok {
		t.Fatal("Arm accepted while Recovering")
	}
}
