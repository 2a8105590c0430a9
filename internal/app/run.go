package app

import (
	"context"
	"errors"
	"time"

	"queuewatch/internal/alerts"
	"queuewatch/internal/classify"
	"queuewatch/internal/eventbus"
	"queuewatch/internal/notify"
	"queuewatch/internal/recovery"
	"queuewatch/internal/transport/irc"
	logx "queuewatch/pkg/logx"
)

// loopState is the run loop's private bookkeeping: the armed recovery timer
// and the in-flight dial result channel. Nothing outside the loop touches it.
type loopState struct {
	timer    *time.Timer
	timerC   <-chan time.Time
	dialDone chan error
}

func (ls *loopState) arm(d time.Duration) {
	ls.disarm()
	ls.timer = time.NewTimer(d)
	ls.timerC = ls.timer.C
}

func (ls *loopState) disarm() {
	if ls.timer != nil {
		ls.timer.Stop()
		ls.timer = nil
		ls.timerC = nil
	}
}

// runLoop is the single writer: every mutation of the tracker, the
// automaton, and the alert records happens here, in arrival order.
func (a *App) runLoop(ctx context.Context) error {
	ls := &loopState{}
	defer ls.disarm()

	for {
		select {
		case <-ctx.Done():
			return nil

		case line := <-a.irc.Lines():
			a.handleLine(ls, line)

		case err := <-a.irc.Disconnects():
			a.onDisconnect(ls, err, time.Now())

		case <-ls.timerC:
			ls.timerC = nil
			if a.auto.BeginAttempt() {
				ls.dialDone = make(chan error, 1)
				done := ls.dialDone
				go func() { done <- a.auto.Dial(ctx) }()
			}

		case err := <-ls.dialDone:
			ls.dialDone = nil
			a.onAttemptDone(ls, err, time.Now())
		}
	}
}

func (a *App) handleLine(ls *loopState, line irc.Line) {
	now := line.At
	if now.IsZero() {
		now = time.Now()
	}
	raw := "<" + line.From + "> " + line.Text

	ev := a.classifier.Classify(raw)
	if ev.Kind == classify.Unrecognized && !a.classifier.HasKick(raw) {
		a.log.Debug("line dropped", logx.String("from", line.From))
		return
	}

	prev := a.trk.Snapshot()
	a.trk.Apply(ev, now)
	cur := a.trk.Snapshot()

	switch ev.Kind {
	case classify.PositionUpdate:
		a.bus.Publish(eventbus.Event{Type: eventbus.TypePosition, Time: now, Data: eventbus.PositionChange{
			Position: ev.Position,
			Total:    ev.Total,
		}})

	case classify.QueueAdvanced:
		a.bus.Publish(eventbus.Event{Type: eventbus.TypeAdvance, Time: now})

	case classify.SessionEnded:
		if ev.Reason == classify.EndInvoluntary {
			a.armRecovery(ls, now)
		} else {
			a.log.Info("left the queue, tracking reset")
		}

	case classify.Mentioned:
		a.bus.Publish(eventbus.Event{Type: eventbus.TypeMention, Time: now, Data: eventbus.Mention{
			From:    ev.From,
			Message: line.Text,
		}})
		a.push(a.eval.OnMention(ev.From, line.Text, now))
	}

	eta, hasETA := a.trk.ETA(now)
	a.push(a.eval.OnSnapshot(prev, cur, ev.Kind == classify.QueueAdvanced, eta, hasETA, now))

	if a.classifier.HasKick(raw) {
		a.push(a.eval.OnKickLine(now))
	}
	if kind, username, ok := a.extract.FromLine(line.From, line.Text); ok {
		a.bus.Publish(eventbus.Event{Type: eventbus.TypeOutcome, Time: now, Data: eventbus.SessionOutcome{
			Username: username,
			Outcome:  kind,
			Message:  line.Text,
		}})
	}
}

// onDisconnect handles a transport-level connection loss; the automaton
// decides whether a timer gets armed.
func (a *App) onDisconnect(ls *loopState, err error, now time.Time) {
	a.log.Warn("transport disconnected", logx.Err(err))
	a.trk.SetConnected(false, now)
	a.armRecovery(ls, now)
}

func (a *App) armRecovery(ls *loopState, now time.Time) {
	prev := a.auto.State()
	delay, ok := a.auto.Arm(now)
	if !ok {
		return
	}
	ls.arm(delay)
	a.publishConnChange(prev, a.auto.State(), now)
}

func (a *App) onAttemptDone(ls *loopState, dialErr error, now time.Time) {
	prev := a.auto.State()
	out := a.auto.CompleteAttempt(dialErr, now)

	switch out.State {
	case recovery.Connected:
		a.trk.SetConnected(true, now)
		if out.StaleVelocity {
			a.trk.ResetVelocity()
			a.log.Info("velocity history discarded after long outage")
		}

	case recovery.Disconnected:
		ls.arm(out.NextDelay)

	case recovery.Failed:
		// Terminal. Surface it and keep the process alive for the operator.
		a.log.Error("giving up on reconnection", logx.Err(out.Err))
	}

	a.publishConnChange(prev, out.State, now)
	a.push(a.eval.OnConnectionState(prev, out.State, now))
}

func (a *App) publishConnChange(prev, cur recovery.State, now time.Time) {
	if prev == cur {
		return
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConnState, Time: now, Data: eventbus.ConnChange{
		From: prev.String(),
		To:   cur.String(),
	}})
}

func (a *App) push(reqs []alerts.Request) {
	for _, r := range reqs {
		err := a.notif.Push(notify.Message{
			Kind:     string(r.Kind),
			Title:    r.Title,
			Body:     r.Body,
			Priority: r.Priority,
		})
		switch {
		case err == nil:
		case errors.Is(err, notify.ErrDisabled):
			a.log.Debug("alert suppressed, notify disabled", logx.String("kind", string(r.Kind)))
		default:
			a.log.Warn("alert dropped", logx.String("kind", string(r.Kind)), logx.Err(err))
		}
	}
}
