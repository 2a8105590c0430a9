// Package alerts decides which state transitions are worth pushing to the
// operator. It is pure bookkeeping: the run loop feeds it transitions, it
// returns zero or more notification requests, and the notify service does
// the actual delivery.
package alerts

import (
	"fmt"
	"time"

	"queuewatch/internal/recovery"
	"queuewatch/internal/tracker"
	logx "queuewatch/pkg/logx"
)

// Kind identifies an alert family. Each kind carries its own cool-down so a
// burst of one kind cannot starve or storm the others.
type Kind string

const (
	KindTopBand        Kind = "top5"
	KindMovement       Kind = "movement"
	KindMention        Kind = "mention"
	KindNetsplitRisk   Kind = "netsplit_risk"
	KindRecoveryFailed Kind = "recovery_failed"
)

// Request is a fully composed outbound alert.
type Request struct {
	Kind     Kind
	Title    string
	Body     string
	Priority string
}

const (
	DefaultTopBand           = 5
	DefaultMovementCooldown  = 3 * time.Minute
	DefaultMentionCooldown   = time.Minute
	DefaultTopBandCooldown   = 5 * time.Minute
	DefaultNetsplitCooldown  = 5 * time.Minute
	DefaultMassKickThreshold = 3
	DefaultMassKickWindow    = 5 * time.Second
)

type Config struct {
	TopBand          int
	MovementCooldown time.Duration
	MentionCooldown  time.Duration
	TopBandCooldown  time.Duration
	NetsplitCooldown time.Duration
	// Priorities maps a kind to an ntfy-style priority label
	// (min, low, default, high, urgent).
	Priorities        map[string]string
	MassKickThreshold int
	MassKickWindow    time.Duration
}

func (c Config) withDefaults() Config {
	if c.TopBand <= 0 {
		c.TopBand = DefaultTopBand
	}
	if c.MovementCooldown <= 0 {
		c.MovementCooldown = DefaultMovementCooldown
	}
	if c.MentionCooldown <= 0 {
		c.MentionCooldown = DefaultMentionCooldown
	}
	if c.TopBandCooldown <= 0 {
		c.TopBandCooldown = DefaultTopBandCooldown
	}
	if c.NetsplitCooldown <= 0 {
		c.NetsplitCooldown = DefaultNetsplitCooldown
	}
	if c.MassKickThreshold <= 0 {
		c.MassKickThreshold = DefaultMassKickThreshold
	}
	if c.MassKickWindow <= 0 {
		c.MassKickWindow = DefaultMassKickWindow
	}
	return c
}

// record remembers the last firing of a kind for cool-down checks, plus the
// mention payload so duplicate transport deliveries are absorbed.
type record struct {
	firedAt time.Time
	payload string
}

// Evaluator applies the trigger rules. Not concurrency-safe: the run loop is
// the single caller.
type Evaluator struct {
	cfg   Config
	log   logx.Logger
	fired map[Kind]record
	kicks []time.Time
}

func New(cfg Config, log logx.Logger) *Evaluator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Evaluator{
		cfg:   cfg.withDefaults(),
		log:   log,
		fired: make(map[Kind]record),
	}
}

// OnSnapshot evaluates a tracker transition. advanced reports whether the
// change was driven by a queue-advance event (as opposed to an authoritative
// position report that happened to differ).
func (e *Evaluator) OnSnapshot(prev, cur tracker.Snapshot, advanced bool, eta time.Duration, hasETA bool, now time.Time) []Request {
	e.prune(now)
	var out []Request

	if e.enteredBand(prev, cur) && e.allow(KindTopBand, "", now) {
		out = append(out, e.compose(KindTopBand,
			fmt.Sprintf("Queue position %d", cur.Position),
			e.positionBody(cur, eta, hasETA)))
	}

	if advanced && cur.Position != prev.Position && e.allow(KindMovement, "", now) {
		out = append(out, e.compose(KindMovement,
			"Queue moved",
			e.positionBody(cur, eta, hasETA)))
	}
	return out
}

// OnMention handles a direct mention. Identical consecutive mentions inside
// the cool-down are duplicate deliveries and absorbed.
func (e *Evaluator) OnMention(from, message string, now time.Time) []Request {
	e.prune(now)
	payload := from + "\x00" + message
	if !e.allowPayload(KindMention, payload, now) {
		return nil
	}
	e.fired[KindMention] = record{firedAt: now, payload: payload}
	body := message
	if body == "" {
		body = "you were mentioned"
	}
	return []Request{e.compose(KindMention, fmt.Sprintf("Mentioned by %s", from), body)}
}

// OnConnectionState handles automaton transitions. Only the entry into
// Failed is alert-worthy; everything else is visible in logs.
func (e *Evaluator) OnConnectionState(prev, cur recovery.State, now time.Time) []Request {
	e.prune(now)
	if cur != recovery.Failed || prev == recovery.Failed {
		return nil
	}
	e.fired[KindRecoveryFailed] = record{firedAt: now}
	return []Request{e.compose(KindRecoveryFailed,
		"Reconnection failed",
		"retry budget exhausted; manual restart required")}
}

// OnKickLine feeds the mass-kick heuristic: a burst of kick lines in a short
// span usually means a netsplit is in progress.
func (e *Evaluator) OnKickLine(now time.Time) []Request {
	e.prune(now)
	cutoff := now.Add(-e.cfg.MassKickWindow)
	kept := e.kicks[:0]
	for _, t := range e.kicks {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	e.kicks = append(kept, now)
	if len(e.kicks) < e.cfg.MassKickThreshold {
		return nil
	}
	e.kicks = e.kicks[:0]
	if !e.allow(KindNetsplitRisk, "", now) {
		return nil
	}
	return []Request{e.compose(KindNetsplitRisk,
		"Possible netsplit",
		fmt.Sprintf("%d kicks within %s", e.cfg.MassKickThreshold, e.cfg.MassKickWindow))}
}

func (e *Evaluator) compose(kind Kind, title, body string) Request {
	return Request{Kind: kind, Title: title, Body: body, Priority: e.priority(kind)}
}

func (e *Evaluator) positionBody(cur tracker.Snapshot, eta time.Duration, hasETA bool) string {
	var body string
	switch {
	case cur.Position == tracker.Unknown:
		body = "position unknown"
	case cur.Total == tracker.Unknown:
		body = fmt.Sprintf("you are #%d", cur.Position)
	default:
		body = fmt.Sprintf("you are #%d of %d", cur.Position, cur.Total)
	}
	if hasETA {
		body += fmt.Sprintf(", about %s to go", eta.Round(time.Minute))
	}
	return body
}

// enteredBand is edge-triggered: true only when cur is inside [1, TopBand]
// and prev was outside it or unknown. Staying inside the band never refires.
func (e *Evaluator) enteredBand(prev, cur tracker.Snapshot) bool {
	if cur.Position == tracker.Unknown || cur.Position < 1 || cur.Position > e.cfg.TopBand {
		return false
	}
	return prev.Position == tracker.Unknown || prev.Position > e.cfg.TopBand
}

// allow checks the cool-down for kind and records the firing when allowed.
func (e *Evaluator) allow(kind Kind, payload string, now time.Time) bool {
	if !e.allowPayload(kind, payload, now) {
		return false
	}
	e.fired[kind] = record{firedAt: now, payload: payload}
	return true
}

func (e *Evaluator) allowPayload(kind Kind, payload string, now time.Time) bool {
	rec, ok := e.fired[kind]
	if !ok {
		return true
	}
	if now.Sub(rec.firedAt) >= e.cooldown(kind) {
		return true
	}
	// Inside the cool-down. Mentions with a different payload are a new
	// conversation, not a duplicate delivery, and still pass.
	if kind == KindMention && payload != rec.payload {
		return true
	}
	return false
}

func (e *Evaluator) cooldown(kind Kind) time.Duration {
	switch kind {
	case KindMovement:
		return e.cfg.MovementCooldown
	case KindMention:
		return e.cfg.MentionCooldown
	case KindNetsplitRisk:
		return e.cfg.NetsplitCooldown
	case KindRecoveryFailed:
		return 0
	default:
		return e.cfg.TopBandCooldown
	}
}

func (e *Evaluator) priority(kind Kind) string {
	if p, ok := e.cfg.Priorities[string(kind)]; ok && p != "" {
		return p
	}
	switch kind {
	case KindTopBand, KindNetsplitRisk:
		return "high"
	case KindRecoveryFailed:
		return "urgent"
	default:
		return "default"
	}
}

// prune drops expired cool-down records so the map does not grow with kinds
// that fired once long ago.
func (e *Evaluator) prune(now time.Time) {
	for k, rec := range e.fired {
		cd := e.cooldown(k)
		if cd > 0 && now.Sub(rec.firedAt) >= cd {
			delete(e.fired, k)
		}
	}
}
