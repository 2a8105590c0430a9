// Package eventbus is the in-memory fanout between the run loop and the
// passive observers (analytics, debug taps). The core never waits on a
// subscriber: delivery is strictly non-blocking and slow subscribers lose
// events rather than stall line processing.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the run loop.
const (
	TypePosition  = "queue.position"  // Data: PositionChange
	TypeAdvance   = "queue.advance"   // Data: nil
	TypeOutcome   = "session.outcome" // Data: SessionOutcome
	TypeConnState = "conn.state"      // Data: ConnChange
	TypeMention   = "chat.mention"    // Data: Mention
	TypeSpeedtest = "speedtest.done"  // Data: SpeedtestDone
)

// PositionChange carries an authoritative position report.
type PositionChange struct {
	Position int
	Total    int
}

// SessionOutcome records how someone's interview session ended.
type SessionOutcome struct {
	Username string
	Outcome  string
	Message  string
}

// ConnChange records a connectivity state transition.
type ConnChange struct {
	From string
	To   string
}

type Mention struct {
	From    string
	Message string
}

type SpeedtestDone struct {
	ResultURL string
	DownMbps  float64
	UpMbps    float64
}

// Event is a small, immutable record. Publish never blocks; subscribers use
// buffered channels and may miss events under backpressure.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines; Publish does
// all delivery inline with non-blocking sends.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so no lock is held while attempting sends.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// A concurrent unsubscribe may close the channel mid-send; the
		// recover turns that race into a dropped event.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}
