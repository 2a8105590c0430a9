package analytics

import (
	"context"
	"sync"
	"time"

	"queuewatch/internal/eventbus"
	logx "queuewatch/pkg/logx"
)

// Service tails the event bus and persists what the store cares about.
// It is fire-and-forget from the core's perspective: a write failure is
// logged and never propagated.
type Service struct {
	store *Store
	bus   eventbus.Bus
	log   logx.Logger

	mu      sync.Mutex
	unsub   func()
	done    chan struct{}
	started bool
}

func NewService(store *Store, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, bus: bus, log: log}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.store == nil || s.bus == nil {
		return
	}
	ch, unsub := s.bus.Subscribe(64)
	s.unsub = unsub
	s.done = make(chan struct{})
	s.started = true

	go func() {
		defer close(s.done)
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-ch:
				if !ok {
					return
				}
				s.record(e)
			}
		}
	}()
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	unsub := s.unsub
	done := s.done
	s.started = false
	s.unsub = nil
	s.done = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
}

func (s *Service) record(e eventbus.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var ev Event
	switch e.Type {
	case eventbus.TypeAdvance:
		ev = Event{At: e.Time, Kind: EventAdvance}
	case eventbus.TypeOutcome:
		out, ok := e.Data.(eventbus.SessionOutcome)
		if !ok {
			return
		}
		ev = Event{At: e.Time, Kind: out.Outcome, Username: out.Username, Message: out.Message}
	default:
		return
	}

	stored, err := s.store.Append(ctx, ev)
	if err != nil {
		s.log.Warn("analytics append failed", logx.String("kind", ev.Kind), logx.Err(err))
		return
	}
	if !stored {
		s.log.Debug("analytics duplicate suppressed",
			logx.String("kind", ev.Kind),
			logx.String("username", ev.Username),
		)
	}
}
