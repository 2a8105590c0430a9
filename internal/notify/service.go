// Package notify is the outbound push pipeline: a bounded queue in front of
// a small worker pool with a shared rate limit and per-send retry. Delivery
// is best-effort; the core enqueues and never waits.
package notify

import (
	"context"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "queuewatch/pkg/logx"
)

// Service fans one queue out to every configured sink.
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	sinks []Sink

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	enqueueWG sync.WaitGroup

	queue    chan Message
	stopDone chan struct{}

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}

func New(cfg Config, sinks []Sink, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		log:   log,
		sinks: sinks,
		cfg:   cfg,
		// Burst equals the per-second rate so short spikes pass without a stall.
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled && len(s.sinks) > 0
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.queue != nil || !s.cfg.Enabled || len(s.sinks) == 0 {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan Message, s.cfg.QueueSize)
	s.accepting = true
	s.stopDone = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	workers := s.cfg.Workers
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		i := i
		s.workerWG.Add(1)
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in notify worker",
						logx.Int("worker", i),
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
				}
			}()
			s.workerLoop()
		}()
	}
}

// Stop blocks intake, drains the queue best-effort until ctx expires, then
// cancels anything still in flight.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	done := s.stopDone
	cancel := s.runCancel
	if q == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.mu.Unlock()

	// Wait out in-flight enqueues before closing the queue.
	ch := make(chan struct{})
	go func() {
		s.enqueueWG.Wait()
		close(ch)
	}()
	select {
	case <-ctx.Done():
		cancel()
		return
	case <-ch:
	}

	func() {
		defer func() { _ = recover() }()
		close(q)
	}()

	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
	case <-done:
	}
	cancel()

	s.mu.Lock()
	s.queue = nil
	s.stopDone = nil
	s.runCtx = nil
	s.runCancel = nil
	s.mu.Unlock()
}

// Push enqueues a message without blocking. A full queue drops the message
// and reports ErrQueueFull; the caller logs and moves on.
func (s *Service) Push(m Message) error {
	s.mu.Lock()
	if !s.cfg.Enabled || len(s.sinks) == 0 {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.enqueueWG.Add(1)
	s.mu.Unlock()
	defer s.enqueueWG.Done()

	select {
	case q <- m:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Service) workerLoop() {
	s.mu.Lock()
	q := s.queue
	runCtx := s.runCtx
	s.mu.Unlock()

	for m := range q {
		select {
		case <-runCtx.Done():
			return
		default:
		}
		s.deliver(runCtx, m)
	}
}

// deliver sends to every sink, each with its own retry budget. One sink's
// failure never skips the others.
func (s *Service) deliver(runCtx context.Context, m Message) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	sinks := s.sinks
	s.mu.Unlock()

	for _, sink := range sinks {
		if err := s.sendWithRetry(runCtx, cfg, lim, sink, m); err != nil {
			s.log.Warn("notification delivery failed",
				logx.String("sink", sink.Name()),
				logx.String("kind", m.Kind),
				logx.Err(err),
			)
		} else {
			s.log.Debug("notification sent",
				logx.String("sink", sink.Name()),
				logx.String("kind", m.Kind),
				logx.String("priority", m.Priority),
			)
		}
	}
}

func (s *Service) sendWithRetry(runCtx context.Context, cfg Config, lim *rate.Limiter, sink Sink, m Message) error {
	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(runCtx); err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(runCtx, cfg.SendTimeout)
		err := sink.Send(callCtx, m)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt >= maxAttempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-runCtx.Done():
			if !t.Stop() {
				<-t.C
			}
			return runCtx.Err()
		}
	}
	return lastErr
}

// retryDelay is exponential with jitter, capped at RetryMaxDelay.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase << (attempt - 1)
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d + time.Duration(rand.Int63n(int64(cfg.RetryBase)))
}
