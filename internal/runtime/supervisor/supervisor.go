// Package supervisor ties named goroutines to a shared context with panic
// recovery and timeout-aware waiting.
package supervisor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	logx "queuewatch/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	errOnce  sync.Once
	firstErr atomic.Value
	wg       sync.WaitGroup
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels every supervised goroutine when one returns a
// non-nil error.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, log: logx.Nop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first error reported by a supervised goroutine, if any.
func (s *Supervisor) Err() error {
	if v := s.firstErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Go runs fn under the supervisor. A panic is converted to an error; the
// first error is retained and, with cancel-on-error, stops the rest.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in %s: %v", name, r)
				s.log.Error("goroutine panicked",
					logx.String("name", name),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())),
				)
			}
			if err != nil && err != context.Canceled {
				s.errOnce.Do(func() { s.firstErr.Store(err) })
				if s.cancelOnErr {
					s.cancel()
				}
			}
		}()
		err = fn(s.ctx)
	}()
}

// Go0 is Go for functions with nothing to report.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// Wait blocks until every supervised goroutine has returned or ctx expires.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("supervisor: goroutines still running: %w", ctx.Err())
	}
}
