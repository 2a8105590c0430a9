package notify

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled  = errors.New("notify: disabled")
	ErrQueueFull = errors.New("notify: queue full")
	ErrStopped   = errors.New("notify: stopped")
)

// Message is one outbound push. Priority uses the ntfy scale
// (min, low, default, high, urgent); sinks that lack a priority concept
// fold it into the message text.
type Message struct {
	Kind     string
	Title    string
	Body     string
	Priority string
}

// Sink performs one best-effort delivery. Implementations must honor ctx
// and return quickly; retry policy lives in the service, not the sink.
type Sink interface {
	Name() string
	Send(ctx context.Context, m Message) error
}

type Config struct {
	Enabled       bool
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 128
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	return c
}
