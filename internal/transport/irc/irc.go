// Package irc wraps the IRC client library behind the narrow transport
// surface the core needs: a channel of inbound lines, a channel of
// disconnect signals, SendLine, and Reconnect for the recovery automaton.
package irc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	logx "queuewatch/pkg/logx"
)

// Line is one inbound channel message.
type Line struct {
	From string
	Text string
	At   time.Time
}

type Config struct {
	// Server overrides the library's default endpoint (host:port).
	// Leave empty for the default.
	Server  string
	TLS     bool
	Nick    string
	Token   string
	Channel string
}

// Client owns the wire connection. Lines and Disconnects are buffered and
// never block the read loop; a slow consumer loses lines, not the session.
type Client struct {
	cfg Config
	log logx.Logger

	lines       chan Line
	disconnects chan error

	mu      sync.Mutex
	client  *twitch.Client
	closing bool
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Nick) == "" {
		return nil, errors.New("irc: nick is required")
	}
	if strings.TrimSpace(cfg.Channel) == "" {
		return nil, errors.New("irc: channel is required")
	}
	cfg.Channel = strings.TrimPrefix(cfg.Channel, "#")
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:         cfg,
		log:         log,
		lines:       make(chan Line, 256),
		disconnects: make(chan error, 4),
	}, nil
}

// Lines delivers inbound channel messages in arrival order.
func (c *Client) Lines() <-chan Line { return c.lines }

// Disconnects signals unexpected connection loss. The recovery automaton
// consumes this.
func (c *Client) Disconnects() <-chan error { return c.disconnects }

// Start dials and joins the channel. It returns once the session is up or
// ctx expires.
func (c *Client) Start(ctx context.Context) error {
	return c.Reconnect(ctx)
}

// Reconnect tears down any existing session and dials a fresh one. Safe to
// call from a recovery goroutine while the consumer keeps reading Lines.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return errors.New("irc: client is stopped")
	}
	if prev := c.client; prev != nil {
		c.client = nil
		c.mu.Unlock()
		_ = prev.Disconnect()
		c.mu.Lock()
	}

	cl := twitch.NewClient(c.cfg.Nick, c.cfg.Token)
	if c.cfg.Server != "" {
		cl.IrcAddress = c.cfg.Server
		cl.TLS = c.cfg.TLS
	}

	cl.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		select {
		case c.lines <- Line{From: msg.User.Name, Text: msg.Message, At: time.Now()}:
		default:
			c.log.Warn("inbound line dropped, consumer too slow")
		}
	})

	var once sync.Once
	up := make(chan struct{})
	cl.OnConnect(func() {
		once.Do(func() { close(up) })
	})

	cl.Join(c.cfg.Channel)
	c.client = cl
	c.mu.Unlock()

	go func() {
		err := cl.Connect()
		c.mu.Lock()
		current := c.client == cl
		closing := c.closing
		c.mu.Unlock()
		// Stale sessions and deliberate stops are not disconnect events.
		if !current || closing || errors.Is(err, twitch.ErrClientDisconnected) {
			return
		}
		if err == nil {
			err = errors.New("irc: connection closed")
		}
		select {
		case c.disconnects <- err:
		default:
		}
	}()

	select {
	case <-up:
		c.log.Info("connected",
			logx.String("channel", c.cfg.Channel),
			logx.String("nick", c.cfg.Nick),
		)
		return nil
	case <-ctx.Done():
		_ = cl.Disconnect()
		return fmt.Errorf("irc: connect: %w", ctx.Err())
	}
}

// SendLine publishes one message to the joined channel.
func (c *Client) SendLine(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	cl := c.client
	c.mu.Unlock()
	if cl == nil {
		return errors.New("irc: not connected")
	}
	cl.Say(c.cfg.Channel, text)
	return nil
}

// Stop disconnects for good. Reconnect refuses after Stop.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.closing = true
	cl := c.client
	c.client = nil
	c.mu.Unlock()
	if cl == nil {
		return nil
	}
	err := cl.Disconnect()
	if errors.Is(err, twitch.ErrConnectionIsNotOpen) {
		return nil
	}
	return err
}
