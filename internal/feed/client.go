// Package feed consumes the inspector's WebSocket log feed.
//
// The connection is modelled as a small state machine:
//
//	Disconnected    -> Connected        dial succeeded
//	Connected       -> Reconnecting(1)  connection lost
//	Reconnecting(n) -> Connected        dial succeeded, attempt counter reset
//	Reconnecting(n) -> Reconnecting(n+1) dial failed, wait fixed delay
//	Reconnecting(n) -> Disconnected     attempts exhausted (terminal)
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"reqscope/internal/event"
)

// ErrMaxAttempts is returned by Run after the last reconnect attempt failed.
var ErrMaxAttempts = errors.New("max reconnect attempts reached")

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 8 << 20
)

// State is the connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a point-in-time view of the connection.
type Status struct {
	State       State     `json:"state"`
	Attempt     int       `json:"attempt"`
	MaxAttempts int       `json:"max_attempts"`
	LastError   string    `json:"last_error,omitempty"`
	Since       time.Time `json:"since"`
	// Terminal is set once reconnecting has given up.
	Terminal bool `json:"terminal"`
}

// Options configures a Client.
type Options struct {
	URL            string
	ReconnectDelay time.Duration
	MaxAttempts    int
	// PongWait bounds how long the connection may stay silent, including
	// keepalive pongs. Pings are sent at 9/10 of it.
	PongWait time.Duration
	Dialer   *websocket.Dialer
	Header   http.Header

	OnEvent       func(event.Event)
	OnDrop        func(raw []byte, err error)
	OnStateChange func(Status)
	Logger        *slog.Logger
}

// Client reads events from the feed and reconnects with a fixed delay.
type Client struct {
	opts   Options
	logger *slog.Logger

	mu     sync.RWMutex
	status Status
}

// New creates a feed client. It does not dial until Run.
func New(opts Options) *Client {
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	if opts.PongWait <= 0 {
		opts.PongWait = 60 * time.Second
	}
	if opts.MaxAttempts < 0 {
		opts.MaxAttempts = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		opts:   opts,
		logger: logger,
		status: Status{State: StateDisconnected, MaxAttempts: opts.MaxAttempts, Since: time.Now()},
	}
}

// Status returns the current connection status.
func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Run connects and reads until ctx is done or reconnect attempts run out.
// It returns nil on cancellation and an error wrapping ErrMaxAttempts when
// it gives up.
func (c *Client) Run(ctx context.Context) error {
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.opts.ReconnectDelay), uint64(c.opts.MaxAttempts)),
		ctx,
	)
	attempt := 0

	for {
		conn, err := c.dial(ctx)
		if err == nil {
			attempt = 0
			b.Reset()
			c.setState(StateConnected, 0, nil, false)
			c.logger.Info("feed connected", "url", c.opts.URL)

			err = c.read(ctx, conn)
			if ctx.Err() != nil {
				c.setState(StateDisconnected, 0, nil, false)
				return nil
			}
			c.logger.Warn("feed connection lost", "err", err)
		} else if ctx.Err() != nil {
			c.setState(StateDisconnected, 0, nil, false)
			return nil
		} else {
			c.logger.Warn("feed dial failed", "url", c.opts.URL, "attempt", attempt, "err", err)
		}

		next := b.NextBackOff()
		if next == backoff.Stop {
			if ctx.Err() != nil {
				c.setState(StateDisconnected, 0, nil, false)
				return nil
			}
			c.setState(StateDisconnected, attempt, err, true)
			c.logger.Error("feed gave up reconnecting", "attempts", attempt, "err", err)
			return fmt.Errorf("%w after %d attempts: %v", ErrMaxAttempts, attempt, err)
		}

		attempt++
		c.setState(StateReconnecting, attempt, err, false)

		timer := time.NewTimer(next)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			c.setState(StateDisconnected, 0, nil, false)
			return nil
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", c.opts.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}
	return conn, nil
}

// read consumes messages until the connection fails or ctx is done.
func (c *Client) read(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	done := make(chan struct{})
	defer close(done)
	go c.ping(conn, done)

	pongWait := c.opts.PongWait
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		e, err := event.Decode(data)
		if err != nil {
			c.logger.Warn("dropping malformed feed message", "err", err, "bytes", len(data))
			if c.opts.OnDrop != nil {
				c.opts.OnDrop(data, err)
			}
			continue
		}
		if c.opts.OnEvent != nil {
			c.opts.OnEvent(e)
		}
	}
}

func (c *Client) ping(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug("feed ping failed", "err", err)
				return
			}
		case <-done:
			return
		}
	}
}

func (c *Client) setState(state State, attempt int, err error, terminal bool) {
	st := Status{
		State:       state,
		Attempt:     attempt,
		MaxAttempts: c.opts.MaxAttempts,
		Since:       time.Now(),
		Terminal:    terminal,
	}
	if err != nil {
		st.LastError = err.Error()
	}

	c.mu.Lock()
	c.status = st
	c.mu.Unlock()

	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(st)
	}
}
