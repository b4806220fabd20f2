// Package stream owns the single long-lived push connection. It
// decodes typed event envelopes and publishes them on the bus in
// receipt order. Transport errors never propagate upward: the client
// reconnects with capped exponential backoff until explicitly closed.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/voxline/inboxd/internal/bus"
	"github.com/voxline/inboxd/internal/status"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Client maintains the websocket push channel for one session.
type Client struct {
	url     string
	token   string
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger
	recon   *reconnector

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
	done   chan struct{}
}

// New creates a stream client. Start must be called to connect.
func New(url, token string, b *bus.Bus, m *status.Machine, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		url:     url,
		token:   token,
		bus:     b,
		machine: m,
		logger:  logger,
		recon:   newReconnector(time.Second, 30*time.Second),
	}
}

// Start launches the connection loop. It returns immediately; the
// loop dials, reads, and reconnects until Close or ctx cancellation.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.cancel != nil {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.run(ctx)
}

// Close terminates the stream permanently. This is the only terminal
// failure mode the stream has.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	_ = c.machine.Transition(status.Closed)
}

// run is the connection loop: dial, read until failure, back off,
// repeat. Exits only on context cancellation.
func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	for {
		if ctx.Err() != nil {
			return
		}
		_ = c.machine.Transition(status.Connecting)

		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("push channel dial failed", zap.Error(err))
			if !c.backoff(ctx) {
				return
			}
			continue
		}

		c.recon.markConnected()
		_ = c.machine.Transition(status.Live)
		c.bus.Publish(bus.Event{Kind: bus.KindStreamConnected, Timestamp: time.Now()})
		c.logger.Info("push channel connected")

		err = c.readLoop(ctx, conn)
		_ = conn.Close(websocket.StatusNormalClosure, "")
		if ctx.Err() != nil {
			return
		}

		c.logger.Warn("push channel lost", zap.Error(err))
		_ = c.machine.Transition(status.Reconnecting)
		c.bus.Publish(bus.Event{Kind: bus.KindStreamDisconnected, Timestamp: time.Now()})
		if !c.backoff(ctx) {
			return
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	url := c.url
	if c.token != "" {
		url += "?token=" + c.token
	}
	conn, _, err := websocket.Dial(dialCtx, url, nil)
	if err != nil {
		return nil, err
	}
	// The inbox can hold thousands of rows in one burst after a
	// reconnect; don't let the default read limit cut it off.
	conn.SetReadLimit(1 << 20)
	return conn, nil
}

// readLoop reads envelopes until the transport fails. Events are
// published strictly in receipt order; a malformed envelope is logged
// and skipped, never fatal.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		kind, payload, err := decode(data)
		if err != nil {
			c.logger.Warn("dropping undecodable push event", zap.Error(err))
			continue
		}

		c.bus.Publish(bus.Event{
			Kind:      kind,
			Timestamp: time.Now(),
			Payload:   payload,
		})
	}
}

// backoff sleeps for the next reconnect delay. Returns false if the
// context was cancelled while waiting.
func (c *Client) backoff(ctx context.Context) bool {
	delay := c.recon.nextDelay()
	c.bus.Publish(bus.Event{
		Kind:      bus.KindStreamReconnecting,
		Timestamp: time.Now(),
		Payload:   delay,
	})
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}
