package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// redialDelay is the fixed pause between transport reconnect attempts.
// Plain retry, no backoff policy.
const redialDelay = 2 * time.Second

// WebsocketDialer opens push channels over gorilla/websocket. Transport
// failures are retried inside the returned Conn until it is closed.
type WebsocketDialer struct {
	urlFor func(jobID string) string
	log    zerolog.Logger
}

// NewWebsocketDialer builds a dialer resolving job ids to channel URLs,
// typically remote.Client.EventChannelURL.
func NewWebsocketDialer(urlFor func(jobID string) string, log zerolog.Logger) *WebsocketDialer {
	return &WebsocketDialer{urlFor: urlFor, log: log}
}

// Dial opens the initial connection for a job's push stream.
func (d *WebsocketDialer) Dial(ctx context.Context, jobID string) (Conn, error) {
	url := d.urlFor(jobID)
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial event channel %s: %w", url, err)
	}

	return &wsConn{ctx: ctx, url: url, ws: ws, log: d.log}, nil
}

// wsConn wraps one websocket connection and redials it on read errors
// until closed.
type wsConn struct {
	ctx context.Context
	url string
	log zerolog.Logger

	mu     sync.Mutex
	ws     *websocket.Conn
	closed bool
}

// ReadMessage returns the next text message, transparently redialing
// the transport after failures. It returns an error only once the
// connection has been closed or its context cancelled.
func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		ws, err := c.current()
		if err != nil {
			return nil, err
		}

		_, data, err := ws.ReadMessage()
		if err == nil {
			return data, nil
		}
		if c.done() {
			return nil, err
		}

		c.log.Warn().Err(err).Str("url", c.url).Msg("event channel transport error, redialing")
		if err := c.redial(); err != nil {
			return nil, err
		}
	}
}

// Close shuts the transport down; any blocked ReadMessage unblocks.
func (c *wsConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.ws != nil {
		return c.ws.Close()
	}
	return nil
}

// current returns the live socket, or an error when closed.
func (c *wsConn) current() (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("event channel closed")
	}
	return c.ws, nil
}

// done reports whether the connection was closed or cancelled.
func (c *wsConn) done() bool {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	return closed || c.ctx.Err() != nil
}

// redial replaces the underlying socket after a transport failure,
// retrying on a fixed cadence until it succeeds or the conn is closed.
func (c *wsConn) redial() error {
	for {
		select {
		case <-c.ctx.Done():
			return c.ctx.Err()
		case <-time.After(redialDelay):
		}
		if c.done() {
			return fmt.Errorf("event channel closed")
		}

		ws, _, err := websocket.DefaultDialer.DialContext(c.ctx, c.url, nil)
		if err != nil {
			c.log.Warn().Err(err).Str("url", c.url).Msg("event channel redial failed")
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = ws.Close()
			return fmt.Errorf("event channel closed")
		}
		c.ws = ws
		c.mu.Unlock()
		return nil
	}
}
