package ws

import (
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned by Conn operations after Close.
var ErrClosed = errors.New("connection closed")

// DialOptions carries the transport level knobs the session does not
// interpret.
type DialOptions struct {
	HandshakeTimeout time.Duration
	SkipTLSVerify    bool
}

// Conn owns the single streaming connection to the venue. It does raw text
// frame IO only; routing, retries and session state live above it.
type Conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

// Dial establishes the connection or fails. No retry or backoff is attempted
// here; a failed dial is the caller's problem.
func Dial(url string, opts DialOptions) (*Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: opts.HandshakeTimeout,
	}
	if opts.SkipTLSVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Conn{ws: conn}, nil
}

// Send writes one text frame.
func (c *Conn) Send(payload []byte) error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return ErrClosed
	}
	c.closeMu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Receive blocks until the next frame arrives or the link closes.
func (c *Conn) Receive() ([]byte, error) {
	_, payload, err := c.ws.ReadMessage()
	if err != nil {
		c.closeMu.Lock()
		closed := c.closed
		c.closeMu.Unlock()
		if closed {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("read frame: %w", err)
	}
	return payload, nil
}

// Close shuts the link down. It is idempotent and safe to call from any
// goroutine, including concurrently with a blocked Receive.
func (c *Conn) Close() error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return nil
	}
	c.closed = true
	c.closeMu.Unlock()

	return c.ws.Close()
}
