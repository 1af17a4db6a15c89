package socket

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
)

var ErrClosed = errors.New("socket closed")

// Conn wraps a websocket connection with serialized writes and an explicit
// open/closed state, since gorilla conns are not safe for concurrent writers
// and expose no readiness check of their own.
type Conn struct {
	ws     *websocket.Conn
	mu     sync.Mutex
	closed bool
	hook   func(v any) error
}

func New(ws *websocket.Conn) *Conn { return &Conn{ws: ws} }

// NewFake returns a conn whose writes go to fn instead of a real websocket
// (used in tests).
func NewFake(fn func(v any) error) *Conn { return &Conn{hook: fn} }

// Send writes v as one JSON frame. Returns ErrClosed after Close.
func (c *Conn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.hook != nil {
		return c.hook(v)
	}
	if c.ws == nil {
		return ErrClosed
	}
	return c.ws.WriteJSON(v)
}

// Open reports whether the conn is still writable.
func (c *Conn) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Close marks the conn closed and closes the underlying websocket.
// Closing twice is a no-op.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.ws != nil {
		return c.ws.Close()
	}
	return nil
}
