package core

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// ConnState tracks the liveness of a connection handle.
type ConnState int32

const (
	// StateAlive means the connection accepts outbound frames.
	StateAlive ConnState = iota
	// StateStale means the transport looks dead but has not closed yet.
	StateStale
	// StateClosed means the transport signalled closure.
	StateClosed
)

// Conn is the registry's handle to one duplex channel. The transport layer
// drains Outbound into the socket; everything else goes through TrySend.
type Conn struct {
	ID       string
	Outbound chan []byte

	state atomic.Int32
}

// NewConn constructs an alive connection with a buffered outbound queue.
func NewConn() *Conn {
	return &Conn{
		ID:       uuid.NewString(),
		Outbound: make(chan []byte, 32),
	}
}

// State returns the current liveness state.
func (c *Conn) State() ConnState {
	return ConnState(c.state.Load())
}

// MarkStale flags the connection as not currently writable.
func (c *Conn) MarkStale() {
	c.state.CompareAndSwap(int32(StateAlive), int32(StateStale))
}

// MarkClosed flags the connection as gone. The outbound channel is never
// closed; writers exit via their own context instead.
func (c *Conn) MarkClosed() {
	c.state.Store(int32(StateClosed))
}

// TrySend enqueues a frame without blocking. A non-alive connection or a
// full queue means the frame is dropped; the caller treats that as a
// skipped recipient, not an error.
func (c *Conn) TrySend(payload []byte) bool {
	if c.State() != StateAlive {
		return false
	}
	select {
	case c.Outbound <- payload:
		return true
	default:
		return false
	}
}
