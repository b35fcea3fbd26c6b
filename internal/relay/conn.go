// Package relay is the connection/session core: it tracks room
// membership, fans envelopes out to room members, prunes failed peers,
// and routes targeted voice signaling.
package relay

import (
	"errors"
	"sync"

	"github.com/termchat/termchat/internal/domain"
)

var (
	// ErrQueueFull reports a slow consumer. Callers treat it exactly
	// like a lost connection.
	ErrQueueFull = errors.New("outbound queue full")
	ErrConnClosed = errors.New("connection closed")
)

// Conn is one live link: the owning identity plus a bounded outbound
// queue. The transport layer drains Outbound; the relay only enqueues.
type Conn struct {
	identity domain.Identity

	mu     sync.RWMutex
	send   chan []byte
	closed bool
}

func NewConn(identity domain.Identity, queueSize int) *Conn {
	return &Conn{
		identity: identity,
		send:     make(chan []byte, queueSize),
	}
}

func (c *Conn) Identity() domain.Identity { return c.identity }

// Outbound is drained by the transport's write loop. It is closed when
// the connection is closed.
func (c *Conn) Outbound() <-chan []byte { return c.send }

// TrySend enqueues without blocking. A full queue or a closed
// connection is an error; the caller decides whether to prune.
func (c *Conn) TrySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close is idempotent. It closes the outbound channel, ending the
// transport's write loop.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
