package broadcaster

import (
	"context"
	"sync"
)

type enqueueResult int

const (
	enqueued enqueueResult = iota
	enqueueDisconnected
	enqueueOverflow
)

// Connection is one live transport session. Its outbound queue is owned by the
// registry: it is closed when the connection is unregistered, and the transport
// drains it until then.
type Connection struct {
	Id string

	mu         sync.Mutex
	identityId string
	outbound   chan Event
	closed     bool
	evicted    bool
	evictedCh  chan struct{}
}

func newConnection(id string, identityId string, queueSize int) *Connection {
	return &Connection{
		Id:         id,
		identityId: identityId,
		outbound:   make(chan Event, queueSize),
		evictedCh:  make(chan struct{}),
	}
}

// Outbound is the FIFO queue of events to forward to the remote peer.
func (c *Connection) Outbound() <-chan Event {
	return c.outbound
}

// Evicted is closed when the connection fell behind and must be disconnected.
func (c *Connection) Evicted() <-chan struct{} {
	return c.evictedCh
}

func (c *Connection) IdentityId() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.identityId
}

func (c *Connection) IsAuthenticated() bool {
	return c.IdentityId() != ""
}

func (c *Connection) setIdentityId(identityId string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.identityId = identityId
}

func (c *Connection) enqueue(event Event) enqueueResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.evicted {
		return enqueueDisconnected
	}

	select {
	case c.outbound <- event:
		return enqueued
	default:
		c.evicted = true
		close(c.evictedCh)

		return enqueueOverflow
	}
}

func (c *Connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	close(c.outbound)
}

type contextKey string

const connectionKey contextKey = "connection"

func WithConnection(ctx context.Context, conn *Connection) context.Context {
	return context.WithValue(ctx, connectionKey, conn)
}

func ConnectionFromContext(ctx context.Context) (*Connection, bool) {
	conn, ok := ctx.Value(connectionKey).(*Connection)

	return conn, ok
}
