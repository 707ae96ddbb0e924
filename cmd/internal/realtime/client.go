package realtime

import (
	"sync"

	"roomchat/cmd/chat"
	"roomchat/cmd/internal/room"
	v1 "roomchat/shared/contracts/realtime/v1"
)

// Client is one connected websocket.
//
// Send is never closed by the server: snapshot forwarders and the read loop
// both write to it, and done tells them to stop instead. Close is idempotent.
type Client struct {
	ConnectionID string
	Send         chan v1.Envelope

	// Read-loop owned.
	identity   chat.Identity
	identified bool
	rooms      map[string]*roomWatch

	done      chan struct{}
	closeOnce sync.Once
}

// roomWatch is one room held open by a connection.
type roomWatch struct {
	session *room.Session
	cancel  func()
	stopped chan struct{}
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(connectionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		ConnectionID: connectionID,
		Send:         make(chan v1.Envelope, sendQueueSize),
		rooms:        make(map[string]*roomWatch),
		done:         make(chan struct{}),
	}
}

// Identity returns the identity set by hello.
func (c *Client) Identity() (chat.Identity, bool) {
	return c.identity, c.identified
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
