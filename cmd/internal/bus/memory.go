package bus

import (
	"context"
	"errors"
	"sync"
)

// MemoryBroker is an in-process bus for development and tests. Clients
// created from one broker see each other's publishes.
//
// Unlike NATS, a dropped MemoryClient forgets its subscriptions, so owners
// must resubscribe from OnReconnected the way a clean-session broker demands.
type MemoryBroker struct {
	mu         sync.Mutex
	clients    map[*MemoryClient]struct{}
	duplicates int
}

// NewMemoryBroker returns an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{clients: make(map[*MemoryClient]struct{})}
}

// NewClient returns a disconnected client attached to b.
func (b *MemoryBroker) NewClient() *MemoryClient {
	c := &MemoryClient{broker: b, subs: make(map[string]Handler)}
	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()
	return c
}

// SetDuplicates makes every delivery repeat n extra times, imitating
// at-least-once redelivery.
func (b *MemoryBroker) SetDuplicates(n int) {
	if n < 0 {
		n = 0
	}
	b.mu.Lock()
	b.duplicates = n
	b.mu.Unlock()
}

// Inject delivers payload on topic as if a foreign publisher had sent it.
func (b *MemoryBroker) Inject(topic string, payload []byte) {
	b.deliver(topic, payload)
}

func (b *MemoryBroker) deliver(topic string, payload []byte) {
	b.mu.Lock()
	copies := 1 + b.duplicates
	var hs []Handler
	for c := range b.clients {
		if h := c.handlerFor(topic); h != nil {
			hs = append(hs, h)
		}
	}
	b.mu.Unlock()

	for i := 0; i < copies; i++ {
		for _, h := range hs {
			p := make([]byte, len(payload))
			copy(p, payload)
			h(p)
		}
	}
}

// MemoryClient is a Client bound to a MemoryBroker.
type MemoryClient struct {
	broker *MemoryBroker

	mu         sync.Mutex
	connected  bool
	connectErr error
	subs       map[string]Handler

	listeners
}

var _ Client = (*MemoryClient)(nil)

// FailConnect makes subsequent Connect calls return err (nil restores).
func (c *MemoryClient) FailConnect(err error) {
	c.mu.Lock()
	c.connectErr = err
	c.mu.Unlock()
}

func (c *MemoryClient) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return OpError{Op: "bus.Connect", Kind: ErrConnectTimeout, Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}
	if c.connectErr != nil {
		return OpError{Op: "bus.Connect", Kind: classifyMemoryConnectErr(c.connectErr), Err: c.connectErr}
	}
	c.connected = true
	return nil
}

func classifyMemoryConnectErr(err error) error {
	if errors.Is(err, ErrConnectTimeout) {
		return ErrConnectTimeout
	}
	return ErrConnectRefused
}

func (c *MemoryClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *MemoryClient) handlerFor(topic string) Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}
	return c.subs[topic]
}

func (c *MemoryClient) Subscribe(topic string, h Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if h == nil {
		return OpError{Op: "bus.Subscribe", Kind: ErrSubscribe, Topic: topic}
	}
	if !c.connected {
		return OpError{Op: "bus.Subscribe", Kind: ErrSubscribe, Topic: topic, Err: ErrNotConnected}
	}
	c.subs[topic] = h
	return nil
}

func (c *MemoryClient) Unsubscribe(topic string) {
	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()
}

func (c *MemoryClient) Publish(ctx context.Context, topic string, payload []byte, _ QoS) error {
	if err := ctx.Err(); err != nil {
		return OpError{Op: "bus.Publish", Kind: ErrPublishRejected, Topic: topic, Err: err}
	}
	if !c.Connected() {
		return OpError{Op: "bus.Publish", Kind: ErrNotConnected, Topic: topic}
	}
	c.broker.deliver(topic, payload)
	return nil
}

// Drop simulates a connection loss. Subscriptions are forgotten and
// OnDisconnected listeners are notified.
func (c *MemoryClient) Drop() {
	c.mu.Lock()
	was := c.connected
	c.connected = false
	c.subs = make(map[string]Handler)
	c.mu.Unlock()

	if was {
		c.notifyDisconnected()
	}
}

// Reconnect restores a dropped connection and notifies OnReconnected listeners.
func (c *MemoryClient) Reconnect() {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	c.notifyReconnected()
}

func (c *MemoryClient) Disconnect() {
	c.mu.Lock()
	c.connected = false
	c.subs = make(map[string]Handler)
	c.mu.Unlock()
}
