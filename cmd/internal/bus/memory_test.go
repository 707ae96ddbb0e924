package bus

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestMemoryClient_PublishDeliversToSubscribers(t *testing.T) {
	t.Parallel()

	b := NewMemoryBroker()
	pub, sub := b.NewClient(), b.NewClient()
	ctx := context.Background()
	mustConnect(t, pub)
	mustConnect(t, sub)

	var got atomic.Int32
	if err := sub.Subscribe("ns/chat/r1", func([]byte) { got.Add(1) }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := pub.Publish(ctx, "ns/chat/r1", []byte("x"), AtLeastOnce); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := pub.Publish(ctx, "ns/chat/other", []byte("x"), AtLeastOnce); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got.Load() != 1 {
		t.Fatalf("deliveries: expected=1 got=%d", got.Load())
	}
}

func TestMemoryClient_SubscribeReplacesHandler(t *testing.T) {
	t.Parallel()

	b := NewMemoryBroker()
	c := b.NewClient()
	mustConnect(t, c)

	var first, second atomic.Int32
	_ = c.Subscribe("t", func([]byte) { first.Add(1) })
	_ = c.Subscribe("t", func([]byte) { second.Add(1) })
	b.Inject("t", []byte("x"))

	if first.Load() != 0 || second.Load() != 1 {
		t.Fatalf("expected only the last handler to run, got first=%d second=%d", first.Load(), second.Load())
	}
}

func TestMemoryClient_PublishWhileDisconnectedFailsFast(t *testing.T) {
	t.Parallel()

	c := NewMemoryBroker().NewClient()
	err := c.Publish(context.Background(), "t", []byte("x"), AtLeastOnce)
	if !IsNotConnected(err) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	var op OpError
	if !errors.As(err, &op) || op.Op != "bus.Publish" {
		t.Fatalf("expected OpError from bus.Publish, got %#v", err)
	}
}

func TestMemoryClient_SubscribeWhileDisconnected(t *testing.T) {
	t.Parallel()

	c := NewMemoryBroker().NewClient()
	err := c.Subscribe("t", func([]byte) {})
	if !errors.Is(err, ErrSubscribe) || !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrSubscribe wrapping ErrNotConnected, got %v", err)
	}
}

func TestMemoryClient_ConnectFailure(t *testing.T) {
	t.Parallel()

	c := NewMemoryBroker().NewClient()
	c.FailConnect(ErrConnectTimeout)
	if err := c.Connect(context.Background()); !errors.Is(err, ErrConnectTimeout) {
		t.Fatalf("expected ErrConnectTimeout, got %v", err)
	}
	c.FailConnect(errors.New("dial tcp: refused"))
	if err := c.Connect(context.Background()); !errors.Is(err, ErrConnectRefused) || !IsConnectError(err) {
		t.Fatalf("expected ErrConnectRefused, got %v", err)
	}
	c.FailConnect(nil)
	mustConnect(t, c)
	// Idempotent.
	mustConnect(t, c)
}

func TestMemoryClient_DropForgetsSubscriptionsAndReconnectNotifies(t *testing.T) {
	t.Parallel()

	b := NewMemoryBroker()
	c := b.NewClient()
	mustConnect(t, c)

	var got, reconnects atomic.Int32
	h := func([]byte) { got.Add(1) }
	_ = c.Subscribe("t", h)

	cancel := c.OnReconnected(func() {
		reconnects.Add(1)
		_ = c.Subscribe("t", h)
	})
	defer cancel()

	c.Drop()
	b.Inject("t", []byte("lost"))
	if got.Load() != 0 {
		t.Fatalf("expected no delivery while dropped, got %d", got.Load())
	}

	c.Reconnect()
	if reconnects.Load() != 1 {
		t.Fatalf("reconnect listeners: expected=1 got=%d", reconnects.Load())
	}
	b.Inject("t", []byte("back"))
	if got.Load() != 1 {
		t.Fatalf("expected delivery after resubscribe, got %d", got.Load())
	}

	cancel()
	cancel()
	c.Drop()
	c.Reconnect()
	if reconnects.Load() != 1 {
		t.Fatalf("cancelled listener ran: reconnects=%d", reconnects.Load())
	}
}

func TestMemoryClient_DropNotifiesDisconnected(t *testing.T) {
	t.Parallel()

	b := NewMemoryBroker()
	c := b.NewClient()
	mustConnect(t, c)

	var lost atomic.Int32
	cancel := c.OnDisconnected(func() { lost.Add(1) })
	defer cancel()

	c.Drop()
	c.Drop()
	if lost.Load() != 1 {
		t.Fatalf("disconnect listeners after repeated Drop: expected=1 got=%d", lost.Load())
	}

	c.Reconnect()
	c.Disconnect()
	if lost.Load() != 1 {
		t.Fatalf("explicit Disconnect must not notify: got=%d", lost.Load())
	}

	cancel()
	mustConnect(t, c)
	c.Drop()
	if lost.Load() != 1 {
		t.Fatalf("cancelled listener ran: lost=%d", lost.Load())
	}
}

func TestMemoryBroker_Duplicates(t *testing.T) {
	t.Parallel()

	b := NewMemoryBroker()
	c := b.NewClient()
	mustConnect(t, c)

	var got atomic.Int32
	_ = c.Subscribe("t", func([]byte) { got.Add(1) })
	b.SetDuplicates(2)
	b.Inject("t", []byte("x"))

	if got.Load() != 3 {
		t.Fatalf("deliveries: expected=3 got=%d", got.Load())
	}
}

func TestMemoryClient_UnsubscribeAndDisconnectIdempotent(t *testing.T) {
	t.Parallel()

	c := NewMemoryBroker().NewClient()
	c.Unsubscribe("never")
	c.Disconnect()
	mustConnect(t, c)
	c.Unsubscribe("never")
	c.Disconnect()
	c.Disconnect()
	if c.Connected() {
		t.Fatalf("expected disconnected")
	}
}

func mustConnect(t *testing.T, c Client) {
	t.Helper()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
}
