// Package bus is the publish/subscribe transport used by room sessions.
//
// A Client wraps one shared connection. It delivers raw payloads exactly as
// received (duplicates possible) and knows nothing about chat semantics.
// Topic interest is owned by callers: after a reconnect they are notified via
// OnReconnected and reissue their subscriptions. OnDisconnected reports the
// loss itself so callers can surface it before the reconnect lands.
package bus

import "context"

// Handler receives one payload. It runs on the client's delivery goroutine and
// must not block.
type Handler func(payload []byte)

// QoS is the requested delivery guarantee of a publish.
type QoS int

const (
	// AtLeastOnce waits for the broker to confirm the publish. It is the default.
	AtLeastOnce QoS = iota
	// AtMostOnce hands the payload to the connection and returns.
	AtMostOnce
)

func (q QoS) String() string {
	if q == AtMostOnce {
		return "at_most_once"
	}
	return "at_least_once"
}

// Client is one bus connection shared by every room session in the process.
// All methods are safe for concurrent use.
type Client interface {
	// Connect establishes the connection. Calling it while connected is a no-op.
	Connect(ctx context.Context) error
	Connected() bool

	// Subscribe registers h for topic. A second Subscribe for the same topic
	// replaces the previous handler.
	Subscribe(topic string, h Handler) error
	// Unsubscribe is idempotent.
	Unsubscribe(topic string)

	// Publish fails fast with ErrNotConnected while the connection is down.
	Publish(ctx context.Context, topic string, payload []byte, qos QoS) error

	// OnReconnected registers fn to run after every automatic reconnect.
	OnReconnected(fn func()) (cancel func())
	// OnDisconnected registers fn to run when an established connection is
	// lost. An explicit Disconnect does not fire it.
	OnDisconnected(fn func()) (cancel func())

	// Disconnect is idempotent and safe from any state.
	Disconnect()
}
