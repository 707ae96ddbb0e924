package bus

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"roomchat/cmd/internal/metrics"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultReconnectMin   = 250 * time.Millisecond
	defaultReconnectMax   = 30 * time.Second
	defaultFlushTimeout   = 5 * time.Second
)

// NATSConfig configures a NATSClient.
type NATSConfig struct {
	URL      string
	Name     string
	User     string
	Password string

	// ConnectTimeout bounds the initial dial.
	ConnectTimeout time.Duration

	// ReconnectMin and ReconnectMax bound the exponential reconnect delay.
	ReconnectMin time.Duration
	ReconnectMax time.Duration

	// FlushTimeout bounds the server round-trip of an AtLeastOnce core publish.
	FlushTimeout time.Duration

	// Stream, when set, makes AtLeastOnce publishes go through JetStream and
	// wait for the stream ack. StreamSubjects are the subjects it captures.
	Stream         string
	StreamSubjects []string

	Logger *slog.Logger
}

func (c NATSConfig) withDefaults() NATSConfig {
	if strings.TrimSpace(c.URL) == "" {
		c.URL = nats.DefaultURL
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = defaultReconnectMin
	}
	if c.ReconnectMax < c.ReconnectMin {
		c.ReconnectMax = defaultReconnectMax
		if c.ReconnectMax < c.ReconnectMin {
			c.ReconnectMax = c.ReconnectMin
		}
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = defaultFlushTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Subject maps a "/"-separated topic onto a NATS subject.
func Subject(topic string) string {
	return strings.ReplaceAll(topic, "/", ".")
}

type natsSub struct {
	sub *nats.Subscription

	mu sync.RWMutex
	h  Handler
}

func (s *natsSub) handler() Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.h
}

func (s *natsSub) setHandler(h Handler) {
	s.mu.Lock()
	s.h = h
	s.mu.Unlock()
}

// dialAttempt is one in-flight nats.Connect shared by concurrent Connect calls.
type dialAttempt struct {
	done chan struct{}
	err  error
}

// NATSClient is a Client over one NATS connection.
//
// nats.go restores server-side interest after a reconnect on its own; a
// resubscribe from an OnReconnected listener therefore only swaps the handler.
// The dial runs outside mu so a stalled handshake never blocks Publish,
// Subscribe or Connected.
type NATSClient struct {
	cfg NATSConfig
	log *slog.Logger

	mu      sync.Mutex
	nc      *nats.Conn
	js      jetstream.JetStream
	subs    map[string]*natsSub
	dialing *dialAttempt
	// gen is bumped by Disconnect; a dial started under an older gen is
	// discarded when it completes.
	gen uint64

	listeners
}

var _ Client = (*NATSClient)(nil)

// NewNATSClient returns a disconnected client.
func NewNATSClient(cfg NATSConfig) *NATSClient {
	cfg = cfg.withDefaults()
	return &NATSClient{
		cfg:  cfg,
		log:  cfg.Logger,
		subs: make(map[string]*natsSub),
	}
}

// reconnectDelay doubles from ReconnectMin up to ReconnectMax.
func (c *NATSClient) reconnectDelay(attempts int) time.Duration {
	d := c.cfg.ReconnectMin
	for i := 1; i < attempts && d < c.cfg.ReconnectMax; i++ {
		d *= 2
	}
	if d > c.cfg.ReconnectMax {
		d = c.cfg.ReconnectMax
	}
	return d
}

// Connect dials once; concurrent callers share the attempt. A ctx that ends
// first returns ErrConnectTimeout while the dial itself runs on, bounded by
// ConnectTimeout, and installs the connection if it succeeds.
func (c *NATSClient) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return OpError{Op: "bus.Connect", Kind: ErrConnectTimeout, Err: err}
	}

	c.mu.Lock()
	if c.nc != nil && !c.nc.IsClosed() {
		c.mu.Unlock()
		return nil
	}
	at := c.dialing
	if at == nil {
		at = &dialAttempt{done: make(chan struct{})}
		c.dialing = at
		go c.dial(at, c.gen)
	}
	c.mu.Unlock()

	select {
	case <-at.done:
		return at.err
	case <-ctx.Done():
		return OpError{Op: "bus.Connect", Kind: ErrConnectTimeout, Err: ctx.Err()}
	}
}

func (c *NATSClient) dial(at *dialAttempt, gen uint64) {
	nc, js, err := c.open()

	c.mu.Lock()
	stale := err == nil && gen != c.gen
	if err == nil && !stale {
		c.nc = nc
		c.js = js
	}
	if c.dialing == at {
		c.dialing = nil
	}
	c.mu.Unlock()

	if stale {
		// Disconnect ran while the dial was in flight.
		nc.Close()
		err = OpError{Op: "bus.Connect", Kind: ErrConnectRefused, Err: errors.New("disconnected while dialing")}
	} else if err == nil {
		c.log.Info("bus.connected", "url", nc.ConnectedUrl(), "name", c.cfg.Name)
	}

	at.err = err
	close(at.done)
}

func (c *NATSClient) open() (*nats.Conn, jetstream.JetStream, error) {
	opts := []nats.Option{
		nats.Name(c.cfg.Name),
		nats.Timeout(c.cfg.ConnectTimeout),
		nats.MaxReconnects(-1),
		nats.CustomReconnectDelay(c.reconnectDelay),
		// No client-side buffering: a publish during reconnect fails fast.
		nats.ReconnectBufSize(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			// Close fires this too; only a loss of the installed connection counts.
			if !c.current(nc) {
				return
			}
			c.log.Warn("bus.disconnected", "err", err)
			c.notifyDisconnected()
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			if !c.current(nc) {
				return
			}
			metrics.BusReconnects.Inc()
			c.log.Info("bus.reconnected", "url", nc.ConnectedUrl())
			c.notifyReconnected()
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.log.Info("bus.closed")
		}),
	}
	if c.cfg.User != "" {
		opts = append(opts, nats.UserInfo(c.cfg.User, c.cfg.Password))
	}

	nc, err := nats.Connect(c.cfg.URL, opts...)
	if err != nil {
		c.log.Warn("bus.connect.fail", "url", c.cfg.URL, "err", err)
		return nil, nil, OpError{Op: "bus.Connect", Kind: classifyConnectErr(err), Err: err}
	}

	var js jetstream.JetStream
	if c.cfg.Stream != "" {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
		js, err = c.ensureStream(ctx, nc)
		cancel()
		if err != nil {
			nc.Close()
			c.log.Warn("bus.stream.fail", "stream", c.cfg.Stream, "err", err)
			return nil, nil, OpError{Op: "bus.Connect", Kind: ErrConnectRefused, Err: err}
		}
	}
	return nc, js, nil
}

func (c *NATSClient) current(nc *nats.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nc == nc
}

func (c *NATSClient) ensureStream(ctx context.Context, nc *nats.Conn) (jetstream.JetStream, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, err
	}
	if len(c.cfg.StreamSubjects) == 0 {
		// Bind to an existing stream.
		_, err = js.Stream(ctx, c.cfg.Stream)
		return js, err
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      c.cfg.Stream,
		Subjects:  c.cfg.StreamSubjects,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Storage:   jetstream.FileStorage,
	})
	return js, err
}

func classifyConnectErr(err error) error {
	var ne net.Error
	switch {
	case errors.Is(err, nats.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &ne) && ne.Timeout():
		return ErrConnectTimeout
	default:
		return ErrConnectRefused
	}
}

func (c *NATSClient) conn() (*nats.Conn, jetstream.JetStream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nc, c.js
}

func (c *NATSClient) Connected() bool {
	nc, _ := c.conn()
	return nc != nil && nc.IsConnected()
}

// JetStream returns a JetStream context on the live connection, for backends
// that share it (the KV history store).
func (c *NATSClient) JetStream() (jetstream.JetStream, error) {
	nc, js := c.conn()
	if nc == nil || nc.IsClosed() {
		return nil, OpError{Op: "bus.JetStream", Kind: ErrNotConnected}
	}
	if js != nil {
		return js, nil
	}
	return jetstream.New(nc)
}

func (c *NATSClient) Subscribe(topic string, h Handler) error {
	if h == nil {
		return OpError{Op: "bus.Subscribe", Kind: ErrSubscribe, Topic: topic, Err: errors.New("nil handler")}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.nc == nil || c.nc.IsClosed() {
		return OpError{Op: "bus.Subscribe", Kind: ErrSubscribe, Topic: topic, Err: ErrNotConnected}
	}

	if s, ok := c.subs[topic]; ok && s.sub.IsValid() {
		s.setHandler(h)
		return nil
	}

	s := &natsSub{h: h}
	sub, err := c.nc.Subscribe(Subject(topic), func(m *nats.Msg) {
		_, span := startConsumerSpan(context.Background(), m)
		defer span.End()
		s.handler()(m.Data)
	})
	if err != nil {
		return OpError{Op: "bus.Subscribe", Kind: ErrSubscribe, Topic: topic, Err: err}
	}
	s.sub = sub
	c.subs[topic] = s
	return nil
}

func (c *NATSClient) Unsubscribe(topic string) {
	c.mu.Lock()
	s, ok := c.subs[topic]
	delete(c.subs, topic)
	c.mu.Unlock()

	if ok && s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
}

func (c *NATSClient) Publish(ctx context.Context, topic string, payload []byte, qos QoS) error {
	nc, js := c.conn()
	if nc == nil || !nc.IsConnected() {
		metrics.BusPublish.WithLabelValues("not_connected").Inc()
		return OpError{Op: "bus.Publish", Kind: ErrNotConnected, Topic: topic}
	}

	ctx, span := startProducerSpan(ctx, topic, len(payload))
	defer span.End()

	msg := &nats.Msg{
		Subject: Subject(topic),
		Data:    payload,
		Header:  injectContext(ctx),
	}

	var err error
	switch {
	case qos == AtMostOnce:
		err = nc.PublishMsg(msg)
	case js != nil:
		_, err = js.PublishMsg(ctx, msg)
	default:
		err = nc.PublishMsg(msg)
		if err == nil {
			fctx, cancel := context.WithTimeout(ctx, c.cfg.FlushTimeout)
			err = nc.FlushWithContext(fctx)
			cancel()
		}
	}
	if err != nil {
		span.RecordError(err)
		kind := classifyPublishErr(err)
		if kind == ErrNotConnected {
			metrics.BusPublish.WithLabelValues("not_connected").Inc()
		} else {
			metrics.BusPublish.WithLabelValues("rejected").Inc()
		}
		return OpError{Op: "bus.Publish", Kind: kind, Topic: topic, Err: err}
	}

	metrics.BusPublish.WithLabelValues("ok").Inc()
	return nil
}

func classifyPublishErr(err error) error {
	switch {
	case errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrConnectionReconnecting),
		errors.Is(err, nats.ErrConnectionDraining),
		errors.Is(err, nats.ErrDisconnected),
		errors.Is(err, nats.ErrReconnectBufExceeded):
		return ErrNotConnected
	default:
		return ErrPublishRejected
	}
}

func (c *NATSClient) Disconnect() {
	c.mu.Lock()
	nc := c.nc
	c.nc = nil
	c.js = nil
	c.gen++
	c.dialing = nil
	c.subs = make(map[string]*natsSub)
	c.mu.Unlock()

	if nc != nil {
		nc.Close()
	}
}
