package room

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"roomchat/cmd/chat"
	"roomchat/cmd/internal/bus"
	"roomchat/cmd/internal/history"
)

// fakeBus is a counting bus.Client. With echo set, a successful publish is
// delivered back to the topic's handler before Publish returns.
type fakeBus struct {
	mu          sync.Mutex
	connected   bool
	connectErr  error
	publishErr  error
	echo        bool
	handlers    map[string]bus.Handler
	subscribes  int
	ops         []string
	published   [][]byte
	listeners   []func()
	lost        []func()
	unsubscribe chan struct{} // when set, Unsubscribe waits for it to close
}

var _ bus.Client = (*fakeBus)(nil)

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[string]bus.Handler), echo: true}
}

func (b *fakeBus) Connect(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connectErr != nil {
		return b.connectErr
	}
	b.connected = true
	return nil
}

func (b *fakeBus) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBus) Subscribe(topic string, h bus.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = h
	b.subscribes++
	b.ops = append(b.ops, "subscribe")
	return nil
}

func (b *fakeBus) Unsubscribe(topic string) {
	b.mu.Lock()
	gate := b.unsubscribe
	b.mu.Unlock()
	if gate != nil {
		<-gate
	}

	b.mu.Lock()
	delete(b.handlers, topic)
	b.ops = append(b.ops, "unsubscribe")
	b.mu.Unlock()
}

func (b *fakeBus) Publish(_ context.Context, topic string, payload []byte, _ bus.QoS) error {
	b.mu.Lock()
	if b.publishErr != nil {
		err := b.publishErr
		b.mu.Unlock()
		return err
	}
	b.published = append(b.published, payload)
	h := b.handlers[topic]
	echo := b.echo
	b.mu.Unlock()

	if echo && h != nil {
		h(payload)
	}
	return nil
}

func (b *fakeBus) OnReconnected(fn func()) func() {
	b.mu.Lock()
	b.listeners = append(b.listeners, fn)
	b.mu.Unlock()
	return func() {}
}

func (b *fakeBus) OnDisconnected(fn func()) func() {
	b.mu.Lock()
	b.lost = append(b.lost, fn)
	b.mu.Unlock()
	return func() {}
}

func (b *fakeBus) Disconnect() {}

func (b *fakeBus) deliver(topic string, payload []byte) {
	b.mu.Lock()
	h := b.handlers[topic]
	b.mu.Unlock()
	if h != nil {
		h(payload)
	}
}

func (b *fakeBus) reconnect() {
	b.mu.Lock()
	fns := append([]func(){}, b.listeners...)
	b.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (b *fakeBus) disconnect() {
	b.mu.Lock()
	fns := append([]func(){}, b.lost...)
	b.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (b *fakeBus) setConnectErr(err error) {
	b.mu.Lock()
	b.connectErr = err
	b.mu.Unlock()
}

func (b *fakeBus) setPublishErr(err error) {
	b.mu.Lock()
	b.publishErr = err
	b.mu.Unlock()
}

func (b *fakeBus) subscribeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribes
}

func (b *fakeBus) opLog() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.ops, ",")
}

func (b *fakeBus) waitSubscribes(t *testing.T, n int) {
	t.Helper()
	waitUntil(t, func() bool { return b.subscribeCount() >= n }, "subscribe count >= %d (got %d)", n, b.subscribeCount())
}

// fakeStore wraps the in-memory store with call counters, injected errors and
// a gate that holds LoadAll until released.
type fakeStore struct {
	*history.InMemoryStore

	mu        sync.Mutex
	loads     int
	appends   int
	loadErr   error
	appendErr error
	clearErr  error
	gate      chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{InMemoryStore: history.NewInMemoryStore()}
}

func (s *fakeStore) LoadAll(ctx context.Context, roomID string) ([]chat.Message, error) {
	s.mu.Lock()
	s.loads++
	gate, err := s.gate, s.loadErr
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return s.InMemoryStore.LoadAll(ctx, roomID)
}

func (s *fakeStore) Append(ctx context.Context, roomID string, m chat.Message) error {
	s.mu.Lock()
	s.appends++
	err := s.appendErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.InMemoryStore.Append(ctx, roomID, m)
}

func (s *fakeStore) Clear(ctx context.Context, roomID string) error {
	s.mu.Lock()
	err := s.clearErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.InMemoryStore.Clear(ctx, roomID)
}

func (s *fakeStore) hold() {
	s.mu.Lock()
	s.gate = make(chan struct{})
	s.mu.Unlock()
}

func (s *fakeStore) release() {
	s.mu.Lock()
	if s.gate != nil {
		close(s.gate)
		s.gate = nil
	}
	s.mu.Unlock()
}

func (s *fakeStore) loadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}

func (s *fakeStore) set(f func(s *fakeStore)) {
	s.mu.Lock()
	f(s)
	s.mu.Unlock()
}

// helpers

const testRoom = "global"

var testTopic = chat.Topic("kdramas", testRoom)

func testConfig(b bus.Client, st history.Store) Config {
	return Config{
		RoomID:    testRoom,
		Namespace: "kdramas",
		Bus:       b,
		Store:     st,
		Identity: chat.IdentityFunc(func(context.Context) (chat.Identity, error) {
			return chat.Identity{UserID: "me", DisplayName: "Me"}, nil
		}),
		RetryMin: 5 * time.Millisecond,
		RetryMax: 20 * time.Millisecond,
	}
}

func mustOpenSession(t *testing.T, cfg Config) *Session {
	t.Helper()

	s, err := NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := s.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func payload(sender string, at int64, text string) []byte {
	return chat.Encode(chat.Message{SenderID: sender, SenderDisplayName: sender, Text: text, SentAtMillis: at})
}

func texts(snap Snapshot) string {
	out := make([]string, 0, len(snap.Messages))
	for _, m := range snap.Messages {
		out = append(out, m.Text)
	}
	return strings.Join(out, ",")
}

func waitSnapshot(t *testing.T, s *Session, what string, pred func(Snapshot) bool) Snapshot {
	t.Helper()

	ch, cancel := s.Watch()
	defer cancel()

	var last Snapshot
	timeout := time.After(3 * time.Second)
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				if pred(last) {
					return last
				}
				t.Fatalf("%s: watch closed; last state=%v messages=%q", what, last.State, texts(last))
			}
			last = snap
			if pred(snap) {
				return snap
			}
		case <-timeout:
			t.Fatalf("%s: timed out; last state=%v messages=%q degraded=%+v", what, last.State, texts(last), last.Degraded)
		}
	}
}

func waitLive(t *testing.T, s *Session) Snapshot {
	t.Helper()
	return waitSnapshot(t, s, "live", func(snap Snapshot) bool { return snap.State == Live })
}

func waitUntil(t *testing.T, cond func() bool, format string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for "+format, args...)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// settle gives the actor a moment to process anything already queued.
func settle() { time.Sleep(30 * time.Millisecond) }
