// Package room merges a room's history and its live bus traffic into one
// deduplicated stream.
//
// Each Session is an actor: one goroutine owns the message list, the emitted
// dedup keys and the pre-live buffer. Bus deliveries, history results and
// local sends reach it as messages, so the interleaving of "history loaded"
// and "live message arrived" is decided in one place.
package room

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"roomchat/cmd/chat"
	"roomchat/cmd/internal/bus"
	"roomchat/cmd/internal/history"
	"roomchat/cmd/internal/metrics"
)

const (
	defaultStoreWriteTimeout = 5 * time.Second
	defaultRetryMin          = 250 * time.Millisecond
	defaultRetryMax          = 30 * time.Second
)

// Config wires a Session to its collaborators.
type Config struct {
	RoomID    string
	Namespace string

	Bus      bus.Client
	Store    history.Store
	Identity chat.IdentityProvider

	// Clock assigns sentAtMillis. Share one per process so a sender never
	// reuses a timestamp across rooms opened in the same millisecond.
	Clock *chat.Clock

	// StoreWriteTimeout bounds the background append of live messages.
	StoreWriteTimeout time.Duration
	// HistoryLoadTimeout bounds the initial load (0 = wait for the store).
	HistoryLoadTimeout time.Duration
	// RetryMin and RetryMax bound the connect/subscribe retry backoff.
	RetryMin time.Duration
	RetryMax time.Duration

	Logger *slog.Logger
}

// source tells where a message entered the session.
type source int

const (
	fromLive source = iota
	fromLocal
)

// input is one mailbox entry: a message, a connection notice or a clear.
// Clear travels the mailbox so everything queued before it is merged first.
type input struct {
	msg          chat.Message
	src          source
	reconnected  bool
	disconnected bool
	clear        chan struct{}
}

type event interface{ isEvent() }

type historyResult struct {
	epoch uint64
	msgs  []chat.Message
	err   error
}

type subscribeResult struct{ err error }

type busDown struct{}

func (historyResult) isEvent()   {}
func (subscribeResult) isEvent() {}
func (busDown) isEvent()         {}

// Session is one open room.
type Session struct {
	cfg   Config
	topic string
	log   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mbox   *mailbox[input]
	events chan event

	openOnce  sync.Once
	closeOnce sync.Once
	opened    chan struct{}
	actorDone chan struct{}
	finished  chan struct{}
	wg        sync.WaitGroup

	// sendMu serializes Send and Clear.
	sendMu sync.Mutex

	// subscribing guards against two connect loops and resubscribe records
	// a reconnect seen while one was running. Actor-owned.
	subscribing bool
	resubscribe bool
	cancelRecon func()
	cancelLost  func()

	// Actor-owned stream state.
	state       State
	msgs        []chat.Message
	emitted     map[chat.DedupKey]struct{}
	cleared     map[chat.DedupKey]struct{}
	buffer      []input
	historyDone bool
	subscribed  bool
	degraded    Degraded
	epoch       uint64

	observers
}

// NewSession validates cfg and returns an Idle session.
func NewSession(cfg Config) (*Session, error) {
	if err := chat.ValidateRoomID(cfg.RoomID); err != nil {
		return nil, err
	}
	if cfg.Bus == nil || cfg.Store == nil || cfg.Identity == nil {
		return nil, errors.New("room: bus, store and identity are required")
	}
	if strings.TrimSpace(cfg.Namespace) == "" {
		cfg.Namespace = chat.DefaultNamespace
	}
	if cfg.Clock == nil {
		cfg.Clock = chat.NewClock(nil)
	}
	if cfg.StoreWriteTimeout <= 0 {
		cfg.StoreWriteTimeout = defaultStoreWriteTimeout
	}
	if cfg.RetryMin <= 0 {
		cfg.RetryMin = defaultRetryMin
	}
	if cfg.RetryMax < cfg.RetryMin {
		cfg.RetryMax = max(defaultRetryMax, cfg.RetryMin)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:       cfg,
		topic:     chat.Topic(cfg.Namespace, cfg.RoomID),
		log:       cfg.Logger.With("room_id", cfg.RoomID),
		ctx:       ctx,
		cancel:    cancel,
		mbox:      newMailbox[input](),
		events:    make(chan event),
		opened:    make(chan struct{}),
		actorDone: make(chan struct{}),
		finished:  make(chan struct{}),
		emitted:   make(map[chat.DedupKey]struct{}),
	}
	s.observers.init(Snapshot{RoomID: cfg.RoomID, State: Idle})
	return s, nil
}

// RoomID returns the room this session serves.
func (s *Session) RoomID() string { return s.cfg.RoomID }

// Topic returns the bus topic of the room.
func (s *Session) Topic() string { return s.topic }

// Open moves the session to Loading and starts the history load and the bus
// subscription concurrently. Calling it again is a no-op.
func (s *Session) Open() error {
	if s.ctx.Err() != nil {
		return ErrSessionClosed
	}
	s.openOnce.Do(func() {
		s.state = Loading
		s.publish()

		s.cancelRecon = s.cfg.Bus.OnReconnected(func() {
			s.mbox.push(input{reconnected: true})
		})
		s.cancelLost = s.cfg.Bus.OnDisconnected(func() {
			s.mbox.push(input{disconnected: true})
		})

		s.startHistoryLoad(s.epoch)
		s.startSubscribe()

		go s.run()
		close(s.opened)

		metrics.SessionsActive.Inc()
		s.log.Info("room.session.open", "topic", s.topic)
	})
	return nil
}

func (s *Session) isOpen() bool {
	select {
	case <-s.opened:
		return true
	default:
		return false
	}
}

// post hands ev to the actor unless the session is closing.
func (s *Session) post(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Session) run() {
	defer close(s.actorDone)

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.mbox.signal:
			for _, in := range s.mbox.drain() {
				if s.ctx.Err() != nil {
					return
				}
				s.handleInput(in)
			}
		case ev := <-s.events:
			s.handleEvent(ev)
		}
	}
}

func (s *Session) handleInput(in input) {
	switch {
	case in.clear != nil:
		s.reset()
		close(in.clear)
	case in.reconnected:
		// The bus is not authoritative for what was missed while
		// disconnected; only the subscription is restored.
		s.log.Info("room.bus.reconnected", "topic", s.topic)
		if s.subscribing {
			s.resubscribe = true
			return
		}
		s.startSubscribe()
	case in.disconnected:
		s.log.Warn("room.bus.disconnected", "topic", s.topic)
		s.markBusDown()
	default:
		s.accept(in)
	}
}

func (s *Session) handleEvent(ev event) {
	switch ev := ev.(type) {
	case historyResult:
		s.mergeHistory(ev)
	case subscribeResult:
		s.subscribing = false
		if s.resubscribe {
			s.resubscribe = false
			s.startSubscribe()
		}
		if ev.err != nil {
			s.markBusDown()
			return
		}
		s.subscribed = true
		s.degraded.Bus = false
		s.maybeLive()
		s.publish()
	case busDown:
		s.markBusDown()
	}
}

func (s *Session) markBusDown() {
	if !s.degraded.Bus {
		s.degraded.Bus = true
		s.publish()
	}
}

// accept runs the dedup/buffer/emit step for one live or local message.
func (s *Session) accept(in input) {
	k := in.msg.Key()
	if _, dup := s.emitted[k]; dup {
		metrics.DuplicatesDropped.Inc()
		return
	}
	if _, gone := s.cleared[k]; gone {
		// Late redelivery of a message removed by Clear.
		metrics.DuplicatesDropped.Inc()
		return
	}

	if !s.historyDone {
		for _, b := range s.buffer {
			if b.msg.Key() == k {
				metrics.DuplicatesDropped.Inc()
				return
			}
		}
		s.buffer = append(s.buffer, in)
		return
	}

	s.emit(in.msg, in.src)
	s.publish()
}

func (s *Session) emit(m chat.Message, src source) {
	s.emitted[m.Key()] = struct{}{}
	s.msgs = append(s.msgs, m)

	if src == fromLocal {
		metrics.MessagesEmitted.WithLabelValues(metrics.SourceLocal).Inc()
		return
	}
	metrics.MessagesEmitted.WithLabelValues(metrics.SourceLive).Inc()
	s.persistLive(m)
}

// persistLive appends a live message to history in the background. A failed
// write only degrades future history loads.
func (s *Session) persistLive(m chat.Message) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), s.cfg.StoreWriteTimeout)
	go func() {
		defer cancel()
		if err := s.cfg.Store.Append(ctx, s.cfg.RoomID, m); err != nil {
			s.log.Warn("history.append.fail", "sender_id", m.SenderID, "sent_at", m.SentAtMillis, "err", err)
		}
	}()
}

func (s *Session) mergeHistory(res historyResult) {
	if s.historyDone {
		return
	}

	msgs := res.msgs
	switch {
	case res.epoch != s.epoch:
		// A Clear ran while this load was in flight.
		msgs = nil
	case res.err != nil:
		s.log.Warn("history.load.fail", "err", res.err)
		s.degraded.Store = true
		msgs = nil
	}

	for _, m := range msgs {
		k := m.Key()
		if _, dup := s.emitted[k]; dup {
			continue
		}
		s.emitted[k] = struct{}{}
		s.msgs = append(s.msgs, m)
	}
	metrics.MessagesEmitted.WithLabelValues(metrics.SourceHistory).Add(float64(len(s.msgs)))

	s.historyDone = true
	buffered := s.buffer
	s.buffer = nil
	for _, in := range buffered {
		if _, dup := s.emitted[in.msg.Key()]; dup {
			metrics.DuplicatesDropped.Inc()
			continue
		}
		s.emit(in.msg, in.src)
	}
	// Nothing was emitted before this point, so ordering the initial
	// snapshot by sentAt rewinds nothing a consumer has seen.
	sort.SliceStable(s.msgs, func(i, j int) bool {
		return s.msgs[i].SentAtMillis < s.msgs[j].SentAtMillis
	})

	s.maybeLive()
	s.publish()
}

func (s *Session) maybeLive() {
	if s.state == Loading && s.historyDone && s.subscribed {
		s.state = Live
		s.log.Info("room.session.live", "messages", len(s.msgs))
	}
}

// reset empties the stream. Every key seen so far, emitted or still
// buffered, joins the tombstones so a late redelivery stays hidden; the
// set lives as long as the session.
func (s *Session) reset() {
	s.epoch++
	if s.cleared == nil {
		s.cleared = make(map[chat.DedupKey]struct{}, len(s.emitted)+len(s.buffer))
	}
	for k := range s.emitted {
		s.cleared[k] = struct{}{}
	}
	for _, in := range s.buffer {
		s.cleared[in.msg.Key()] = struct{}{}
	}
	s.emitted = make(map[chat.DedupKey]struct{})
	s.msgs = nil
	s.buffer = nil
	s.publish()
}

func (s *Session) startHistoryLoad(epoch uint64) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx := s.ctx
		if s.cfg.HistoryLoadTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.HistoryLoadTimeout)
			defer cancel()
		}
		msgs, err := s.cfg.Store.LoadAll(ctx, s.cfg.RoomID)
		s.post(historyResult{epoch: epoch, msgs: msgs, err: err})
	}()
}

// startSubscribe connects and subscribes, retrying with exponential backoff
// until it succeeds or the session closes. Actor-owned.
func (s *Session) startSubscribe() {
	if s.subscribing {
		return
	}
	s.subscribing = true

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryMin
	b.MaxInterval = s.cfg.RetryMax
	b.MaxElapsedTime = 0

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		op := func() error {
			if err := s.cfg.Bus.Connect(s.ctx); err != nil {
				return err
			}
			return s.cfg.Bus.Subscribe(s.topic, s.onPayload)
		}
		notify := func(err error, next time.Duration) {
			s.log.Warn("room.subscribe.fail", "topic", s.topic, "retry_in", next, "err", err)
			// Report while the loop keeps running; the actor clears
			// subscribing only on the final result.
			select {
			case s.events <- busDown{}:
			case <-s.ctx.Done():
			}
		}

		err := backoff.RetryNotify(op, backoff.WithContext(b, s.ctx), notify)
		if s.ctx.Err() != nil {
			return
		}
		s.post(subscribeResult{err: err})
	}()
}

// onPayload is the bus handler. It must not block.
func (s *Session) onPayload(p []byte) {
	if s.ctx.Err() != nil {
		return
	}
	m, err := chat.Decode(p)
	if err != nil {
		metrics.DecodeFailures.Inc()
		s.log.Warn("codec.decode.drop", "topic", s.topic, "err", err)
		return
	}
	s.mbox.push(input{msg: m, src: fromLive})
}

// Close unsubscribes and retires the session. In-flight completions are
// discarded. Close is idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		wasOpen := s.isOpen()
		s.cancel()

		if wasOpen {
			<-s.actorDone
		}
		// No connect loop may subscribe after this point.
		s.wg.Wait()

		if s.cancelRecon != nil {
			s.cancelRecon()
		}
		if s.cancelLost != nil {
			s.cancelLost()
		}
		s.cfg.Bus.Unsubscribe(s.topic)

		s.state = Closed
		s.publish()
		s.closeObservers()

		if wasOpen {
			metrics.SessionsActive.Dec()
		}
		s.log.Info("room.session.close")
		close(s.finished)
	})
}

// Done is closed once Close has started.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// Closed is closed once Close has unsubscribed and returned.
func (s *Session) Closed() <-chan struct{} { return s.finished }

// publish snapshots the actor state to every observer.
func (s *Session) publish() {
	msgs := make([]chat.Message, len(s.msgs))
	copy(msgs, s.msgs)
	s.broadcast(Snapshot{
		RoomID:   s.cfg.RoomID,
		State:    s.state,
		Messages: msgs,
		Degraded: s.degraded,
	})
}
