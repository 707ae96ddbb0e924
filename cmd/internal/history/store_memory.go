package history

import (
	"context"
	"log/slog"
	"sync"

	"roomchat/cmd/chat"
)

// DefaultMemoryRoomLimit bounds each room of an InMemoryStore.
const DefaultMemoryRoomLimit = 10_000

// InMemoryStore is a dev-only fallback when no durable backend is configured.
// Nothing survives a restart. A room holds at most its limit of messages;
// past that the oldest is evicted and logged as history.evict.
type InMemoryStore struct {
	log   *slog.Logger
	limit int

	mu    sync.Mutex
	rooms map[string]map[int64]chat.Message
}

var _ Store = (*InMemoryStore)(nil)

// MemoryOption configures an InMemoryStore.
type MemoryOption func(*InMemoryStore)

// WithMemoryLogger sets the logger used for eviction warnings.
func WithMemoryLogger(log *slog.Logger) MemoryOption {
	return func(s *InMemoryStore) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMemoryRoomLimit overrides DefaultMemoryRoomLimit. Values below 1 are ignored.
func WithMemoryRoomLimit(n int) MemoryOption {
	return func(s *InMemoryStore) {
		if n > 0 {
			s.limit = n
		}
	}
}

// NewInMemoryStore constructs an empty store.
func NewInMemoryStore(opts ...MemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		log:   slog.Default(),
		limit: DefaultMemoryRoomLimit,
		rooms: make(map[string]map[int64]chat.Message),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) Append(ctx context.Context, roomID string, m chat.Message) error {
	if err := validateAppend(roomID, m); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return wrap("history.Append", roomID, err, nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.rooms[roomID]
	if room == nil {
		room = make(map[int64]chat.Message)
		s.rooms[roomID] = room
	}
	room[m.SentAtMillis] = m

	if len(room) > s.limit {
		oldest := m.SentAtMillis
		for k := range room {
			if k < oldest {
				oldest = k
			}
		}
		delete(room, oldest)
		s.log.Warn("history.evict", "room_id", roomID, "sent_at", oldest, "limit", s.limit)
	}
	return nil
}

func (s *InMemoryStore) LoadAll(ctx context.Context, roomID string) ([]chat.Message, error) {
	if err := validateRoom("history.LoadAll", roomID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, wrap("history.LoadAll", roomID, err, nil)
	}

	s.mu.Lock()
	room := s.rooms[roomID]
	out := make([]chat.Message, 0, len(room))
	for _, m := range room {
		out = append(out, m)
	}
	s.mu.Unlock()

	sortByKey(out)
	return out, nil
}

func (s *InMemoryStore) Clear(ctx context.Context, roomID string) error {
	if err := validateRoom("history.Clear", roomID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return wrap("history.Clear", roomID, err, nil)
	}

	s.mu.Lock()
	delete(s.rooms, roomID)
	s.mu.Unlock()
	return nil
}
