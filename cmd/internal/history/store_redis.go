package history

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"roomchat/cmd/chat"
)

// RedisStore keeps one hash per room: field = sentAtMillis, value = the
// message in bus wire form.
type RedisStore struct {
	client *redis.Client
	log    *slog.Logger
	owned  bool
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(ctx context.Context, redisURL string, log *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, wrap("history.NewRedisStore", "", err, isRedisPermissionDenied)
	}

	st := NewRedisStoreFromClient(client, log)
	st.owned = true
	return st, nil
}

// NewRedisStoreFromClient wraps an existing client. The caller keeps
// ownership of it.
func NewRedisStoreFromClient(client *redis.Client, log *slog.Logger) *RedisStore {
	if log == nil {
		log = slog.Default()
	}
	return &RedisStore{client: client, log: log}
}

// Close closes the Redis connection when this store opened it.
func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// roomMessagesKey returns the key for a room's message hash.
func roomMessagesKey(roomID string) string {
	return fmt.Sprintf("roomchat:room:%s:messages", roomID)
}

func (s *RedisStore) Append(ctx context.Context, roomID string, m chat.Message) error {
	if err := validateAppend(roomID, m); err != nil {
		return err
	}
	err := s.client.HSet(ctx, roomMessagesKey(roomID), m.StoreKey(), chat.Encode(m)).Err()
	return wrap("history.Append", roomID, err, isRedisPermissionDenied)
}

func (s *RedisStore) LoadAll(ctx context.Context, roomID string) ([]chat.Message, error) {
	if err := validateRoom("history.LoadAll", roomID); err != nil {
		return nil, err
	}

	fields, err := s.client.HGetAll(ctx, roomMessagesKey(roomID)).Result()
	if err != nil {
		return nil, wrap("history.LoadAll", roomID, err, isRedisPermissionDenied)
	}

	msgs := make([]chat.Message, 0, len(fields))
	for field, raw := range fields {
		key, kerr := strconv.ParseInt(field, 10, 64)
		m, derr := chat.Decode([]byte(raw))
		if kerr != nil || derr != nil {
			s.log.Warn("history.record.skip", "backend", "redis", "room_id", roomID, "field", field, "err", derr)
			continue
		}
		// The field is the record key; it wins over the payload timestamp.
		m.SentAtMillis = key
		msgs = append(msgs, m)
	}

	sortByKey(msgs)
	return msgs, nil
}

func (s *RedisStore) Clear(ctx context.Context, roomID string) error {
	if err := validateRoom("history.Clear", roomID); err != nil {
		return err
	}
	err := s.client.Del(ctx, roomMessagesKey(roomID)).Err()
	return wrap("history.Clear", roomID, err, isRedisPermissionDenied)
}

func isRedisPermissionDenied(err error) bool {
	msg := err.Error()
	return strings.HasPrefix(msg, "NOPERM") ||
		strings.HasPrefix(msg, "NOAUTH") ||
		strings.HasPrefix(msg, "WRONGPASS")
}
