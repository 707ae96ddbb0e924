package history

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"roomchat/cmd/chat"
)

// JetStreamStore keeps history in a NATS JetStream key-value bucket.
// Keys are "<base64url(roomID)>.<sentAtMillis>", so one room is the key
// prefix and a subject-filtered purge clears it.
type JetStreamStore struct {
	js     jetstream.JetStream
	kv     jetstream.KeyValue
	bucket string
	log    *slog.Logger
}

var _ Store = (*JetStreamStore)(nil)

// NewJetStreamStore creates (or re-binds to) bucket.
func NewJetStreamStore(ctx context.Context, js jetstream.JetStream, bucket string, log *slog.Logger) (*JetStreamStore, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("history: empty bucket")
	}
	if log == nil {
		log = slog.Default()
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "roomchat message history",
		History:     1,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, wrap("history.NewJetStreamStore", "", err, isJSPermissionDenied)
	}
	return &JetStreamStore{js: js, kv: kv, bucket: bucket, log: log}, nil
}

// Close is a no-op; the NATS connection belongs to the caller.
func (s *JetStreamStore) Close() error { return nil }

func roomKeyPrefix(roomID string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(roomID))
}

func roomRecordKey(roomID string, m chat.Message) string {
	return roomKeyPrefix(roomID) + "." + m.StoreKey()
}

func (s *JetStreamStore) Append(ctx context.Context, roomID string, m chat.Message) error {
	if err := validateAppend(roomID, m); err != nil {
		return err
	}
	_, err := s.kv.Put(ctx, roomRecordKey(roomID, m), chat.Encode(m))
	return wrap("history.Append", roomID, err, isJSPermissionDenied)
}

func (s *JetStreamStore) LoadAll(ctx context.Context, roomID string) ([]chat.Message, error) {
	if err := validateRoom("history.LoadAll", roomID); err != nil {
		return nil, err
	}

	w, err := s.kv.Watch(ctx, roomKeyPrefix(roomID)+".*", jetstream.IgnoreDeletes())
	if err != nil {
		return nil, wrap("history.LoadAll", roomID, err, isJSPermissionDenied)
	}
	defer func() { _ = w.Stop() }()

	msgs := make([]chat.Message, 0, 64)
	for {
		select {
		case <-ctx.Done():
			return nil, wrap("history.LoadAll", roomID, ctx.Err(), nil)
		case e, ok := <-w.Updates():
			if !ok {
				return nil, wrap("history.LoadAll", roomID, errors.New("watcher closed"), nil)
			}
			if e == nil {
				// End of the initial values.
				sortByKey(msgs)
				return msgs, nil
			}
			m, derr := chat.Decode(e.Value())
			key, kerr := strconv.ParseInt(e.Key()[strings.LastIndexByte(e.Key(), '.')+1:], 10, 64)
			if derr != nil || kerr != nil {
				s.log.Warn("history.record.skip", "backend", "jetstream", "room_id", roomID, "key", e.Key(), "err", derr)
				continue
			}
			m.SentAtMillis = key
			msgs = append(msgs, m)
		}
	}
}

func (s *JetStreamStore) Clear(ctx context.Context, roomID string) error {
	if err := validateRoom("history.Clear", roomID); err != nil {
		return err
	}

	stream, err := s.js.Stream(ctx, "KV_"+s.bucket)
	if err != nil {
		return wrap("history.Clear", roomID, err, isJSPermissionDenied)
	}
	subject := "$KV." + s.bucket + "." + roomKeyPrefix(roomID) + ".*"
	err = stream.Purge(ctx, jetstream.WithPurgeSubject(subject))
	return wrap("history.Clear", roomID, err, isJSPermissionDenied)
}

func isJSPermissionDenied(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "permissions violation")
}
