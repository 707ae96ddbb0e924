// Package history is the durable per-room message log used for the initial
// load of a room and for offline catch-up.
//
// A room is one partition. Inside it a record is keyed by the message's
// sentAtMillis, so writing the same key twice overwrites rather than
// duplicating. Stores never retry; retry policy belongs to the caller.
package history

import (
	"context"
	"sort"

	"roomchat/cmd/chat"
)

// Store persists and queries room messages.
//
// Requirements:
//   - Append is an upsert on (roomID, SentAtMillis)
//   - LoadAll is a point-in-time snapshot ordered by key ascending
//   - Clear removes the whole partition and is irreversible
type Store interface {
	Append(ctx context.Context, roomID string, m chat.Message) error
	LoadAll(ctx context.Context, roomID string) ([]chat.Message, error)
	Clear(ctx context.Context, roomID string) error
	Close() error
}

func validateRoom(op, roomID string) error {
	if err := chat.ValidateRoomID(roomID); err != nil {
		return StoreError{Op: op, Kind: ErrInvalidInput, RoomID: roomID, Err: err}
	}
	return nil
}

func validateAppend(roomID string, m chat.Message) error {
	if err := validateRoom("history.Append", roomID); err != nil {
		return err
	}
	if err := m.Validate(); err != nil {
		return StoreError{Op: "history.Append", Kind: ErrInvalidInput, RoomID: roomID, Err: err}
	}
	return nil
}

// sortByKey orders msgs by record key. Backends that iterate in hash or
// lexical order rely on it.
func sortByKey(msgs []chat.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].SentAtMillis < msgs[j].SentAtMillis
	})
}
