// Package chat defines the room chat domain shared by every layer: the immutable
// Message value, its dedup key, room/topic naming and the bus wire codec.
//
// It has no knowledge of transports or storage engines.
package chat

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// UnknownDisplayName is used when a sender did not publish a display name.
const UnknownDisplayName = "unknown"

// Message is one chat message. It is immutable once constructed; the same
// logical message may reach a room from the bus and from history.
type Message struct {
	SenderID          string
	SenderDisplayName string
	Text              string
	SentAtMillis      int64
}

// DedupKey identifies a logical message across bus and history copies.
type DedupKey struct {
	SenderID     string
	SentAtMillis int64
}

// Key returns the dedup key of m.
func (m Message) Key() DedupKey {
	return DedupKey{SenderID: m.SenderID, SentAtMillis: m.SentAtMillis}
}

// SentAt returns the sender-assigned creation time.
func (m Message) SentAt() time.Time {
	return time.UnixMilli(m.SentAtMillis).UTC()
}

// StoreKey is the record key of m inside its room partition.
func (m Message) StoreKey() string {
	return strconv.FormatInt(m.SentAtMillis, 10)
}

// Validate checks the fields every stored or published message must carry.
func (m Message) Validate() error {
	if strings.TrimSpace(m.SenderID) == "" {
		return ValidationError{Field: "sender_id", Reason: "empty"}
	}
	if strings.TrimSpace(m.Text) == "" {
		return ValidationError{Field: "text", Reason: "empty"}
	}
	if m.SentAtMillis <= 0 {
		return ValidationError{Field: "sent_at", Reason: "not set"}
	}
	return nil
}

// Identity is the local sender as reported by the identity collaborator.
type Identity struct {
	UserID      string
	DisplayName string
}

// IdentityProvider resolves the local sender. Room sessions call it once per
// outgoing send and never cache the result.
type IdentityProvider interface {
	Identity(ctx context.Context) (Identity, error)
}

// IdentityFunc adapts a function to IdentityProvider.
type IdentityFunc func(ctx context.Context) (Identity, error)

// Identity implements IdentityProvider.
func (f IdentityFunc) Identity(ctx context.Context) (Identity, error) { return f(ctx) }
