// Package ids provides ID primitives (ULID) used for connection, envelope and bus client names.
package ids

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULID returns a new ULID string (26 chars).
// ULIDs are lexicographically sortable, which keeps logs ordered by creation.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// MustULID is NewULID for callers that cannot surface an error (envelope ids).
// It falls back to ulid.Make, which uses a process-wide monotonic entropy source.
func MustULID(now time.Time) string {
	id, err := NewULID(now)
	if err != nil {
		return ulid.Make().String()
	}
	return id
}

// ClientName returns a unique bus client name such as "roomchat-01J...".
func ClientName(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "roomchat"
	}
	return prefix + "-" + strings.ToLower(MustULID(time.Now().UTC()))
}
