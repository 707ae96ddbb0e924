package realtime

import (
	"time"

	"roomchat/cmd/identity/ids"
)

// NewConnectionID returns a ULID identifying one websocket connection in logs
// and in hello_ack.
func NewConnectionID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewEnvelopeID returns a ULID used as envelope id.
func NewEnvelopeID(now time.Time) string {
	return ids.MustULID(now)
}
