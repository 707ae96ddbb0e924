package identity

import (
	"time"

	"roomchat/cmd/chat"
	"roomchat/cmd/identity/ids"
)

// NewGuest returns an anonymous identity with a fresh ULID user id, the way
// unauthenticated clients join the shared room.
func NewGuest(displayName string, now time.Time) (chat.Identity, error) {
	id, err := ids.NewULID(now)
	if err != nil {
		return chat.Identity{}, err
	}
	return chat.Identity{UserID: "guest-" + id, DisplayName: NormalizeDisplayName(displayName)}, nil
}
