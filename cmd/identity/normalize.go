package identity

import (
	"strings"

	"roomchat/cmd/chat"
)

const privateRoomSep = "__"

// NormalizeUserID trims surrounding whitespace. User ids are otherwise opaque.
func NormalizeUserID(s string) string {
	return strings.TrimSpace(s)
}

// NormalizeDisplayName trims the name and substitutes chat.UnknownDisplayName for blanks.
func NormalizeDisplayName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return chat.UnknownDisplayName
	}
	return s
}

// PrivateRoomID derives the room shared by two participants. The result does
// not depend on argument order.
func PrivateRoomID(a, b string) (string, error) {
	a, b = NormalizeUserID(a), NormalizeUserID(b)
	if a == "" || b == "" {
		return "", OpError{Op: "identity.PrivateRoomID", Kind: ErrInvalidInput, Msg: "empty participant"}
	}
	if a == b {
		return "", OpError{Op: "identity.PrivateRoomID", Kind: ErrInvalidInput, Msg: "participants must differ"}
	}
	if b < a {
		a, b = b, a
	}
	id := a + privateRoomSep + b
	if err := chat.ValidateRoomID(id); err != nil {
		return "", OpError{Op: "identity.PrivateRoomID", Kind: ErrInvalidInput, Msg: err.Error()}
	}
	return id, nil
}
