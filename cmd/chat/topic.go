package chat

import (
	"strings"
	"unicode"
)

const (
	// SharedRoomID is the well-known identifier of the room every user shares.
	SharedRoomID = "global"

	// DefaultNamespace prefixes every chat topic.
	DefaultNamespace = "kdramas"

	maxRoomIDLen = 128
)

// Topic returns the bus topic of roomID: "<namespace>/chat/<roomId>".
func Topic(namespace, roomID string) string {
	return namespace + "/chat/" + roomID
}

// RoomFromTopic is the inverse of Topic.
func RoomFromTopic(namespace, topic string) (string, bool) {
	prefix := namespace + "/chat/"
	if !strings.HasPrefix(topic, prefix) {
		return "", false
	}
	id := strings.TrimPrefix(topic, prefix)
	if id == "" {
		return "", false
	}
	return id, true
}

// ValidateRoomID rejects identifiers that cannot be mapped to one topic and
// one history partition. '/' is reserved as the topic level separator. Room
// ids are otherwise opaque.
func ValidateRoomID(roomID string) error {
	if strings.TrimSpace(roomID) == "" {
		return ValidationError{Field: "room_id", Reason: "empty"}
	}
	if len(roomID) > maxRoomIDLen {
		return ValidationError{Field: "room_id", Reason: "too long"}
	}
	for _, r := range roomID {
		if unicode.IsSpace(r) || unicode.IsControl(r) || r == '*' || r == '>' || r == '/' {
			return ValidationError{Field: "room_id", Reason: "invalid character"}
		}
	}
	return nil
}
