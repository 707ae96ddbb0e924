package chat

import (
	"encoding/json"
	"errors"
	"strings"
	"unicode/utf8"
)

// wireMessage is the bus payload. Field names are shared with every other
// publisher on the bus and must not change.
type wireMessage struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Text        string `json:"text"`
	Timestamp   int64  `json:"timestamp"`
}

// wireIn distinguishes absent fields from zero values.
type wireIn struct {
	UserID      *string `json:"userId"`
	DisplayName *string `json:"displayName"`
	Text        *string `json:"text"`
	Timestamp   *int64  `json:"timestamp"`
}

// Encode serializes m into the bus wire payload.
func Encode(m Message) []byte {
	b, _ := json.Marshal(wireMessage{
		UserID:      m.SenderID,
		DisplayName: m.SenderDisplayName,
		Text:        m.Text,
		Timestamp:   m.SentAtMillis,
	})
	return b
}

// Decode parses a bus wire payload. Unknown fields are ignored. A missing or
// mistyped userId, text or timestamp yields a DecodeError; a missing
// displayName decodes as UnknownDisplayName.
func Decode(b []byte) (Message, error) {
	if !utf8.Valid(b) {
		return Message{}, DecodeError{Err: errors.New("invalid utf-8")}
	}

	var in wireIn
	if err := json.Unmarshal(b, &in); err != nil {
		var te *json.UnmarshalTypeError
		if errors.As(err, &te) && te.Field != "" {
			return Message{}, DecodeError{Field: te.Field, Err: errors.New("wrong type")}
		}
		return Message{}, DecodeError{Err: err}
	}

	if in.UserID == nil || strings.TrimSpace(*in.UserID) == "" {
		return Message{}, DecodeError{Field: "userId"}
	}
	if in.Text == nil || strings.TrimSpace(*in.Text) == "" {
		return Message{}, DecodeError{Field: "text"}
	}
	if in.Timestamp == nil || *in.Timestamp <= 0 {
		return Message{}, DecodeError{Field: "timestamp"}
	}

	name := UnknownDisplayName
	if in.DisplayName != nil {
		name = *in.DisplayName
	}

	return Message{
		SenderID:          *in.UserID,
		SenderDisplayName: name,
		Text:              *in.Text,
		SentAtMillis:      *in.Timestamp,
	}, nil
}
