package v1

// Send results carried by MessageAckPayload.Result.
const (
	ResultOK               = "ok"
	ResultDeliveryDegraded = "delivery_degraded"
	ResultStoreDegraded    = "store_degraded"
	ResultFailed           = "failed"
)

// Room states carried by RoomSnapshotPayload.State.
const (
	StateIdle    = "idle"
	StateLoading = "loading"
	StateLive    = "live"
	StateClosed  = "closed"
)

// Error codes carried by ErrorPayload.Code.
const (
	CodeBadJSON       = "bad_json"
	CodeBadEnvelope   = "bad_envelope"
	CodeBadPayload    = "bad_payload"
	CodeHelloRequired = "hello_required"
	CodeHelloFailed   = "hello_failed"
	CodeRoomNotOpen   = "room_not_open"
	CodeOpenFailed    = "open_failed"
	CodeInvalidText   = "invalid_text"
	CodeClearFailed   = "clear_failed"
	CodeRateLimited   = "rate_limited"
	CodeUnsupported   = "unsupported"
)

// HelloPayload identifies the connection's user. With token auth, Token is a
// PASETO v4.public access token; otherwise UserID/DisplayName are trusted
// (an empty UserID gets a guest id).
type HelloPayload struct {
	Token       string `json:"token,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// HelloAckPayload returns the connection id and the identity used for sends.
type HelloAckPayload struct {
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
	DisplayName  string `json:"display_name"`
}

// RoomOpenPayload opens RoomID, or the private room shared with PeerID when
// RoomID is empty.
type RoomOpenPayload struct {
	RoomID string `json:"room_id,omitempty"`
	PeerID string `json:"peer_id,omitempty"`
}

// MessagePayload is one chat message as rendered to clients.
type MessagePayload struct {
	SenderID    string `json:"sender_id"`
	DisplayName string `json:"display_name"`
	Text        string `json:"text"`
	SentAt      int64  `json:"sent_at"`
}

// DegradedPayload flags read-path failures of a room.
type DegradedPayload struct {
	Bus   bool `json:"bus"`
	Store bool `json:"store"`
}

// RoomSnapshotPayload is the full visible state of a room. Each snapshot
// supersedes the previous one.
type RoomSnapshotPayload struct {
	RoomID   string           `json:"room_id"`
	State    string           `json:"state"`
	Seq      uint64           `json:"seq"`
	Messages []MessagePayload `json:"messages"`
	Degraded DegradedPayload  `json:"degraded"`
}

// MessageSendPayload sends Text to an open room. SentAt (unix millis) is
// optional; the server assigns one when zero and rejects one more than five
// minutes ahead of its clock.
type MessageSendPayload struct {
	RoomID string `json:"room_id"`
	Text   string `json:"text"`
	SentAt int64  `json:"sent_at,omitempty"`
}

// MessageAckPayload reports the outcome of a send.
type MessageAckPayload struct {
	RoomID   string `json:"room_id"`
	SenderID string `json:"sender_id"`
	SentAt   int64  `json:"sent_at"`
	Result   string `json:"result"`
	Detail   string `json:"detail,omitempty"`
}

// RoomRefPayload names a room (room_clear, room_cleared, room_close).
type RoomRefPayload struct {
	RoomID string `json:"room_id"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	RoomID  string `json:"room_id,omitempty"`
}
