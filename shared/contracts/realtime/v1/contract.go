// Package v1 defines the roomchat realtime protocol v1 contract.
//
// This package is dependency-light and shared between the server, the smoke
// tool and clients so the wire protocol stays authoritative in one place.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is the websocket subprotocol a client must request.
const Subprotocol = "roomchat.realtime.v1"

// Type constants (wire-stable).
const (
	// TypeHello identifies the user of the connection (client -> server).
	TypeHello = "hello"
	// TypeHelloAck confirms the resolved identity (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeRoomOpen opens a room for this connection (client -> server).
	TypeRoomOpen = "room_open"
	// TypeRoomSnapshot carries the full visible state of an open room (server -> client).
	TypeRoomSnapshot = "room_snapshot"
	// TypeRoomClear deletes a room's history (client -> server).
	TypeRoomClear = "room_clear"
	// TypeRoomCleared confirms a clear (server -> client).
	TypeRoomCleared = "room_cleared"
	// TypeRoomClose stops watching a room (client -> server).
	TypeRoomClose = "room_close"

	// TypeMessageSend sends text to an open room (client -> server).
	TypeMessageSend = "message_send"
	// TypeMessageAck reports the outcome of a send (server -> client).
	TypeMessageAck = "message_ack"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeHelloAck,
		TypeRoomOpen,
		TypeRoomSnapshot,
		TypeRoomClear,
		TypeRoomCleared,
		TypeRoomClose,
		TypeMessageSend,
		TypeMessageAck,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return errors.New("missing field: payload")
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

// New builds an envelope of typ around payload.
func New(typ, id string, ts time.Time, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{V: Version, Type: typ, ID: id, TS: ts, Payload: b}, nil
}
