package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/coder/websocket"

	"roomchat/cmd/chat"
	"roomchat/cmd/identity"
	"roomchat/cmd/internal/bus"
	"roomchat/cmd/internal/history"
	"roomchat/cmd/internal/room"
	v1 "roomchat/shared/contracts/realtime/v1"
)

// These tests use t.Setenv for gateway knobs and therefore do not run in parallel.

func TestWSGateway_OriginRejected(t *testing.T) {
	t.Setenv("ROOMCHAT_WS_ORIGIN_REQUIRED", "true")
	t.Setenv("ROOMCHAT_WS_ALLOWED_ORIGINS", "http://localhost")

	ts := startWSTestServer(t, newTestGateway(t, nil))

	_, resp, err := dialWS(t, ts.URL, "https://evil.example", "", true)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got resp=%v err=%v", resp, err)
	}
}

func TestWSGateway_SubprotocolRequired(t *testing.T) {
	t.Setenv("ROOMCHAT_WS_ORIGIN_REQUIRED", "false")

	ts := startWSTestServer(t, newTestGateway(t, nil))

	conn, resp, err := dialWS(t, ts.URL, "", "", false)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err = conn.Read(ctx)
	if got := websocket.CloseStatus(err); got != websocket.StatusProtocolError {
		t.Fatalf("close status: expected=%v got=%v (err=%v)", websocket.StatusProtocolError, got, err)
	}
}

func TestWSGateway_HelloRequiredBeforeRoomOps(t *testing.T) {
	t.Setenv("ROOMCHAT_WS_ORIGIN_REQUIRED", "false")

	ts := startWSTestServer(t, newTestGateway(t, nil))
	conn := mustDialWS(t, ts.URL, "")

	writeEnvelopeWS(t, conn, v1.TypeRoomOpen, v1.RoomOpenPayload{RoomID: "global"})
	errEnv := readUntilType(t, conn, v1.TypeError, 4)
	if code := decodeError(t, errEnv).Code; code != v1.CodeHelloRequired {
		t.Fatalf("error code: expected=%q got=%q", v1.CodeHelloRequired, code)
	}
}

func TestWSGateway_OpenSendClearFlow(t *testing.T) {
	t.Setenv("ROOMCHAT_WS_ORIGIN_REQUIRED", "false")

	ts := startWSTestServer(t, newTestGateway(t, nil))

	alice := mustDialWS(t, ts.URL, "")
	ack := hello(t, alice, v1.HelloPayload{UserID: "alice", DisplayName: "Alice"})
	if ack.UserID != "alice" || ack.DisplayName != "Alice" || len(ack.ConnectionID) != 26 {
		t.Fatalf("hello_ack: unexpected %+v", ack)
	}

	writeEnvelopeWS(t, alice, v1.TypeRoomOpen, v1.RoomOpenPayload{RoomID: "global"})
	readSnapshotUntil(t, alice, "alice live", func(p v1.RoomSnapshotPayload) bool {
		return p.RoomID == "global" && p.State == v1.StateLive
	})

	writeEnvelopeWS(t, alice, v1.TypeMessageSend, v1.MessageSendPayload{RoomID: "global", Text: "  hi there "})
	msgAck := readUntilType(t, alice, v1.TypeMessageAck, 8)
	var ap v1.MessageAckPayload
	mustDecode(t, msgAck, &ap)
	if ap.Result != v1.ResultOK || ap.SenderID != "alice" || ap.SentAt <= 0 {
		t.Fatalf("message_ack: unexpected %+v", ap)
	}
	readSnapshotUntil(t, alice, "alice sees own message", func(p v1.RoomSnapshotPayload) bool {
		return len(p.Messages) == 1
	})

	// A second user opening the room sees the message from the shared session.
	bob := mustDialWS(t, ts.URL, "")
	hello(t, bob, v1.HelloPayload{UserID: "bob", DisplayName: "Bob"})
	writeEnvelopeWS(t, bob, v1.TypeRoomOpen, v1.RoomOpenPayload{RoomID: "global"})
	snap := readSnapshotUntil(t, bob, "bob sees alice", func(p v1.RoomSnapshotPayload) bool {
		return p.State == v1.StateLive && len(p.Messages) == 1
	})
	if m := snap.Messages[0]; m.Text != "hi there" || m.SenderID != "alice" || m.DisplayName != "Alice" || m.SentAt != ap.SentAt {
		t.Fatalf("snapshot message: unexpected %+v", m)
	}

	writeEnvelopeWS(t, bob, v1.TypeRoomClear, v1.RoomRefPayload{RoomID: "global"})
	readUntilType(t, bob, v1.TypeRoomCleared, 8)
	readSnapshotUntil(t, alice, "alice sees clear", func(p v1.RoomSnapshotPayload) bool {
		return p.State == v1.StateLive && len(p.Messages) == 0
	})

	writeEnvelopeWS(t, bob, v1.TypeRoomClose, v1.RoomRefPayload{RoomID: "global"})
	writeEnvelopeWS(t, bob, v1.TypeMessageSend, v1.MessageSendPayload{RoomID: "global", Text: "after close"})
	errEnv := readUntilType(t, bob, v1.TypeError, 8)
	if code := decodeError(t, errEnv).Code; code != v1.CodeRoomNotOpen {
		t.Fatalf("send after close: expected=%q got=%q", v1.CodeRoomNotOpen, code)
	}
}

func TestWSGateway_RejectsInvalidText(t *testing.T) {
	t.Setenv("ROOMCHAT_WS_ORIGIN_REQUIRED", "false")

	ts := startWSTestServer(t, newTestGateway(t, nil))
	conn := mustDialWS(t, ts.URL, "")
	hello(t, conn, v1.HelloPayload{UserID: "alice"})

	writeEnvelopeWS(t, conn, v1.TypeRoomOpen, v1.RoomOpenPayload{RoomID: "global"})
	readSnapshotUntil(t, conn, "live", func(p v1.RoomSnapshotPayload) bool { return p.State == v1.StateLive })

	for _, text := range []string{"   ", strings.Repeat("x", maxMessageChars+1)} {
		writeEnvelopeWS(t, conn, v1.TypeMessageSend, v1.MessageSendPayload{RoomID: "global", Text: text})
		errEnv := readUntilType(t, conn, v1.TypeError, 8)
		if code := decodeError(t, errEnv).Code; code != v1.CodeInvalidText {
			t.Fatalf("text len=%d: expected=%q got=%q", len(text), v1.CodeInvalidText, code)
		}
	}
}

func TestWSGateway_RejectsFarFutureSentAt(t *testing.T) {
	t.Setenv("ROOMCHAT_WS_ORIGIN_REQUIRED", "false")

	ts := startWSTestServer(t, newTestGateway(t, nil))
	conn := mustDialWS(t, ts.URL, "")
	hello(t, conn, v1.HelloPayload{UserID: "alice"})

	writeEnvelopeWS(t, conn, v1.TypeRoomOpen, v1.RoomOpenPayload{RoomID: "global"})
	readSnapshotUntil(t, conn, "live", func(p v1.RoomSnapshotPayload) bool { return p.State == v1.StateLive })

	writeEnvelopeWS(t, conn, v1.TypeMessageSend, v1.MessageSendPayload{RoomID: "global", Text: "late", SentAt: math.MaxInt64})
	errEnv := readUntilType(t, conn, v1.TypeError, 8)
	if code := decodeError(t, errEnv).Code; code != v1.CodeBadPayload {
		t.Fatalf("far future sent_at: expected=%q got=%q", v1.CodeBadPayload, code)
	}

	writeEnvelopeWS(t, conn, v1.TypeMessageSend, v1.MessageSendPayload{RoomID: "global", Text: "now"})
	var ap v1.MessageAckPayload
	mustDecode(t, readUntilType(t, conn, v1.TypeMessageAck, 8), &ap)
	if ap.Result != v1.ResultOK || ap.SentAt <= 0 || ap.SentAt > time.Now().Add(time.Minute).UnixMilli() {
		t.Fatalf("send after rejected sent_at: result=%q sent_at=%d", ap.Result, ap.SentAt)
	}
}

func TestWSGateway_GuestAndPrivateRoom(t *testing.T) {
	t.Setenv("ROOMCHAT_WS_ORIGIN_REQUIRED", "false")

	ts := startWSTestServer(t, newTestGateway(t, nil))
	conn := mustDialWS(t, ts.URL, "")

	ack := hello(t, conn, v1.HelloPayload{DisplayName: "Visitor"})
	if !strings.HasPrefix(ack.UserID, "guest-") || ack.DisplayName != "Visitor" {
		t.Fatalf("guest hello_ack: unexpected %+v", ack)
	}

	want, err := identity.PrivateRoomID(ack.UserID, "bob")
	if err != nil {
		t.Fatalf("PrivateRoomID: %v", err)
	}
	writeEnvelopeWS(t, conn, v1.TypeRoomOpen, v1.RoomOpenPayload{PeerID: "bob"})
	readSnapshotUntil(t, conn, "private room", func(p v1.RoomSnapshotPayload) bool { return p.RoomID == want })
}

func TestWSGateway_RateLimited(t *testing.T) {
	t.Setenv("ROOMCHAT_WS_ORIGIN_REQUIRED", "false")
	t.Setenv("ROOMCHAT_WS_RATE_EVENTS", "3")
	t.Setenv("ROOMCHAT_WS_RATE_WINDOW", "1m")

	ts := startWSTestServer(t, newTestGateway(t, nil))
	conn := mustDialWS(t, ts.URL, "")

	for i := 0; i < 4; i++ {
		writeEnvelopeWS(t, conn, v1.TypeRoomClose, v1.RoomRefPayload{RoomID: "x"})
	}
	// The error envelope races the close; either proves the limit tripped.
	for i := 0; i < 8; i++ {
		env, err := readEnvelopeWS(conn)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusPolicyViolation {
				return
			}
			t.Fatalf("read: %v", err)
		}
		if env.Type == v1.TypeError && decodeError(t, env).Code == v1.CodeRateLimited {
			return
		}
	}
	t.Fatalf("did not receive rate_limited error")
}

func TestWSGateway_PasetoAuth(t *testing.T) {
	t.Setenv("ROOMCHAT_WS_ORIGIN_REQUIRED", "false")

	secret := paseto.NewV4AsymmetricSecretKey()
	issuer, err := identity.NewPasetoIssuer(secret.ExportHex(), "roomchat-test", time.Minute)
	if err != nil {
		t.Fatalf("NewPasetoIssuer: %v", err)
	}
	verifier, err := identity.NewPasetoVerifier(issuer.PublicKeyHex(), "roomchat-test", time.Second)
	if err != nil {
		t.Fatalf("NewPasetoVerifier: %v", err)
	}
	token, err := issuer.Issue(chat.Identity{UserID: "carol", DisplayName: "Carol"}, time.Now().UTC())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	ts := startWSTestServer(t, newTestGateway(t, verifier))

	t.Run("bad handshake token", func(t *testing.T) {
		_, resp, err := dialWS(t, ts.URL, "", "not-a-token", true)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401, got resp=%v err=%v", resp, err)
		}
	})

	t.Run("handshake token", func(t *testing.T) {
		conn := mustDialWS(t, ts.URL, token)
		ack := hello(t, conn, v1.HelloPayload{UserID: "spoofed"})
		if ack.UserID != "carol" || ack.DisplayName != "Carol" {
			t.Fatalf("hello_ack: expected carol, got %+v", ack)
		}
	})

	t.Run("hello token", func(t *testing.T) {
		conn := mustDialWS(t, ts.URL, "")
		ack := hello(t, conn, v1.HelloPayload{Token: token})
		if ack.UserID != "carol" {
			t.Fatalf("hello_ack: expected carol, got %+v", ack)
		}
	})

	t.Run("missing token closes", func(t *testing.T) {
		conn := mustDialWS(t, ts.URL, "")
		writeEnvelopeWS(t, conn, v1.TypeHello, v1.HelloPayload{UserID: "carol"})
		for i := 0; i < 4; i++ {
			env, err := readEnvelopeWS(conn)
			if err != nil {
				if got := websocket.CloseStatus(err); got != websocket.StatusPolicyViolation {
					t.Fatalf("close status: expected=%v got=%v (err=%v)", websocket.StatusPolicyViolation, got, err)
				}
				return
			}
			if env.Type == v1.TypeHelloAck {
				t.Fatalf("hello without token was acknowledged")
			}
			if env.Type == v1.TypeError {
				if code := decodeError(t, env).Code; code != v1.CodeHelloFailed {
					t.Fatalf("error code: expected=%q got=%q", v1.CodeHelloFailed, code)
				}
			}
		}
		t.Fatalf("connection not closed after failed hello")
	})
}

// ---- helpers ----

func newTestGateway(t *testing.T, verifier identity.Verifier) *WSGateway {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	broker := bus.NewMemoryBroker()
	reg := room.NewRegistry(room.Config{
		Namespace: chat.DefaultNamespace,
		Bus:       broker.NewClient(),
		Store:     history.NewInMemoryStore(),
		Identity:  identity.ContextProvider{},
		RetryMin:  5 * time.Millisecond,
		RetryMax:  50 * time.Millisecond,
		Logger:    log,
	})
	t.Cleanup(func() { _ = reg.Shutdown(context.Background()) })

	return NewWSGateway(log, reg, verifier)
}

func startWSTestServer(t *testing.T, gw *WSGateway) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func dialWS(t *testing.T, baseHTTPURL, origin, bearerToken string, subprotocol bool) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	u, err := url.Parse(baseHTTPURL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/ws"

	h := http.Header{}
	if origin != "" {
		h.Set("Origin", origin)
	}
	if bearerToken != "" {
		h.Set("Authorization", "Bearer "+bearerToken)
	}

	opts := &websocket.DialOptions{HTTPHeader: h}
	if subprotocol {
		opts.Subprotocols = []string{wsSubprotocolV1}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return websocket.Dial(ctx, u.String(), opts)
}

func mustDialWS(t *testing.T, baseHTTPURL, bearerToken string) *websocket.Conn {
	t.Helper()
	conn, resp, err := dialWS(t, baseHTTPURL, "", bearerToken, true)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") })
	return conn
}

func writeEnvelopeWS(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	env, err := v1.New(typ, NewEnvelopeID(time.Now().UTC()), time.Now().UTC(), payload)
	if err != nil {
		t.Fatalf("v1.New: %v", err)
	}
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("conn.Write: %v", err)
	}
}

func readEnvelopeWS(conn *websocket.Conn) (v1.Envelope, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, b, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	var env v1.Envelope
	err = json.Unmarshal(b, &env)
	return env, err
}

func readUntilType(t *testing.T, conn *websocket.Conn, typ string, maxReads int) v1.Envelope {
	t.Helper()
	for i := 0; i < maxReads; i++ {
		env, err := readEnvelopeWS(conn)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if env.Type == typ {
			return env
		}
	}
	t.Fatalf("did not receive envelope type %q", typ)
	return v1.Envelope{}
}

func readSnapshotUntil(t *testing.T, conn *websocket.Conn, what string, pred func(v1.RoomSnapshotPayload) bool) v1.RoomSnapshotPayload {
	t.Helper()
	var last v1.RoomSnapshotPayload
	for i := 0; i < 32; i++ {
		env, err := readEnvelopeWS(conn)
		if err != nil {
			t.Fatalf("%s: read: %v", what, err)
		}
		if env.Type != v1.TypeRoomSnapshot {
			continue
		}
		mustDecode(t, env, &last)
		if pred(last) {
			return last
		}
	}
	t.Fatalf("%s: no matching snapshot; last=%+v", what, last)
	return last
}

func hello(t *testing.T, conn *websocket.Conn, p v1.HelloPayload) v1.HelloAckPayload {
	t.Helper()
	writeEnvelopeWS(t, conn, v1.TypeHello, p)
	var ack v1.HelloAckPayload
	mustDecode(t, readUntilType(t, conn, v1.TypeHelloAck, 4), &ack)
	return ack
}

func decodeError(t *testing.T, env v1.Envelope) v1.ErrorPayload {
	t.Helper()
	var p v1.ErrorPayload
	mustDecode(t, env, &p)
	return p
}

func mustDecode(t *testing.T, env v1.Envelope, v any) {
	t.Helper()
	if err := env.Decode(v); err != nil {
		t.Fatalf("decode %s: %v", env.Type, err)
	}
}
