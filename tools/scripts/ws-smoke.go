// Package main provides a CI-friendly WebSocket smoke test for the roomchat
// realtime gateway.
//
// It validates:
//   - handshake + subprotocol selection
//   - hello/ack identity establishment for two users
//   - room_open -> live snapshot on both connections
//   - message_send -> ack ok
//   - the message shows up exactly once in both users' snapshots
//   - room_clear -> room_cleared and an empty snapshot for the other user
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	v1 "roomchat/shared/contracts/realtime/v1"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	name   string
	conn   *websocket.Conn
	userID string
	seq    int

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		roomID  = flag.String("room", "smoke-"+strings.ToLower(fmt.Sprintf("%x", time.Now().UnixNano())), "Room to open")
		text    = flag.String("text", "hello roomchat 👋", "Message text to send")
		tokenA  = flag.String("token-a", "", "PASETO token for user A (paseto auth mode)")
		tokenB  = flag.String("token-b", "", "PASETO token for user B (paseto auth mode)")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	a := mustConnect(root, "A", *wsURL, *origin, v1.HelloPayload{Token: *tokenA, UserID: "smoke-a", DisplayName: "Smoke A"}, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *wsURL, *origin, v1.HelloPayload{Token: *tokenB, UserID: "smoke-b", DisplayName: "Smoke B"}, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q room=%q\n", a.userID, b.userID, *origin, *roomID)
	}

	mustOpenLive(root, a, *roomID, *timeout)
	mustOpenLive(root, b, *roomID, *timeout)

	sentAt := mustSendAndAssertAck(root, a, *roomID, *text, *timeout)

	hasMessage := func(p v1.RoomSnapshotPayload) bool {
		return countMessage(p, a.userID, sentAt, *text) > 0
	}
	for _, c := range []*smokeClient{a, b} {
		snap := c.mustReadSnapshotUntil(root, *roomID, *timeout, hasMessage)
		if n := countMessage(snap, a.userID, sentAt, *text); n != 1 {
			fatalf("message shown %d times (%s), want once", n, c.name)
		}
		if *verbose {
			fmt.Printf("%s: snapshot seq=%d messages=%d\n", c.name, snap.Seq, len(snap.Messages))
		}
	}

	mustClear(root, a, *roomID, *timeout)
	b.mustReadSnapshotUntil(root, *roomID, *timeout, func(p v1.RoomSnapshotPayload) bool {
		return p.State == v1.StateLive && len(p.Messages) == 0
	})

	mustWriteWithTimeout(root, a.conn, a.envelope(v1.TypeRoomClose, v1.RoomRefPayload{RoomID: *roomID}), *timeout)
	mustWriteWithTimeout(root, b.conn, b.envelope(v1.TypeRoomClose, v1.RoomRefPayload{RoomID: *roomID}), *timeout)

	fmt.Printf("OK: A=%s B=%s room_id=%s sent_at=%d\n", a.userID, b.userID, *roomID, sentAt)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin string, hello v1.HelloPayload, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, v1.Subprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	if hello.Token != "" {
		hello.UserID = ""
	}
	mustWriteWithTimeout(parent, conn, c.envelope(v1.TypeHello, hello), stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout, nil)

	var p v1.HelloAckPayload
	if err := ack.Decode(&p); err != nil {
		fatalf("decode hello_ack payload (%s): %v", name, err)
	}
	if strings.TrimSpace(p.ConnectionID) == "" || strings.TrimSpace(p.UserID) == "" {
		fatalf("hello_ack missing connection_id or user_id (%s)", name)
	}
	c.userID = p.UserID

	return c
}

func (c *smokeClient) envelope(typ string, payload any) v1.Envelope {
	c.seq++
	env, err := v1.New(typ, fmt.Sprintf("%s-%s-%d", c.name, typ, c.seq), time.Now().UTC(), payload)
	if err != nil {
		fatalf("build %s envelope (%s): %v", typ, c.name, err)
	}
	return env
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustOpenLive(parent context.Context, c *smokeClient, roomID string, stepTimeout time.Duration) {
	mustWriteWithTimeout(parent, c.conn, c.envelope(v1.TypeRoomOpen, v1.RoomOpenPayload{RoomID: roomID}), stepTimeout)

	snap := c.mustReadSnapshotUntil(parent, roomID, stepTimeout, func(p v1.RoomSnapshotPayload) bool {
		return p.State == v1.StateLive
	})
	if snap.Degraded.Bus || snap.Degraded.Store {
		fatalf("room %q degraded (%s): bus=%v store=%v", roomID, c.name, snap.Degraded.Bus, snap.Degraded.Store)
	}
}

func mustSendAndAssertAck(parent context.Context, c *smokeClient, roomID, text string, stepTimeout time.Duration) int64 {
	env := c.envelope(v1.TypeMessageSend, v1.MessageSendPayload{RoomID: roomID, Text: text})
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	skip := map[string]struct{}{v1.TypeRoomSnapshot: {}}
	ack := c.mustReadUntilType(parent, v1.TypeMessageAck, stepTimeout, skip)

	var p v1.MessageAckPayload
	if err := ack.Decode(&p); err != nil {
		fatalf("decode message_ack payload (%s): %v", c.name, err)
	}
	if p.RoomID != roomID {
		fatalf("ack room_id mismatch (%s): got=%q want=%q", c.name, p.RoomID, roomID)
	}
	if p.Result != v1.ResultOK {
		fatalf("ack result (%s): got=%q detail=%q", c.name, p.Result, p.Detail)
	}
	if p.SenderID != c.userID {
		fatalf("ack sender_id mismatch (%s): got=%q want=%q", c.name, p.SenderID, c.userID)
	}
	if p.SentAt <= 0 {
		fatalf("ack invalid sent_at (%s): %d", c.name, p.SentAt)
	}
	return p.SentAt
}

func mustClear(parent context.Context, c *smokeClient, roomID string, stepTimeout time.Duration) {
	mustWriteWithTimeout(parent, c.conn, c.envelope(v1.TypeRoomClear, v1.RoomRefPayload{RoomID: roomID}), stepTimeout)

	skip := map[string]struct{}{v1.TypeRoomSnapshot: {}}
	env := c.mustReadUntilType(parent, v1.TypeRoomCleared, stepTimeout, skip)

	var p v1.RoomRefPayload
	if err := env.Decode(&p); err != nil {
		fatalf("decode room_cleared payload (%s): %v", c.name, err)
	}
	if p.RoomID != roomID {
		fatalf("room_cleared room_id mismatch (%s): got=%q want=%q", c.name, p.RoomID, roomID)
	}
}

func countMessage(p v1.RoomSnapshotPayload, senderID string, sentAt int64, text string) int {
	n := 0
	for _, m := range p.Messages {
		if m.SenderID == senderID && m.SentAt == sentAt && m.Text == text {
			n++
		}
	}
	return n
}

// mustReadSnapshotUntil skips snapshots of roomID until done accepts one.
func (c *smokeClient) mustReadSnapshotUntil(parent context.Context, roomID string, stepTimeout time.Duration, done func(v1.RoomSnapshotPayload) bool) v1.RoomSnapshotPayload {
	deadline := time.Now().Add(stepTimeout)
	skip := map[string]struct{}{v1.TypeMessageAck: {}, v1.TypeRoomCleared: {}}

	for {
		left := time.Until(deadline)
		if left <= 0 {
			fatalf("timeout waiting for snapshot of %q (%s)", roomID, c.name)
		}
		env := c.mustReadUntilType(parent, v1.TypeRoomSnapshot, left, skip)

		var p v1.RoomSnapshotPayload
		if err := env.Decode(&p); err != nil {
			fatalf("decode room_snapshot payload (%s): %v", c.name, err)
		}
		if p.RoomID == roomID && done(p) {
			return p
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = env.Decode(&ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if skipTypes != nil {
				if _, ok := skipTypes[env.Type]; ok {
					continue
				}
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
