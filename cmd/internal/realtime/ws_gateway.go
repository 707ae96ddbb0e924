package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"roomchat/cmd/chat"
	"roomchat/cmd/identity"
	"roomchat/cmd/internal/room"
	v1 "roomchat/shared/contracts/realtime/v1"
)

const (
	wsSubprotocolV1 = v1.Subprotocol

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Origin is required by default and only localhost is allowed.
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// Rooms hands out shared room sessions. *room.Registry implements it.
type Rooms interface {
	Acquire(ctx context.Context, roomID string) (*room.Session, error)
	Release(roomID string)
}

// WSGateway is the WebSocket entrypoint for room chat.
//
// It enforces origin policy, subprotocol selection, rate limits and
// heartbeats, resolves the connection's identity on hello, and maps
// room_open/message_send/room_clear/room_close onto shared room sessions.
// Every change of an open room is pushed as a full room_snapshot.
type WSGateway struct {
	log      *slog.Logger
	rooms    Rooms
	verifier identity.Verifier

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept, which authorizes cross-origin requests
	// only through OriginPatterns.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration

	maxRooms    int
	openTimeout time.Duration
}

// NewWSGateway constructs a gateway with secure defaults. A nil verifier
// selects dev identity: hello's user_id/display_name are trusted as sent.
func NewWSGateway(log *slog.Logger, rooms Rooms, verifier identity.Verifier) *WSGateway {
	if log == nil {
		log = slog.Default()
	}

	g := &WSGateway{log: log, rooms: rooms, verifier: verifier}

	// InsecureSkipVerify disables the library's origin check. Dev only.
	g.devInsecure = envBoolWS("ROOMCHAT_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("ROOMCHAT_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("ROOMCHAT_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = envDurationWS("ROOMCHAT_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("ROOMCHAT_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("ROOMCHAT_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("ROOMCHAT_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("ROOMCHAT_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("ROOMCHAT_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("ROOMCHAT_WS_RATE_WINDOW", rateLimitWindow)

	g.maxRooms = envIntWS("ROOMCHAT_WS_MAX_ROOMS", maxRoomsPerConn)
	g.openTimeout = envDurationWS("ROOMCHAT_WS_OPEN_TIMEOUT", roomOpenTimeout)

	return g
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the realtime loop.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	// A bearer token on the handshake is verified before upgrading so a bad
	// token fails with 401 instead of a websocket close.
	var preAuth *chat.Identity
	if tok := bearerToken(r); tok != "" && g.verifier != nil {
		id, err := g.verifier.Verify(tok, time.Now().UTC())
		if err != nil {
			g.log.Info("ws.reject.auth", "err", err, "remote", r.RemoteAddr)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		preAuth = &id
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{wsSubprotocolV1},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	connID, err := NewConnectionID(time.Now().UTC())
	if err != nil {
		g.log.Error("ws.connection_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	client := NewClient(connID, g.sendQueueSize)
	log := g.log.With("connection_id", connID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close client.Send.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
					log.Info("ws.write.fail", "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					log.Info("ws.ping.fail", "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	log.Info("ws.connect", "remote", r.RemoteAddr)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, client, v1.CodeBadJSON, "invalid JSON", "")
				continue readLoop
			default:
				log.Info("ws.read.fail", "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		if !rl.Allow(time.Now().UTC()) {
			g.trySendError(ctx, client, v1.CodeRateLimited, "too many events", "")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, v1.CodeBadEnvelope, err.Error(), "")
			continue readLoop
		}

		if env.Type != v1.TypeHello && !client.identified {
			g.trySendError(ctx, client, v1.CodeHelloRequired, "hello first", "")
			continue readLoop
		}

		switch env.Type {
		case v1.TypeHello:
			if err := g.onHello(ctx, client, env, preAuth); err != nil {
				g.trySendError(ctx, client, v1.CodeHelloFailed, err.Error(), "")
				if !client.identified {
					shutdown(websocket.StatusPolicyViolation, "hello failed")
					break readLoop
				}
			}

		case v1.TypeRoomOpen:
			g.onRoomOpen(ctx, client, env)

		case v1.TypeMessageSend:
			g.onMessageSend(ctx, client, env)

		case v1.TypeRoomClear:
			g.onRoomClear(ctx, client, env)

		case v1.TypeRoomClose:
			var p v1.RoomRefPayload
			if err := env.Decode(&p); err != nil {
				g.trySendError(ctx, client, v1.CodeBadPayload, err.Error(), "")
				continue readLoop
			}
			if !g.closeRoom(client, p.RoomID) {
				g.trySendError(ctx, client, v1.CodeRoomNotOpen, "room not open", p.RoomID)
			}

		default:
			g.trySendError(ctx, client, v1.CodeUnsupported, fmt.Sprintf("unsupported type: %s", env.Type), "")
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	for roomID := range client.rooms {
		g.closeRoom(client, roomID)
	}
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
	log.Info("ws.disconnect")
}

// ---- handlers ----

func (g *WSGateway) onHello(ctx context.Context, client *Client, env v1.Envelope, preAuth *chat.Identity) error {
	if client.identified {
		return errors.New("already identified")
	}

	var p v1.HelloPayload
	if err := env.Decode(&p); err != nil {
		return err
	}

	id, err := g.resolveIdentity(p, preAuth)
	if err != nil {
		return err
	}

	ack, err := v1.New(v1.TypeHelloAck, NewEnvelopeID(time.Now().UTC()), time.Now().UTC(), v1.HelloAckPayload{
		ConnectionID: client.ConnectionID,
		UserID:       id.UserID,
		DisplayName:  id.DisplayName,
	})
	if err != nil {
		return err
	}
	if !g.enqueue(ctx, client, ack) {
		return errors.New("backpressure: hello_ack")
	}

	client.identity = id
	client.identified = true
	g.log.Info("ws.hello", "connection_id", client.ConnectionID, "user_id", id.UserID)
	return nil
}

func (g *WSGateway) resolveIdentity(p v1.HelloPayload, preAuth *chat.Identity) (chat.Identity, error) {
	now := time.Now().UTC()

	if g.verifier != nil {
		if preAuth != nil {
			return *preAuth, nil
		}
		if strings.TrimSpace(p.Token) == "" {
			return chat.Identity{}, errors.New("token required")
		}
		id, err := g.verifier.Verify(p.Token, now)
		if err != nil {
			return chat.Identity{}, errors.New("invalid token")
		}
		return id, nil
	}

	if identity.NormalizeUserID(p.UserID) == "" {
		return identity.NewGuest(p.DisplayName, now)
	}
	return chat.Identity{
		UserID:      identity.NormalizeUserID(p.UserID),
		DisplayName: identity.NormalizeDisplayName(p.DisplayName),
	}, nil
}

func (g *WSGateway) onRoomOpen(ctx context.Context, client *Client, env v1.Envelope) {
	var p v1.RoomOpenPayload
	if err := env.Decode(&p); err != nil {
		g.trySendError(ctx, client, v1.CodeBadPayload, err.Error(), "")
		return
	}

	roomID := strings.TrimSpace(p.RoomID)
	if roomID == "" && strings.TrimSpace(p.PeerID) != "" {
		id, err := identity.PrivateRoomID(client.identity.UserID, p.PeerID)
		if err != nil {
			g.trySendError(ctx, client, v1.CodeOpenFailed, err.Error(), "")
			return
		}
		roomID = id
	}
	if roomID == "" {
		roomID = chat.SharedRoomID
	}

	if w, ok := client.rooms[roomID]; ok {
		// Already open: resend the current state.
		g.enqueueSnapshot(ctx, client, w.session.Snapshot())
		return
	}
	if len(client.rooms) >= g.maxRooms {
		g.trySendError(ctx, client, v1.CodeOpenFailed, fmt.Sprintf("too many open rooms: max=%d", g.maxRooms), roomID)
		return
	}

	openCtx, cancel := context.WithTimeout(ctx, g.openTimeout)
	s, err := g.rooms.Acquire(openCtx, roomID)
	cancel()
	if err != nil {
		g.log.Info("ws.room.open.fail", "connection_id", client.ConnectionID, "room_id", roomID, "err", err)
		g.trySendError(ctx, client, v1.CodeOpenFailed, err.Error(), roomID)
		return
	}

	snaps, stopWatch := s.Watch()
	w := &roomWatch{session: s, cancel: stopWatch, stopped: make(chan struct{})}
	client.rooms[roomID] = w

	go func() {
		defer close(w.stopped)
		for snap := range snaps {
			if !g.enqueueSnapshot(ctx, client, snap) {
				return
			}
		}
	}()
}

func (g *WSGateway) onMessageSend(ctx context.Context, client *Client, env v1.Envelope) {
	var p v1.MessageSendPayload
	if err := env.Decode(&p); err != nil {
		g.trySendError(ctx, client, v1.CodeBadPayload, err.Error(), "")
		return
	}

	w, ok := client.rooms[p.RoomID]
	if !ok {
		g.trySendError(ctx, client, v1.CodeRoomNotOpen, "open the room first", p.RoomID)
		return
	}

	text := strings.TrimSpace(p.Text)
	if text == "" {
		g.trySendError(ctx, client, v1.CodeInvalidText, "empty text", p.RoomID)
		return
	}
	if len([]rune(text)) > maxMessageChars {
		g.trySendError(ctx, client, v1.CodeInvalidText, fmt.Sprintf("message too long: max=%d chars", maxMessageChars), p.RoomID)
		return
	}
	if p.SentAt < 0 {
		g.trySendError(ctx, client, v1.CodeBadPayload, "sent_at must be positive", p.RoomID)
		return
	}
	if p.SentAt > time.Now().Add(chat.MaxClockSkew).UnixMilli() {
		g.trySendError(ctx, client, v1.CodeBadPayload, "sent_at is too far in the future", p.RoomID)
		return
	}

	sendCtx := identity.WithIdentity(ctx, client.identity)
	m, err := w.session.SendAt(sendCtx, text, p.SentAt)

	result, detail := sendResult(err)
	switch {
	case errors.Is(err, room.ErrSessionClosed), errors.Is(err, room.ErrRoomNotOpen):
		g.trySendError(ctx, client, v1.CodeRoomNotOpen, err.Error(), p.RoomID)
		return
	case chat.IsValidation(err):
		g.trySendError(ctx, client, v1.CodeInvalidText, err.Error(), p.RoomID)
		return
	case result == "":
		g.trySendError(ctx, client, v1.CodeBadPayload, err.Error(), p.RoomID)
		return
	}

	ack, aerr := v1.New(v1.TypeMessageAck, NewEnvelopeID(time.Now().UTC()), time.Now().UTC(), v1.MessageAckPayload{
		RoomID:   p.RoomID,
		SenderID: m.SenderID,
		SentAt:   m.SentAtMillis,
		Result:   result,
		Detail:   detail,
	})
	if aerr != nil {
		return
	}
	_ = g.enqueue(ctx, client, ack)
}

// sendResult maps a Send error onto the ack result. An empty result means
// the send was rejected before any I/O.
func sendResult(err error) (result, detail string) {
	switch {
	case err == nil:
		return v1.ResultOK, ""
	case errors.Is(err, room.ErrDeliveryDegraded):
		return v1.ResultDeliveryDegraded, err.Error()
	case errors.Is(err, room.ErrStoreDegraded):
		return v1.ResultStoreDegraded, err.Error()
	case errors.Is(err, room.ErrSendFailed):
		return v1.ResultFailed, err.Error()
	default:
		return "", ""
	}
}

func (g *WSGateway) onRoomClear(ctx context.Context, client *Client, env v1.Envelope) {
	var p v1.RoomRefPayload
	if err := env.Decode(&p); err != nil {
		g.trySendError(ctx, client, v1.CodeBadPayload, err.Error(), "")
		return
	}

	w, ok := client.rooms[p.RoomID]
	if !ok {
		g.trySendError(ctx, client, v1.CodeRoomNotOpen, "open the room first", p.RoomID)
		return
	}

	if err := w.session.Clear(ctx); err != nil {
		g.log.Info("ws.room.clear.fail", "connection_id", client.ConnectionID, "room_id", p.RoomID, "err", err)
		g.trySendError(ctx, client, v1.CodeClearFailed, err.Error(), p.RoomID)
		return
	}

	env, err := v1.New(v1.TypeRoomCleared, NewEnvelopeID(time.Now().UTC()), time.Now().UTC(), v1.RoomRefPayload{RoomID: p.RoomID})
	if err != nil {
		return
	}
	_ = g.enqueue(ctx, client, env)
}

// closeRoom stops forwarding roomID and releases the session. It reports
// whether the room was open on this connection.
func (g *WSGateway) closeRoom(client *Client, roomID string) bool {
	w, ok := client.rooms[roomID]
	if !ok {
		return false
	}
	delete(client.rooms, roomID)

	w.cancel()
	<-w.stopped
	g.rooms.Release(roomID)
	return true
}

// ---- send helpers ----

func snapshotPayload(snap room.Snapshot) v1.RoomSnapshotPayload {
	msgs := make([]v1.MessagePayload, 0, len(snap.Messages))
	for _, m := range snap.Messages {
		msgs = append(msgs, v1.MessagePayload{
			SenderID:    m.SenderID,
			DisplayName: m.SenderDisplayName,
			Text:        m.Text,
			SentAt:      m.SentAtMillis,
		})
	}
	return v1.RoomSnapshotPayload{
		RoomID:   snap.RoomID,
		State:    snap.State.String(),
		Seq:      snap.Seq,
		Messages: msgs,
		Degraded: v1.DegradedPayload{Bus: snap.Degraded.Bus, Store: snap.Degraded.Store},
	}
}

// enqueueSnapshot waits for queue space: a snapshot supersedes everything
// before it, so only the latest one per room is ever pending.
func (g *WSGateway) enqueueSnapshot(ctx context.Context, client *Client, snap room.Snapshot) bool {
	now := time.Now().UTC()
	env, err := v1.New(v1.TypeRoomSnapshot, NewEnvelopeID(now), now, snapshotPayload(snap))
	if err != nil {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	}
}

func (g *WSGateway) trySendError(ctx context.Context, client *Client, code, msg, roomID string) {
	now := time.Now().UTC()
	env, err := v1.New(v1.TypeError, NewEnvelopeID(now), now, v1.ErrorPayload{Code: code, Message: msg, RoomID: roomID})
	if err != nil {
		return
	}
	_ = g.enqueue(ctx, client, env)
}

func (g *WSGateway) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

// ---- envelope IO ----

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- auth ----

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatternsFromAllowedOrigins returns the sorted, deduplicated
// hosts of the allowlist; websocket.Accept matches them against the Origin host.
func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
