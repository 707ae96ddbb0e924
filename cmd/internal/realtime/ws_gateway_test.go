package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"roomchat/cmd/internal/room"
	v1 "roomchat/shared/contracts/realtime/v1"
)

func TestEnforceOrigin(t *testing.T) {
	t.Parallel()

	g := &WSGateway{
		originRequired: true,
		allowedOrigins: []string{"http://localhost", "https://chat.example.com"},
	}

	cases := []struct {
		origin string
		ok     bool
	}{
		{origin: "", ok: false},
		{origin: "http://localhost", ok: true},
		{origin: "http://localhost:5173", ok: true},
		{origin: "https://chat.example.com", ok: true},
		{origin: "https://CHAT.example.com:8443", ok: true},
		{origin: "https://evil.example.com", ok: false},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		err := g.enforceOrigin(r)
		if (err == nil) != tc.ok {
			t.Fatalf("origin %q: expected ok=%v got err=%v", tc.origin, tc.ok, err)
		}
	}

	g.originRequired = false
	if err := g.enforceOrigin(httptest.NewRequest(http.MethodGet, "/ws", nil)); err != nil {
		t.Fatalf("origin not required: expected ok, got %v", err)
	}

	g.allowedOrigins = []string{"*"}
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "https://anything.example")
	if err := g.enforceOrigin(r); err != nil {
		t.Fatalf("wildcard: expected ok, got %v", err)
	}
}

func TestDeriveOriginPatterns(t *testing.T) {
	t.Parallel()

	got := deriveOriginPatternsFromAllowedOrigins([]string{
		"http://localhost:3000", "http://127.0.0.1", "https://b.example", "http://localhost", "*", "",
	})
	want := []string{"127.0.0.1", "b.example", "localhost"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("patterns: expected=%v got=%v", want, got)
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":               "",
		"Bearer abc":     "abc",
		"bearer   abc  ": "abc",
		"Basic dXNlcjpw": "",
		"Bearer":         "",
	}
	for header, want := range cases {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		if got := bearerToken(r); got != want {
			t.Fatalf("bearerToken(%q): expected=%q got=%q", header, want, got)
		}
	}
}

func TestSendResult(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want string
	}{
		{err: nil, want: v1.ResultOK},
		{err: room.SendError{Kind: room.ErrDeliveryDegraded, PublishErr: errors.New("down")}, want: v1.ResultDeliveryDegraded},
		{err: room.SendError{Kind: room.ErrStoreDegraded, StoreErr: errors.New("down")}, want: v1.ResultStoreDegraded},
		{err: room.SendError{Kind: room.ErrSendFailed, PublishErr: errors.New("a"), StoreErr: errors.New("b")}, want: v1.ResultFailed},
		{err: room.ErrRoomNotOpen, want: ""},
	}
	for _, tc := range cases {
		if got, _ := sendResult(tc.err); got != tc.want {
			t.Fatalf("sendResult(%v): expected=%q got=%q", tc.err, tc.want, got)
		}
	}
}

func TestClassifyReadErr(t *testing.T) {
	t.Parallel()

	var syntaxErr error
	var v any
	syntaxErr = json.Unmarshal([]byte("{"), &v)

	cases := []struct {
		err  error
		want readErrKind
	}{
		{err: context.Canceled, want: readErrCtxDone},
		{err: fmt.Errorf("read: %w", context.DeadlineExceeded), want: readErrCtxDone},
		{err: io.EOF, want: readErrConnClosed},
		{err: syntaxErr, want: readErrBadJSON},
		{err: errors.New("boom"), want: readErrUnknown},
	}
	for _, tc := range cases {
		if got := classifyReadErr(tc.err); got != tc.want {
			t.Fatalf("classifyReadErr(%v): expected=%d got=%d", tc.err, tc.want, got)
		}
	}
}
