package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"roomchat/cmd/chat"
)

func msg(sender string, at int64, text string) chat.Message {
	return chat.Message{SenderID: sender, SenderDisplayName: sender + "-name", Text: text, SentAtMillis: at}
}

// runStoreContract exercises the behaviour every backend must share.
func runStoreContract(t *testing.T, st Store, roomPrefix string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	t.Run("ordered_by_key", func(t *testing.T) {
		room := roomPrefix + "-order"
		for _, m := range []chat.Message{msg("b", 200, "hello"), msg("a", 100, "hi"), msg("c", 150, "mid")} {
			if err := st.Append(ctx, room, m); err != nil {
				t.Fatalf("Append: %v", err)
			}
		}
		got, err := st.LoadAll(ctx, room)
		if err != nil {
			t.Fatalf("LoadAll: %v", err)
		}
		want := []int64{100, 150, 200}
		if len(got) != len(want) {
			t.Fatalf("LoadAll: expected %d messages got %d", len(want), len(got))
		}
		for i, w := range want {
			if got[i].SentAtMillis != w {
				t.Fatalf("LoadAll[%d]: expected sent_at=%d got=%d", i, w, got[i].SentAtMillis)
			}
		}
		if got[0] != msg("a", 100, "hi") {
			t.Fatalf("LoadAll[0]: fields not preserved: %+v", got[0])
		}
	})

	t.Run("same_key_overwrites", func(t *testing.T) {
		room := roomPrefix + "-overwrite"
		m := msg("a", 300, "once")
		for i := 0; i < 3; i++ {
			if err := st.Append(ctx, room, m); err != nil {
				t.Fatalf("Append #%d: %v", i, err)
			}
		}
		got, err := st.LoadAll(ctx, room)
		if err != nil {
			t.Fatalf("LoadAll: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("expected re-append to be idempotent, got %d records", len(got))
		}
	})

	t.Run("clear_is_per_room", func(t *testing.T) {
		a, b := roomPrefix+"-clear-a", roomPrefix+"-clear-b"
		_ = st.Append(ctx, a, msg("u", 1, "x"))
		_ = st.Append(ctx, a, msg("u", 2, "y"))
		_ = st.Append(ctx, b, msg("u", 1, "z"))

		if err := st.Clear(ctx, a); err != nil {
			t.Fatalf("Clear: %v", err)
		}
		if got, err := st.LoadAll(ctx, a); err != nil || len(got) != 0 {
			t.Fatalf("LoadAll after Clear: expected empty, got %d err=%v", len(got), err)
		}
		if got, err := st.LoadAll(ctx, b); err != nil || len(got) != 1 {
			t.Fatalf("LoadAll other room: expected 1, got %d err=%v", len(got), err)
		}
		// Clearing an empty room is fine.
		if err := st.Clear(ctx, a); err != nil {
			t.Fatalf("Clear empty: %v", err)
		}
	})

	t.Run("empty_room", func(t *testing.T) {
		got, err := st.LoadAll(ctx, roomPrefix+"-never")
		if err != nil {
			t.Fatalf("LoadAll: %v", err)
		}
		if len(got) != 0 {
			t.Fatalf("expected empty room, got %d", len(got))
		}
	})

	t.Run("invalid_input", func(t *testing.T) {
		if err := st.Append(ctx, "", msg("a", 1, "x")); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("Append empty room: expected ErrInvalidInput got %v", err)
		}
		if err := st.Append(ctx, roomPrefix, msg("a", 1, "  ")); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("Append empty text: expected ErrInvalidInput got %v", err)
		}
		if err := st.Append(ctx, roomPrefix, msg("a", 0, "x")); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("Append no timestamp: expected ErrInvalidInput got %v", err)
		}
		if _, err := st.LoadAll(ctx, "a b"); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("LoadAll bad room: expected ErrInvalidInput got %v", err)
		}
	})
}
