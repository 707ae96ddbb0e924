package chat

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"
)

func TestMessage_Validate(t *testing.T) {
	t.Parallel()

	ok := Message{SenderID: "u1", Text: "hi", SentAtMillis: 1}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate(ok): %v", err)
	}

	cases := []struct {
		m     Message
		field string
	}{
		{m: Message{Text: "hi", SentAtMillis: 1}, field: "sender_id"},
		{m: Message{SenderID: "u1", Text: " \n", SentAtMillis: 1}, field: "text"},
		{m: Message{SenderID: "u1", Text: "hi"}, field: "sent_at"},
	}
	for _, tc := range cases {
		err := tc.m.Validate()
		var ve ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("Validate(%+v): expected ValidationError, got %v", tc.m, err)
		}
		if ve.Field != tc.field {
			t.Fatalf("Validate(%+v): field=%q want=%q", tc.m, ve.Field, tc.field)
		}
		if !IsValidation(err) {
			t.Fatalf("Validate(%+v): expected IsValidation", tc.m)
		}
	}
}

func TestMessage_KeyAndStoreKey(t *testing.T) {
	t.Parallel()

	m := Message{SenderID: "u1", Text: "hi", SentAtMillis: 1700000000123}
	if m.Key() != (DedupKey{SenderID: "u1", SentAtMillis: 1700000000123}) {
		t.Fatalf("unexpected key: %+v", m.Key())
	}
	if m.StoreKey() != "1700000000123" {
		t.Fatalf("StoreKey()=%q", m.StoreKey())
	}
	if !m.SentAt().Equal(time.UnixMilli(1700000000123)) {
		t.Fatalf("SentAt()=%v", m.SentAt())
	}
}

func TestTopic_RoundTrip(t *testing.T) {
	t.Parallel()

	topic := Topic("kdramas", SharedRoomID)
	if topic != "kdramas/chat/global" {
		t.Fatalf("Topic()=%q", topic)
	}
	id, ok := RoomFromTopic("kdramas", topic)
	if !ok || id != SharedRoomID {
		t.Fatalf("RoomFromTopic()=%q,%v", id, ok)
	}
	if _, ok := RoomFromTopic("kdramas", "other/chat/global"); ok {
		t.Fatalf("expected foreign namespace to be rejected")
	}
}

func TestValidateRoomID(t *testing.T) {
	t.Parallel()

	for _, id := range []string{"global", "u1__u2", "room-7"} {
		if err := ValidateRoomID(id); err != nil {
			t.Fatalf("ValidateRoomID(%q): %v", id, err)
		}
	}
	for _, id := range []string{"", "  ", "a b", "a*", "a>", "a/b", string(make([]byte, 200))} {
		if err := ValidateRoomID(id); !IsValidation(err) {
			t.Fatalf("ValidateRoomID(%q): expected validation error, got %v", id, err)
		}
	}
}

func TestClock_StrictlyIncreasing(t *testing.T) {
	t.Parallel()

	fixed := time.UnixMilli(1000)
	c := NewClock(func() time.Time { return fixed })

	if got := c.NextMillis(); got != 1000 {
		t.Fatalf("first NextMillis()=%d want=1000", got)
	}
	if got := c.NextMillis(); got != 1001 {
		t.Fatalf("second NextMillis()=%d want=1001", got)
	}

	if err := c.Observe(5000); err != nil {
		t.Fatalf("Observe(5000): %v", err)
	}
	if got := c.NextMillis(); got != 5001 {
		t.Fatalf("NextMillis() after Observe=%d want=5001", got)
	}
}

func TestClock_ObserveRejectsFarFuture(t *testing.T) {
	t.Parallel()

	fixed := time.UnixMilli(1000)
	c := NewClock(func() time.Time { return fixed })

	for _, ms := range []int64{math.MaxInt64, fixed.Add(MaxClockSkew).UnixMilli() + 1} {
		err := c.Observe(ms)
		var ve ValidationError
		if !errors.As(err, &ve) || ve.Field != "sent_at" {
			t.Fatalf("Observe(%d): expected sent_at ValidationError, got %v", ms, err)
		}
	}
	if got := c.NextMillis(); got != 1000 {
		t.Fatalf("NextMillis() after rejected Observe=%d want=1000", got)
	}

	edge := fixed.Add(MaxClockSkew).UnixMilli()
	if err := c.Observe(edge); err != nil {
		t.Fatalf("Observe(now+skew): %v", err)
	}
	if got := c.NextMillis(); got != edge+1 {
		t.Fatalf("NextMillis() after Observe(now+skew)=%d want=%d", got, edge+1)
	}
}

func TestClock_ConcurrentUnique(t *testing.T) {
	t.Parallel()

	c := NewClock(nil)

	const n = 200
	out := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out <- c.NextMillis()
		}()
	}
	wg.Wait()
	close(out)

	seen := make(map[int64]struct{}, n)
	for v := range out {
		if _, dup := seen[v]; dup {
			t.Fatalf("duplicate timestamp %d", v)
		}
		seen[v] = struct{}{}
	}
}
