package history

import (
	"context"
	"time"

	"roomchat/cmd/chat"
	"roomchat/cmd/internal/metrics"
)

// Instrumented times every call of the wrapped Store into
// metrics.HistoryOpDuration under the given backend label.
type Instrumented struct {
	Store
	backend string
}

// Instrument wraps st. backend labels the metric ("postgres", "redis", ...).
func Instrument(st Store, backend string) *Instrumented {
	return &Instrumented{Store: st, backend: backend}
}

func (s *Instrumented) observe(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.HistoryOpDuration.WithLabelValues(s.backend, op, result).Observe(time.Since(start).Seconds())
}

func (s *Instrumented) Append(ctx context.Context, roomID string, m chat.Message) error {
	start := time.Now()
	err := s.Store.Append(ctx, roomID, m)
	s.observe("append", start, err)
	return err
}

func (s *Instrumented) LoadAll(ctx context.Context, roomID string) ([]chat.Message, error) {
	start := time.Now()
	msgs, err := s.Store.LoadAll(ctx, roomID)
	s.observe("load_all", start, err)
	return msgs, err
}

func (s *Instrumented) Clear(ctx context.Context, roomID string) error {
	start := time.Now()
	err := s.Store.Clear(ctx, roomID)
	s.observe("clear", start, err)
	return err
}
