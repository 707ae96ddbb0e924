package room

import (
	"context"
	"fmt"
	"strings"

	"roomchat/cmd/chat"
	"roomchat/cmd/internal/bus"
	"roomchat/cmd/internal/metrics"
)

// Send publishes text to the room and appends it to history, stamping it
// with the next sentAtMillis of the session clock.
func (s *Session) Send(ctx context.Context, text string) (chat.Message, error) {
	return s.SendAt(ctx, text, 0)
}

// SendAt is Send with a caller-assigned sentAtMillis (0 assigns one). A
// sentAtMillis more than chat.MaxClockSkew ahead of now is rejected.
//
// Both legs are always attempted. The local copy appears in the stream once
// the append succeeds or the bus echo arrives, whichever is first. The
// returned error is nil, ErrDeliveryDegraded, ErrStoreDegraded or
// ErrSendFailed (as a SendError), or a rejection before any I/O. Sends are
// never retried here: resending could duplicate a message that did land on
// one leg.
func (s *Session) SendAt(ctx context.Context, text string, sentAtMillis int64) (chat.Message, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if err := s.usable(); err != nil {
		return chat.Message{}, err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		metrics.SendResults.WithLabelValues("invalid").Inc()
		return chat.Message{}, chat.ValidationError{Field: "text", Reason: "empty"}
	}

	id, err := s.cfg.Identity.Identity(ctx)
	if err != nil {
		return chat.Message{}, fmt.Errorf("room: resolve identity: %w", err)
	}

	if sentAtMillis > 0 {
		if err := s.cfg.Clock.Observe(sentAtMillis); err != nil {
			metrics.SendResults.WithLabelValues("invalid").Inc()
			return chat.Message{}, err
		}
	} else {
		sentAtMillis = s.cfg.Clock.NextMillis()
	}

	m := chat.Message{
		SenderID:          id.UserID,
		SenderDisplayName: id.DisplayName,
		Text:              text,
		SentAtMillis:      sentAtMillis,
	}
	if err := m.Validate(); err != nil {
		metrics.SendResults.WithLabelValues("invalid").Inc()
		return chat.Message{}, err
	}

	pubErr := s.cfg.Bus.Publish(ctx, s.topic, chat.Encode(m), bus.AtLeastOnce)
	if pubErr != nil && bus.IsNotConnected(pubErr) {
		s.post(busDown{})
	}

	storeErr := s.cfg.Store.Append(ctx, s.cfg.RoomID, m)
	if storeErr == nil {
		s.mbox.push(input{msg: m, src: fromLocal})
	}

	err = classifySend(m, pubErr, storeErr)
	metrics.SendResults.WithLabelValues(sendResultLabel(err)).Inc()
	if err != nil {
		s.log.Warn("room.send.degraded", "sender_id", m.SenderID, "sent_at", m.SentAtMillis, "err", err)
	}
	return m, err
}

// Clear deletes the room's history and truncates the stream to empty. The
// subscription stays; new live messages keep arriving.
func (s *Session) Clear(ctx context.Context) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if err := s.usable(); err != nil {
		return err
	}

	if err := s.cfg.Store.Clear(ctx, s.cfg.RoomID); err != nil {
		s.log.Warn("room.clear.fail", "err", err)
		return err
	}

	done := make(chan struct{})
	s.mbox.push(input{clear: done})
	select {
	case <-done:
		s.log.Info("room.cleared")
		return nil
	case <-s.ctx.Done():
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) usable() error {
	if s.ctx.Err() != nil {
		return ErrSessionClosed
	}
	if !s.isOpen() {
		return ErrRoomNotOpen
	}
	return nil
}
