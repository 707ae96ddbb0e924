package room

import (
	"context"
	"errors"
	"sync"

	"roomchat/cmd/chat"
	"roomchat/cmd/internal/metrics"
)

// ErrRegistryClosed is returned by Acquire after Shutdown.
var ErrRegistryClosed = errors.New("room: registry closed")

type entry struct {
	s    *Session
	refs int
}

// Registry holds at most one active Session per room. Sessions are shared by
// reference count and closed when the last holder releases them.
type Registry struct {
	base Config

	mu      sync.Mutex
	entries map[string]*entry
	// closing holds rooms whose previous session is still tearing down.
	closing map[string]chan struct{}
	closed  bool
	wg      sync.WaitGroup
}

// NewRegistry returns a registry creating sessions from base; RoomID is
// filled in per room.
func NewRegistry(base Config) *Registry {
	if base.Clock == nil {
		base.Clock = chat.NewClock(nil)
	}
	return &Registry{
		base:    base,
		entries: make(map[string]*entry),
		closing: make(map[string]chan struct{}),
	}
}

// Acquire returns the open session of roomID, creating and opening one when
// none exists. If a previous session of the room is still tearing down,
// Acquire waits for it so the bus never sees the old unsubscribe after the
// new subscribe.
func (r *Registry) Acquire(ctx context.Context, roomID string) (*Session, error) {
	if err := chat.ValidateRoomID(roomID); err != nil {
		return nil, err
	}

	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, ErrRegistryClosed
		}

		if e, ok := r.entries[roomID]; ok {
			if e.s.ctx.Err() == nil {
				e.refs++
				r.mu.Unlock()
				return e.s, nil
			}
			// Closed directly by a holder; wait for its unsubscribe.
			r.mu.Unlock()
			select {
			case <-e.s.Closed():
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			r.mu.Lock()
			if cur, ok := r.entries[roomID]; ok && cur == e {
				delete(r.entries, roomID)
			}
			r.mu.Unlock()
			continue
		}

		if wait, ok := r.closing[roomID]; ok {
			r.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		cfg := r.base
		cfg.RoomID = roomID
		s, err := NewSession(cfg)
		if err != nil {
			r.mu.Unlock()
			return nil, err
		}
		if err := s.Open(); err != nil {
			r.mu.Unlock()
			return nil, err
		}
		r.entries[roomID] = &entry{s: s, refs: 1}
		r.mu.Unlock()

		metrics.SessionOpens.Inc()
		return s, nil
	}
}

// Release drops one reference to roomID. The last release closes the session
// in the background.
func (r *Registry) Release(roomID string) {
	r.mu.Lock()
	e, ok := r.entries[roomID]
	if !ok {
		r.mu.Unlock()
		return
	}
	e.refs--
	if e.refs > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.entries, roomID)
	done := make(chan struct{})
	r.closing[roomID] = done
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		e.s.Close()

		r.mu.Lock()
		delete(r.closing, roomID)
		r.mu.Unlock()
		close(done)
	}()
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Shutdown closes every session and waits for pending teardowns.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.entries))
	for id, e := range r.entries {
		sessions = append(sessions, e.s)
		delete(r.entries, id)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		r.wg.Add(1)
		go func(s *Session) {
			defer r.wg.Done()
			s.Close()
		}(s)
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
