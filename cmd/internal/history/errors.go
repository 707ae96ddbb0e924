package history

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel error kinds.
var (
	ErrUnavailable      = errors.New("history: unavailable")
	ErrPermissionDenied = errors.New("history: permission denied")
	ErrInvalidInput     = errors.New("history: invalid input")
)

// StoreError is returned by every Store operation.
type StoreError struct {
	Op     string
	Kind   error
	RoomID string
	Err    error
}

func (e StoreError) Error() string {
	s := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.RoomID != "" {
		s += fmt.Sprintf(" (room=%s)", e.RoomID)
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e StoreError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsUnavailable reports whether err is a transient store failure.
func IsUnavailable(err error) bool { return errors.Is(err, ErrUnavailable) }

// IsPermissionDenied reports whether the store refused the operation.
func IsPermissionDenied(err error) bool { return errors.Is(err, ErrPermissionDenied) }

// wrap classifies a backend error with denied deciding the permission case.
func wrap(op, roomID string, err error, denied func(error) bool) error {
	if err == nil {
		return nil
	}
	kind := ErrUnavailable
	if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) && denied != nil && denied(err) {
		kind = ErrPermissionDenied
	}
	return StoreError{Op: op, Kind: kind, RoomID: roomID, Err: err}
}
