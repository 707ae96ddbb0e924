package bus

import (
	"errors"
	"fmt"
)

// Sentinel error kinds.
var (
	ErrConnectTimeout  = errors.New("bus: connect timeout")
	ErrConnectRefused  = errors.New("bus: connect refused")
	ErrSubscribe       = errors.New("bus: subscribe failed")
	ErrNotConnected    = errors.New("bus: not connected")
	ErrPublishRejected = errors.New("bus: publish rejected")
)

// OpError is returned by every Client operation. Kind is one of the sentinel
// kinds; Err is the underlying cause when there is one.
type OpError struct {
	Op    string
	Kind  error
	Topic string
	Err   error
}

func (e OpError) Error() string {
	s := e.Op + ": " + e.Kind.Error()
	if e.Topic != "" {
		s += fmt.Sprintf(" (topic=%s)", e.Topic)
	}
	if e.Err != nil && !errors.Is(e.Err, e.Kind) {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsNotConnected reports whether err means the connection was down.
func IsNotConnected(err error) bool { return errors.Is(err, ErrNotConnected) }

// IsConnectError reports whether err is a connect timeout or refusal.
func IsConnectError(err error) bool {
	return errors.Is(err, ErrConnectTimeout) || errors.Is(err, ErrConnectRefused)
}
