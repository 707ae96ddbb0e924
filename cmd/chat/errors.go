package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrDecode marks a bus payload that could not be turned into a Message.
	ErrDecode = errors.New("chat: malformed payload")

	// ErrValidation marks caller input that was rejected before any I/O.
	ErrValidation = errors.New("chat: validation failed")
)

// ValidationError reports which field was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%v: %s", ErrValidation, e.Field)
	}
	return fmt.Sprintf("%v: %s: %s", ErrValidation, e.Field, e.Reason)
}

func (e ValidationError) Unwrap() error { return ErrValidation }

// DecodeError reports a malformed payload. Field is empty when the payload
// was not a JSON object at all.
type DecodeError struct {
	Field string
	Err   error
}

func (e DecodeError) Error() string {
	switch {
	case e.Field != "" && e.Err != nil:
		return fmt.Sprintf("%v: %s: %v", ErrDecode, e.Field, e.Err)
	case e.Field != "":
		return fmt.Sprintf("%v: %s", ErrDecode, e.Field)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", ErrDecode, e.Err)
	default:
		return ErrDecode.Error()
	}
}

func (e DecodeError) Unwrap() error { return ErrDecode }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsDecode reports whether err is a DecodeError.
func IsDecode(err error) bool { return errors.Is(err, ErrDecode) }
