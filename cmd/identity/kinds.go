package identity

import "errors"

// Sentinel error kinds (stable for errors.Is and for mapping to wire error codes).
var (
	ErrInvalidInput = errors.New("invalid_input")
	ErrInvalidToken = errors.New("invalid_token")
	ErrNoIdentity   = errors.New("no_identity")
	ErrConfig       = errors.New("invalid_config")
)
