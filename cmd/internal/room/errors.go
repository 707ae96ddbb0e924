package room

import (
	"errors"
	"fmt"

	"roomchat/cmd/chat"
)

var (
	// ErrSessionClosed is returned by operations on a closed session or registry.
	ErrSessionClosed = errors.New("room: session closed")
	// ErrRoomNotOpen is returned before Open has been called.
	ErrRoomNotOpen = errors.New("room: not open")

	// Send outcomes; see SendError.
	ErrDeliveryDegraded = errors.New("room: delivered to history only")
	ErrStoreDegraded    = errors.New("room: delivered live only")
	ErrSendFailed       = errors.New("room: send failed")
)

// SendError reports a send where at least one leg failed. Kind is one of
// ErrDeliveryDegraded, ErrStoreDegraded or ErrSendFailed.
type SendError struct {
	Message    chat.Message
	Kind       error
	PublishErr error
	StoreErr   error
}

func (e SendError) Error() string {
	switch {
	case e.PublishErr != nil && e.StoreErr != nil:
		return fmt.Sprintf("%v: publish: %v; store: %v", e.Kind, e.PublishErr, e.StoreErr)
	case e.PublishErr != nil:
		return fmt.Sprintf("%v: publish: %v", e.Kind, e.PublishErr)
	default:
		return fmt.Sprintf("%v: store: %v", e.Kind, e.StoreErr)
	}
}

func (e SendError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.PublishErr != nil {
		errs = append(errs, e.PublishErr)
	}
	if e.StoreErr != nil {
		errs = append(errs, e.StoreErr)
	}
	return errs
}

// classifySend maps the two send legs onto the send outcome.
func classifySend(m chat.Message, pubErr, storeErr error) error {
	switch {
	case pubErr == nil && storeErr == nil:
		return nil
	case pubErr != nil && storeErr != nil:
		return SendError{Message: m, Kind: ErrSendFailed, PublishErr: pubErr, StoreErr: storeErr}
	case pubErr != nil:
		return SendError{Message: m, Kind: ErrDeliveryDegraded, PublishErr: pubErr}
	default:
		return SendError{Message: m, Kind: ErrStoreDegraded, StoreErr: storeErr}
	}
}

func sendResultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrDeliveryDegraded):
		return "delivery_degraded"
	case errors.Is(err, ErrStoreDegraded):
		return "store_degraded"
	case errors.Is(err, chat.ErrValidation):
		return "invalid"
	default:
		return "failed"
	}
}
