package negotiation

import (
	"errors"
	"fmt"
)

var (
	// ErrNegotiationFailed marks a session that could not apply or produce a
	// session description. Such a session is not retried.
	ErrNegotiationFailed = errors.New("negotiation failed")

	ErrSessionClosed = errors.New("negotiation session closed")
)

// Error reports the step at which a negotiation with Peer failed.
type Error struct {
	Peer string
	Step string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("negotiation with %s failed at %s: %v", e.Peer, e.Step, e.Err)
}

// Unwrap lets errors.Is match both ErrNegotiationFailed and the cause.
func (e *Error) Unwrap() []error {
	return []error{ErrNegotiationFailed, e.Err}
}
