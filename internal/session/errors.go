package session

import (
	"errors"
	"fmt"
)

var (
	ErrMediaUnavailable = errors.New("local media unavailable")
	ErrNotJoined        = errors.New("not joined to a room")
	ErrAlreadyJoined    = errors.New("already joined to a room")
	ErrNoVideo          = errors.New("no video loaded")
	ErrClosed           = errors.New("session closed")
)

// Error records the operation, and the peer when there is one, that failed.
type Error struct {
	Op   string
	Peer string
	Err  error
}

func (e *Error) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Peer, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func NewPeerError(op, peer string, err error) *Error {
	return &Error{Op: op, Peer: peer, Err: err}
}
