package btconn

import (
	"errors"
	"net"
)

var (
	errOwnConnection = errors.New("dropped own connection")
	errUnknownHash   = errors.New("unknown info hash")
)

// DialError is returned when an outgoing connection cannot be established.
// The address should not be retried soon.
type DialError struct {
	Addr net.Addr
	Err  error
}

func (e *DialError) Error() string {
	return "cannot connect to " + e.Addr.String() + ": " + e.Err.Error()
}

func (e *DialError) Unwrap() error { return e.Err }
