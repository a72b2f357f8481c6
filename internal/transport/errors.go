package transport

import (
	"errors"
	"fmt"
)

// ErrUnexpectedStatus is wrapped when a peer answers with a status that
// carries no application error body.
var ErrUnexpectedStatus = errors.New("transport: unexpected status")

// ErrNoUpstream is returned by forwarding devices that do not yet know where
// to forward to. Servers answer it with 503.
var ErrNoUpstream = errors.New("transport: no upstream known")

// Error describes a failed exchange: connection refused, timeout, malformed
// payload or an unexpected status. It never means the device declined.
type Error struct {
	Op      string
	Address string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transport: %s %s: status %d: %v", e.Op, e.Address, e.Status, e.Err)
	}
	return fmt.Sprintf("transport: %s %s: %v", e.Op, e.Address, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// TransportFailure marks Error for device.IsTransport.
func (e *Error) TransportFailure() bool {
	return true
}

// Error codes carried in the wire error body.
const (
	CodeBadRequest   = "bad_request"
	CodeNotFound     = "not_found"
	CodeNotAvailable = "not_available"
	CodeRejected     = "rejected"
	CodeInternal     = "internal_error"
)

// ErrorBody is the JSON error response shared by every fieldmesh server.
type ErrorBody struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
