package device

import (
	"errors"
	"fmt"
)

// Domain errors for the device package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, device.ErrNotAvailable) {
//	    // sensor reachable, nothing to report this cycle
//	}
var (
	// ErrNotAvailable is returned when a sensor has no data for the requested kind and unit.
	ErrNotAvailable = errors.New("device: not available")

	// ErrUnknownCommand is returned when a command name is outside the actuator's vocabulary.
	ErrUnknownCommand = errors.New("device: unknown command")

	// ErrInvalidCommandValue is returned when a command value has the wrong format.
	ErrInvalidCommandValue = errors.New("device: invalid command value")

	// ErrInvalidRole is returned when a role value is not recognised.
	ErrInvalidRole = errors.New("device: invalid role")

	// ErrInvalidModel is returned when a model value is not recognised.
	ErrInvalidModel = errors.New("device: invalid model")

	// ErrInvalidCapability is returned when a capability descriptor does not fit its role.
	ErrInvalidCapability = errors.New("device: invalid capability")

	// ErrInvalidDescription is returned when a description or record fails validation.
	ErrInvalidDescription = errors.New("device: invalid description")
)

// Rejection is an application-level refusal from a reachable device.
type Rejection struct {
	Reason string
	Err    error
}

// Reject builds a Rejection wrapping cause.
func Reject(cause error, format string, args ...any) *Rejection {
	return &Rejection{Reason: fmt.Sprintf(format, args...), Err: cause}
}

func (r *Rejection) Error() string {
	return "device: rejected: " + r.Reason
}

func (r *Rejection) Unwrap() error {
	return r.Err
}

// transportFailure is implemented by errors that describe a failed exchange
// rather than an answer from the device.
type transportFailure interface {
	TransportFailure() bool
}

// IsTransport reports whether err is a transport failure (refused, timeout,
// malformed payload). Such failures never count as a device observation.
func IsTransport(err error) bool {
	var tf transportFailure
	return errors.As(err, &tf) && tf.TransportFailure()
}

// IsRejection reports whether err is an application rejection: the device
// answered and declined.
func IsRejection(err error) bool {
	if err == nil || IsTransport(err) {
		return false
	}
	var r *Rejection
	return errors.Is(err, ErrNotAvailable) || errors.As(err, &r)
}
