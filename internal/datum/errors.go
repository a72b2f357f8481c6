package datum

import "errors"

// Domain errors for the datum package.
var (
	// ErrMalformed is returned when a serialized Datum or Value cannot be parsed.
	// Transport code relies on it to separate bad payloads from missing data.
	ErrMalformed = errors.New("datum: malformed")

	// ErrUnknownUnit is returned when a unit string is not recognised.
	ErrUnknownUnit = errors.New("datum: unknown unit")

	// ErrUnknownKind is returned when a kind string is not recognised.
	ErrUnknownKind = errors.New("datum: unknown kind")

	// ErrKindMismatch is returned when a Value is read as the wrong kind.
	ErrKindMismatch = errors.New("datum: kind mismatch")
)
