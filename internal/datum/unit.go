package datum

import "fmt"

// Unit is the physical unit attached to a Datum.
type Unit string

// Known units.
const (
	Unitless  Unit = ""
	PoweredOn Unit = "⏼"
	DegreesC  Unit = "°C"
)

// ParseUnit validates a unit string.
func ParseUnit(s string) (Unit, error) {
	switch u := Unit(s); u {
	case Unitless, PoweredOn, DegreesC:
		return u, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownUnit, s)
	}
}

// String returns the unit symbol.
func (u Unit) String() string {
	return string(u)
}
