package device

import (
	"context"

	"github.com/nerrad567/fieldmesh/internal/datum"
)

// Sensor answers measurement requests. GetDatum must be side-effect free.
// It returns ErrNotAvailable when it cannot produce data for kind and unit.
type Sensor interface {
	GetDatum(ctx context.Context, kind datum.Kind, unit datum.Unit) (datum.Datum, error)
}

// Actuator applies commands. A nil error means Accepted. A refusal is a
// *Rejection. Implementations must tolerate the same command arriving more
// than once.
type Actuator interface {
	Command(ctx context.Context, cmd Command) error
}

// Describer reports the identity a device announces.
type Describer interface {
	Describe() Description
}
