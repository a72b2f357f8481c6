package readings

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nerrad567/fieldmesh/internal/datum"
)

var (
	// ErrNotFound is returned by Get for a sensor with no stored reading.
	ErrNotFound = errors.New("readings: no reading for sensor")

	// ErrEmptySensorID is returned when a sensor id is blank.
	ErrEmptySensorID = errors.New("readings: empty sensor id")

	// ErrZeroDatum is returned by Put for a Datum without a timestamp.
	ErrZeroDatum = errors.New("readings: datum has no timestamp")

	// ErrUnknownBackend is returned by Open for an unrecognised backend name.
	ErrUnknownBackend = errors.New("readings: unknown store backend")
)

// Reading pairs a sensor id with its latest Datum.
type Reading struct {
	SensorID string      `json:"id"`
	Datum    datum.Datum `json:"datum"`
}

// Store holds the latest reading per sensor.
type Store interface {
	// Put records d for sensorID unless a newer reading is already stored.
	Put(ctx context.Context, sensorID string, d datum.Datum) error

	// Get returns the stored reading or ErrNotFound.
	Get(ctx context.Context, sensorID string) (datum.Datum, error)

	// Latest returns every stored reading ordered by sensor id.
	Latest(ctx context.Context) ([]Reading, error)

	// Delete forgets sensorID. Deleting an unknown id is not an error.
	Delete(ctx context.Context, sensorID string) error

	// Close releases the backend.
	Close() error
}

func checkPut(sensorID string, d datum.Datum) error {
	if sensorID == "" {
		return ErrEmptySensorID
	}
	if d.IsZero() {
		return fmt.Errorf("%w: sensor %s", ErrZeroDatum, sensorID)
	}
	return nil
}

func sortReadings(rs []Reading) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].SensorID < rs[j].SensorID })
}

// decodeColumns rebuilds a Datum from its stored text columns.
func decodeColumns(kind, value, unit, timestamp string) (datum.Datum, error) {
	k, err := datum.ParseKind(kind)
	if err != nil {
		return datum.Datum{}, err
	}
	v, err := datum.ParseValue(value)
	if err != nil {
		return datum.Datum{}, err
	}
	// Integral floats round-trip through text as floats, but an int column
	// holding "3" must stay an int and a float column holding "3" a float.
	if v.Kind() != k {
		n, ok := v.Number()
		switch {
		case k == datum.KindFloat && ok:
			v = datum.Float(n)
		default:
			return datum.Datum{}, fmt.Errorf("%w: stored %s value %q", datum.ErrKindMismatch, k, value)
		}
	}
	u, err := datum.ParseUnit(unit)
	if err != nil {
		return datum.Datum{}, err
	}
	ts, err := parseTimestamp(timestamp)
	if err != nil {
		return datum.Datum{}, err
	}
	return datum.New(v, u, ts), nil
}

// formatTimestamp renders ts in the fixed-width UTC form, which sorts
// lexically in time order.
func formatTimestamp(ts time.Time) string {
	return ts.UTC().Format(datum.TimeFormat)
}

func parseTimestamp(s string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp: %w", datum.ErrMalformed, err)
	}
	return ts, nil
}
