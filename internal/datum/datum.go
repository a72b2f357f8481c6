// Package datum defines the single timestamped measurement exchanged between
// every device in the fabric.
package datum

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimeFormat is RFC 3339 in UTC with a fixed nanosecond fraction.
const TimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Datum is one measurement: a typed value, its unit and when it was taken.
// A Datum is immutable once constructed.
type Datum struct {
	value     Value
	unit      Unit
	timestamp time.Time
}

// New builds a Datum. The timestamp is normalised to UTC.
func New(value Value, unit Unit, timestamp time.Time) Datum {
	return Datum{value: value, unit: unit, timestamp: timestamp.UTC()}
}

// Now builds a Datum stamped with the current time.
func Now(value Value, unit Unit) Datum {
	return New(value, unit, time.Now())
}

// Value returns the measured value.
func (d Datum) Value() Value { return d.value }

// Unit returns the unit of the value.
func (d Datum) Unit() Unit { return d.unit }

// Timestamp returns when the measurement was taken, in UTC.
func (d Datum) Timestamp() time.Time { return d.timestamp }

// IsZero reports whether d was never set.
func (d Datum) IsZero() bool { return d.timestamp.IsZero() }

// Newer reports whether d was taken after other.
func (d Datum) Newer(other Datum) bool { return d.timestamp.After(other.timestamp) }

// wireDatum is the serialized form: every field is text.
type wireDatum struct {
	Value     string `json:"value"`
	Unit      string `json:"unit"`
	Timestamp string `json:"timestamp"`
}

// MarshalJSON implements json.Marshaler.
func (d Datum) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireDatum{
		Value:     d.value.String(),
		Unit:      string(d.unit),
		Timestamp: d.timestamp.UTC().Format(TimeFormat),
	})
}

// UnmarshalJSON implements json.Unmarshaler. Every failure wraps ErrMalformed.
func (d *Datum) UnmarshalJSON(data []byte) error {
	var w wireDatum
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	value, err := ParseValue(w.Value)
	if err != nil {
		return err
	}
	unit, err := ParseUnit(w.Unit)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
	if err != nil {
		return fmt.Errorf("%w: timestamp: %w", ErrMalformed, err)
	}

	*d = New(value, unit, ts)
	return nil
}

// Parse reads a serialized Datum.
func Parse(s string) (Datum, error) {
	var d Datum
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return Datum{}, err
	}
	return d, nil
}

// String returns the serialized form.
func (d Datum) String() string {
	b, err := d.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<datum: %v>", err)
	}
	return string(b)
}
