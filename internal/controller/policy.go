package controller

import (
	"errors"
	"fmt"

	"github.com/nerrad567/fieldmesh/internal/datum"
	"github.com/nerrad567/fieldmesh/internal/device"
	"github.com/nerrad567/fieldmesh/internal/infrastructure/config"
)

// ErrInvalidPolicy is returned for thresholds that cannot form a policy.
var ErrInvalidPolicy = errors.New("controller: invalid policy")

// Policy turns one reading into at most one command for the sensor's
// paired actuator. Implementations must be pure: no I/O, no clock.
type Policy interface {
	Decide(sensor device.Record, d datum.Datum) (device.Command, bool)
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(sensor device.Record, d datum.Datum) (device.Command, bool)

// Decide implements Policy.
func (f PolicyFunc) Decide(sensor device.Record, d datum.Datum) (device.Command, bool) {
	return f(sensor, d)
}

// Thermostat heats towards Target below Low and cools towards Target above
// High. Readings inside [Low, High] produce nothing.
type Thermostat struct {
	Low    float64
	High   float64
	Target float64
}

// NewThermostat validates Low <= Target <= High.
func NewThermostat(low, high, target float64) (Thermostat, error) {
	if low > high || target < low || target > high {
		return Thermostat{}, fmt.Errorf("%w: need low <= target <= high, got %g/%g/%g", ErrInvalidPolicy, low, target, high)
	}
	return Thermostat{Low: low, High: high, Target: target}, nil
}

// Decide implements Policy. Non-numeric readings and readings in a unit
// other than °C are ignored.
func (t Thermostat) Decide(_ device.Record, d datum.Datum) (device.Command, bool) {
	if d.Unit() != datum.DegreesC {
		return device.Command{}, false
	}
	v, ok := d.Value().Number()
	if !ok {
		return device.Command{}, false
	}

	switch {
	case v < t.Low:
		return device.HeatBy(t.Target - v), true
	case v > t.High:
		return device.CoolBy(v - t.Target), true
	default:
		return device.Command{}, false
	}
}

// ByModel routes each reading to the policy registered for the sensor's
// model. Models without an entry are polled but never commanded.
type ByModel map[device.Model]Policy

// Decide implements Policy.
func (m ByModel) Decide(sensor device.Record, d datum.Datum) (device.Command, bool) {
	p, ok := m[sensor.Model]
	if !ok {
		return device.Command{}, false
	}
	return p.Decide(sensor, d)
}

// NewPolicy builds the per-model table from configuration.
func NewPolicy(cfg config.PolicyConfig) (ByModel, error) {
	thermo, err := NewThermostat(cfg.Low, cfg.High, cfg.Target)
	if err != nil {
		return nil, err
	}
	return ByModel{device.ModelThermo5000: thermo}, nil
}
