package controller

import (
	"fmt"
	"slices"
	"time"

	"github.com/nerrad567/fieldmesh/internal/datum"
	"github.com/nerrad567/fieldmesh/internal/device"
)

// State is the phase the loop is in.
type State int32

// Loop phases.
const (
	StateIdle State = iota
	StateEnumerating
	StatePolling
	StateDeciding
	StateDispatching
)

var stateNames = [...]string{"idle", "enumerating", "polling", "deciding", "dispatching"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText renders the state name in JSON output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	i := slices.Index(stateNames[:], string(text))
	if i < 0 {
		return fmt.Errorf("controller: unknown state %q", text)
	}
	*s = State(i)
	return nil
}

// Outcome classifies the result of one device call.
type Outcome string

// Call outcomes.
const (
	OutcomeOK          Outcome = "ok"
	OutcomeRejected    Outcome = "rejected"
	OutcomeUnreachable Outcome = "unreachable"
	OutcomeUnpaired    Outcome = "unpaired"
)

func classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case device.IsRejection(err):
		return OutcomeRejected
	default:
		return OutcomeUnreachable
	}
}

// ReadingEvent is broadcast for every datum collected.
type ReadingEvent struct {
	SensorID string       `json:"id"`
	Model    device.Model `json:"model"`
	Datum    datum.Datum  `json:"datum"`
	Cycle    uint64       `json:"cycle"`
}

// CommandEvent is broadcast for every dispatch attempt.
type CommandEvent struct {
	CommandID  string         `json:"command_id"`
	SensorID   string         `json:"sensor_id"`
	ActuatorID string         `json:"actuator_id"`
	Address    string         `json:"address,omitempty"`
	Command    device.Command `json:"command"`
	Outcome    Outcome        `json:"outcome"`
	Reason     string         `json:"reason,omitempty"`
	Cycle      uint64         `json:"cycle"`
	At         time.Time      `json:"at"`
}

// EvictionEvent is broadcast when a device leaves the registry.
type EvictionEvent struct {
	ID      string      `json:"id"`
	Role    device.Role `json:"role"`
	Address string      `json:"address"`
	Reason  string      `json:"reason"`
	At      time.Time   `json:"at"`
}

// CycleReport summarises one pass of the loop.
type CycleReport struct {
	Seq       uint64        `json:"seq"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`

	Evicted int `json:"evicted"`
	Sensors int `json:"sensors"`

	Readings    int `json:"readings"`
	Unavailable int `json:"unavailable"`
	Unreachable int `json:"unreachable"`

	Commands         int `json:"commands"`
	Accepted         int `json:"accepted"`
	Rejected         int `json:"rejected"`
	DispatchFailures int `json:"dispatch_failures"`
	Unpaired         int `json:"unpaired"`
}

// Stats are cumulative loop counters.
type Stats struct {
	State       State       `json:"state"`
	Cycles      uint64      `json:"cycles"`
	Readings    uint64      `json:"readings"`
	Commands    uint64      `json:"commands"`
	Failures    uint64      `json:"failures"`
	InFlight    int64       `json:"in_flight"`
	PeakFlight  int64       `json:"peak_in_flight"`
	LastCycle   CycleReport `json:"last_cycle"`
	MaxInFlight int         `json:"max_in_flight"`
}
