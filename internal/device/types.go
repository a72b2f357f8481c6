package device

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/nerrad567/fieldmesh/internal/datum"
)

// Role is the part a device plays in the fabric.
type Role string

// Roles.
const (
	RoleSensor      Role = "sensor"
	RoleActuator    Role = "actuator"
	RoleController  Role = "controller"
	RoleEnvironment Role = "environment"
)

// AllRoles returns every valid role.
func AllRoles() []Role {
	return []Role{RoleSensor, RoleActuator, RoleController, RoleEnvironment}
}

// Model identifies the device flavour, used to pick a control policy.
type Model string

// Models.
const (
	ModelController  Model = "controller"
	ModelEnvironment Model = "environment"
	ModelUnsupported Model = "unsupported"
	ModelThermo5000  Model = "thermo5000"
)

// AllModels returns every valid model.
func AllModels() []Model {
	return []Model{ModelController, ModelEnvironment, ModelUnsupported, ModelThermo5000}
}

var modelNames = map[Model]string{
	ModelController:  "Controller",
	ModelEnvironment: "Environment",
	ModelUnsupported: "Unsupported",
	ModelThermo5000:  "Thermo-5000",
}

// DisplayName returns a human-readable model name.
func (m Model) DisplayName() string {
	if n, ok := modelNames[m]; ok {
		return n
	}
	return string(m)
}

// Well-known command names.
const (
	CommandHeatBy = "HeatBy"
	CommandCoolBy = "CoolBy"
)

// Well-known quantities.
const (
	QuantityTemperature = "temperature"
)

// Capability describes what a device offers. Sensors fill Quantity and
// Unit; actuators fill Commands.
type Capability struct {
	Quantity string     `json:"quantity,omitempty"`
	Unit     datum.Unit `json:"unit,omitempty"`
	Commands []string   `json:"commands,omitempty"`
}

// SensorCapability builds a sensor descriptor.
func SensorCapability(quantity string, unit datum.Unit) Capability {
	return Capability{Quantity: quantity, Unit: unit}
}

// ActuatorCapability builds an actuator descriptor.
func ActuatorCapability(commands ...string) Capability {
	return Capability{Commands: slices.Clone(commands)}
}

// TemperatureSensor is the capability of a thermometer in °C.
func TemperatureSensor() Capability {
	return SensorCapability(QuantityTemperature, datum.DegreesC)
}

// TemperatureActuator is the capability of a heater/cooler.
func TemperatureActuator() Capability {
	return ActuatorCapability(CommandHeatBy, CommandCoolBy)
}

// Supports reports whether name is in the command vocabulary.
func (c Capability) Supports(name string) bool {
	return slices.Contains(c.Commands, name)
}

// Clone returns a copy that shares no memory with c.
func (c Capability) Clone() Capability {
	c.Commands = slices.Clone(c.Commands)
	return c
}

// Format renders the compact text form for role: "temperature/°C" for a
// sensor, "HeatBy,CoolBy" for an actuator.
func (c Capability) Format(role Role) string {
	switch role {
	case RoleSensor:
		return c.Quantity + "/" + string(c.Unit)
	case RoleActuator:
		return strings.Join(c.Commands, ",")
	default:
		return ""
	}
}

// ParseCapability reads the compact text form for role.
func ParseCapability(role Role, s string) (Capability, error) {
	switch role {
	case RoleSensor:
		quantity, unitStr, ok := strings.Cut(s, "/")
		if !ok || quantity == "" {
			return Capability{}, fmt.Errorf("%w: sensor capability %q", ErrInvalidCapability, s)
		}
		unit, err := datum.ParseUnit(unitStr)
		if err != nil {
			return Capability{}, fmt.Errorf("%w: %w", ErrInvalidCapability, err)
		}
		return SensorCapability(quantity, unit), nil
	case RoleActuator:
		var cmds []string
		for _, c := range strings.Split(s, ",") {
			if c = strings.TrimSpace(c); c != "" {
				cmds = append(cmds, c)
			}
		}
		if len(cmds) == 0 {
			return Capability{}, fmt.Errorf("%w: empty command vocabulary", ErrInvalidCapability)
		}
		return ActuatorCapability(cmds...), nil
	case RoleController, RoleEnvironment:
		return Capability{}, nil
	default:
		return Capability{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
}

// Description is what a device says about itself in an announcement.
type Description struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Model      Model      `json:"model"`
	Role       Role       `json:"role"`
	Capability Capability `json:"capability"`
}

// Record is a registry entry: a description bound to a network location
// and the last time the device was observed.
type Record struct {
	Description
	Address  string    `json:"address"`
	LastSeen time.Time `json:"last_seen"`
}

// Clone returns a copy that shares no memory with r.
func (r Record) Clone() Record {
	r.Capability = r.Capability.Clone()
	return r
}

// Key identifies a record in a registry. Paired sensors and actuators share
// an id, so the role is part of the key.
type Key struct {
	ID   string
	Role Role
}

// Key returns the registry key for r.
func (r Record) Key() Key {
	return Key{ID: r.ID, Role: r.Role}
}

// Command is an instruction for an actuator. ID is optional and travels out
// of band; actuators that see the same ID twice apply it once.
type Command struct {
	ID    string `json:"-"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

// HeatBy raises the temperature by delta degrees.
func HeatBy(delta float64) Command {
	return Command{Name: CommandHeatBy, Value: datum.Float(delta).String()}
}

// CoolBy lowers the temperature by delta degrees.
func CoolBy(delta float64) Command {
	return Command{Name: CommandCoolBy, Value: datum.Float(delta).String()}
}

// String renders the command for logs.
func (c Command) String() string {
	return c.Name + "(" + c.Value + ")"
}

// Delta parses the value of a HeatBy or CoolBy command. The value must be a
// finite non-negative decimal.
func (c Command) Delta() (float64, error) {
	v, err := datum.ParseValue(c.Value)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCommandValue, c.Value)
	}
	n, ok := v.Number()
	if !ok || n < 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("%w: %q is not a finite non-negative decimal", ErrInvalidCommandValue, c.Value)
	}
	return n, nil
}

// SignedDelta returns the temperature change a HeatBy or CoolBy command asks for.
func (c Command) SignedDelta() (float64, error) {
	d, err := c.Delta()
	if err != nil {
		return 0, err
	}
	switch c.Name {
	case CommandHeatBy:
		return d, nil
	case CommandCoolBy:
		return -d, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownCommand, c.Name)
	}
}

// CheckCommand validates cmd against the vocabulary in capability. A failure
// is returned as a *Rejection.
func CheckCommand(capability Capability, cmd Command) error {
	if !capability.Supports(cmd.Name) {
		return Reject(ErrUnknownCommand, "unknown command %q", cmd.Name)
	}
	switch cmd.Name {
	case CommandHeatBy, CommandCoolBy:
		if _, err := cmd.Delta(); err != nil {
			return Reject(err, "bad value for %s: %q", cmd.Name, cmd.Value)
		}
	}
	return nil
}
