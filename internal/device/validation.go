package device

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

const (
	maxIDLength   = 128
	maxNameLength = 100
)

// Pre-computed validation sets.
var (
	validRoles  map[Role]struct{}
	validModels map[Model]struct{}
)

func init() {
	validRoles = make(map[Role]struct{}, len(AllRoles()))
	for _, r := range AllRoles() {
		validRoles[r] = struct{}{}
	}

	validModels = make(map[Model]struct{}, len(AllModels()))
	for _, m := range AllModels() {
		validModels[m] = struct{}{}
	}
}

// ParseRole validates a role string.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := validRoles[r]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}

// ParseModel validates a model string.
func ParseModel(s string) (Model, error) {
	m := Model(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := validModels[m]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidModel, s)
	}
	return m, nil
}

// ValidateDescription checks identity fields and that the capability
// descriptor fits the role.
func ValidateDescription(d Description) error {
	if d.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDescription)
	}
	if len(d.ID) > maxIDLength || strings.ContainsAny(d.ID, "/#+ ") {
		return fmt.Errorf("%w: id %q", ErrInvalidDescription, d.ID)
	}
	if len(d.Name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidDescription, maxNameLength)
	}
	if _, ok := validRoles[d.Role]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidRole, d.Role)
	}
	if _, ok := validModels[d.Model]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidModel, d.Model)
	}

	switch d.Role {
	case RoleSensor:
		if d.Capability.Quantity == "" || len(d.Capability.Commands) > 0 {
			return fmt.Errorf("%w: sensor must declare a quantity and no commands", ErrInvalidCapability)
		}
	case RoleActuator:
		if len(d.Capability.Commands) == 0 || d.Capability.Quantity != "" {
			return fmt.Errorf("%w: actuator must declare commands and no quantity", ErrInvalidCapability)
		}
	}
	return nil
}

// ValidateAddress checks a host:port pair.
func ValidateAddress(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("%w: address %q: %w", ErrInvalidDescription, addr, err)
	}
	if host == "" {
		return fmt.Errorf("%w: address %q has no host", ErrInvalidDescription, addr)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("%w: address %q has invalid port", ErrInvalidDescription, addr)
	}
	return nil
}

// ValidateRecord checks a registry record.
func ValidateRecord(r Record) error {
	if err := ValidateDescription(r.Description); err != nil {
		return err
	}
	return ValidateAddress(r.Address)
}
