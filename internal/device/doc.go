// Package device defines the contract every participant in the fabric
// shares: identity, role, declared capability, the command vocabulary and
// the two wire operations a sensor or actuator must answer.
//
// # Roles
//
// A device announces exactly one Role. Sensors answer GetDatum, actuators
// answer Command. The controller and environment roles exist so that those
// processes can be discovered the same way.
//
// # Capability
//
// A Capability is tagged by role. Sensors declare the quantity and unit they
// measure ("temperature/°C"). Actuators declare a command vocabulary
// ("HeatBy,CoolBy"). The controller checks the descriptor at discovery and
// dispatch time, never by type assertion on a concrete implementation.
//
// # Pairing
//
// A sensor and the actuator that acts on the same physical quantity share
// an id. The controller resolves the actuator for a reading by looking up
// that id with role actuator in the registry at dispatch time.
//
// # Errors
//
// Application rejections (ErrNotAvailable, *Rejection) mean the device was
// reachable and said no. Transport failures are reported by the transport
// package and classified here with IsTransport so callers never need to
// import it.
package device
