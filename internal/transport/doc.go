// Package transport carries Datum and Command payloads between fieldmesh
// processes over HTTP with JSON bodies.
//
// The wire contract is small:
//
//	GET  /datum?kind=float&unit=°C        sensor: one Datum
//	POST /command {"name":..,"value":..}  actuator: 200 on acceptance
//	GET  /datum/{id}?kind=&unit=          environment: Datum for a device id
//	POST /command + X-Device-Id           environment: apply a device's command
//
// Application refusals travel as a structured error body with a code, so
// the Client can tell "the device said no" (device.ErrNotAvailable,
// *device.Rejection) apart from "the exchange failed" (*Error).
//
// The Client holds no per-device state. It is safe for many concurrent
// callers against many addresses.
package transport
