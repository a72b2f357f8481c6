// Package controller runs the control loop that polls every live sensor,
// asks a policy what to do about each reading and dispatches the resulting
// commands to the paired actuators.
//
// One cycle walks four phases:
//
//	Enumerating  sweep the registry and snapshot live sensors
//	Polling      GetDatum on every sensor, bounded fan-out, per-call timeout
//	Deciding     pure policy over (sensor, datum) pairs
//	Dispatching  resolve each actuator's current address and send
//
// A device failure only costs that device its result for the cycle. Cycles
// run back to back on a fixed cadence and never overlap; an overrun delays
// the next cycle rather than queueing it.
package controller
