// Package actuator implements a forwarding actuator: it validates commands
// against its vocabulary and relays accepted ones to the environment with
// its id and model attached.
//
// An environment rejection is relayed as a rejection. An unreachable or
// unknown environment surfaces as a transport failure, answered with 503.
package actuator
