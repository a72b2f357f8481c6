// Package sensor implements a forwarding sensor: it answers GET /datum by
// asking the environment for the reading that belongs to its own id.
//
// The environment is found through an Upstream, normally a registry fed by
// a discovery browser filtered to the environment role. Until one is known
// every request fails with transport.ErrNoUpstream, which servers answer
// with 503.
package sensor
