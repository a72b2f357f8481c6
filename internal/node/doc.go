// Package node assembles one fieldmesh process.
//
// A Node owns the plumbing every component binary repeats: the discovery
// backend picked from configuration, a TTL registry fed by browsers, the
// HTTP listener, the announcer that keeps the device visible, and the
// errgroup that runs all of it until the context is cancelled.
//
// The component builders (NewEnvironment, NewSensor, NewActuator and
// NewController) return a Node that is already listening; callers only
// call Run. The demo runs several nodes in one process by handing each the
// same in-process discovery bus with WithBackend.
package node
