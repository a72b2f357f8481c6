// Package environment simulates the physical world that fieldmesh sensors
// observe and actuators change.
//
// Each sensor id gets its own generator producing
//
//	y = a + b·x + c·sin(2π/period·(x+phase)) + noise
//
// where x is milliseconds since the generator was created. Generators are
// created on first request from the kind and unit selectors; only float
// readings can be simulated. HeatBy and CoolBy commands shift the constant
// term a by ±gain·delta.
package environment
