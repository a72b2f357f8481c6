// Package readings keeps the most recent Datum reported by each sensor.
//
// The controller writes one reading per sensor per cycle and the API reads
// them back for the single-sensor and aggregate queries. Three Store
// implementations share the same semantics:
//
//   - MemoryStore: a mutex-guarded map, the default
//   - SQLiteStore: the latest_readings table from the embedded migrations
//   - RedisStore: two hashes keyed by sensor id, updated atomically by script
//
// A Put never replaces a stored reading with an older one, so late
// responses from a slow cycle cannot roll a sensor back in time.
package readings
