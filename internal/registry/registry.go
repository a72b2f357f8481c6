// Package registry holds the process-wide table of known devices.
//
// Discovery upserts records, successful exchanges touch them, and sweeps
// evict records whose last observation is older than the TTL. Eviction is
// the only way a device leaves the table besides an explicit departure.
// All methods are safe for concurrent use and share one RWMutex.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/fieldmesh/internal/device"
)

// ErrInvalidTTL is returned by New for a non-positive TTL.
var ErrInvalidTTL = errors.New("registry: ttl must be positive")

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// EventType names a registry transition.
type EventType string

// Registry transitions.
const (
	EventAdded   EventType = "device.added"
	EventMoved   EventType = "device.moved"
	EventEvicted EventType = "device.evicted"
	EventRemoved EventType = "device.removed"
)

// Event is emitted after the registry changed. Refreshes of an unchanged
// record do not emit events.
type Event struct {
	Type   EventType
	Record device.Record
	At     time.Time
}

// Handler receives events. It runs on the goroutine that caused the change,
// after the lock is released, so it may call back into the registry.
type Handler func(Event)

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// Stats are cumulative counters.
type Stats struct {
	Live      int    `json:"live"`
	Sensors   int    `json:"sensors"`
	Actuators int    `json:"actuators"`
	Upserts   uint64 `json:"upserts"`
	Evictions uint64 `json:"evictions"`
	Removals  uint64 `json:"removals"`
	Dropped   uint64 `json:"dropped"`
}

// Registry is the TTL-bounded device table.
type Registry struct {
	ttl    time.Duration
	now    func() time.Time
	logger Logger

	mu       sync.RWMutex
	records  map[device.Key]device.Record
	observed map[device.Key]time.Time // newest accepted observation per key

	handlersMu sync.RWMutex
	handlers   map[int]Handler
	nextID     int

	upserts   atomic.Uint64
	evictions atomic.Uint64
	removals  atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a registry that keeps records alive for ttl after their last
// observation.
func New(ttl time.Duration, opts ...Option) (*Registry, error) {
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}
	r := &Registry{
		ttl:      ttl,
		now:      time.Now,
		logger:   noopLogger{},
		records:  make(map[device.Key]device.Record),
		observed: make(map[device.Key]time.Time),
		handlers: make(map[int]Handler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// TTL returns the liveness window.
func (r *Registry) TTL() time.Duration {
	return r.ttl
}

// Subscribe registers h for every subsequent event. The returned function
// removes it.
func (r *Registry) Subscribe(h Handler) (unsubscribe func()) {
	r.handlersMu.Lock()
	id := r.nextID
	r.nextID++
	r.handlers[id] = h
	r.handlersMu.Unlock()

	return func() {
		r.handlersMu.Lock()
		delete(r.handlers, id)
		r.handlersMu.Unlock()
	}
}

// Upsert records an observation made at rec.LastSeen, or now when that is
// zero. Times in the future are capped at now. An observation older than
// the last one accepted for the same key is dropped, so a late announcement
// cannot roll back a newer address. One already outside the TTL is dropped
// too. Touch does not count as an observation for ordering.
func (r *Registry) Upsert(rec device.Record) error {
	if err := device.ValidateRecord(rec); err != nil {
		return fmt.Errorf("upserting %s/%s: %w", rec.Role, rec.ID, err)
	}

	now := r.now()
	observed := rec.LastSeen
	if observed.IsZero() || observed.After(now) {
		observed = now
	}
	rec = rec.Clone()
	rec.LastSeen = observed
	key := rec.Key()

	if r.isStale(rec, now) {
		r.dropped.Add(1)
		r.logger.Debug("ignoring observation outside ttl", "device_id", rec.ID, "role", rec.Role, "observed", observed)
		return nil
	}

	r.mu.Lock()
	old, existed := r.records[key]
	stale := existed && r.isStale(old, now)
	if existed && !stale && observed.Before(r.observed[key]) {
		r.mu.Unlock()
		r.dropped.Add(1)
		r.logger.Debug("ignoring out-of-order observation",
			"device_id", rec.ID,
			"role", rec.Role,
			"observed", observed,
			"newest", r.observed[key],
		)
		return nil
	}
	if existed && !stale && old.LastSeen.After(rec.LastSeen) {
		rec.LastSeen = old.LastSeen
	}
	r.records[key] = rec
	r.observed[key] = observed
	r.mu.Unlock()

	r.upserts.Add(1)

	switch {
	case !existed || stale:
		r.logger.Info("device added", "device_id", rec.ID, "role", rec.Role, "address", rec.Address)
		r.emit(Event{Type: EventAdded, Record: rec, At: now})
	case changed(old, rec):
		r.logger.Info("device moved",
			"device_id", rec.ID,
			"role", rec.Role,
			"old_address", old.Address,
			"address", rec.Address,
		)
		r.emit(Event{Type: EventMoved, Record: rec, At: now})
	}
	return nil
}

// Touch refreshes the last-seen time of a live record after a successful
// exchange. It reports false if the record is absent or already stale.
func (r *Registry) Touch(key device.Key) bool {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[key]
	if !ok || r.isStale(rec, now) {
		return false
	}
	rec.LastSeen = now
	r.records[key] = rec
	return true
}

// Remove drops a record on an explicit departure notice.
func (r *Registry) Remove(key device.Key) bool {
	r.mu.Lock()
	rec, ok := r.records[key]
	delete(r.records, key)
	delete(r.observed, key)
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.removals.Add(1)
	r.logger.Info("device left", "device_id", key.ID, "role", key.Role)
	r.emit(Event{Type: EventRemoved, Record: rec, At: r.now()})
	return true
}

// Sweep evicts every record outside the TTL and returns them.
func (r *Registry) Sweep() []device.Record {
	now := r.now()

	r.mu.Lock()
	var evicted []device.Record
	for key, rec := range r.records {
		if r.isStale(rec, now) {
			delete(r.records, key)
			delete(r.observed, key)
			evicted = append(evicted, rec)
		}
	}
	r.mu.Unlock()

	sortRecords(evicted)
	for _, rec := range evicted {
		r.evictions.Add(1)
		r.logger.Warn("device evicted",
			"device_id", rec.ID,
			"role", rec.Role,
			"last_seen", rec.LastSeen,
			"ttl", r.ttl,
		)
		r.emit(Event{Type: EventEvicted, Record: rec, At: now})
	}
	return evicted
}

// Snapshot returns copies of the live records with the given role, sorted
// by id. An empty role matches every record. Stale records are never
// returned, even before the next Sweep.
func (r *Registry) Snapshot(role device.Role) []device.Record {
	now := r.now()

	r.mu.RLock()
	out := make([]device.Record, 0, len(r.records))
	for _, rec := range r.records {
		if role != "" && rec.Role != role {
			continue
		}
		if r.isStale(rec, now) {
			continue
		}
		out = append(out, rec.Clone())
	}
	r.mu.RUnlock()

	sortRecords(out)
	return out
}

// Lookup returns a copy of the live record for key.
func (r *Registry) Lookup(key device.Key) (device.Record, bool) {
	now := r.now()

	r.mu.RLock()
	rec, ok := r.records[key]
	r.mu.RUnlock()

	if !ok || r.isStale(rec, now) {
		return device.Record{}, false
	}
	return rec.Clone(), true
}

// First returns the live record with the given role and the lowest id.
// Forwarding devices use it to pick their upstream.
func (r *Registry) First(role device.Role) (device.Record, bool) {
	recs := r.Snapshot(role)
	if len(recs) == 0 {
		return device.Record{}, false
	}
	return recs[0], true
}

// Len returns the number of records held, stale or not.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Stats returns live counts and cumulative counters.
func (r *Registry) Stats() Stats {
	now := r.now()
	s := Stats{
		Upserts:   r.upserts.Load(),
		Evictions: r.evictions.Load(),
		Removals:  r.removals.Load(),
		Dropped:   r.dropped.Load(),
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.records {
		if r.isStale(rec, now) {
			continue
		}
		s.Live++
		switch rec.Role {
		case device.RoleSensor:
			s.Sensors++
		case device.RoleActuator:
			s.Actuators++
		}
	}
	return s
}

func (r *Registry) isStale(rec device.Record, now time.Time) bool {
	return now.Sub(rec.LastSeen) > r.ttl
}

func (r *Registry) emit(ev Event) {
	r.handlersMu.RLock()
	handlers := make([]Handler, 0, len(r.handlers))
	for _, h := range r.handlers {
		handlers = append(handlers, h)
	}
	r.handlersMu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

func changed(old, rec device.Record) bool {
	return old.Address != rec.Address ||
		old.Model != rec.Model ||
		old.Name != rec.Name ||
		!slices.Equal(old.Capability.Commands, rec.Capability.Commands) ||
		old.Capability.Quantity != rec.Capability.Quantity ||
		old.Capability.Unit != rec.Capability.Unit
}

func sortRecords(recs []device.Record) {
	slices.SortFunc(recs, func(a, b device.Record) int {
		if c := strings.Compare(a.ID, b.ID); c != 0 {
			return c
		}
		return strings.Compare(string(a.Role), string(b.Role))
	})
}
