package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/fieldmesh/internal/datum"
	"github.com/nerrad567/fieldmesh/internal/device"
	"github.com/nerrad567/fieldmesh/internal/readings"
	"github.com/nerrad567/fieldmesh/internal/registry"
)

// errRefused stands in for a transport failure.
type errRefused struct{ addr string }

func (e errRefused) Error() string          { return "dial " + e.addr + ": connection refused" }
func (e errRefused) TransportFailure() bool { return true }

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	ticker *manualTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ticker: &manualTicker{c: make(chan time.Time)},
	}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Ticker(time.Duration) Ticker { return c.ticker }

type manualTicker struct {
	c       chan time.Time
	stopped atomic.Bool
}

func (t *manualTicker) Chan() <-chan time.Time { return t.c }
func (t *manualTicker) Stop()                  { t.stopped.Store(true) }

// fakeSensor answers GetDatum from fn and tracks concurrency.
type fakeSensor struct {
	fn func(ctx context.Context) (datum.Datum, error)

	calls   atomic.Int64
	active  *atomic.Int64
	maxSeen *atomic.Int64
}

func (s *fakeSensor) GetDatum(ctx context.Context, _ datum.Kind, _ datum.Unit) (datum.Datum, error) {
	s.calls.Add(1)
	if s.active != nil {
		n := s.active.Add(1)
		defer s.active.Add(-1)
		for {
			m := s.maxSeen.Load()
			if n <= m || s.maxSeen.CompareAndSwap(m, n) {
				break
			}
		}
	}
	return s.fn(ctx)
}

type fakeActuator struct {
	mu   sync.Mutex
	got  []device.Command
	err  error
	seen map[string]bool
}

func (a *fakeActuator) Command(_ context.Context, cmd device.Command) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	if a.seen == nil {
		a.seen = make(map[string]bool)
	}
	if cmd.ID != "" && a.seen[cmd.ID] {
		return nil
	}
	a.seen[cmd.ID] = true
	a.got = append(a.got, cmd)
	return nil
}

func (a *fakeActuator) commands() []device.Command {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]device.Command(nil), a.got...)
}

type fakeDialer struct {
	mu        sync.Mutex
	sensors   map[string]device.Sensor
	actuators map[string]device.Actuator
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		sensors:   make(map[string]device.Sensor),
		actuators: make(map[string]device.Actuator),
	}
}

func (d *fakeDialer) Sensor(addr string) device.Sensor {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.sensors[addr]; ok {
		return s
	}
	return &fakeSensor{fn: func(context.Context) (datum.Datum, error) {
		return datum.Datum{}, errRefused{addr: addr}
	}}
}

func (d *fakeDialer) Actuator(addr string) device.Actuator {
	d.mu.Lock()
	defer d.mu.Unlock()
	if a, ok := d.actuators[addr]; ok {
		return a
	}
	return refusingActuator{addr: addr}
}

type refusingActuator struct{ addr string }

func (r refusingActuator) Command(context.Context, device.Command) error {
	return errRefused{addr: r.addr}
}

type broadcast struct {
	channel string
	payload any
}

type fakeHub struct {
	mu   sync.Mutex
	sent []broadcast
}

func (h *fakeHub) Broadcast(channel string, payload any) {
	h.mu.Lock()
	h.sent = append(h.sent, broadcast{channel, payload})
	h.mu.Unlock()
}

func (h *fakeHub) on(channel string) []any {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []any
	for _, b := range h.sent {
		if b.channel == channel {
			out = append(out, b.payload)
		}
	}
	return out
}

type published struct {
	topic    string
	payload  []byte
	retained bool
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(topic string, payload []byte, _ byte, retained bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{topic, payload, retained})
	return nil
}

type strictStore struct {
	*readings.MemoryStore
}

func (s strictStore) Put(ctx context.Context, id string, d datum.Datum) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.Put(ctx, id, d)
}

func constant(v float64) func(context.Context) (datum.Datum, error) {
	return func(context.Context) (datum.Datum, error) {
		return datum.Now(datum.Float(v), datum.DegreesC), nil
	}
}

func blockUntilCancelled(ctx context.Context) (datum.Datum, error) {
	<-ctx.Done()
	return datum.Datum{}, errRefused{addr: "slow: " + ctx.Err().Error()}
}

// atDeadline answers only once the call deadline has passed.
func atDeadline(v float64) func(context.Context) (datum.Datum, error) {
	return func(ctx context.Context) (datum.Datum, error) {
		<-ctx.Done()
		return datum.Now(datum.Float(v), datum.DegreesC), nil
	}
}

func notAvailable(context.Context) (datum.Datum, error) {
	return datum.Datum{}, device.ErrNotAvailable
}

func sensorRecord(id, addr string) device.Record {
	return device.Record{
		Description: device.Description{
			ID:         id,
			Name:       id,
			Model:      device.ModelThermo5000,
			Role:       device.RoleSensor,
			Capability: device.TemperatureSensor(),
		},
		Address: addr,
	}
}

func actuatorRecord(id, addr string) device.Record {
	rec := sensorRecord(id, addr)
	rec.Role = device.RoleActuator
	rec.Capability = device.TemperatureActuator()
	return rec
}

// harness wires a loop to fakes. Sensor i listens on 127.0.0.1:8000+i and
// its actuator on 127.0.0.1:9000+i.
type harness struct {
	reg    *registry.Registry
	clock  *fakeClock
	dialer *fakeDialer
	store  *readings.MemoryStore
	hub    *fakeHub
	loop   *Loop
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	cfg      Config
	ttl      time.Duration
	realTime bool
	strict   bool
	opts     []Option
}

func withConfig(cfg Config) harnessOption {
	return func(h *harnessConfig) { h.cfg = cfg }
}

func withRealTime() harnessOption {
	return func(h *harnessConfig) { h.realTime = true }
}

// withStrictStore makes store writes fail on a done context.
func withStrictStore() harnessOption {
	return func(h *harnessConfig) { h.strict = true }
}

func withLoopOptions(opts ...Option) harnessOption {
	return func(h *harnessConfig) { h.opts = append(h.opts, opts...) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	hc := harnessConfig{
		cfg: Config{PollInterval: time.Second, CallTimeout: time.Second, MaxConcurrency: 4},
		ttl: 10 * time.Second,
	}
	for _, o := range opts {
		o(&hc)
	}

	h := &harness{
		clock:  newFakeClock(),
		dialer: newFakeDialer(),
		store:  readings.NewMemoryStore(),
		hub:    &fakeHub{},
	}

	regOpts := []registry.Option{}
	loopOpts := []Option{WithHub(h.hub)}
	if !hc.realTime {
		regOpts = append(regOpts, registry.WithClock(h.clock.Now))
		loopOpts = append(loopOpts, WithClock(h.clock))
	}

	reg, err := registry.New(hc.ttl, regOpts...)
	if err != nil {
		t.Fatalf("registry.New() error = %v", err)
	}
	h.reg = reg

	policy, err := NewPolicy(testPolicy)
	if err != nil {
		t.Fatalf("NewPolicy() error = %v", err)
	}

	var store readings.Store = h.store
	if hc.strict {
		store = strictStore{h.store}
	}

	loop, err := New(reg, h.dialer, store, policy, hc.cfg, append(loopOpts, hc.opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(loop.Close)
	h.loop = loop
	return h
}

func (h *harness) addSensor(t *testing.T, i int, id string, fn func(context.Context) (datum.Datum, error)) *fakeSensor {
	t.Helper()
	addr := fmt.Sprintf("127.0.0.1:%d", 8000+i)
	s := &fakeSensor{fn: fn}
	h.dialer.mu.Lock()
	h.dialer.sensors[addr] = s
	h.dialer.mu.Unlock()
	if err := h.reg.Upsert(sensorRecord(id, addr)); err != nil {
		t.Fatalf("Upsert(sensor %s) error = %v", id, err)
	}
	return s
}

func (h *harness) addActuator(t *testing.T, i int, id string) *fakeActuator {
	t.Helper()
	addr := fmt.Sprintf("127.0.0.1:%d", 9000+i)
	a := &fakeActuator{}
	h.dialer.mu.Lock()
	h.dialer.actuators[addr] = a
	h.dialer.mu.Unlock()
	if err := h.reg.Upsert(actuatorRecord(id, addr)); err != nil {
		t.Fatalf("Upsert(actuator %s) error = %v", id, err)
	}
	return a
}

var errBoom = errors.New("boom")
