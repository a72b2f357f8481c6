package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/fieldmesh/internal/datum"
	"github.com/nerrad567/fieldmesh/internal/device"
	"github.com/nerrad567/fieldmesh/internal/infrastructure/config"
	"github.com/nerrad567/fieldmesh/internal/infrastructure/mqtt"
	"github.com/nerrad567/fieldmesh/internal/readings"
	"github.com/nerrad567/fieldmesh/internal/registry"
)

// WebSocket channels the loop broadcasts on.
const (
	ChannelReading = "reading"
	ChannelCommand = "command"
	ChannelEvicted = "device.evicted"
	ChannelCycle   = "cycle"
)

// storeTimeout bounds each reading-store write. Writes never share a device
// call's deadline.
const storeTimeout = 2 * time.Second

// ErrInvalidConfig is returned by New for unusable loop settings.
var ErrInvalidConfig = errors.New("controller: invalid config")

// Logger defines the logging interface used by the loop.
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

// Dialer opens device handles for registry addresses.
// *transport.Client satisfies it.
type Dialer interface {
	Sensor(addr string) device.Sensor
	Actuator(addr string) device.Actuator
}

// WSHub receives loop events for live clients.
type WSHub interface {
	Broadcast(channel string, payload any)
}

// MQTTClient mirrors readings and commands to a broker.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Config holds loop tuning.
type Config struct {
	// PollInterval is the cadence between cycle starts.
	PollInterval time.Duration

	// CallTimeout bounds every individual device call.
	CallTimeout time.Duration

	// MaxConcurrency is the ceiling on in-flight device calls per phase.
	MaxConcurrency int
}

// ConfigFrom maps the controller section of the application config.
func ConfigFrom(c config.ControllerConfig) Config {
	return Config{
		PollInterval:   c.PollInterval.Std(),
		CallTimeout:    c.CallTimeout.Std(),
		MaxConcurrency: c.MaxConcurrency,
	}
}

func (c Config) validate() error {
	switch {
	case c.PollInterval <= 0:
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalidConfig)
	case c.CallTimeout <= 0:
		return fmt.Errorf("%w: call timeout must be positive", ErrInvalidConfig)
	case c.MaxConcurrency < 1:
		return fmt.Errorf("%w: max concurrency must be at least 1", ErrInvalidConfig)
	}
	return nil
}

// Option configures a Loop.
type Option func(*Loop)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(l *Loop) { l.clock = c }
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithHub broadcasts loop events to hub.
func WithHub(hub WSHub) Option {
	return func(l *Loop) { l.hub = hub }
}

// WithMQTTMirror publishes readings and command outcomes under topics.
func WithMQTTMirror(client MQTTClient, topics mqtt.Topics, qos byte) Option {
	return func(l *Loop) {
		l.mqtt = client
		l.topics = topics
		l.qos = qos
	}
}

// WithCommandIDs replaces the command id generator.
func WithCommandIDs(next func() string) Option {
	return func(l *Loop) { l.newID = next }
}

// Loop is the controller's scheduling loop. RunCycle and Run must not be
// called concurrently; everything else is safe for concurrent use.
type Loop struct {
	reg    *registry.Registry
	dialer Dialer
	store  readings.Store
	policy Policy
	cfg    Config

	clock  Clock
	logger Logger
	hub    WSHub
	mqtt   MQTTClient
	topics mqtt.Topics
	qos    byte
	newID  func() string

	unsubscribe func()

	state    atomic.Int32
	seq      atomic.Uint64
	inFlight atomic.Int64
	peak     atomic.Int64

	mu       sync.Mutex
	cycles   uint64
	nread    uint64
	ncmd     uint64
	nfail    uint64
	lastSeen CycleReport
}

// New builds a Loop and subscribes it to registry departures so the
// readings of evicted sensors are dropped.
func New(reg *registry.Registry, dialer Dialer, store readings.Store, policy Policy, cfg Config, opts ...Option) (*Loop, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if reg == nil || dialer == nil || store == nil || policy == nil {
		return nil, fmt.Errorf("%w: registry, dialer, store and policy are required", ErrInvalidConfig)
	}

	l := &Loop{
		reg:    reg,
		dialer: dialer,
		store:  store,
		policy: policy,
		cfg:    cfg,
		clock:  realClock{},
		logger: noopLogger{},
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}

	l.unsubscribe = reg.Subscribe(l.handleRegistryEvent)
	return l, nil
}

// Close detaches the loop from the registry.
func (l *Loop) Close() {
	if l.unsubscribe != nil {
		l.unsubscribe()
	}
}

// State returns the current phase.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Stats returns cumulative counters.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		State:       l.State(),
		Cycles:      l.cycles,
		Readings:    l.nread,
		Commands:    l.ncmd,
		Failures:    l.nfail,
		InFlight:    l.inFlight.Load(),
		PeakFlight:  l.peak.Load(),
		LastCycle:   l.lastSeen,
		MaxInFlight: l.cfg.MaxConcurrency,
	}
}

// Run executes a cycle immediately and then one per PollInterval until
// ctx is cancelled. Ticks that arrive while a cycle is running are
// dropped, so an overrun delays the next cycle instead of stacking them.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("controller loop started",
		"poll_interval", l.cfg.PollInterval,
		"call_timeout", l.cfg.CallTimeout,
		"max_concurrency", l.cfg.MaxConcurrency,
	)

	ticker := l.clock.Ticker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		l.RunCycle(ctx)

		select {
		case <-ctx.Done():
			l.logger.Info("controller loop stopped")
			return ctx.Err()
		case <-ticker.Chan():
		}
	}
}

// sample is one reading collected during Polling.
type sample struct {
	sensor device.Record
	datum  datum.Datum
}

// decision is one command produced during Deciding.
type decision struct {
	sensorID string
	target   device.Key
	command  device.Command
}

// RunCycle performs one Enumerating, Polling, Deciding, Dispatching pass.
// Device failures are counted in the report, never returned.
func (l *Loop) RunCycle(ctx context.Context) CycleReport {
	report := CycleReport{Seq: l.seq.Add(1), StartedAt: l.clock.Now()}
	defer l.setState(StateIdle)

	l.setState(StateEnumerating)
	report.Evicted = len(l.reg.Sweep())
	sensors := l.reg.Snapshot(device.RoleSensor)
	report.Sensors = len(sensors)

	var samples []sample
	if len(sensors) > 0 {
		l.setState(StatePolling)
		samples = l.poll(ctx, report.Seq, sensors, &report)
	}

	l.setState(StateDeciding)
	decisions := l.decide(samples)
	report.Commands = len(decisions)

	if len(decisions) > 0 {
		l.setState(StateDispatching)
		l.dispatch(ctx, report.Seq, decisions, &report)
	}

	report.Duration = l.clock.Now().Sub(report.StartedAt)
	l.record(report)
	l.broadcast(ChannelCycle, report)

	l.logger.Debug("cycle complete",
		"cycle", report.Seq,
		"sensors", report.Sensors,
		"readings", report.Readings,
		"commands", report.Commands,
		"duration", report.Duration,
	)
	return report
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
}

func (l *Loop) poll(ctx context.Context, cycle uint64, sensors []device.Record, report *CycleReport) []sample {
	results := make([]sample, len(sensors))
	outcomes := make([]Outcome, len(sensors))

	l.fanOut(len(sensors), func(i int) {
		results[i].sensor = sensors[i]
		results[i].datum, outcomes[i] = l.pollOne(ctx, sensors[i])
	})

	samples := make([]sample, 0, len(sensors))
	for i, s := range results {
		switch outcomes[i] {
		case OutcomeOK:
			report.Readings++
			samples = append(samples, s)
			l.broadcast(ChannelReading, ReadingEvent{
				SensorID: s.sensor.ID,
				Model:    s.sensor.Model,
				Datum:    s.datum,
				Cycle:    cycle,
			})
			l.mirror(l.topics.Reading(s.sensor.ID), s.datum, true)
		case OutcomeRejected:
			report.Unavailable++
		default:
			report.Unreachable++
		}
	}
	return samples
}

func (l *Loop) pollOne(ctx context.Context, rec device.Record) (datum.Datum, Outcome) {
	callCtx, cancel := context.WithTimeout(ctx, l.cfg.CallTimeout)
	kind, unit := selectors(rec.Capability)
	d, err := l.dialer.Sensor(rec.Address).GetDatum(callCtx, kind, unit)
	cancel()
	outcome := classify(err)

	switch outcome {
	case OutcomeOK:
		l.reg.Touch(rec.Key())
		// A reply that lands at the call deadline is still stored.
		storeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
		err := l.store.Put(storeCtx, rec.ID, d)
		cancel()
		if err != nil {
			l.logger.Error("storing reading failed", "device_id", rec.ID, "error", err)
		}
	case OutcomeRejected:
		l.reg.Touch(rec.Key())
		l.logger.Debug("sensor has no reading", "device_id", rec.ID, "error", err)
	default:
		l.logger.Warn("sensor unreachable", "device_id", rec.ID, "address", rec.Address, "error", err)
	}
	return d, outcome
}

// selectors picks the GetDatum kind and unit for a sensor capability.
// Every quantity in use is a continuous measurement.
func selectors(c device.Capability) (datum.Kind, datum.Unit) {
	return datum.KindFloat, c.Unit
}

func (l *Loop) decide(samples []sample) []decision {
	var out []decision
	for _, s := range samples {
		cmd, ok := l.policy.Decide(s.sensor, s.datum)
		if !ok {
			continue
		}
		cmd.ID = l.newID()
		out = append(out, decision{
			sensorID: s.sensor.ID,
			target:   device.Key{ID: s.sensor.ID, Role: device.RoleActuator},
			command:  cmd,
		})
	}
	return out
}

func (l *Loop) dispatch(ctx context.Context, cycle uint64, decisions []decision, report *CycleReport) {
	events := make([]CommandEvent, len(decisions))

	l.fanOut(len(decisions), func(i int) {
		events[i] = l.dispatchOne(ctx, cycle, decisions[i])
	})

	for _, ev := range events {
		switch ev.Outcome {
		case OutcomeOK:
			report.Accepted++
		case OutcomeRejected:
			report.Rejected++
		case OutcomeUnpaired:
			report.Unpaired++
		default:
			report.DispatchFailures++
		}
		l.broadcast(ChannelCommand, ev)
		l.mirror(l.topics.CommandLog(ev.ActuatorID), ev, false)
	}
}

func (l *Loop) dispatchOne(ctx context.Context, cycle uint64, d decision) CommandEvent {
	ev := CommandEvent{
		CommandID:  d.command.ID,
		SensorID:   d.sensorID,
		ActuatorID: d.target.ID,
		Command:    d.command,
		Cycle:      cycle,
	}

	// The address is resolved now, not at enumeration, so a device that
	// moved mid-cycle still gets its command.
	rec, ok := l.reg.Lookup(d.target)
	if !ok {
		ev.Outcome = OutcomeUnpaired
		ev.At = l.clock.Now()
		l.logger.Debug("no actuator paired with sensor", "device_id", d.sensorID, "command", d.command.String())
		return ev
	}
	ev.Address = rec.Address

	// Commands outside the advertised vocabulary are refused locally and
	// the actuator is not contacted.
	err := device.CheckCommand(rec.Capability, d.command)
	contacted := err == nil
	if contacted {
		callCtx, cancel := context.WithTimeout(ctx, l.cfg.CallTimeout)
		err = l.dialer.Actuator(rec.Address).Command(callCtx, d.command)
		cancel()
	}
	ev.At = l.clock.Now()
	ev.Outcome = classify(err)

	switch ev.Outcome {
	case OutcomeOK:
		l.reg.Touch(rec.Key())
		l.logger.Info("command accepted", "device_id", rec.ID, "command", d.command.String(), "command_id", d.command.ID)
	case OutcomeRejected:
		if contacted {
			l.reg.Touch(rec.Key())
		}
		ev.Reason = err.Error()
		l.logger.Warn("command rejected", "device_id", rec.ID, "command", d.command.String(), "error", err)
	default:
		ev.Reason = err.Error()
		l.logger.Warn("command dispatch failed", "device_id", rec.ID, "address", rec.Address, "error", err)
	}
	return ev
}

// fanOut calls task for 0..n-1 with at most MaxConcurrency running at
// once. Tasks report through captured slices and never fail the group.
func (l *Loop) fanOut(n int, task func(i int)) {
	var g errgroup.Group
	g.SetLimit(l.cfg.MaxConcurrency)

	for i := range n {
		g.Go(func() error {
			l.enter()
			defer l.inFlight.Add(-1)
			task(i)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // Tasks always return nil
}

func (l *Loop) enter() {
	now := l.inFlight.Add(1)
	for {
		peak := l.peak.Load()
		if now <= peak || l.peak.CompareAndSwap(peak, now) {
			return
		}
	}
}

func (l *Loop) record(r CycleReport) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cycles++
	l.nread += uint64(r.Readings)
	l.ncmd += uint64(r.Commands)
	l.nfail += uint64(r.Unreachable + r.DispatchFailures)
	l.lastSeen = r
}

// handleRegistryEvent drops the reading of a sensor that left the fabric
// and tells live clients about the departure.
func (l *Loop) handleRegistryEvent(ev registry.Event) {
	if ev.Type != registry.EventEvicted && ev.Type != registry.EventRemoved {
		return
	}

	rec := ev.Record
	if rec.Role == device.RoleSensor {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		if err := l.store.Delete(ctx, rec.ID); err != nil {
			l.logger.Error("dropping reading of departed sensor failed", "device_id", rec.ID, "error", err)
		}
		cancel()
	}

	reason := "ttl expired"
	if ev.Type == registry.EventRemoved {
		reason = "left"
	}
	l.logger.Info("device departed", "device_id", rec.ID, "role", rec.Role, "reason", reason)
	l.broadcast(ChannelEvicted, EvictionEvent{
		ID:      rec.ID,
		Role:    rec.Role,
		Address: rec.Address,
		Reason:  reason,
		At:      ev.At,
	})
}

func (l *Loop) broadcast(channel string, payload any) {
	if l.hub != nil {
		l.hub.Broadcast(channel, payload)
	}
}

func (l *Loop) mirror(topic string, payload any, retained bool) {
	if l.mqtt == nil {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		l.logger.Error("encoding mirror payload failed", "topic", topic, "error", err)
		return
	}
	if err := l.mqtt.Publish(topic, b, l.qos, retained); err != nil {
		l.logger.Warn("mirror publish failed", "topic", topic, "error", err)
	}
}
