package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/fieldmesh/internal/device"
	"github.com/nerrad567/fieldmesh/internal/registry"
)

func sensorDesc(id string) device.Description {
	return device.Description{
		ID:         id,
		Name:       "Thermometer " + id,
		Model:      device.ModelThermo5000,
		Role:       device.RoleSensor,
		Capability: device.TemperatureSensor(),
	}
}

func actuatorDesc(id string) device.Description {
	return device.Description{
		ID:         id,
		Name:       "Heater " + id,
		Model:      device.ModelThermo5000,
		Role:       device.RoleActuator,
		Capability: device.TemperatureActuator(),
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func newRegistry(t *testing.T, ttl time.Duration) *registry.Registry {
	t.Helper()
	r, err := registry.New(ttl)
	if err != nil {
		t.Fatalf("registry.New() error = %v", err)
	}
	return r
}

func TestAnnouncementRoundTrip(t *testing.T) {
	a := NewAnnouncement(actuatorDesc("thermo-1"), "127.0.0.1:9898", 6*time.Second)
	a.SentAt = time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

	b, err := a.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !strings.Contains(string(b), `"capability":"HeatBy,CoolBy"`) || !strings.Contains(string(b), `"ttl_ms":6000`) {
		t.Errorf("Encode() = %s", b)
	}

	got, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.ID != a.ID || got.Role != a.Role || got.Address != a.Address || got.TTL != a.TTL || !got.SentAt.Equal(a.SentAt) {
		t.Errorf("Decode() = %+v, want %+v", got, a)
	}

	rec, err := got.Record()
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if !rec.Capability.Supports(device.CommandCoolBy) || rec.Model != device.ModelThermo5000 {
		t.Errorf("Record() = %+v", rec)
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, in := range []string{"", "{", `{"role":"sensor"}`, `{"id":"a"}`} {
		if _, err := Decode([]byte(in)); !errors.Is(err, ErrMalformedAnnouncement) {
			t.Errorf("Decode(%q) error = %v, want ErrMalformedAnnouncement", in, err)
		}
	}
}

func TestAnnouncementRecordValidation(t *testing.T) {
	a := NewAnnouncement(sensorDesc("a"), "127.0.0.1:8787", time.Second)
	a.Capability = "temperature"
	if _, err := a.Record(); !errors.Is(err, device.ErrInvalidCapability) {
		t.Errorf("Record() error = %v, want ErrInvalidCapability", err)
	}

	a = NewAnnouncement(sensorDesc("a"), "not-an-address", time.Second)
	if _, err := a.Record(); !errors.Is(err, device.ErrInvalidDescription) {
		t.Errorf("Record() error = %v, want ErrInvalidDescription", err)
	}
}

func TestAnnouncementExpired(t *testing.T) {
	now := time.Now()
	a := NewAnnouncement(sensorDesc("a"), "127.0.0.1:1", time.Second)

	if a.Expired(now) {
		t.Error("announcement without timestamp should not expire")
	}
	a.SentAt = now.Add(-500 * time.Millisecond)
	if a.Expired(now) {
		t.Error("fresh announcement expired")
	}
	a.SentAt = now.Add(-2 * time.Second)
	if !a.Expired(now) {
		t.Error("old announcement not expired")
	}
}

func TestBusRetainsAndReplays(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	ctx := context.Background()

	if err := bus.Announce(ctx, NewAnnouncement(sensorDesc("a"), "127.0.0.1:1", time.Second)); err != nil {
		t.Fatal(err)
	}
	if err := bus.Announce(ctx, NewAnnouncement(actuatorDesc("a"), "127.0.0.1:2", time.Second)); err != nil {
		t.Fatal(err)
	}

	browseCtx, cancel := context.WithCancel(ctx)
	stream, err := bus.Browse(browseCtx, device.RoleSensor)
	if err != nil {
		t.Fatal(err)
	}

	got := <-stream
	if got.Role != device.RoleSensor || got.ID != "a" {
		t.Errorf("replayed %+v", got)
	}
	select {
	case extra := <-stream:
		t.Errorf("unexpected announcement for filtered role: %+v", extra)
	default:
	}

	leave := NewAnnouncement(sensorDesc("a"), "127.0.0.1:1", time.Second)
	leave.Leaving = true
	if err := bus.Announce(ctx, leave); err != nil {
		t.Fatal(err)
	}
	if got := <-stream; !got.Leaving {
		t.Errorf("expected leaving notice, got %+v", got)
	}
	if bus.Retained() != 1 {
		t.Errorf("Retained() = %d, want 1", bus.Retained())
	}

	cancel()
	waitFor(t, time.Second, func() bool {
		_, open := <-stream
		return !open
	})
}

func TestBusClosed(t *testing.T) {
	bus := NewBus()
	stream, err := bus.Browse(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
	if _, open := <-stream; open {
		t.Error("stream still open after Close")
	}
	if err := bus.Announce(context.Background(), Announcement{ID: "a", Role: device.RoleSensor}); !errors.Is(err, ErrBackendClosed) {
		t.Errorf("Announce() after Close error = %v", err)
	}
	if _, err := bus.Browse(context.Background(), ""); !errors.Is(err, ErrBackendClosed) {
		t.Errorf("Browse() after Close error = %v", err)
	}
}

func TestAnnouncerBrowserConvergence(t *testing.T) {
	const n = 10
	bus := NewBus()
	defer bus.Close()
	reg := newRegistry(t, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	// Half the devices announce before the browser starts, half after.
	start := func(from, to int) {
		for i := from; i < to; i++ {
			id := fmt.Sprintf("thermo-%d", i)
			for _, desc := range []device.Description{sensorDesc(id), actuatorDesc(id)} {
				ann, err := NewAnnouncer(bus, desc, fmt.Sprintf("127.0.0.1:%d", 10000+i), AnnouncerConfig{TTL: time.Second}, nil)
				if err != nil {
					t.Fatalf("NewAnnouncer() error = %v", err)
				}
				wg.Add(1)
				go func() {
					defer wg.Done()
					ann.Run(ctx) //nolint:errcheck
				}()
			}
		}
	}

	start(0, n/2)
	browser := NewBrowser(bus, reg, BrowserConfig{Role: device.RoleSensor}, nil)
	wg.Add(1)
	go func() {
		defer wg.Done()
		browser.Run(ctx) //nolint:errcheck
	}()
	start(n/2, n)

	waitFor(t, time.Second, func() bool { return len(reg.Snapshot(device.RoleSensor)) == n })
	if got := len(reg.Snapshot(device.RoleActuator)); got != 0 {
		t.Errorf("sensor browser registered %d actuators", got)
	}

	cancel()
	wg.Wait()

	if browser.Stats().Observed < n {
		t.Errorf("Observed = %d, want >= %d", browser.Stats().Observed, n)
	}
}

func TestBrowserLeaving(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	reg := newRegistry(t, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	browser := NewBrowser(bus, reg, BrowserConfig{}, nil)
	go browser.Run(ctx) //nolint:errcheck

	annCtx, stopAnnouncer := context.WithCancel(ctx)
	ann, err := NewAnnouncer(bus, actuatorDesc("heater"), "127.0.0.1:9898", AnnouncerConfig{TTL: time.Minute}, nil)
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	go func() {
		ann.Run(annCtx) //nolint:errcheck
		close(done)
	}()

	key := device.Key{ID: "heater", Role: device.RoleActuator}
	waitFor(t, time.Second, func() bool { _, ok := reg.Lookup(key); return ok })

	stopAnnouncer()
	<-done
	waitFor(t, time.Second, func() bool { _, ok := reg.Lookup(key); return !ok })

	if browser.Stats().Left != 1 {
		t.Errorf("Left = %d, want 1", browser.Stats().Left)
	}
}

func TestBrowserSkipsSelfAndInvalid(t *testing.T) {
	reg := newRegistry(t, time.Minute)
	self := device.Key{ID: "me", Role: device.RoleSensor}
	b := NewBrowser(NewBus(), reg, BrowserConfig{Self: self}, nil)

	b.Handle(NewAnnouncement(sensorDesc("me"), "127.0.0.1:1", time.Minute))
	bad := NewAnnouncement(sensorDesc("bad"), "127.0.0.1:1", time.Minute)
	bad.Model = "toaster"
	b.Handle(bad)
	old := NewAnnouncement(sensorDesc("old"), "127.0.0.1:1", time.Second)
	old.SentAt = time.Now().Add(-time.Hour)
	b.Handle(old)

	if reg.Len() != 0 {
		t.Errorf("registry has %d records, want 0", reg.Len())
	}
	if b.Stats().Rejected != 1 {
		t.Errorf("Rejected = %d, want 1", b.Stats().Rejected)
	}
}

func TestBrowserUsesAnnouncementTime(t *testing.T) {
	reg := newRegistry(t, time.Second)
	b := NewBrowser(NewBus(), reg, BrowserConfig{}, nil)

	late := NewAnnouncement(sensorDesc("late"), "127.0.0.1:1", 5*time.Second)
	late.SentAt = time.Now().Add(-600 * time.Millisecond)
	b.Handle(late)

	key := device.Key{ID: "late", Role: device.RoleSensor}
	if _, ok := reg.Lookup(key); !ok {
		t.Fatal("late announcement within the ttl was not recorded")
	}
	time.Sleep(600 * time.Millisecond)
	if _, ok := reg.Lookup(key); ok {
		t.Error("record outlived the ttl measured from its announcement")
	}
}

// flakyBackend ends its first stream immediately, then behaves like a bus.
type flakyBackend struct {
	*Bus
	mu    sync.Mutex
	calls int
}

func (f *flakyBackend) Browse(ctx context.Context, role device.Role) (<-chan Announcement, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	switch call {
	case 1:
		ch := make(chan Announcement)
		close(ch)
		return ch, nil
	case 2:
		return nil, errors.New("socket unavailable")
	default:
		return f.Bus.Browse(ctx, role)
	}
}

func TestBrowserRestartsStream(t *testing.T) {
	backend := &flakyBackend{Bus: NewBus()}
	defer backend.Close()
	reg := newRegistry(t, time.Minute)

	if err := backend.Announce(context.Background(), NewAnnouncement(sensorDesc("a"), "127.0.0.1:1", time.Minute)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	browser := NewBrowser(backend, reg, BrowserConfig{RestartDelay: 10 * time.Millisecond}, nil)
	go browser.Run(ctx) //nolint:errcheck

	waitFor(t, 2*time.Second, func() bool { return reg.Len() == 1 })
	if got := browser.Stats().Restarts; got != 2 {
		t.Errorf("Restarts = %d, want 2", got)
	}
}

func TestBrowserStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	browser := NewBrowser(NewBus(), newRegistry(t, time.Minute), BrowserConfig{}, nil)

	done := make(chan error, 1)
	go func() { done <- browser.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestNewAnnouncerValidates(t *testing.T) {
	bus := NewBus()
	if _, err := NewAnnouncer(bus, sensorDesc("a"), "nowhere", AnnouncerConfig{TTL: time.Second}, nil); err == nil {
		t.Error("NewAnnouncer() accepted a bad address")
	}
	if _, err := NewAnnouncer(bus, sensorDesc("a"), "127.0.0.1:1", AnnouncerConfig{}, nil); err == nil {
		t.Error("NewAnnouncer() accepted a zero TTL")
	}
}

func TestAnnouncerReannounces(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	stream, err := bus.Browse(context.Background(), device.RoleSensor)
	if err != nil {
		t.Fatal(err)
	}

	ann, err := NewAnnouncer(bus, sensorDesc("a"), "127.0.0.1:1", AnnouncerConfig{TTL: 90 * time.Millisecond}, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ann.Run(ctx) //nolint:errcheck
		close(done)
	}()

	var got []Announcement
	for len(got) < 3 {
		select {
		case a := <-stream:
			got = append(got, a)
		case <-time.After(time.Second):
			t.Fatalf("only %d announcements within 1s", len(got))
		}
	}
	cancel()
	<-done

	for _, a := range got {
		if a.Leaving || a.SentAt.IsZero() || a.TTL != Millis(90*time.Millisecond) {
			t.Errorf("announcement = %+v", a)
		}
	}
}

func TestNewMulticastRejectsBadGroup(t *testing.T) {
	for _, group := range []string{"10.0.0.1", "not-an-ip", "ff02::1"} {
		if _, err := NewMulticast(MulticastConfig{Group: group}, nil); err == nil {
			t.Errorf("NewMulticast(%q) accepted a non-IPv4-multicast group", group)
		}
	}
}
