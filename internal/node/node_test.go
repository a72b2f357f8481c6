package node

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/fieldmesh/internal/device"
	"github.com/nerrad567/fieldmesh/internal/discovery"
	"github.com/nerrad567/fieldmesh/internal/infrastructure/config"
	"github.com/nerrad567/fieldmesh/internal/infrastructure/logging"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Node.Port = 0
	cfg.Discovery.Backend = config.BackendLocal
	cfg.Controller.PollInterval = config.Duration(50 * time.Millisecond)
	cfg.Controller.SweepInterval = config.Duration(100 * time.Millisecond)
	return cfg
}

func TestAdvertiseHost(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.NodeConfig
		want string
	}{
		{"explicit", config.NodeConfig{Mode: config.ModeNetwork, AdvertiseHost: "thermo.lan"}, "thermo.lan"},
		{"local mode", config.NodeConfig{Mode: config.ModeLocal, Host: "0.0.0.0"}, "127.0.0.1"},
		{"specific bind host", config.NodeConfig{Mode: config.ModeNetwork, Host: "10.1.2.3"}, "10.1.2.3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AdvertiseHost(tt.cfg)
			if err != nil {
				t.Fatalf("AdvertiseHost: %v", err)
			}
			if got != tt.want {
				t.Errorf("AdvertiseHost = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOutboundIP(t *testing.T) {
	ip, err := OutboundIP()
	if errors.Is(err, ErrNoAddress) {
		t.Skip("no routable interface in this environment")
	}
	if err != nil {
		t.Fatalf("OutboundIP: %v", err)
	}
	if ip.IsLoopback() || ip.IsUnspecified() {
		t.Errorf("OutboundIP = %v, want a routable address", ip)
	}
}

func TestAdvertiseAddr(t *testing.T) {
	got, err := advertiseAddr(config.NodeConfig{Mode: config.ModeLocal}, "[::]:8787")
	if err != nil {
		t.Fatalf("advertiseAddr: %v", err)
	}
	if got != "127.0.0.1:8787" {
		t.Errorf("advertiseAddr = %q", got)
	}

	if _, err := advertiseAddr(config.NodeConfig{Mode: config.ModeLocal}, "no-port"); err == nil {
		t.Error("advertiseAddr accepted an address without a port")
	}
}

func TestListenAddr(t *testing.T) {
	tests := []struct {
		cfg  config.NodeConfig
		want string
	}{
		{config.NodeConfig{Mode: config.ModeLocal, Port: 8787}, "127.0.0.1:8787"},
		{config.NodeConfig{Mode: config.ModeNetwork, Port: 8787}, "0.0.0.0:8787"},
		{config.NodeConfig{Mode: config.ModeNetwork, Host: "10.0.0.5", Port: 1}, "10.0.0.5:1"},
	}
	for _, tt := range tests {
		if got := listenAddr(tt.cfg); got != tt.want {
			t.Errorf("listenAddr(%+v) = %q, want %q", tt.cfg, got, tt.want)
		}
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Discovery.Backend = "carrier-pigeon"

	_, err := New(cfg, nil)
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestAnnounce_BeforeServe(t *testing.T) {
	n, err := New(testConfig(), nil, WithBackend(discovery.NewBus()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer n.Close()

	err = n.Announce(device.Description{ID: "x", Role: device.RoleController, Model: device.ModelController})
	if !errors.Is(err, ErrNotServing) {
		t.Errorf("err = %v, want ErrNotServing", err)
	}
}

func TestClose_ReverseOrderOnce(t *testing.T) {
	n, err := New(testConfig(), nil, WithBackend(discovery.NewBus()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var order []int
	for i := range 3 {
		n.OnClose(func() error {
			order = append(order, i)
			return nil
		})
	}

	if err := n.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := n.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if len(order) != 3 || order[0] != 2 || order[2] != 0 {
		t.Errorf("close order = %v, want [2 1 0]", order)
	}
}

func TestRun_TaskFailureStopsNode(t *testing.T) {
	n, err := New(testConfig(), nil, WithBackend(discovery.NewBus()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	boom := errors.New("boom")
	n.Go(func(context.Context) error { return boom })

	var stopped bool
	n.Go(func(ctx context.Context) error {
		<-ctx.Done()
		stopped = true
		return nil
	})

	if err := n.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Run = %v, want boom", err)
	}
	if !stopped {
		t.Error("sibling task was not cancelled")
	}
}

// TestLocalFabric runs every component in one process on a shared bus and
// waits for the controller to hold a reading for the sensor.
func TestLocalFabric(t *testing.T) {
	if testing.Short() {
		t.Skip("starts four listeners")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := discovery.NewBus()
	defer bus.Close()

	logger := logging.Discard()
	base := testConfig()

	builders := []func(context.Context, *config.Config, *logging.Logger, ...Option) (*Node, error){
		NewEnvironment, NewSensor, NewActuator, NewController,
	}
	nodes := make([]*Node, 0, len(builders))
	for _, build := range builders {
		cfg := *base
		n, err := build(ctx, &cfg, logger, WithBackend(bus), WithVersion("test"))
		if err != nil {
			t.Fatalf("building node: %v", err)
		}
		nodes = append(nodes, n)
	}
	ctrl := nodes[len(nodes)-1]

	var wg sync.WaitGroup
	errs := make(chan error, len(nodes))
	for _, n := range nodes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- n.Run(ctx)
		}()
	}

	eventually(t, func() bool {
		return get(t, "http://"+ctrl.Addr()+"/datum?id="+DefaultDeviceID, nil) == http.StatusOK
	}, "controller never stored a reading for "+DefaultDeviceID)

	// environment, sensor and actuator; the controller skips itself.
	eventually(t, func() bool {
		var body struct {
			Count int `json:"count"`
		}
		return get(t, "http://"+ctrl.Addr()+"/devices", &body) == http.StatusOK && body.Count == 3
	}, "controller registry never held three devices")

	cancel()
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// get returns the status of a GET, decoding a 200 body into out when set.
// Connection errors report status 0.
func get(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}
