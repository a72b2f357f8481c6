package actuator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/fieldmesh/internal/device"
	"github.com/nerrad567/fieldmesh/internal/registry"
	"github.com/nerrad567/fieldmesh/internal/transport"
)

// recordingClient captures what would be sent to the environment.
type recordingClient struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

type sent struct {
	addr  string
	id    string
	model device.Model
	cmd   device.Command
}

func (c *recordingClient) SendEnvironmentCommand(_ context.Context, addr, id string, model device.Model, cmd device.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sent{addr, id, model, cmd})
	return c.err
}

func upstreamAt(t *testing.T, addr string) *registry.Registry {
	t.Helper()
	reg, err := registry.New(time.Minute)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	if addr != "" {
		err = reg.Upsert(device.Record{
			Description: device.Description{
				ID: "environment", Name: "Environment", Model: device.ModelEnvironment, Role: device.RoleEnvironment,
			},
			Address: addr,
		})
		if err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	return reg
}

func TestNew_RejectsWrongRole(t *testing.T) {
	_, err := New(device.Description{
		ID: "thermo-1", Model: device.ModelThermo5000, Role: device.RoleSensor, Capability: device.TemperatureSensor(),
	}, upstreamAt(t, ""), &recordingClient{}, nil)
	if !errors.Is(err, device.ErrInvalidRole) {
		t.Errorf("err = %v, want ErrInvalidRole", err)
	}
}

func TestCommand(t *testing.T) {
	withID := device.HeatBy(3)
	withID.ID = "cmd-42"

	tests := []struct {
		name      string
		upstream  string
		clientErr error
		cmd       device.Command
		wantSent  int
		check     func(t *testing.T, err error)
	}{
		{
			name:     "forwarded with identity",
			upstream: "10.0.0.5:5454",
			cmd:      withID,
			wantSent: 1,
			check: func(t *testing.T, err error) {
				if err != nil {
					t.Fatalf("Command: %v", err)
				}
			},
		},
		{
			name:     "unknown command refused locally",
			upstream: "10.0.0.5:5454",
			cmd:      device.Command{Name: "Boil", Value: "1.0"},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, device.ErrUnknownCommand) || !device.IsRejection(err) {
					t.Errorf("err = %v, want unknown command rejection", err)
				}
			},
		},
		{
			name:     "bad value refused locally",
			upstream: "10.0.0.5:5454",
			cmd:      device.Command{Name: "CoolBy", Value: "lots"},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, device.ErrInvalidCommandValue) {
					t.Errorf("err = %v, want ErrInvalidCommandValue", err)
				}
			},
		},
		{
			name: "no environment",
			cmd:  device.CoolBy(1),
			check: func(t *testing.T, err error) {
				if !errors.Is(err, transport.ErrNoUpstream) {
					t.Errorf("err = %v, want ErrNoUpstream", err)
				}
			},
		},
		{
			name:      "environment rejection relayed",
			upstream:  "10.0.0.5:5454",
			clientErr: &device.Rejection{Reason: "unknown id"},
			cmd:       device.CoolBy(1),
			wantSent:  1,
			check: func(t *testing.T, err error) {
				if !device.IsRejection(err) {
					t.Errorf("err = %v, want rejection", err)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &recordingClient{err: tt.clientErr}
			a, err := NewTemperature("thermo-1", "Thermo", upstreamAt(t, tt.upstream), client, nil)
			if err != nil {
				t.Fatalf("NewTemperature: %v", err)
			}

			tt.check(t, a.Command(context.Background(), tt.cmd))

			if len(client.sent) != tt.wantSent {
				t.Fatalf("sent %d commands, want %d", len(client.sent), tt.wantSent)
			}
			if tt.wantSent == 0 {
				return
			}
			got := client.sent[0]
			if got.addr != tt.upstream || got.id != "thermo-1" || got.model != device.ModelThermo5000 || got.cmd != tt.cmd {
				t.Errorf("sent = %+v", got)
			}
		})
	}
}

func TestHandler_StatusCodes(t *testing.T) {
	tests := []struct {
		name      string
		upstream  string
		clientErr error
		body      string
		want      int
	}{
		{"accepted", "10.0.0.5:5454", nil, `{"name":"HeatBy","value":"2.0"}`, http.StatusOK},
		{"unknown command", "10.0.0.5:5454", nil, `{"name":"Boil","value":"2.0"}`, http.StatusConflict},
		{"malformed body", "10.0.0.5:5454", nil, `{"name":`, http.StatusBadRequest},
		{"no environment", "", nil, `{"name":"HeatBy","value":"2.0"}`, http.StatusServiceUnavailable},
		{"environment down", "10.0.0.5:5454", &transport.Error{Op: "send", Address: "10.0.0.5:5454", Err: errors.New("refused")}, `{"name":"HeatBy","value":"2.0"}`, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewTemperature("thermo-1", "Thermo", upstreamAt(t, tt.upstream), &recordingClient{err: tt.clientErr}, nil)
			if err != nil {
				t.Fatalf("NewTemperature: %v", err)
			}
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/command", strings.NewReader(tt.body))
			NewHandler(a, "test", nil).ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d; body=%s", rec.Code, tt.want, rec.Body)
			}
		})
	}
}
