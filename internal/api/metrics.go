package api

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/nerrad567/fieldmesh/internal/controller"
	"github.com/nerrad567/fieldmesh/internal/datum"
	"github.com/nerrad567/fieldmesh/internal/registry"
	"github.com/nerrad567/fieldmesh/internal/transport"
)

// hostProbeTimeout bounds the gopsutil calls so /metrics stays responsive.
const hostProbeTimeout = 500 * time.Millisecond

// SystemMetrics is the /metrics response.
type SystemMetrics struct {
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Runtime       RuntimeMetrics    `json:"runtime"`
	Host          *HostMetrics      `json:"host,omitempty"`
	WebSocket     WSMetrics         `json:"websocket"`
	MQTT          *MQTTMetrics      `json:"mqtt,omitempty"`
	Registry      registry.Stats    `json:"registry"`
	Controller    *controller.Stats `json:"controller,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// HostMetrics describes the machine and this process. Fields the platform
// cannot report are left zero.
type HostMetrics struct {
	CPUPercent     float64 `json:"cpu_percent"`
	MemoryPercent  float64 `json:"memory_percent"`
	MemoryUsedMB   float64 `json:"memory_used_mb"`
	MemoryTotalMB  float64 `json:"memory_total_mb"`
	Load1          float64 `json:"load_1"`
	Load5          float64 `json:"load_5"`
	Load15         float64 `json:"load_15"`
	ProcessRSSMB   float64 `json:"process_rss_mb"`
	ProcessThreads int32   `json:"process_threads"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains broker link statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(datum.TimeFormat),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: bytesToMB(memStats.Alloc),
			MemoryTotalMB: bytesToMB(memStats.TotalAlloc),
			NumGC:         memStats.NumGC,
		},
		Host:      collectHost(r.Context()),
		WebSocket: WSMetrics{ConnectedClients: s.hub.ClientCount()},
		Registry:  s.registry.Stats(),
	}

	if s.mqtt != nil {
		metrics.MQTT = &MQTTMetrics{Connected: s.mqtt.IsConnected()}
	}
	if s.loop != nil {
		st := s.loop.Stats()
		metrics.Controller = &st
	}

	transport.WriteJSON(w, http.StatusOK, metrics)
}

// collectHost gathers host figures from gopsutil. It returns nil only when
// every probe failed.
func collectHost(ctx context.Context) *HostMetrics {
	ctx, cancel := context.WithTimeout(ctx, hostProbeTimeout)
	defer cancel()

	var h HostMetrics
	ok := false

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		h.MemoryPercent = vm.UsedPercent
		h.MemoryUsedMB = bytesToMB(vm.Used)
		h.MemoryTotalMB = bytesToMB(vm.Total)
		ok = true
	}
	// Zero interval compares against the previous call.
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		h.CPUPercent = pct[0]
		ok = true
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		h.Load1, h.Load5, h.Load15 = avg.Load1, avg.Load5, avg.Load15
		ok = true
	}
	if p, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if info, err := p.MemoryInfoWithContext(ctx); err == nil {
			h.ProcessRSSMB = bytesToMB(info.RSS)
			ok = true
		}
		if n, err := p.NumThreadsWithContext(ctx); err == nil {
			h.ProcessThreads = n
		}
	}

	if !ok {
		return nil
	}
	return &h
}

func bytesToMB(b uint64) float64 {
	return float64(b) / 1024 / 1024
}
