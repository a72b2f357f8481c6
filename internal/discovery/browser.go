package discovery

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/nerrad567/fieldmesh/internal/device"
)

// Sink receives browse observations. *registry.Registry implements it.
type Sink interface {
	Upsert(rec device.Record) error
	Remove(key device.Key) bool
}

// BrowserConfig configures a Browser.
type BrowserConfig struct {
	// Role filters observations; empty accepts every role.
	Role device.Role

	// RestartDelay is the pause before reopening a failed stream.
	RestartDelay time.Duration

	// Self is skipped so a device does not register itself.
	Self device.Key
}

// BrowserStats are cumulative counters.
type BrowserStats struct {
	Observed uint64 `json:"observed"`
	Rejected uint64 `json:"rejected"`
	Left     uint64 `json:"left"`
	Restarts uint64 `json:"restarts"`
}

// Browser consumes a backend's announcement stream into a Sink.
type Browser struct {
	backend Backend
	sink    Sink
	cfg     BrowserConfig
	now     func() time.Time
	logger  Logger

	observed atomic.Uint64
	rejected atomic.Uint64
	left     atomic.Uint64
	restarts atomic.Uint64
}

// NewBrowser creates a Browser.
func NewBrowser(backend Backend, sink Sink, cfg BrowserConfig, logger Logger) *Browser {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = time.Second
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Browser{
		backend: backend,
		sink:    sink,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger,
	}
}

// Run browses until ctx is cancelled, reopening the stream whenever it ends.
func (b *Browser) Run(ctx context.Context) error {
	for {
		stream, err := b.backend.Browse(ctx, b.cfg.Role)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.logger.Warn("browse failed", "role", b.cfg.Role, "error", err)
		} else {
			b.consume(stream)
		}

		if ctx.Err() != nil {
			return nil
		}

		b.restarts.Add(1)
		b.logger.Info("restarting browse stream", "role", b.cfg.Role, "delay", b.cfg.RestartDelay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(b.cfg.RestartDelay):
		}
	}
}

// Stats returns cumulative counters.
func (b *Browser) Stats() BrowserStats {
	return BrowserStats{
		Observed: b.observed.Load(),
		Rejected: b.rejected.Load(),
		Left:     b.left.Load(),
		Restarts: b.restarts.Load(),
	}
}

func (b *Browser) consume(stream <-chan Announcement) {
	for ann := range stream {
		b.Handle(ann)
	}
}

// Handle applies one announcement to the sink.
func (b *Browser) Handle(ann Announcement) {
	if !matchesRole(b.cfg.Role, ann.Role) || ann.Key() == b.cfg.Self {
		return
	}

	if ann.Leaving {
		if b.sink.Remove(ann.Key()) {
			b.left.Add(1)
		}
		return
	}

	if ann.Expired(b.now()) {
		b.logger.Debug("ignoring expired announcement", "device_id", ann.ID, "role", ann.Role, "sent_at", ann.SentAt)
		return
	}

	rec, err := ann.Record()
	if err == nil {
		err = b.sink.Upsert(rec)
	}
	if err != nil {
		b.rejected.Add(1)
		b.logger.Warn("ignoring invalid announcement", "device_id", ann.ID, "role", ann.Role, "error", err)
		return
	}
	b.observed.Add(1)
}
