package discovery

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/fieldmesh/internal/device"
)

// leaveTimeout bounds the final leaving announcement sent on shutdown.
const leaveTimeout = 2 * time.Second

// Announcer keeps one device's announcement fresh.
type Announcer struct {
	backend  Backend
	desc     device.Description
	addr     string
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
	logger   Logger
}

// AnnouncerConfig holds announcement timing. Interval defaults to TTL/3.
type AnnouncerConfig struct {
	TTL      time.Duration
	Interval time.Duration
}

// NewAnnouncer validates desc and addr and returns an Announcer.
func NewAnnouncer(backend Backend, desc device.Description, addr string, cfg AnnouncerConfig, logger Logger) (*Announcer, error) {
	if err := device.ValidateRecord(device.Record{Description: desc, Address: addr}); err != nil {
		return nil, err
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("discovery: announce ttl must be positive")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = cfg.TTL / 3
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Announcer{
		backend:  backend,
		desc:     desc,
		addr:     addr,
		ttl:      cfg.TTL,
		interval: cfg.Interval,
		now:      time.Now,
		logger:   logger,
	}, nil
}

// Announcement returns what the announcer publishes.
func (a *Announcer) Announcement() Announcement {
	ann := NewAnnouncement(a.desc, a.addr, a.ttl)
	ann.SentAt = a.now().UTC()
	return ann
}

// Run announces immediately, then every interval until ctx is cancelled,
// and finally publishes a leaving notice. Failed announcements are logged
// and retried on the next tick.
func (a *Announcer) Run(ctx context.Context) error {
	a.announce(ctx)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.leave()
			return nil
		case <-ticker.C:
			a.announce(ctx)
		}
	}
}

func (a *Announcer) announce(ctx context.Context) {
	if err := a.backend.Announce(ctx, a.Announcement()); err != nil {
		if ctx.Err() == nil {
			a.logger.Warn("announce failed", "device_id", a.desc.ID, "role", a.desc.Role, "error", err)
		}
		return
	}
	a.logger.Debug("announced", "device_id", a.desc.ID, "role", a.desc.Role, "address", a.addr)
}

func (a *Announcer) leave() {
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()

	ann := a.Announcement()
	ann.Leaving = true
	if err := a.backend.Announce(ctx, ann); err != nil {
		a.logger.Warn("leave announcement failed", "device_id", a.desc.ID, "error", err)
		return
	}
	a.logger.Info("announced departure", "device_id", a.desc.ID, "role", a.desc.Role)
}
