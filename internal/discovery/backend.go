package discovery

import (
	"context"
	"errors"

	"github.com/nerrad567/fieldmesh/internal/device"
)

// Backend is a discovery medium.
//
// Browse returns a stream of announcements for role (all roles if empty).
// The channel is closed when ctx is cancelled or the stream fails; the
// Browser distinguishes the two by checking ctx.
type Backend interface {
	Announce(ctx context.Context, a Announcement) error
	Browse(ctx context.Context, role device.Role) (<-chan Announcement, error)
	Close() error
}

// ErrBackendClosed is returned by backends used after Close.
var ErrBackendClosed = errors.New("discovery: backend closed")

// Logger defines the logging interface used by discovery.
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

// streamBuffer is the channel capacity of a browse stream. Backends never
// block on a slow browser: a full buffer drops announcements and the next
// periodic re-announce recovers them.
const streamBuffer = 256

func matchesRole(filter, role device.Role) bool {
	return filter == "" || filter == role
}
