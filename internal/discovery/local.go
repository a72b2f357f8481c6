package discovery

import (
	"context"
	"sync"

	"github.com/nerrad567/fieldmesh/internal/device"
)

// Bus is an in-process Backend. It retains the latest announcement per
// device so that a browser started late sees the current population, the
// way a retained MQTT topic or an mDNS cache would.
type Bus struct {
	mu       sync.Mutex
	retained map[device.Key]Announcement
	subs     map[int]*busSub
	nextID   int
	closed   bool
}

type busSub struct {
	role device.Role
	ch   chan Announcement
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		retained: make(map[device.Key]Announcement),
		subs:     make(map[int]*busSub),
	}
}

// Announce implements Backend.
func (b *Bus) Announce(_ context.Context, a Announcement) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBackendClosed
	}
	if a.Leaving {
		delete(b.retained, a.Key())
	} else {
		b.retained[a.Key()] = a
	}

	for _, sub := range b.subs {
		if matchesRole(sub.role, a.Role) {
			offer(sub.ch, a)
		}
	}
	return nil
}

// Browse implements Backend.
func (b *Bus) Browse(ctx context.Context, role device.Role) (<-chan Announcement, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBackendClosed
	}

	sub := &busSub{role: role, ch: make(chan Announcement, streamBuffer)}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub

	for _, a := range b.retained {
		if matchesRole(role, a.Role) {
			offer(sub.ch, a)
		}
	}

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub.ch)
		}
		b.mu.Unlock()
	}()

	return sub.ch, nil
}

// Close ends every open stream.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
	return nil
}

// Retained returns the number of retained announcements.
func (b *Bus) Retained() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.retained)
}

// offer sends without blocking. Callers ensure ch is not closed concurrently.
func offer(ch chan Announcement, a Announcement) bool {
	select {
	case ch <- a:
		return true
	default:
		return false
	}
}
