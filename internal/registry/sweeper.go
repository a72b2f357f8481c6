package registry

import (
	"context"
	"time"
)

// RunSweeper sweeps r every interval until ctx is cancelled. The controller
// also sweeps at the start of each cycle; this loop keeps eviction events
// timely in processes that never poll.
func RunSweeper(ctx context.Context, r *Registry, interval time.Duration) {
	if interval <= 0 {
		interval = r.ttl / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}
