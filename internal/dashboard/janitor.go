package dashboard

import (
	"context"
	"log/slog"
	"time"
)

const janitorInterval = 5 * time.Minute

// EvictCallback is called for each visitor removed by the janitor.
type EvictCallback func(visitorID string)

// StartJanitor runs a background goroutine that periodically evicts visitors
// idle for longer than ttl and closes their widget instances.
func StartJanitor(ctx context.Context, reg *Registry, ttl time.Duration, onEvict EvictCallback) {
	interval := janitorInterval
	if ttl < interval {
		interval = ttl
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Janitor started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweep(reg, ttl, onEvict)
			case <-ctx.Done():
				slog.Info("Janitor shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweep(reg *Registry, ttl time.Duration, onEvict EvictCallback) {
	expired := reg.ExpireIdle(ttl)
	if len(expired) == 0 {
		return
	}

	for _, id := range expired {
		slog.Info("Janitor evicted idle visitor", "visitor_id", id)
		if onEvict != nil {
			onEvict(id)
		}
	}
	slog.Info("Janitor sweep completed", "evicted", len(expired), "remaining", reg.Len())
}
