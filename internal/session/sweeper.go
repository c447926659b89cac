package session

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is used when StartSweeper is given a non-positive interval.
const DefaultSweepInterval = 5 * time.Minute

// Sweeper is anything that can drop its expired sessions.
type Sweeper interface {
	Name() string
	Sweep() int
}

// StartSweeper runs a background goroutine that periodically sweeps expired
// sessions from every store. Lookups already hide expired sessions, so the
// worker only bounds memory held by idle stores.
func StartSweeper(ctx context.Context, interval time.Duration, logger *slog.Logger, stores ...Sweeper) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		logger.Info("Session sweeper started", "interval", interval, "stores", len(stores))

		for {
			select {
			case <-ticker.C:
				sweepAll(logger, stores)
			case <-ctx.Done():
				logger.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepAll(logger *slog.Logger, stores []Sweeper) {
	total := 0
	for _, st := range stores {
		if removed := st.Sweep(); removed > 0 {
			logger.Info("Session sweeper removed expired sessions", "toolset", st.Name(), "count", removed)
			total += removed
		}
	}
	if total > 0 {
		logger.Debug("Session sweep completed", "removed", total)
	}
}
