package store

import (
	"context"
	"log/slog"
	"time"
)

// Pruner removes journal entries older than a retention window. It plugs
// into the session sweeper.
type Pruner struct {
	journal   Journal
	retention time.Duration
	timeout   time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewPruner creates a pruner. A non-positive retention keeps everything.
func NewPruner(j Journal, retention time.Duration, logger *slog.Logger) *Pruner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{journal: j, retention: retention, timeout: 10 * time.Second, now: time.Now, logger: logger}
}

// Name identifies the pruner in sweeper logs.
func (p *Pruner) Name() string {
	return "journal"
}

// Sweep removes expired entries and returns how many were removed.
func (p *Pruner) Sweep() int {
	if p.retention <= 0 {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	removed, err := p.journal.PruneBefore(ctx, p.now().Add(-p.retention))
	if err != nil {
		p.logger.Warn("Failed to prune call journal", "error", err)
		return 0
	}
	return int(removed)
}
