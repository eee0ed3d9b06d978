// Package sweeper reconciles orphaned jobs: processing entries whose
// deadline passed long ago go back to waiting with an incremented attempt.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"mediascribe/internal/config"
	"mediascribe/internal/queue"
)

// QueueSweeper is the queue surface the sweeper needs.
type QueueSweeper interface {
	Sweep(ctx context.Context, queueName string, olderThan time.Duration) (int, error)
}

// Sweeper periodically sweeps every stage queue.
type Sweeper struct {
	queue     QueueSweeper
	queues    []string
	interval  time.Duration
	olderThan time.Duration
}

// New creates a sweeper over all stage queues with the configured cadence.
func New(q QueueSweeper) *Sweeper {
	return &Sweeper{
		queue:     q,
		queues:    queue.Queues,
		interval:  config.SweepInterval,
		olderThan: config.SweepGrace,
	}
}

// Run sweeps on a timer until ctx is cancelled. One pass runs immediately
// at startup to recover jobs lost to a previous crash.
func (s *Sweeper) Run(ctx context.Context) {
	s.sweepAll(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepAll(ctx)
		}
	}
}

func (s *Sweeper) sweepAll(ctx context.Context) {
	for _, name := range s.queues {
		moved, err := s.queue.Sweep(ctx, name, s.olderThan)
		if err != nil {
			slog.Error("Sweep failed", "queue", name, "error", err)
			continue
		}
		if moved > 0 {
			slog.Warn("Sweep recovered stuck jobs", "queue", name, "count", moved)
		}
	}
}
