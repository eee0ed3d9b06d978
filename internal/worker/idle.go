package worker

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Activity tracks when a worker last did anything and how many handlers are
// in flight. Touch is called on every claim, completion and failure.
type Activity struct {
	lastActivity atomic.Int64 // unix nano
	inFlight     atomic.Int64
}

// NewActivity starts the clock at now.
func NewActivity() *Activity {
	a := &Activity{}
	a.Touch()
	return a
}

// Touch records activity.
func (a *Activity) Touch() {
	a.lastActivity.Store(time.Now().UnixNano())
}

// Begin marks a handler in flight.
func (a *Activity) Begin() {
	a.inFlight.Add(1)
	a.Touch()
}

// End marks a handler finished.
func (a *Activity) End() {
	a.inFlight.Add(-1)
	a.Touch()
}

// InFlight returns the number of running handlers.
func (a *Activity) InFlight() int64 {
	return a.inFlight.Load()
}

// IdleFor returns how long the worker has been inactive.
func (a *Activity) IdleFor() time.Duration {
	return time.Since(time.Unix(0, a.lastActivity.Load()))
}

// IdleSupervisor shuts a worker process down when every watched queue is
// drained and no worker has done anything for longer than the threshold. It
// never stops the process while a job is in flight.
type IdleSupervisor struct {
	queue      JobQueue
	queueNames []string
	activities []*Activity
	threshold  time.Duration
	interval   time.Duration
	shutdown   func()
}

// NewIdleSupervisor wires a supervisor to the process's queues and worker
// activities. shutdown is invoked once when the idle condition holds.
func NewIdleSupervisor(jobQueue JobQueue, queueNames []string, activities []*Activity,
	threshold time.Duration, shutdown func()) *IdleSupervisor {
	return &IdleSupervisor{
		queue:      jobQueue,
		queueNames: queueNames,
		activities: activities,
		threshold:  threshold,
		interval:   time.Minute,
		shutdown:   shutdown,
	}
}

// Run checks the idle condition on a timer until ctx is cancelled or the
// condition fires.
func (s *IdleSupervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.check(ctx) {
				slog.Info("Worker idle beyond threshold, shutting down",
					"queues", s.queueNames, "threshold", s.threshold)
				s.shutdown()
				return
			}
		}
	}
}

func (s *IdleSupervisor) check(ctx context.Context) bool {
	for _, a := range s.activities {
		if a.InFlight() > 0 {
			return false
		}
		if a.IdleFor() < s.threshold {
			return false
		}
	}

	for _, name := range s.queueNames {
		counts, err := s.queue.Counts(ctx, name)
		if err != nil {
			slog.Error("Failed to read queue counts", "queue", name, "error", err)
			return false
		}
		if counts.Waiting != 0 || counts.Processing != 0 || counts.Delayed != 0 {
			return false
		}
	}
	return true
}
