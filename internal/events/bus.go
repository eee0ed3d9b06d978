// Package events is the in-process progress multiplexer. Delivery is
// best-effort and lossy; clients reconcile by re-polling the record.
package events

import (
	"fmt"
	"sync"
	"time"
)

// Kind is the event topic family.
type Kind string

const (
	KindProgress  Kind = "job:progress"
	KindCompleted Kind = "job:completed"
	KindFailed    Kind = "job:failed"
)

// Event is one progress update for one job.
type Event struct {
	JobID     string    `json:"job_id"`
	Kind      Kind      `json:"kind"`
	Progress  int       `json:"progress"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Topic returns the full topic name, e.g. job:progress:job-ab12.
func (e Event) Topic() string {
	return fmt.Sprintf("%s:%s", e.Kind, e.JobID)
}

type subscriber struct {
	jobID string // "" subscribes to every job
	ch    chan Event
}

// Bus fans worker progress out to subscribers keyed by job id. Publish never
// blocks; a subscriber that falls behind loses events.
type Bus struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*subscriber]struct{})}
}

// Subscribe registers interest in one job's events. An empty jobID receives
// every event (used by the push bridge). The returned cancel func must be
// called to release the subscription.
func (b *Bus) Subscribe(jobID string, buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 16
	}
	sub := &subscriber{jobID: jobID, ch: make(chan Event, buffer)}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Publish delivers an event to matching subscribers, dropping it for any
// whose buffer is full.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if sub.jobID != "" && sub.jobID != ev.JobID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// slow subscriber, drop
		}
	}
}

// Progress publishes a job:progress event.
func (b *Bus) Progress(jobID string, progress int, status, message string) {
	b.Publish(Event{JobID: jobID, Kind: KindProgress, Progress: progress, Status: status, Message: message})
}

// Completed publishes a job:completed event at 100%.
func (b *Bus) Completed(jobID, status string) {
	b.Publish(Event{JobID: jobID, Kind: KindCompleted, Progress: 100, Status: status})
}

// Failed publishes a job:failed event.
func (b *Bus) Failed(jobID, message string) {
	b.Publish(Event{JobID: jobID, Kind: KindFailed, Status: "failed", Message: message})
}
