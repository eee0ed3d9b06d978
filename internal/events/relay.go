package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// relayChannel is the Redis pub/sub channel carrying progress events
// between the worker and HTTP processes.
const relayChannel = "mediascribe:events"

// Relay bridges a Bus over Redis pub/sub so events published in the worker
// process reach subscribers in the HTTP process. Delivery stays best-effort:
// pub/sub drops messages when nobody listens, which matches the bus contract.
type Relay struct {
	client *redis.Client
}

// NewRelay wraps an existing Redis client.
func NewRelay(client *redis.Client) *Relay {
	return &Relay{client: client}
}

// Forward copies every event published on bus to the Redis channel until ctx
// is cancelled. Run it in the process that produces events.
func (r *Relay) Forward(ctx context.Context, bus *Bus) {
	ch, cancel := bus.Subscribe("", 64)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				slog.Error("Failed to marshal event", "job_id", ev.JobID, "error", err)
				continue
			}
			if err := r.client.Publish(ctx, relayChannel, payload).Err(); err != nil {
				slog.Warn("Failed to relay event", "job_id", ev.JobID, "error", err)
			}
		}
	}
}

// Receive republishes events arriving on the Redis channel onto bus until
// ctx is cancelled. Run it in the process that serves subscribers.
func (r *Relay) Receive(ctx context.Context, bus *Bus) {
	sub := r.client.Subscribe(ctx, relayChannel)
	defer sub.Close()

	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("Event relay receive failed", "error", err)
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			slog.Error("Failed to decode relayed event", "error", err)
			continue
		}
		bus.Publish(ev)
	}
}
