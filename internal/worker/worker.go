// Package worker is the stage worker runtime: it claims jobs from one stage
// queue, runs the stage handler under a deadline, reports progress and hands
// the record to the next stage.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mediascribe/internal/config"
	"mediascribe/internal/events"
	"mediascribe/internal/queue"
	"mediascribe/internal/stages"
	"mediascribe/internal/store"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// pollInterval is how long a loop sleeps when the queue is empty.
const pollInterval = time.Second

// bookkeepTimeout bounds the store and queue writes that settle a job after
// its handler returns.
const bookkeepTimeout = 30 * time.Second

// JobQueue is the queue surface the runtime needs.
type JobQueue interface {
	Claim(ctx context.Context, queueName, workerID string) (*queue.Job, error)
	Complete(ctx context.Context, queueName, jobID string) error
	Fail(ctx context.Context, queueName, jobID, reason string, maxAttempts int) error
	Enqueue(ctx context.Context, queueName string, job *queue.Job, opts queue.EnqueueOptions) error
	Counts(ctx context.Context, queueName string) (*queue.Counts, error)
}

// RecordGateway is the record-store surface the runtime needs.
type RecordGateway interface {
	BeginStage(ctx context.Context, id string, step store.Step) error
	SetStep(ctx context.Context, id string, step store.Step, progress int) error
	RecordError(ctx context.Context, id, message string, step store.Step) error
}

// Options tunes a worker.
type Options struct {
	// Concurrency is the number of cooperative claim loops. Default 1.
	Concurrency int
	// RateLimit caps handler starts per RatePeriod. Zero disables.
	RateLimit  int
	RatePeriod time.Duration
	// StageTimeout bounds one handler run. Default config.StageTimeout.
	StageTimeout time.Duration
}

// Worker binds one stage queue to one stage handler.
type Worker struct {
	id      string
	queue   JobQueue
	records RecordGateway
	handler stages.Handler
	bus     *events.Bus
	limiter *rate.Limiter

	concurrency  int
	stageTimeout time.Duration

	activity *Activity
}

// New creates a worker for the handler's queue.
func New(jobQueue JobQueue, records RecordGateway, handler stages.Handler, bus *events.Bus, opts Options) *Worker {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = config.StageTimeout
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		period := opts.RatePeriod
		if period <= 0 {
			period = time.Minute
		}
		limiter = rate.NewLimiter(rate.Limit(float64(opts.RateLimit)/period.Seconds()), opts.RateLimit)
	}

	return &Worker{
		id:           fmt.Sprintf("%s-%s", handler.Queue(), uuid.New().String()[:8]),
		queue:        jobQueue,
		records:      records,
		handler:      handler,
		bus:          bus,
		limiter:      limiter,
		concurrency:  opts.Concurrency,
		stageTimeout: opts.StageTimeout,
		activity:     NewActivity(),
	}
}

// Activity exposes the worker's activity tracker for the idle supervisor.
func (w *Worker) Activity() *Activity {
	return w.activity
}

// Run claims and processes jobs until ctx is cancelled. In-flight handlers
// finish before Run returns.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("Worker started", "worker_id", w.id, "queue", w.handler.Queue(),
		"concurrency", w.concurrency)

	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx)
		}()
	}
	wg.Wait()
	slog.Info("Worker stopped", "worker_id", w.id, "queue", w.handler.Queue())
}

func (w *Worker) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				return
			}
		}

		job, err := w.queue.Claim(ctx, w.handler.Queue(), w.id)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("Failed to claim job", "queue", w.handler.Queue(), "error", err)
			sleepCtx(ctx, pollInterval)
			continue
		}
		if job == nil {
			sleepCtx(ctx, pollInterval)
			continue
		}

		w.activity.Touch()
		w.process(ctx, job)
		w.activity.Touch()
	}
}

// process runs one claimed job to completion, failure or release. The
// handler gets its own deadline detached from the claim context so graceful
// shutdown lets in-flight work finish.
func (w *Worker) process(claimCtx context.Context, job *queue.Job) {
	w.activity.Begin()
	defer w.activity.End()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(claimCtx), w.stageTimeout)
	defer cancel()

	step := w.handler.Step()
	if err := w.records.BeginStage(ctx, job.RecordID, step); err != nil {
		if errors.Is(err, store.ErrStaleState) {
			// another worker owns this record; let it win
			slog.Info("Record already claimed elsewhere, dropping job",
				"job_id", job.ID, "record_id", job.RecordID)
			w.complete(ctx, job)
			return
		}
		slog.Error("Failed to begin stage", "job_id", job.ID, "record_id", job.RecordID, "error", err)
		w.fail(ctx, job, err)
		return
	}
	w.bus.Progress(job.ID, 5, string(step), "")

	err := w.handler.Handle(ctx, job, &reporter{worker: w, job: job})

	// ctx may already be past the stage deadline here. The writes that
	// settle the job get a fresh deadline so the record still reaches ERROR
	// and the queue still sees the failure.
	bkCtx, bkCancel := context.WithTimeout(context.WithoutCancel(claimCtx), bookkeepTimeout)
	defer bkCancel()

	switch {
	case err == nil:
		w.bus.Completed(job.ID, string(step))
		w.complete(bkCtx, job)

	case errors.Is(err, store.ErrStaleState):
		// success-silently; the winning worker keeps the record
		slog.Info("Stage lost a state race, dropping job", "job_id", job.ID, "error", err)
		w.complete(bkCtx, job)

	case claimCtx.Err() != nil && errors.Is(err, context.Canceled):
		// operator abort: leave the job in processing for the sweeper
		slog.Warn("Shutdown during job, leaving for sweeper", "job_id", job.ID)

	default:
		slog.Error("Stage handler failed", "job_id", job.ID, "record_id", job.RecordID,
			"attempt", job.Attempt, "error", err)
		if storeErr := w.records.RecordError(bkCtx, job.RecordID, err.Error(), step); storeErr != nil {
			slog.Error("Failed to record error", "record_id", job.RecordID, "error", storeErr)
		}
		w.bus.Failed(job.ID, err.Error())
		w.fail(bkCtx, job, err)
	}
}

func (w *Worker) complete(ctx context.Context, job *queue.Job) {
	if err := w.queue.Complete(ctx, w.handler.Queue(), job.ID); err != nil {
		slog.Error("Failed to complete job", "job_id", job.ID, "error", err)
	}
}

func (w *Worker) fail(ctx context.Context, job *queue.Job, cause error) {
	maxAttempts := config.MaxAttempts
	if errors.Is(cause, stages.ErrPoisonInput) {
		maxAttempts = 0 // never retried
	}
	if err := w.queue.Fail(ctx, w.handler.Queue(), job.ID, cause.Error(), maxAttempts); err != nil {
		slog.Error("Failed to fail job", "job_id", job.ID, "error", err)
	}
}

// reporter persists handler progress and mirrors it on the event bus.
type reporter struct {
	worker *Worker
	job    *queue.Job
}

func (r *reporter) Report(step store.Step, pct int, message string) {
	if err := r.worker.records.SetStep(context.Background(), r.job.RecordID, step, pct); err != nil {
		slog.Warn("Failed to persist progress", "record_id", r.job.RecordID, "error", err)
	}
	r.worker.bus.Progress(r.job.ID, pct, string(step), message)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
