// Package stages holds the per-stage business logic: transcription,
// summarization and article generation. Handlers are idempotent on the
// record id; re-running a stage overwrites its artifact.
package stages

import (
	"context"
	"errors"
	"fmt"

	"mediascribe/internal/queue"
	"mediascribe/internal/store"
)

var (
	// ErrPoisonInput marks input the pipeline can never process; the job is
	// not retried and the record goes to ERROR.
	ErrPoisonInput = errors.New("poison input")

	// ErrMissingPrerequisite means an earlier stage's artifact is absent.
	ErrMissingPrerequisite = fmt.Errorf("%w: missing prerequisite artifact", ErrPoisonInput)

	// ErrHallucinated means the speech model invented the entire transcript.
	ErrHallucinated = fmt.Errorf("%w: transcript rejected as hallucinated", ErrPoisonInput)
)

// Progress receives step/percent updates from a running handler. The worker
// runtime persists them and fans them out on the event bus.
type Progress interface {
	Report(step store.Step, pct int, message string)
}

// Handler executes one stage against one record.
type Handler interface {
	// Queue names the stage queue this handler consumes.
	Queue() string
	// Step is the record step recorded while the handler runs.
	Step() store.Step
	// Handle runs the stage. Errors wrapping ErrPoisonInput are terminal;
	// everything else is retried by the queue.
	Handle(ctx context.Context, job *queue.Job, progress Progress) error
}

// RecordStore is the slice of the record gateway the handlers use.
type RecordStore interface {
	Get(ctx context.Context, id string) (*store.Record, error)
	SaveTranscript(ctx context.Context, id, text string, timestampsJSON *string) error
	SaveSummary(ctx context.Context, id, text string) error
	SaveArticle(ctx context.Context, id, text string) error
}

// Enqueuer hands a finished stage's successor to the queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, queueName string, job *queue.Job, opts queue.EnqueueOptions) error
}

// ObjectFetcher downloads the uploaded media for the transcription stage.
type ObjectFetcher interface {
	FetchToFile(ctx context.Context, key, path string) error
	FetchURLToFile(ctx context.Context, url, path string) error
}

// nextJob builds the successor job, inheriting the record identity and
// priority but starting a fresh attempt budget.
func nextJob(prev *queue.Job) *queue.Job {
	return &queue.Job{
		RecordID: prev.RecordID,
		FileKey:  prev.FileKey,
		FileURL:  prev.FileURL,
		Priority: prev.Priority,
	}
}
