package stages

import (
	"context"
	"errors"
	"fmt"

	"mediascribe/internal/ai"
	"mediascribe/internal/queue"
	"mediascribe/internal/store"
)

// SummaryHandler condenses the transcript into a paragraph-style summary.
type SummaryHandler struct {
	store RecordStore
	llm   ai.LLMAdapter
	queue Enqueuer
}

// NewSummaryHandler wires the summary stage.
func NewSummaryHandler(recordStore RecordStore, llm ai.LLMAdapter, enqueuer Enqueuer) *SummaryHandler {
	return &SummaryHandler{store: recordStore, llm: llm, queue: enqueuer}
}

func (h *SummaryHandler) Queue() string    { return queue.QueueSummary }
func (h *SummaryHandler) Step() store.Step { return store.StepSummary }

// Handle runs the summary stage for one record.
func (h *SummaryHandler) Handle(ctx context.Context, job *queue.Job, progress Progress) error {
	rec, err := h.store.Get(ctx, job.RecordID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("record %s: %w", job.RecordID, ErrPoisonInput)
		}
		return err
	}
	if rec.TranscriptText == nil || *rec.TranscriptText == "" {
		return fmt.Errorf("record %s has no transcript: %w", job.RecordID, ErrMissingPrerequisite)
	}

	progress.Report(store.StepSummary, 20, "summarizing transcript")
	summary, err := h.llm.Generate(ctx, summaryPrompt+*rec.TranscriptText)
	if err != nil {
		return fmt.Errorf("summary generation failed: %w", err)
	}

	if err := h.store.SaveSummary(ctx, job.RecordID, summary); err != nil {
		return err
	}
	progress.Report(store.StepSummary, 95, "")

	if err := h.queue.Enqueue(ctx, queue.QueueArticle, nextJob(job), queue.EnqueueOptions{}); err != nil {
		return fmt.Errorf("summary saved but article enqueue failed: %w", err)
	}
	return nil
}
