package stages

import (
	"context"
	"errors"
	"fmt"

	"mediascribe/internal/ai"
	"mediascribe/internal/queue"
	"mediascribe/internal/store"
)

// ArticleHandler turns the transcript and summary into the final Markdown
// article, the last stage of the pipeline.
type ArticleHandler struct {
	store RecordStore
	llm   ai.LLMAdapter
}

// NewArticleHandler wires the article stage. llm should be the
// higher-capacity model.
func NewArticleHandler(recordStore RecordStore, llm ai.LLMAdapter) *ArticleHandler {
	return &ArticleHandler{store: recordStore, llm: llm}
}

func (h *ArticleHandler) Queue() string    { return queue.QueueArticle }
func (h *ArticleHandler) Step() store.Step { return store.StepArticle }

// Handle runs the article stage for one record.
func (h *ArticleHandler) Handle(ctx context.Context, job *queue.Job, progress Progress) error {
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
	if rec.SummaryText == nil || *rec.SummaryText == "" {
		return fmt.Errorf("record %s has no summary: %w", job.RecordID, ErrMissingPrerequisite)
	}

	progress.Report(store.StepArticle, 20, "generating article")
	article, err := h.llm.Generate(ctx, fmt.Sprintf(articlePrompt, *rec.SummaryText, *rec.TranscriptText))
	if err != nil {
		return fmt.Errorf("article generation failed: %w", err)
	}

	if err := h.store.SaveArticle(ctx, job.RecordID, article); err != nil {
		return err
	}
	progress.Report(store.StepArticle, 100, "")
	return nil
}
