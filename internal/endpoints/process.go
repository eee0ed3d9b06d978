package endpoints

import (
	"errors"
	"log/slog"
	"net/http"

	"mediascribe/internal/queue"
	"mediascribe/internal/store"

	"github.com/gin-gonic/gin"
)

// ProcessRequest is the body for POST /api/process.
type ProcessRequest struct {
	RecordID string `json:"record_id"`
	FileKey  string `json:"file_key"`
	FileURL  string `json:"file_url"`
}

// HandleProcess starts the pipeline for an uploaded record.
// @Summary      Start processing
// @Description  Move a record into PROCESSING and enqueue its transcription job
// @Tags         process
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]string
// @Failure      400  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Router       /process [post]
func HandleProcess(records RecordStore, jobQueue JobQueue) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ProcessRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.RecordID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "record_id is required"})
			return
		}
		ctx := c.Request.Context()

		rec, err := records.Get(ctx, req.RecordID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load record"})
			return
		}

		if err := records.StartProcessing(ctx, req.RecordID); err != nil {
			if errors.Is(err, store.ErrStaleState) {
				c.JSON(http.StatusConflict, gin.H{
					"error":  "record is not ready for processing",
					"status": rec.Status,
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start processing"})
			return
		}

		job := &queue.Job{
			RecordID: rec.ID,
			FileKey:  firstNonEmpty(req.FileKey, rec.FileKey),
			FileURL:  firstNonEmpty(req.FileURL, rec.FileURL),
			Priority: queue.PriorityForSize(rec.FileSize),
		}
		if err := jobQueue.Enqueue(ctx, queue.QueueTranscription, job, queue.EnqueueOptions{}); err != nil {
			slog.Error("Failed to enqueue transcription", "record_id", rec.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue job"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"record_id": rec.ID, "job_id": job.ID})
	}
}

// retryQueues maps the retry step number to the stage queue.
var retryQueues = map[int]string{
	1: queue.QueueTranscription,
	2: queue.QueueTranscription,
	3: queue.QueueSummary,
	4: queue.QueueArticle,
}

// stepQueues maps the recorded processing step to the stage queue that
// reruns it.
var stepQueues = map[store.Step]string{
	store.StepDownload:      queue.QueueTranscription,
	store.StepTranscription: queue.QueueTranscription,
	store.StepTimestamps:    queue.QueueTranscription,
	store.StepSummary:       queue.QueueSummary,
	store.StepArticle:       queue.QueueArticle,
}

// RetryRequest is the optional body for POST /api/records/:id/retry.
type RetryRequest struct {
	Step int `json:"step"`
}

// HandleRetry re-enqueues a record, resuming at the failed step or at an
// operator-chosen one.
// @Summary      Retry processing
// @Description  Re-enqueue a failed record, optionally at a specific step
// @Tags         process
// @Accept       json
// @Produce      json
// @Param        id path string true "Record ID"
// @Success      200  {object}  map[string]string
// @Failure      400  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /records/{id}/retry [post]
func HandleRetry(records RecordStore, jobQueue JobQueue) gin.HandlerFunc {
	return func(c *gin.Context) {
		recordID := c.Param("id")
		ctx := c.Request.Context()

		var req RetryRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
				return
			}
		}

		rec, err := records.Get(ctx, recordID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load record"})
			return
		}

		var queueName string
		switch {
		case req.Step != 0:
			var ok bool
			queueName, ok = retryQueues[req.Step]
			if !ok {
				c.JSON(http.StatusBadRequest, gin.H{"error": "step must be 1, 2, 3 or 4"})
				return
			}
		case rec.Status == store.StatusError:
			queueName = queue.QueueTranscription
			if rec.ProcessingStep != nil {
				if mapped, ok := stepQueues[*rec.ProcessingStep]; ok {
					queueName = mapped
				}
			}
		default:
			c.JSON(http.StatusBadRequest, gin.H{
				"error":  "record is not in ERROR; specify a step to retry",
				"status": rec.Status,
			})
			return
		}

		if rec.Status == store.StatusError {
			// clears the error and resets step/progress
			if err := records.StartProcessing(ctx, recordID); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reset record"})
				return
			}
		}

		job := &queue.Job{
			RecordID: rec.ID,
			FileKey:  rec.FileKey,
			FileURL:  rec.FileURL,
			Priority: queue.PriorityForSize(rec.FileSize),
		}
		if err := jobQueue.Enqueue(ctx, queueName, job, queue.EnqueueOptions{}); err != nil {
			slog.Error("Failed to enqueue retry", "record_id", rec.ID, "queue", queueName, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue job"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"record_id": rec.ID, "job_id": job.ID, "queue": queueName})
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
