package endpoints

import (
	"errors"
	"net/http"

	"mediascribe/internal/queue"
	"mediascribe/internal/store"

	"github.com/gin-gonic/gin"
)

// HandleJobStatus resolves a live job by id, falling back to the record
// table when the job has already left the queues.
// @Summary      Get job status
// @Description  Live queue state for a job id, or synthesized state from the record with the same id
// @Tags         jobs
// @Produce      json
// @Param        id path string true "Job or record ID"
// @Success      200  {object}  map[string]any
// @Failure      404  {object}  map[string]string
// @Router       /job-status/{id} [get]
func HandleJobStatus(jobQueue JobQueue, records RecordStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		ctx := c.Request.Context()

		job, state, err := jobQueue.FindJob(ctx, id)
		if err != nil && !errors.Is(err, queue.ErrJobNotFound) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to look up job"})
			return
		}
		if err == nil {
			progress := 0
			switch state {
			case queue.StateCompleted:
				progress = 100
			default:
				if rec, recErr := records.Get(ctx, job.RecordID); recErr == nil {
					progress = rec.Progress()
				}
			}
			c.JSON(http.StatusOK, gin.H{
				"job_id":    job.ID,
				"record_id": job.RecordID,
				"state":     state,
				"progress":  progress,
				"attempt":   job.Attempt,
				"error":     job.FailReason,
			})
			return
		}

		// not a live job; the id may be a record id
		rec, recErr := records.Get(ctx, id)
		if recErr != nil {
			if errors.Is(recErr, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load record"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"record_id": rec.ID,
			"state":     stateForStatus(rec.Status),
			"status":    rec.Status,
			"progress":  rec.Progress(),
			"error":     rec.Error,
		})
	}
}

func stateForStatus(status store.Status) queue.State {
	switch status {
	case store.StatusUploaded:
		return queue.StateWaiting
	case store.StatusDone:
		return queue.StateCompleted
	case store.StatusError:
		return queue.StateFailed
	default:
		return queue.StateProcessing
	}
}
