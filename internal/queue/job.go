package queue

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Stage queue names. Each stage has its own set of Redis keys.
const (
	QueueTranscription = "transcription"
	QueueSummary       = "summary"
	QueueArticle       = "article"
)

// Queues lists every stage queue in pipeline order.
var Queues = []string{QueueTranscription, QueueSummary, QueueArticle}

// Job is the queue payload for one stage execution against one record.
type Job struct {
	ID                 string    `json:"id"`
	Type               string    `json:"type"`
	RecordID           string    `json:"record_id"`
	FileKey            string    `json:"file_key,omitempty"`
	FileURL            string    `json:"file_url,omitempty"`
	Attempt            int       `json:"attempt"`
	Priority           int       `json:"priority"`
	CreatedAt          time.Time `json:"created_at"`
	ProcessingDeadline time.Time `json:"processing_deadline"`
	FailReason         string    `json:"fail_reason,omitempty"`
}

// NewJobID generates an id in the job-<hex> wire format.
func NewJobID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return "job-" + hex.EncodeToString(buf)
}

// PriorityForSize derives the enqueue priority from the upload size.
// Lower runs sooner; unknown sizes get the middle band.
func PriorityForSize(size int64) int {
	switch {
	case size <= 0:
		return 2
	case size < 10<<20:
		return 1
	case size < 100<<20:
		return 2
	default:
		return 3
	}
}

// RetryDelay is the exponential backoff before attempt n+1 runs.
func RetryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 10 {
		attempt = 10
	}
	delay := time.Duration(1<<uint(attempt)) * time.Second
	if delay > 5*time.Minute {
		delay = 5 * time.Minute
	}
	return delay
}

// State is where a job currently lives.
type State string

const (
	StateWaiting    State = "waiting"
	StateProcessing State = "processing"
	StateDelayed    State = "delayed"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)
