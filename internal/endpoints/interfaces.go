package endpoints

import (
	"context"
	"time"

	"mediascribe/internal/blob"
	"mediascribe/internal/queue"
	"mediascribe/internal/store"
)

// RecordStore defines the record-gateway operations the handlers use.
type RecordStore interface {
	Create(ctx context.Context, rec *store.Record) error
	Get(ctx context.Context, id string) (*store.Record, error)
	List(ctx context.Context, page, pageSize int) ([]store.Record, int64, error)
	StartProcessing(ctx context.Context, id string) error
	GCStaleUploads(ctx context.Context, olderThan time.Duration) (int64, error)
}

// JobQueue defines the queue operations the handlers use.
type JobQueue interface {
	Enqueue(ctx context.Context, queueName string, job *queue.Job, opts queue.EnqueueOptions) error
	FindJob(ctx context.Context, jobID string) (*queue.Job, queue.State, error)
}

// UploadBroker defines the blob-broker operations the handlers use.
type UploadBroker interface {
	MintUpload(ctx context.Context, fileName, contentType string, size int64) (*blob.UploadTicket, error)
	DownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}
