package endpoints

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mediascribe/internal/blob"
	"mediascribe/internal/queue"
	"mediascribe/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockRecordStore is a mock implementation of RecordStore
type MockRecordStore struct {
	mock.Mock
}

func (m *MockRecordStore) Create(ctx context.Context, rec *store.Record) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockRecordStore) Get(ctx context.Context, id string) (*store.Record, error) {
	args := m.Called(ctx, id)
	if rec := args.Get(0); rec != nil {
		return rec.(*store.Record), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRecordStore) List(ctx context.Context, page, pageSize int) ([]store.Record, int64, error) {
	args := m.Called(ctx, page, pageSize)
	return args.Get(0).([]store.Record), args.Get(1).(int64), args.Error(2)
}

func (m *MockRecordStore) StartProcessing(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRecordStore) GCStaleUploads(ctx context.Context, olderThan time.Duration) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

// MockJobQueue is a mock implementation of JobQueue
type MockJobQueue struct {
	mock.Mock
}

func (m *MockJobQueue) Enqueue(ctx context.Context, queueName string, job *queue.Job, opts queue.EnqueueOptions) error {
	args := m.Called(ctx, queueName, job, opts)
	if args.Error(0) == nil && job.ID == "" {
		job.ID = queue.NewJobID()
	}
	return args.Error(0)
}

func (m *MockJobQueue) FindJob(ctx context.Context, jobID string) (*queue.Job, queue.State, error) {
	args := m.Called(ctx, jobID)
	if job := args.Get(0); job != nil {
		return job.(*queue.Job), args.Get(1).(queue.State), args.Error(2)
	}
	return nil, "", args.Error(2)
}

// MockBroker is a mock implementation of UploadBroker
type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) MintUpload(ctx context.Context, fileName, contentType string, size int64) (*blob.UploadTicket, error) {
	args := m.Called(ctx, fileName, contentType, size)
	if ticket := args.Get(0); ticket != nil {
		return ticket.(*blob.UploadTicket), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBroker) DownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	args := m.Called(ctx, key, ttl)
	return args.String(0), args.Error(1)
}

func postJSON(router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestHandleUploadURL(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("missing fields", func(t *testing.T) {
		router := gin.New()
		router.POST("/upload-url", HandleUploadURL(new(MockBroker), new(MockRecordStore)))

		w := postJSON(router, "/upload-url", gin.H{"file_name": "talk.mp3"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("single put ticket", func(t *testing.T) {
		broker := new(MockBroker)
		records := new(MockRecordStore)
		router := gin.New()
		router.POST("/upload-url", HandleUploadURL(broker, records))

		records.On("GCStaleUploads", mock.Anything, mock.Anything).Return(int64(0), nil)
		broker.On("MintUpload", mock.Anything, "talk.mp3", "audio/mpeg", int64(1024)).
			Return(&blob.UploadTicket{
				Key:       "uploads/1_abc.mp3",
				PublicURL: "https://cdn.example.com/uploads/1_abc.mp3",
				PutURL:    "https://r2.example.com/presigned-put",
			}, nil)
		records.On("Create", mock.Anything, mock.MatchedBy(func(rec *store.Record) bool {
			return rec.Status == store.StatusUploaded && rec.FileKey == "uploads/1_abc.mp3"
		})).Return(nil)

		w := postJSON(router, "/upload-url", gin.H{
			"file_name": "talk.mp3", "content_type": "audio/mpeg", "file_size": 1024,
		})
		assert.Equal(t, http.StatusOK, w.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "https://r2.example.com/presigned-put", resp["upload_url"])
		assert.NotEmpty(t, resp["record_id"])
		broker.AssertExpectations(t)
		records.AssertExpectations(t)
	})

	t.Run("multipart ticket", func(t *testing.T) {
		broker := new(MockBroker)
		records := new(MockRecordStore)
		router := gin.New()
		router.POST("/upload-url", HandleUploadURL(broker, records))

		records.On("GCStaleUploads", mock.Anything, mock.Anything).Return(int64(0), nil)
		broker.On("MintUpload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(&blob.UploadTicket{
				IsMultipart: true,
				Key:         "uploads/1_abc.mp4",
				UploadID:    "upload-xyz",
				PartURLs:    []string{"u1", "u2"},
				CompleteURL: "complete",
				AbortURL:    "abort",
				PartSize:    5 << 20,
			}, nil)
		records.On("Create", mock.Anything, mock.Anything).Return(nil)

		w := postJSON(router, "/upload-url", gin.H{
			"file_name": "movie.mp4", "content_type": "video/mp4", "file_size": 200 << 20,
		})
		assert.Equal(t, http.StatusOK, w.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, true, resp["is_multipart"])
		assert.Equal(t, "upload-xyz", resp["upload_id"])
		assert.Len(t, resp["part_urls"], 2)
	})

	t.Run("file too large", func(t *testing.T) {
		broker := new(MockBroker)
		records := new(MockRecordStore)
		router := gin.New()
		router.POST("/upload-url", HandleUploadURL(broker, records))

		records.On("GCStaleUploads", mock.Anything, mock.Anything).Return(int64(0), nil)
		broker.On("MintUpload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, blob.ErrTooLarge)

		w := postJSON(router, "/upload-url", gin.H{
			"file_name": "huge.bin", "content_type": "application/octet-stream", "file_size": int64(1) << 50,
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandleProcess(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("record not found", func(t *testing.T) {
		records := new(MockRecordStore)
		router := gin.New()
		router.POST("/process", HandleProcess(records, new(MockJobQueue)))

		records.On("Get", mock.Anything, "ghost").Return(nil, store.ErrNotFound)

		w := postJSON(router, "/process", gin.H{"record_id": "ghost"})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("conflict when already processing", func(t *testing.T) {
		records := new(MockRecordStore)
		router := gin.New()
		router.POST("/process", HandleProcess(records, new(MockJobQueue)))

		records.On("Get", mock.Anything, "rec-1").
			Return(&store.Record{ID: "rec-1", Status: store.StatusProcessing}, nil)
		records.On("StartProcessing", mock.Anything, "rec-1").Return(store.ErrStaleState)

		w := postJSON(router, "/process", gin.H{"record_id": "rec-1"})
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("enqueues transcription with size priority", func(t *testing.T) {
		records := new(MockRecordStore)
		jobQueue := new(MockJobQueue)
		router := gin.New()
		router.POST("/process", HandleProcess(records, jobQueue))

		records.On("Get", mock.Anything, "rec-1").
			Return(&store.Record{
				ID: "rec-1", Status: store.StatusUploaded,
				FileKey: "uploads/1_abc.mp3", FileSize: 5 << 20,
			}, nil)
		records.On("StartProcessing", mock.Anything, "rec-1").Return(nil)
		jobQueue.On("Enqueue", mock.Anything, queue.QueueTranscription,
			mock.MatchedBy(func(j *queue.Job) bool {
				return j.RecordID == "rec-1" && j.Priority == 1 && j.FileKey == "uploads/1_abc.mp3"
			}), mock.Anything).Return(nil)

		w := postJSON(router, "/process", gin.H{"record_id": "rec-1"})
		assert.Equal(t, http.StatusOK, w.Code)

		var resp map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "rec-1", resp["record_id"])
		assert.NotEmpty(t, resp["job_id"])
		jobQueue.AssertExpectations(t)
	})

	t.Run("missing record_id", func(t *testing.T) {
		router := gin.New()
		router.POST("/process", HandleProcess(new(MockRecordStore), new(MockJobQueue)))

		w := postJSON(router, "/process", gin.H{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandleRetry(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("errored record resumes at its failed step", func(t *testing.T) {
		records := new(MockRecordStore)
		jobQueue := new(MockJobQueue)
		router := gin.New()
		router.POST("/records/:id/retry", HandleRetry(records, jobQueue))

		step := store.StepSummary
		records.On("Get", mock.Anything, "rec-1").
			Return(&store.Record{ID: "rec-1", Status: store.StatusError, ProcessingStep: &step}, nil)
		records.On("StartProcessing", mock.Anything, "rec-1").Return(nil)
		jobQueue.On("Enqueue", mock.Anything, queue.QueueSummary, mock.Anything, mock.Anything).Return(nil)

		w := postJSON(router, "/records/rec-1/retry", nil)
		assert.Equal(t, http.StatusOK, w.Code)

		var resp map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, queue.QueueSummary, resp["queue"])
		jobQueue.AssertExpectations(t)
	})

	t.Run("explicit step overrides", func(t *testing.T) {
		records := new(MockRecordStore)
		jobQueue := new(MockJobQueue)
		router := gin.New()
		router.POST("/records/:id/retry", HandleRetry(records, jobQueue))

		records.On("Get", mock.Anything, "rec-1").
			Return(&store.Record{ID: "rec-1", Status: store.StatusTranscribed}, nil)
		jobQueue.On("Enqueue", mock.Anything, queue.QueueSummary, mock.Anything, mock.Anything).Return(nil)

		w := postJSON(router, "/records/rec-1/retry", gin.H{"step": 3})
		assert.Equal(t, http.StatusOK, w.Code)
		jobQueue.AssertExpectations(t)
	})

	t.Run("invalid step", func(t *testing.T) {
		records := new(MockRecordStore)
		router := gin.New()
		router.POST("/records/:id/retry", HandleRetry(records, new(MockJobQueue)))

		records.On("Get", mock.Anything, "rec-1").
			Return(&store.Record{ID: "rec-1", Status: store.StatusError}, nil)

		w := postJSON(router, "/records/rec-1/retry", gin.H{"step": 9})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("healthy record without a step is rejected", func(t *testing.T) {
		records := new(MockRecordStore)
		router := gin.New()
		router.POST("/records/:id/retry", HandleRetry(records, new(MockJobQueue)))

		records.On("Get", mock.Anything, "rec-1").
			Return(&store.Record{ID: "rec-1", Status: store.StatusDone}, nil)

		w := postJSON(router, "/records/rec-1/retry", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandleGetRecord(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("not found", func(t *testing.T) {
		records := new(MockRecordStore)
		router := gin.New()
		router.GET("/records/:id", HandleGetRecord(records, new(MockBroker)))

		records.On("Get", mock.Anything, "ghost").Return(nil, store.ErrNotFound)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/records/ghost", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("mints a fresh download URL", func(t *testing.T) {
		records := new(MockRecordStore)
		broker := new(MockBroker)
		router := gin.New()
		router.GET("/records/:id", HandleGetRecord(records, broker))

		records.On("Get", mock.Anything, "rec-1").
			Return(&store.Record{ID: "rec-1", FileKey: "uploads/1_abc.mp3", Status: store.StatusDone}, nil)
		broker.On("DownloadURL", mock.Anything, "uploads/1_abc.mp3", time.Hour).
			Return("https://r2.example.com/presigned-get", nil)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/records/rec-1", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "https://r2.example.com/presigned-get", resp["download_url"])
	})

	t.Run("presign failure still returns the record", func(t *testing.T) {
		records := new(MockRecordStore)
		broker := new(MockBroker)
		router := gin.New()
		router.GET("/records/:id", HandleGetRecord(records, broker))

		records.On("Get", mock.Anything, "rec-1").
			Return(&store.Record{ID: "rec-1", FileKey: "uploads/1_abc.mp3"}, nil)
		broker.On("DownloadURL", mock.Anything, mock.Anything, mock.Anything).
			Return("", errors.New("r2 unreachable"))

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/records/rec-1", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestHandleListRecords(t *testing.T) {
	gin.SetMode(gin.TestMode)

	records := new(MockRecordStore)
	router := gin.New()
	router.GET("/records", HandleListRecords(records))

	records.On("List", mock.Anything, 2, 10).
		Return([]store.Record{{ID: "rec-1"}}, int64(25), nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/records?page=2&pageSize=10", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Records    []store.Record `json:"records"`
		Pagination Pagination     `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Records, 1)
	assert.Equal(t, 2, resp.Pagination.Page)
	assert.Equal(t, int64(25), resp.Pagination.Total)
	assert.Equal(t, 3, resp.Pagination.TotalPages)
	records.AssertExpectations(t)
}

func TestHandleJobStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("live job", func(t *testing.T) {
		jobQueue := new(MockJobQueue)
		records := new(MockRecordStore)
		router := gin.New()
		router.GET("/job-status/:id", HandleJobStatus(jobQueue, records))

		jobQueue.On("FindJob", mock.Anything, "job-1").
			Return(&queue.Job{ID: "job-1", RecordID: "rec-1", Attempt: 1}, queue.StateProcessing, nil)
		progress := 40
		records.On("Get", mock.Anything, "rec-1").
			Return(&store.Record{ID: "rec-1", Status: store.StatusProcessing, ProcessingProgress: &progress}, nil)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/job-status/job-1", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "processing", resp["state"])
		assert.Equal(t, float64(40), resp["progress"])
	})

	t.Run("completed job reports 100", func(t *testing.T) {
		jobQueue := new(MockJobQueue)
		router := gin.New()
		router.GET("/job-status/:id", HandleJobStatus(jobQueue, new(MockRecordStore)))

		jobQueue.On("FindJob", mock.Anything, "job-1").
			Return(&queue.Job{ID: "job-1", RecordID: "rec-1"}, queue.StateCompleted, nil)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/job-status/job-1", nil)
		router.ServeHTTP(w, req)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, float64(100), resp["progress"])
	})

	t.Run("record fallback", func(t *testing.T) {
		jobQueue := new(MockJobQueue)
		records := new(MockRecordStore)
		router := gin.New()
		router.GET("/job-status/:id", HandleJobStatus(jobQueue, records))

		jobQueue.On("FindJob", mock.Anything, "rec-1").Return(nil, queue.State(""), queue.ErrJobNotFound)
		records.On("Get", mock.Anything, "rec-1").
			Return(&store.Record{ID: "rec-1", Status: store.StatusTranscribed}, nil)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/job-status/rec-1", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "processing", resp["state"])
		assert.Equal(t, float64(50), resp["progress"])
	})

	t.Run("neither job nor record", func(t *testing.T) {
		jobQueue := new(MockJobQueue)
		records := new(MockRecordStore)
		router := gin.New()
		router.GET("/job-status/:id", HandleJobStatus(jobQueue, records))

		jobQueue.On("FindJob", mock.Anything, "ghost").Return(nil, queue.State(""), queue.ErrJobNotFound)
		records.On("Get", mock.Anything, "ghost").Return(nil, store.ErrNotFound)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/job-status/ghost", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
