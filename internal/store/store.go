package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrNotFound means no live record exists with the given id.
	ErrNotFound = errors.New("record not found")
	// ErrStaleState means a transition's status precondition did not hold.
	ErrStaleState = errors.New("record state changed concurrently")
)

// Store is the typed gateway to the record table. All transitions are single
// predicated UPDATEs so concurrent workers cannot interleave.
type Store struct {
	db *gorm.DB
}

// Open connects to the database named by dsn and migrates the record table.
// A postgres:// DSN selects Postgres; anything else is a SQLite file path.
func Open(dsn string) (*Store, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("failed to migrate record table: %w", err)
	}

	slog.Info("Record store initialized", "dialect", db.Dialector.Name())
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing gorm handle (for testing).
func NewWithDB(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("failed to migrate record table: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Create inserts a new record.
func (s *Store) Create(ctx context.Context, rec *Record) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}
	return nil
}

// Get returns a live record by id.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	var rec Record
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", id, err)
	}
	return &rec, nil
}

// List returns one page of live records, newest first, plus the total count.
func (s *Store) List(ctx context.Context, page, pageSize int) ([]Record, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&Record{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count records: %w", err)
	}

	var records []Record
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&records).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list records: %w", err)
	}
	return records, total, nil
}

// Count returns the number of live records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&Record{}).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return total, nil
}

// StartProcessing moves a record into PROCESSING. Only UPLOADED and ERROR
// records may start; leaving ERROR clears the error and resets the step.
func (s *Store) StartProcessing(ctx context.Context, id string) error {
	zero := 0
	res := s.db.WithContext(ctx).Model(&Record{}).
		Where("id = ? AND status IN ?", id, []Status{StatusUploaded, StatusError}).
		Updates(map[string]any{
			"status":              StatusProcessing,
			"processing_step":     nil,
			"processing_progress": &zero,
			"error":               nil,
		})
	return s.transitionResult(ctx, id, res)
}

// BeginStage moves a record into PROCESSING at the given step when a worker
// picks up its job. Unlike StartProcessing it admits the intermediate
// statuses a record holds between stages. DONE records are stale.
func (s *Store) BeginStage(ctx context.Context, id string, step Step) error {
	five := 5
	res := s.db.WithContext(ctx).Model(&Record{}).
		Where("id = ? AND status IN ?", id,
			[]Status{StatusUploaded, StatusProcessing, StatusTranscribed, StatusSummarized, StatusError}).
		Updates(map[string]any{
			"status":              StatusProcessing,
			"processing_step":     step,
			"processing_progress": &five,
			"error":               nil,
		})
	return s.transitionResult(ctx, id, res)
}

// SetStep records the current step and progress. Progress is monotone within
// a step; a regressing update is dropped silently.
func (s *Store) SetStep(ctx context.Context, id string, step Step, progress int) error {
	res := s.db.WithContext(ctx).Model(&Record{}).
		Where("id = ? AND status = ?", id, StatusProcessing).
		Where("processing_step IS NULL OR processing_step <> ? OR processing_progress IS NULL OR processing_progress <= ?",
			step, progress).
		Updates(map[string]any{
			"processing_step":     step,
			"processing_progress": progress,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to set step on %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		rec, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if rec.Status == StatusProcessing {
			return nil // progress regression within the step, ignore
		}
		return fmt.Errorf("record %s is %s: %w", id, rec.Status, ErrStaleState)
	}
	return nil
}

// SaveTranscript stores the transcription artifacts and moves the record to
// TRANSCRIBED. Re-running the stage overwrites the prior artifact.
func (s *Store) SaveTranscript(ctx context.Context, id, text string, timestampsJSON *string) error {
	res := s.db.WithContext(ctx).Model(&Record{}).
		Where("id = ? AND status IN ?", id, []Status{StatusProcessing, StatusTranscribed}).
		Updates(map[string]any{
			"status":          StatusTranscribed,
			"transcript_text": text,
			"timestamps_json": timestampsJSON,
			"error":           nil,
		})
	return s.transitionResult(ctx, id, res)
}

// SaveSummary stores the summary and moves the record to SUMMARIZED.
func (s *Store) SaveSummary(ctx context.Context, id, text string) error {
	res := s.db.WithContext(ctx).Model(&Record{}).
		Where("id = ? AND status IN ?", id, []Status{StatusProcessing, StatusTranscribed, StatusSummarized}).
		Updates(map[string]any{
			"status":       StatusSummarized,
			"summary_text": text,
			"error":        nil,
		})
	return s.transitionResult(ctx, id, res)
}

// SaveArticle stores the article and moves the record to DONE at 100%.
func (s *Store) SaveArticle(ctx context.Context, id, text string) error {
	hundred := 100
	res := s.db.WithContext(ctx).Model(&Record{}).
		Where("id = ? AND status IN ?", id, []Status{StatusProcessing, StatusSummarized, StatusDone}).
		Updates(map[string]any{
			"status":              StatusDone,
			"article_text":        text,
			"processing_step":     nil,
			"processing_progress": &hundred,
			"error":               nil,
		})
	return s.transitionResult(ctx, id, res)
}

// RecordError marks the record failed at the given step. Progress keeps its
// value at the time of failure.
func (s *Store) RecordError(ctx context.Context, id, message string, step Step) error {
	res := s.db.WithContext(ctx).Model(&Record{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":          StatusError,
			"processing_step": step,
			"error":           message,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to record error on %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDelete hides a record from listing and processing.
func (s *Store) SoftDelete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&Record{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete record %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GCStaleUploads hard-deletes records stuck in UPLOADED or PROCESSING for
// longer than olderThan. Returns the number of rows removed.
func (s *Store) GCStaleUploads(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res := s.db.WithContext(ctx).Unscoped().
		Where("status IN ? AND created_at < ?", []Status{StatusUploaded, StatusProcessing}, cutoff).
		Delete(&Record{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to GC stale uploads: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		slog.Info("Removed stale uploads", "count", res.RowsAffected)
	}
	return res.RowsAffected, nil
}

// transitionResult maps a predicated UPDATE outcome to ErrNotFound or
// ErrStaleState when no row matched.
func (s *Store) transitionResult(ctx context.Context, id string, res *gorm.DB) error {
	if res.Error != nil {
		return fmt.Errorf("failed to update record %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		rec, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("record %s is %s: %w", id, rec.Status, ErrStaleState)
	}
	return nil
}
