package store

import (
	"time"

	"gorm.io/gorm"
)

// Status is the record lifecycle state.
type Status string

const (
	StatusUploaded    Status = "UPLOADED"
	StatusProcessing  Status = "PROCESSING"
	StatusTranscribed Status = "TRANSCRIBED"
	StatusSummarized  Status = "SUMMARIZED"
	StatusDone        Status = "DONE"
	StatusError       Status = "ERROR"
)

// Step is the processing step a worker is currently executing.
type Step string

const (
	StepDownload      Step = "DOWNLOAD"
	StepTranscription Step = "TRANSCRIPTION"
	StepTimestamps    Step = "TIMESTAMPS"
	StepSummary       Step = "SUMMARY"
	StepArticle       Step = "ARTICLE"
)

// Record is one uploaded media file and its derived artifacts.
type Record struct {
	ID       string `gorm:"primaryKey;size:36" json:"id"`
	FileName string `gorm:"size:512" json:"file_name"`
	FileKey  string `gorm:"size:512;index" json:"file_key"`
	Bucket   string `gorm:"size:255" json:"bucket"`
	FileURL  string `gorm:"size:1024" json:"file_url,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`

	Status             Status  `gorm:"size:32;not null;default:UPLOADED;index" json:"status"`
	ProcessingStep     *Step   `gorm:"size:32" json:"processing_step,omitempty"`
	ProcessingProgress *int    `json:"processing_progress,omitempty"`
	Error              *string `gorm:"type:text" json:"error,omitempty"`

	TranscriptText *string `gorm:"type:text" json:"transcript_text,omitempty"`
	TimestampsJSON *string `gorm:"type:text" json:"timestamps_json,omitempty"`
	SummaryText    *string `gorm:"type:text" json:"summary_text,omitempty"`
	ArticleText    *string `gorm:"type:text" json:"article_text,omitempty"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName returns the table name for Record.
func (Record) TableName() string {
	return "records"
}

// Progress returns the record's progress per the status fallback table used
// by the job-status endpoint when no live job is found.
func (r *Record) Progress() int {
	if r.ProcessingProgress != nil {
		return *r.ProcessingProgress
	}
	switch r.Status {
	case StatusProcessing:
		return 25
	case StatusTranscribed:
		return 50
	case StatusSummarized:
		return 75
	case StatusDone:
		return 100
	default:
		return 0
	}
}
