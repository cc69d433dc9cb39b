package models

import (
	"time"

	"github.com/google/uuid"
)

// Translation record statuses.
const (
	RecordPending    = "pending"
	RecordProcessing = "processing"
	RecordCompleted  = "completed"
	RecordFailed     = "failed"
)

// TranslationRecord is the durable result of one translation attempt.
// IsDeleted, DeletedAt, Category and a non-nil CoverURL set by the catalog
// are never overwritten by the pipeline.
type TranslationRecord struct {
	ID             uuid.UUID  `db:"id"              json:"id"`
	SubmissionID   uuid.UUID  `db:"submission_id"   json:"submission_id"`
	Title          string     `db:"title"           json:"title"`
	Status         string     `db:"status"          json:"status"`
	SourceFormat   string     `db:"source_format"   json:"source_format"`
	TargetLanguage string     `db:"target_language" json:"target_language"`
	Category       string     `db:"category"        json:"category"`
	HTMLURL        *string    `db:"html_url"        json:"html_url"`
	EPUBURL        *string    `db:"epub_url"        json:"epub_url"`
	PDFURL         *string    `db:"pdf_url"         json:"pdf_url"`
	CoverURL       *string    `db:"cover_url"       json:"cover_url"`
	InputTokens    int64      `db:"input_tokens"    json:"input_tokens"`
	OutputTokens   int64      `db:"output_tokens"   json:"output_tokens"`
	EstimatedCost  float64    `db:"estimated_cost"  json:"estimated_cost"`
	PageCount      int        `db:"page_count"      json:"page_count"`
	FileSizeBytes  int64      `db:"file_size_bytes" json:"file_size_bytes"`
	ErrorMessage   *string    `db:"error_message"   json:"error_message,omitempty"`
	IsDeleted      bool       `db:"is_deleted"      json:"is_deleted"`
	DeletedAt      *time.Time `db:"deleted_at"      json:"deleted_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at"      json:"created_at"`
	CompletedAt    *time.Time `db:"completed_at"    json:"completed_at,omitempty"`
}

// Usage is a running token and cost total for one job.
type Usage struct {
	InputTokens   int64   `json:"input_tokens"`
	OutputTokens  int64   `json:"output_tokens"`
	EstimatedCost float64 `json:"estimated_cost"`
}

// Artifacts holds the public locations and sizes produced by a completed job.
type Artifacts struct {
	HTMLURL       string
	EPUBURL       string
	PDFURL        string
	CoverURL      *string
	PageCount     int
	FileSizeBytes int64
}
