// Package models contains shared data models used across the translation pipeline.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Submission statuses. Transitions only move forward:
// pending -> translating -> {completed, failed}; failed -> pending is an operator reset.
const (
	SubmissionPending     = "pending"
	SubmissionTranslating = "translating"
	SubmissionCompleted   = "completed"
	SubmissionFailed      = "failed"
)

// Submission origins.
const (
	OriginCrawled        = "crawled"
	OriginOperatorUpload = "operator_upload"
	OriginUserRequest    = "user_request"
)

// ValidOrigin reports whether o is a known submission origin.
func ValidOrigin(o string) bool {
	switch o {
	case OriginCrawled, OriginOperatorUpload, OriginUserRequest:
		return true
	}
	return false
}

// Submission is a document admitted into the translation queue.
// Category and Metadata are opaque to the pipeline and passed through untouched.
type Submission struct {
	ID            uuid.UUID      `db:"id"             json:"id"`
	Title         string         `db:"title"          json:"title"`
	OriginalTitle *string        `db:"original_title" json:"original_title,omitempty"`
	SourceURL     string         `db:"source_url"     json:"source_document_url"`
	SourcePath    string         `db:"source_path"    json:"-"`
	SourceRef     *string        `db:"source_ref"     json:"source_ref,omitempty"`
	Checksum      string         `db:"checksum"       json:"checksum"`
	Origin        string         `db:"origin"         json:"origin"`
	Category      string         `db:"category"       json:"category"`
	Priority      int            `db:"priority"       json:"priority"`
	Status        string         `db:"status"         json:"status"`
	RecordID      *uuid.UUID     `db:"record_id"      json:"translated_book_id,omitempty"`
	Metadata      map[string]any `db:"metadata"       json:"metadata"`
	CreatedAt     time.Time      `db:"created_at"     json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"     json:"updated_at"`
}
