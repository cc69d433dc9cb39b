package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/booktranslator/pkg/models"
)

var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicateKey = errors.New("duplicate key violation")
	// ErrInvalidTransition is returned when a row is not in the status an update requires.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateSubmission(ctx context.Context, sub *models.Submission) error
	GetSubmission(ctx context.Context, id uuid.UUID) (*models.Submission, error)
	ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]*models.Submission, error)
	FindSubmissionBySourceRef(ctx context.Context, ref string) (*models.Submission, error)
	// DeleteSubmission hard-deletes a submission that is neither translating
	// nor queued for translation.
	DeleteSubmission(ctx context.Context, id uuid.UUID) error
	// ResetSubmission moves a failed submission back to pending.
	ResetSubmission(ctx context.Context, id uuid.UUID) error
	// UpdateSubmission edits the operator-owned fields of a submission that is not translating.
	UpdateSubmission(ctx context.Context, id uuid.UUID, upd SubmissionUpdate) (*models.Submission, error)

	// StartTranslation atomically moves a pending, unqueued submission to
	// translating and inserts its record. Concurrent callers for the same id:
	// exactly one wins.
	StartTranslation(ctx context.Context, submissionID uuid.UUID, rec *models.TranslationRecord) error
	// QueueTranslation links a pending record to a pending submission that is
	// waiting for a job slot. The submission stays pending.
	QueueTranslation(ctx context.Context, submissionID uuid.UUID, rec *models.TranslationRecord) error
	// ClaimQueued moves a queued submission to translating and its record to processing.
	ClaimQueued(ctx context.Context, submissionID, recordID uuid.UUID) error
	// DropQueued withdraws a queued request: the record fails with message and
	// the submission is unlinked from it, staying pending.
	DropQueued(ctx context.Context, submissionID, recordID uuid.UUID, message string) error
	// ListQueued returns pending submissions that wait for a slot, in the order they should start.
	ListQueued(ctx context.Context) ([]*models.Submission, error)
	// UpdateRecordUsage raises the running usage counters; they never decrease.
	UpdateRecordUsage(ctx context.Context, recordID uuid.UUID, usage models.Usage) error
	CompleteTranslation(ctx context.Context, submissionID, recordID uuid.UUID, art models.Artifacts, usage models.Usage) error
	FailTranslation(ctx context.Context, submissionID, recordID uuid.UUID, message string, usage models.Usage) error
	// RequeueStale returns translating submissions idle for longer than olderThan
	// to pending and fails their unfinished records.
	RequeueStale(ctx context.Context, olderThan time.Duration) ([]uuid.UUID, error)

	GetRecord(ctx context.Context, id uuid.UUID) (*models.TranslationRecord, error)
}

// SubmissionFilter narrows ListSubmissions. Zero values match everything.
type SubmissionFilter struct {
	Status string
	Origin string
	Limit  int
	Offset int
}

// SubmissionUpdate holds the fields an operator may change. Nil fields are left alone.
type SubmissionUpdate struct {
	Title    *string
	Category *string
	Priority *int
}

// Empty reports whether the update changes nothing.
func (u SubmissionUpdate) Empty() bool {
	return u.Title == nil && u.Category == nil && u.Priority == nil
}

// AbandonedMessage is recorded on records whose worker disappeared.
const AbandonedMessage = "abandoned: no active worker"

// validTransitions lists the submission status moves the store accepts.
var validTransitions = map[string][]string{
	models.SubmissionPending:     {models.SubmissionTranslating},
	models.SubmissionTranslating: {models.SubmissionCompleted, models.SubmissionFailed, models.SubmissionPending},
	models.SubmissionFailed:      {models.SubmissionPending},
}

// CanTransition reports whether a submission may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
