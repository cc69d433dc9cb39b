// Package queue admits documents, drives each one through the translation
// pipeline and owns the submission state machine.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/booktranslator/internal/extract"
	"github.com/kiranshivaraju/booktranslator/internal/objectstore"
	"github.com/kiranshivaraju/booktranslator/internal/store"
	"github.com/kiranshivaraju/booktranslator/internal/textclean"
	"github.com/kiranshivaraju/booktranslator/pkg/models"
)

const (
	defaultCategory = "general"
	maxTitleBytes   = 500
)

// Config holds the admission and reconciliation limits.
type Config struct {
	MaxUploadBytes int64
	StaleAfter     time.Duration
	TargetLanguage string
}

// AdmitRequest describes a document entering the queue.
type AdmitRequest struct {
	Data          []byte
	Filename      string
	Title         string
	OriginalTitle string
	Origin        string
	Category      string
	Priority      int
	// SourceRef identifies the document at its origin (e.g. "crawled:<id>") and must be unique.
	SourceRef string
	Metadata  map[string]any
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Status string
	Origin string
	Limit  int
	Offset int
}

// Manager is the entry point for every queue operation.
type Manager struct {
	store   store.Store
	objects objectstore.Store
	runner  *Runner
	cfg     Config
}

func NewManager(s store.Store, objects objectstore.Store, runner *Runner, cfg Config) *Manager {
	if cfg.TargetLanguage == "" {
		cfg.TargetLanguage = "vi"
	}
	return &Manager{store: s, objects: objects, runner: runner, cfg: cfg}
}

// Admit validates a PDF, stores it and creates a pending submission.
func (m *Manager) Admit(ctx context.Context, req AdmitRequest) (*models.Submission, error) {
	if len(req.Data) == 0 {
		return nil, fmt.Errorf("%w: file is empty", ErrValidation)
	}
	if m.cfg.MaxUploadBytes > 0 && int64(len(req.Data)) > m.cfg.MaxUploadBytes {
		return nil, fmt.Errorf("%w: file is %d bytes, limit is %d", ErrValidation, len(req.Data), m.cfg.MaxUploadBytes)
	}
	if !extract.LooksLikePDF(req.Data) {
		return nil, fmt.Errorf("%w: only PDF documents are accepted", ErrValidation)
	}

	origin := req.Origin
	if origin == "" {
		origin = models.OriginOperatorUpload
	}
	if !models.ValidOrigin(origin) {
		return nil, fmt.Errorf("%w: unknown source %q", ErrValidation, origin)
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = textclean.TitleFromFilename(req.Filename)
	}
	if title == "" {
		title = "Untitled"
	}
	title = textclean.Truncate(title, maxTitleBytes)

	category := strings.TrimSpace(req.Category)
	if category == "" {
		category = defaultCategory
	}

	metadata := make(map[string]any, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata["file_size"] = len(req.Data)

	now := time.Now().UTC()
	sub := &models.Submission{
		ID:        uuid.New(),
		Title:     title,
		Checksum:  textclean.Fingerprint(req.Data),
		Origin:    origin,
		Category:  category,
		Priority:  req.Priority,
		Status:    models.SubmissionPending,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if ot := strings.TrimSpace(req.OriginalTitle); ot != "" {
		sub.OriginalTitle = &ot
	}
	if req.SourceRef != "" {
		ref := req.SourceRef
		sub.SourceRef = &ref
	}

	sub.SourcePath = objectstore.Join("pending", sub.ID.String(), "source.pdf")
	url, err := m.objects.Put(ctx, sub.SourcePath, req.Data, "application/pdf")
	if err != nil {
		return nil, fmt.Errorf("storing source document: %w", err)
	}
	sub.SourceURL = url

	if err := m.store.CreateSubmission(ctx, sub); err != nil {
		m.deleteSource(ctx, sub)
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, fmt.Errorf("%w: source %q already admitted", ErrConflict, req.SourceRef)
		}
		return nil, fmt.Errorf("creating submission: %w", err)
	}

	slog.Info("submission admitted",
		"submission_id", sub.ID, "origin", sub.Origin, "priority", sub.Priority, "size_bytes", len(req.Data))
	return sub, nil
}

// List returns submissions by priority (highest first), oldest first within a priority.
func (m *Manager) List(ctx context.Context, f Filter) ([]*models.Submission, error) {
	if f.Status != "" && !validSubmissionStatus(f.Status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, f.Status)
	}
	if f.Origin != "" && !models.ValidOrigin(f.Origin) {
		return nil, fmt.Errorf("%w: unknown source %q", ErrValidation, f.Origin)
	}
	return m.store.ListSubmissions(ctx, store.SubmissionFilter{
		Status: f.Status, Origin: f.Origin, Limit: f.Limit, Offset: f.Offset,
	})
}

func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*models.Submission, error) {
	sub, err := m.store.GetSubmission(ctx, id)
	return sub, mapStoreError(err)
}

// FindBySourceRef returns the submission admitted under ref, if any.
func (m *Manager) FindBySourceRef(ctx context.Context, ref string) (*models.Submission, error) {
	sub, err := m.store.FindSubmissionBySourceRef(ctx, ref)
	return sub, mapStoreError(err)
}

func (m *Manager) GetRecord(ctx context.Context, id uuid.UUID) (*models.TranslationRecord, error) {
	rec, err := m.store.GetRecord(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: record %s", ErrNotFound, id)
	}
	return rec, err
}

// Trigger claims a pending submission, creates its record and starts the job
// in the background. It returns the record id without waiting. When every slot
// is busy the request is queued: the submission stays pending with a pending
// record until a slot frees.
func (m *Manager) Trigger(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	sub, err := m.store.GetSubmission(ctx, id)
	if err != nil {
		return uuid.Nil, mapStoreError(err)
	}
	if !store.CanTransition(sub.Status, models.SubmissionTranslating) {
		return uuid.Nil, fmt.Errorf("%w: submission is %s, not pending", ErrInvalidState, sub.Status)
	}
	if sub.RecordID != nil {
		return uuid.Nil, fmt.Errorf("%w: submission is already queued for translation", ErrInvalidState)
	}

	rec := &models.TranslationRecord{
		ID:             uuid.New(),
		SubmissionID:   sub.ID,
		Title:          sub.Title,
		Status:         models.RecordPending,
		SourceFormat:   "pdf",
		TargetLanguage: m.cfg.TargetLanguage,
		Category:       sub.Category,
		CreatedAt:      time.Now().UTC(),
	}

	if !m.runner.tryAcquire() {
		return m.queue(ctx, sub, rec)
	}
	rec.Status = models.RecordProcessing

	jobCtx, cancel, ok := m.runner.reserve(sub.ID, rec.ID)
	if !ok {
		m.runner.release()
		return uuid.Nil, fmt.Errorf("%w: submission is already being translated", ErrInvalidState)
	}

	if err := m.store.StartTranslation(ctx, sub.ID, rec); err != nil {
		m.runner.unreserve(sub.ID, cancel)
		m.runner.release()
		if errors.Is(err, store.ErrInvalidTransition) {
			return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
		return uuid.Nil, mapStoreError(err)
	}
	sub.Status = models.SubmissionTranslating
	sub.RecordID = &rec.ID

	slog.Info("translation triggered", "submission_id", sub.ID, "record_id", rec.ID)
	m.runner.start(jobCtx, cancel, job{sub: sub, rec: rec})
	return rec.ID, nil
}

func (m *Manager) queue(ctx context.Context, sub *models.Submission, rec *models.TranslationRecord) (uuid.UUID, error) {
	if err := m.store.QueueTranslation(ctx, sub.ID, rec); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
		return uuid.Nil, mapStoreError(err)
	}
	sub.RecordID = &rec.ID

	slog.Info("translation queued", "submission_id", sub.ID, "record_id", rec.ID, "waiting", m.runner.Waiting()+1)
	m.runner.enqueue(job{sub: sub, rec: rec})
	return rec.ID, nil
}

// Resume hands requests queued by a previous process to the runner. It runs
// at startup, after Reconcile.
func (m *Manager) Resume(ctx context.Context) (int, error) {
	subs, err := m.store.ListQueued(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing queued translations: %w", err)
	}
	resumed := 0
	for _, sub := range subs {
		rec, err := m.store.GetRecord(ctx, *sub.RecordID)
		if err != nil {
			slog.Warn("queued translation has no readable record", "submission_id", sub.ID, "error", err)
			continue
		}
		m.runner.enqueue(job{sub: sub, rec: rec})
		resumed++
	}
	return resumed, nil
}

// Cancel stops a translating job at its next checkpoint, or withdraws a
// request still waiting for a slot. A running job then removes its uploads and
// fails its record with a cancelled reason. A withdrawn request fails its
// record and leaves the submission pending.
func (m *Manager) Cancel(ctx context.Context, id uuid.UUID) error {
	owned, err := m.runner.cancel(id)
	if owned {
		if err != nil {
			return err
		}
		slog.Info("cancellation requested", "submission_id", id)
		return nil
	}

	sub, err := m.store.GetSubmission(ctx, id)
	if err != nil {
		return mapStoreError(err)
	}
	if sub.Status == models.SubmissionPending && sub.RecordID != nil {
		return m.withdraw(ctx, sub, ErrCancelled.Error()+": withdrawn before start", ErrInvalidState)
	}
	if sub.Status != models.SubmissionTranslating {
		return fmt.Errorf("%w: submission is %s, not translating", ErrInvalidState, sub.Status)
	}
	if sub.RecordID == nil {
		return fmt.Errorf("%w: translating submission has no record", ErrInvalidState)
	}

	// No worker here owns it: finalize directly so it does not stay translating.
	err = m.store.FailTranslation(ctx, sub.ID, *sub.RecordID, ErrCancelled.Error()+": no active worker", models.Usage{})
	if errors.Is(err, store.ErrInvalidTransition) {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	return mapStoreError(err)
}

// withdraw takes a queued request out of the runner and fails its record. A
// claim that won the race is reported as lost.
func (m *Manager) withdraw(ctx context.Context, sub *models.Submission, reason string, lost error) error {
	m.runner.dequeue(sub.ID)
	if err := m.store.DropQueued(ctx, sub.ID, *sub.RecordID, reason); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return fmt.Errorf("%w: translation already started", lost)
		}
		return mapStoreError(err)
	}
	slog.Info("queued translation withdrawn", "submission_id", sub.ID, "record_id", *sub.RecordID, "reason", reason)
	return nil
}

// Remove deletes a submission that is not translating. A queued request is
// withdrawn first.
func (m *Manager) Remove(ctx context.Context, id uuid.UUID) error {
	sub, err := m.store.GetSubmission(ctx, id)
	if err != nil {
		return mapStoreError(err)
	}
	if sub.Status == models.SubmissionTranslating {
		return fmt.Errorf("%w: submission is translating", ErrConflict)
	}
	if sub.Status == models.SubmissionPending && sub.RecordID != nil {
		if err := m.withdraw(ctx, sub, "submission removed before start", ErrConflict); err != nil {
			return err
		}
	}

	if err := m.store.DeleteSubmission(ctx, id); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return mapStoreError(err)
	}
	m.deleteSource(ctx, sub)
	slog.Info("submission removed", "submission_id", id)
	return nil
}

// UpdateRequest changes editable fields of a submission. Nil fields are kept.
type UpdateRequest struct {
	Title    *string
	Category *string
	Priority *int
}

// Update edits the title, category or priority of a submission that is not
// translating.
func (m *Manager) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (*models.Submission, error) {
	upd := store.SubmissionUpdate{Priority: req.Priority}
	if req.Title != nil {
		title := textclean.Truncate(strings.TrimSpace(*req.Title), maxTitleBytes)
		if title == "" {
			return nil, fmt.Errorf("%w: title cannot be empty", ErrValidation)
		}
		upd.Title = &title
	}
	if req.Category != nil {
		category := strings.TrimSpace(*req.Category)
		if category == "" {
			return nil, fmt.Errorf("%w: category cannot be empty", ErrValidation)
		}
		upd.Category = &category
	}
	if upd.Empty() {
		return nil, fmt.Errorf("%w: nothing to update", ErrValidation)
	}

	sub, err := m.store.UpdateSubmission(ctx, id, upd)
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
		return nil, mapStoreError(err)
	}
	m.runner.refresh(sub)
	slog.Info("submission updated", "submission_id", id)
	return sub, nil
}

// Reset returns a failed submission to pending so it can be triggered again.
func (m *Manager) Reset(ctx context.Context, id uuid.UUID) error {
	sub, err := m.store.GetSubmission(ctx, id)
	if err != nil {
		return mapStoreError(err)
	}
	if sub.Status != models.SubmissionFailed {
		return fmt.Errorf("%w: only failed submissions can be reset, this one is %s", ErrInvalidState, sub.Status)
	}
	if err := m.store.ResetSubmission(ctx, id); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
		return mapStoreError(err)
	}
	slog.Info("submission reset", "submission_id", id)
	return nil
}

// Reconcile returns submissions stuck in translating with no recent activity
// to pending. It runs at startup, before any job of this process exists.
func (m *Manager) Reconcile(ctx context.Context) (int, error) {
	ids, err := m.store.RequeueStale(ctx, m.cfg.StaleAfter)
	if err != nil {
		return 0, fmt.Errorf("reconciling stale submissions: %w", err)
	}
	for _, id := range ids {
		slog.Warn("requeued stale submission", "submission_id", id)
	}
	return len(ids), nil
}

// FreeSlots reports how many jobs could start immediately.
func (m *Manager) FreeSlots() int {
	return m.runner.FreeSlots()
}

func (m *Manager) deleteSource(ctx context.Context, sub *models.Submission) {
	if sub.SourcePath == "" {
		return
	}
	if err := m.objects.Delete(context.WithoutCancel(ctx), sub.SourcePath); err != nil {
		slog.Warn("removing source document failed", "submission_id", sub.ID, "error", err)
	}
}

func mapStoreError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func validSubmissionStatus(s string) bool {
	switch s {
	case models.SubmissionPending, models.SubmissionTranslating, models.SubmissionCompleted, models.SubmissionFailed:
		return true
	}
	return false
}
