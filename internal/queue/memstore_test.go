package queue_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/booktranslator/internal/store"
	"github.com/kiranshivaraju/booktranslator/pkg/models"
)

// memStore is an in-memory store.Store with the same conditional-update
// semantics as the Postgres implementation.
type memStore struct {
	mu      sync.Mutex
	subs    map[uuid.UUID]*models.Submission
	records map[uuid.UUID]*models.TranslationRecord
	// usageLog records every usage value written per record, in order.
	usageLog map[uuid.UUID][]models.Usage
}

var _ store.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		subs:     map[uuid.UUID]*models.Submission{},
		records:  map[uuid.UUID]*models.TranslationRecord{},
		usageLog: map[uuid.UUID][]models.Usage{},
	}
}

func (m *memStore) Ping(context.Context) error { return nil }

func (m *memStore) CreateSubmission(_ context.Context, sub *models.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[sub.ID]; ok {
		return store.ErrDuplicateKey
	}
	if sub.SourceRef != nil {
		for _, s := range m.subs {
			if s.SourceRef != nil && *s.SourceRef == *sub.SourceRef {
				return store.ErrDuplicateKey
			}
		}
	}
	cp := *sub
	m.subs[sub.ID] = &cp
	return nil
}

func (m *memStore) GetSubmission(_ context.Context, id uuid.UUID) (*models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) FindSubmissionBySourceRef(_ context.Context, ref string) (*models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.SourceRef != nil && *s.SourceRef == ref {
			cp := *s
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) ListSubmissions(_ context.Context, f store.SubmissionFilter) ([]*models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.Submission{}
	for _, s := range m.subs {
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		if f.Origin != "" && s.Origin != f.Origin {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []*models.Submission{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memStore) ListQueued(context.Context) ([]*models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.Submission{}
	for _, s := range m.subs {
		if s.Status == models.SubmissionPending && s.RecordID != nil {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	return out, nil
}

func (m *memStore) UpdateSubmission(_ context.Context, id uuid.UUID, upd store.SubmissionUpdate) (*models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if s.Status == models.SubmissionTranslating {
		return nil, fmt.Errorf("%w: submission is translating", store.ErrInvalidTransition)
	}
	if upd.Title != nil {
		s.Title = *upd.Title
	}
	if upd.Category != nil {
		s.Category = *upd.Category
	}
	if upd.Priority != nil {
		s.Priority = *upd.Priority
	}
	s.UpdatedAt = time.Now()
	cp := *s
	return &cp, nil
}

func (m *memStore) DeleteSubmission(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return store.ErrNotFound
	}
	if s.Status == models.SubmissionTranslating {
		return fmt.Errorf("%w: submission is translating", store.ErrInvalidTransition)
	}
	if s.Status == models.SubmissionPending && s.RecordID != nil {
		return fmt.Errorf("%w: submission is queued for translation", store.ErrInvalidTransition)
	}
	delete(m.subs, id)
	return nil
}

func (m *memStore) ResetSubmission(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return store.ErrNotFound
	}
	if s.Status != models.SubmissionFailed {
		return fmt.Errorf("%w: submission is %s", store.ErrInvalidTransition, s.Status)
	}
	s.Status = models.SubmissionPending
	s.RecordID = nil
	s.UpdatedAt = time.Now()
	return nil
}

// unqueued returns the submission if it is pending with no linked record. Callers hold mu.
func (m *memStore) unqueued(id uuid.UUID) (*models.Submission, error) {
	s, ok := m.subs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if s.Status != models.SubmissionPending {
		return nil, fmt.Errorf("%w: submission is %s", store.ErrInvalidTransition, s.Status)
	}
	if s.RecordID != nil {
		return nil, fmt.Errorf("%w: submission is queued for translation", store.ErrInvalidTransition)
	}
	return s, nil
}

func (m *memStore) StartTranslation(_ context.Context, submissionID uuid.UUID, rec *models.TranslationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.unqueued(submissionID)
	if err != nil {
		return err
	}
	s.Status = models.SubmissionTranslating
	id := rec.ID
	s.RecordID = &id
	s.UpdatedAt = time.Now()

	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

func (m *memStore) QueueTranslation(_ context.Context, submissionID uuid.UUID, rec *models.TranslationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.unqueued(submissionID)
	if err != nil {
		return err
	}
	id := rec.ID
	s.RecordID = &id
	s.UpdatedAt = time.Now()

	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

// queuedPair returns a pending submission linked to recordID and its pending record. Callers hold mu.
func (m *memStore) queuedPair(submissionID, recordID uuid.UUID) (*models.Submission, *models.TranslationRecord, error) {
	s, ok := m.subs[submissionID]
	if !ok {
		return nil, nil, store.ErrNotFound
	}
	if s.Status != models.SubmissionPending || s.RecordID == nil || *s.RecordID != recordID {
		return nil, nil, fmt.Errorf("%w: submission is %s", store.ErrInvalidTransition, s.Status)
	}
	r, ok := m.records[recordID]
	if !ok {
		return nil, nil, store.ErrNotFound
	}
	if r.Status != models.RecordPending {
		return nil, nil, fmt.Errorf("%w: record is %s", store.ErrInvalidTransition, r.Status)
	}
	return s, r, nil
}

func (m *memStore) ClaimQueued(_ context.Context, submissionID, recordID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, r, err := m.queuedPair(submissionID, recordID)
	if err != nil {
		return err
	}
	s.Status = models.SubmissionTranslating
	s.UpdatedAt = time.Now()
	r.Status = models.RecordProcessing
	return nil
}

func (m *memStore) DropQueued(_ context.Context, submissionID, recordID uuid.UUID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, r, err := m.queuedPair(submissionID, recordID)
	if err != nil {
		return err
	}
	now := time.Now()
	s.RecordID = nil
	s.UpdatedAt = now
	r.Status = models.RecordFailed
	r.ErrorMessage = &message
	r.CompletedAt = &now
	return nil
}

func (m *memStore) UpdateRecordUsage(_ context.Context, recordID uuid.UUID, u models.Usage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[recordID]
	if !ok {
		return store.ErrNotFound
	}
	if r.Status != models.RecordPending && r.Status != models.RecordProcessing {
		return fmt.Errorf("%w: record is %s", store.ErrInvalidTransition, r.Status)
	}
	raiseUsage(r, u)
	m.usageLog[recordID] = append(m.usageLog[recordID], u)
	return nil
}

func (m *memStore) CompleteTranslation(_ context.Context, submissionID, recordID uuid.UUID, art models.Artifacts, u models.Usage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[recordID]
	if !ok {
		return store.ErrNotFound
	}
	if r.Status != models.RecordProcessing {
		return fmt.Errorf("%w: record is %s", store.ErrInvalidTransition, r.Status)
	}
	s := m.subs[submissionID]
	if s == nil || s.Status != models.SubmissionTranslating {
		return fmt.Errorf("%w: submission is not translating", store.ErrInvalidTransition)
	}
	now := time.Now()
	r.Status = models.RecordCompleted
	r.HTMLURL, r.EPUBURL, r.PDFURL = &art.HTMLURL, &art.EPUBURL, &art.PDFURL
	if r.CoverURL == nil {
		r.CoverURL = art.CoverURL
	}
	r.PageCount = art.PageCount
	r.FileSizeBytes = art.FileSizeBytes
	raiseUsage(r, u)
	r.CompletedAt = &now
	s.Status = models.SubmissionCompleted
	return nil
}

func (m *memStore) FailTranslation(_ context.Context, submissionID, recordID uuid.UUID, msg string, u models.Usage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[recordID]
	if !ok {
		return store.ErrNotFound
	}
	if r.Status != models.RecordPending && r.Status != models.RecordProcessing {
		return fmt.Errorf("%w: record is %s", store.ErrInvalidTransition, r.Status)
	}
	s := m.subs[submissionID]
	if s == nil || s.Status != models.SubmissionTranslating {
		return fmt.Errorf("%w: submission is not translating", store.ErrInvalidTransition)
	}
	now := time.Now()
	r.Status = models.RecordFailed
	r.ErrorMessage = &msg
	raiseUsage(r, u)
	r.CompletedAt = &now
	s.Status = models.SubmissionFailed
	return nil
}

func (m *memStore) RequeueStale(_ context.Context, olderThan time.Duration) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	cutoff := time.Now().Add(-olderThan)
	for _, s := range m.subs {
		if s.Status != models.SubmissionTranslating || !s.UpdatedAt.Before(cutoff) {
			continue
		}
		if s.RecordID != nil {
			if r := m.records[*s.RecordID]; r != nil && (r.Status == models.RecordPending || r.Status == models.RecordProcessing) {
				msg := store.AbandonedMessage
				r.Status = models.RecordFailed
				r.ErrorMessage = &msg
			}
		}
		s.Status = models.SubmissionPending
		s.RecordID = nil
		ids = append(ids, s.ID)
	}
	return ids, nil
}

func (m *memStore) GetRecord(_ context.Context, id uuid.UUID) (*models.TranslationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// setStatus forces a submission into a state for test setup.
func (m *memStore) setStatus(id uuid.UUID, status string, updatedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[id].Status = status
	m.subs[id].UpdatedAt = updatedAt
}

func (m *memStore) usageHistory(recordID uuid.UUID) []models.Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Usage(nil), m.usageLog[recordID]...)
}

func raiseUsage(r *models.TranslationRecord, u models.Usage) {
	r.InputTokens = max(r.InputTokens, u.InputTokens)
	r.OutputTokens = max(r.OutputTokens, u.OutputTokens)
	r.EstimatedCost = max(r.EstimatedCost, u.EstimatedCost)
}
