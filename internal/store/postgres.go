package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/booktranslator/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// --- Submissions ---

const submissionColumns = `id, title, original_title, source_url, source_path, source_ref, checksum,
	origin, category, priority, status, record_id, metadata, created_at, updated_at`

func scanSubmission(row rowScanner) (*models.Submission, error) {
	var sub models.Submission
	err := row.Scan(&sub.ID, &sub.Title, &sub.OriginalTitle, &sub.SourceURL, &sub.SourcePath,
		&sub.SourceRef, &sub.Checksum, &sub.Origin, &sub.Category, &sub.Priority, &sub.Status,
		&sub.RecordID, &sub.Metadata, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if sub.Metadata == nil {
		sub.Metadata = map[string]any{}
	}
	return &sub, nil
}

func (s *PostgresStore) CreateSubmission(ctx context.Context, sub *models.Submission) error {
	metadata := sub.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO submissions (id, title, original_title, source_url, source_path, source_ref, checksum,
		   origin, category, priority, status, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		sub.ID, sub.Title, sub.OriginalTitle, sub.SourceURL, sub.SourcePath, sub.SourceRef, sub.Checksum,
		sub.Origin, sub.Category, sub.Priority, sub.Status, metadata, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create submission: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSubmission(ctx context.Context, id uuid.UUID) (*models.Submission, error) {
	sub, err := scanSubmission(s.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}
	return sub, nil
}

func (s *PostgresStore) FindSubmissionBySourceRef(ctx context.Context, ref string) (*models.Submission, error) {
	sub, err := scanSubmission(s.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE source_ref = $1`, ref))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find submission by source ref: %w", err)
	}
	return sub, nil
}

func (s *PostgresStore) ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]*models.Submission, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}
	if filter.Origin != "" {
		conditions = append(conditions, fmt.Sprintf("origin = $%d", argIdx))
		args = append(args, filter.Origin)
		argIdx++
	}

	query := `SELECT ` + submissionColumns + ` FROM submissions`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY priority DESC, created_at ASC, id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
		argIdx++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filter.Offset)
	}

	return s.querySubmissions(ctx, query, args...)
}

func (s *PostgresStore) querySubmissions(ctx context.Context, query string, args ...any) ([]*models.Submission, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	subs := []*models.Submission{}
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *PostgresStore) ListQueued(ctx context.Context) ([]*models.Submission, error) {
	return s.querySubmissions(ctx,
		`SELECT `+submissionColumns+` FROM submissions
		 WHERE status = 'pending' AND record_id IS NOT NULL
		 ORDER BY priority DESC, updated_at ASC, id ASC`)
}

func (s *PostgresStore) UpdateSubmission(ctx context.Context, id uuid.UUID, upd SubmissionUpdate) (*models.Submission, error) {
	sub, err := scanSubmission(s.pool.QueryRow(ctx,
		`UPDATE submissions SET
		   title = COALESCE($2, title),
		   category = COALESCE($3, category),
		   priority = COALESCE($4, priority),
		   updated_at = NOW()
		 WHERE id = $1 AND status <> 'translating'
		 RETURNING `+submissionColumns,
		id, upd.Title, upd.Category, upd.Priority))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.explainMiss(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("update submission: %w", err)
	}
	return sub, nil
}

func (s *PostgresStore) DeleteSubmission(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM submissions
		 WHERE id = $1 AND status <> 'translating'
		   AND NOT (status = 'pending' AND record_id IS NOT NULL)`, id)
	if err != nil {
		return fmt.Errorf("delete submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.explainMiss(ctx, id)
	}
	return nil
}

func (s *PostgresStore) ResetSubmission(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE submissions SET status = 'pending', record_id = NULL, updated_at = NOW()
		 WHERE id = $1 AND status = 'failed'`, id)
	if err != nil {
		return fmt.Errorf("reset submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.explainMiss(ctx, id)
	}
	return nil
}

// explainMiss turns a conditional update that touched no rows into ErrNotFound
// or ErrInvalidTransition.
func (s *PostgresStore) explainMiss(ctx context.Context, id uuid.UUID) error {
	var (
		status   string
		recordID *uuid.UUID
	)
	err := s.pool.QueryRow(ctx, `SELECT status, record_id FROM submissions WHERE id = $1`, id).Scan(&status, &recordID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get submission status: %w", err)
	}
	if status == models.SubmissionPending && recordID != nil {
		return fmt.Errorf("%w: submission is queued for translation", ErrInvalidTransition)
	}
	return fmt.Errorf("%w: submission is %s", ErrInvalidTransition, status)
}

// --- Translation lifecycle ---

func (s *PostgresStore) StartTranslation(ctx context.Context, submissionID uuid.UUID, rec *models.TranslationRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin start translation: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Optimistic check-and-set: only one concurrent caller sees a pending row.
	tag, err := tx.Exec(ctx,
		`UPDATE submissions SET status = 'translating', record_id = $2, updated_at = NOW()
		 WHERE id = $1 AND status = 'pending' AND record_id IS NULL`, submissionID, rec.ID)
	if err != nil {
		return fmt.Errorf("claim submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.explainMiss(ctx, submissionID)
	}

	if err := insertRecord(ctx, tx, submissionID, rec); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit start translation: %w", err)
	}
	return nil
}

func (s *PostgresStore) QueueTranslation(ctx context.Context, submissionID uuid.UUID, rec *models.TranslationRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin queue translation: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`UPDATE submissions SET record_id = $2, updated_at = NOW()
		 WHERE id = $1 AND status = 'pending' AND record_id IS NULL`, submissionID, rec.ID)
	if err != nil {
		return fmt.Errorf("queue submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.explainMiss(ctx, submissionID)
	}

	if err := insertRecord(ctx, tx, submissionID, rec); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit queue translation: %w", err)
	}
	return nil
}

func (s *PostgresStore) ClaimQueued(ctx context.Context, submissionID, recordID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin claim queued: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`UPDATE submissions SET status = 'translating', updated_at = NOW()
		 WHERE id = $1 AND status = 'pending' AND record_id = $2`, submissionID, recordID)
	if err != nil {
		return fmt.Errorf("claim queued submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.explainMiss(ctx, submissionID)
	}

	tag, err = tx.Exec(ctx,
		`UPDATE translated_books SET status = 'processing', updated_at = NOW()
		 WHERE id = $1 AND status = 'pending'`, recordID)
	if err != nil {
		return fmt.Errorf("mark record processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.explainRecordMiss(ctx, recordID)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit claim queued: %w", err)
	}
	return nil
}

func (s *PostgresStore) DropQueued(ctx context.Context, submissionID, recordID uuid.UUID, message string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin drop queued: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`UPDATE submissions SET record_id = NULL, updated_at = NOW()
		 WHERE id = $1 AND status = 'pending' AND record_id = $2`, submissionID, recordID)
	if err != nil {
		return fmt.Errorf("unqueue submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.explainMiss(ctx, submissionID)
	}

	tag, err = tx.Exec(ctx,
		`UPDATE translated_books SET status = 'failed', error_message = $2,
		   completed_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status = 'pending'`, recordID, message)
	if err != nil {
		return fmt.Errorf("fail queued record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.explainRecordMiss(ctx, recordID)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit drop queued: %w", err)
	}
	return nil
}

func insertRecord(ctx context.Context, tx pgx.Tx, submissionID uuid.UUID, rec *models.TranslationRecord) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO translated_books (id, submission_id, title, status, source_format, target_language,
		   category, pdf_url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		rec.ID, submissionID, rec.Title, rec.Status, rec.SourceFormat, rec.TargetLanguage,
		rec.Category, rec.PDFURL, rec.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create translation record: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateRecordUsage(ctx context.Context, recordID uuid.UUID, usage models.Usage) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE translated_books SET
		   input_tokens = GREATEST(input_tokens, $2),
		   output_tokens = GREATEST(output_tokens, $3),
		   estimated_cost = GREATEST(estimated_cost, $4),
		   updated_at = NOW()
		 WHERE id = $1 AND status IN ('pending', 'processing')`,
		recordID, usage.InputTokens, usage.OutputTokens, usage.EstimatedCost)
	if err != nil {
		return fmt.Errorf("update record usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.explainRecordMiss(ctx, recordID)
	}
	return nil
}

func (s *PostgresStore) CompleteTranslation(ctx context.Context, submissionID, recordID uuid.UUID, art models.Artifacts, usage models.Usage) error {
	if art.HTMLURL == "" || art.EPUBURL == "" || art.PDFURL == "" {
		return fmt.Errorf("complete translation: missing artifact url")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin complete translation: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Catalog-owned columns (category, soft-delete flags, an existing cover) are left alone.
	tag, err := tx.Exec(ctx,
		`UPDATE translated_books SET
		   status = 'completed',
		   html_url = $2, epub_url = $3, pdf_url = $4,
		   cover_url = COALESCE(cover_url, $5),
		   input_tokens = GREATEST(input_tokens, $6),
		   output_tokens = GREATEST(output_tokens, $7),
		   estimated_cost = GREATEST(estimated_cost, $8),
		   page_count = $9, file_size_bytes = $10,
		   error_message = NULL,
		   completed_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status = 'processing'`,
		recordID, art.HTMLURL, art.EPUBURL, art.PDFURL, art.CoverURL,
		usage.InputTokens, usage.OutputTokens, usage.EstimatedCost,
		art.PageCount, art.FileSizeBytes)
	if err != nil {
		return fmt.Errorf("complete record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.explainRecordMiss(ctx, recordID)
	}

	if err := finishSubmission(ctx, tx, submissionID, models.SubmissionCompleted); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit complete translation: %w", err)
	}
	return nil
}

func (s *PostgresStore) FailTranslation(ctx context.Context, submissionID, recordID uuid.UUID, message string, usage models.Usage) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin fail translation: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`UPDATE translated_books SET
		   status = 'failed',
		   error_message = $2,
		   input_tokens = GREATEST(input_tokens, $3),
		   output_tokens = GREATEST(output_tokens, $4),
		   estimated_cost = GREATEST(estimated_cost, $5),
		   completed_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status IN ('pending', 'processing')`,
		recordID, message, usage.InputTokens, usage.OutputTokens, usage.EstimatedCost)
	if err != nil {
		return fmt.Errorf("fail record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.explainRecordMiss(ctx, recordID)
	}

	if err := finishSubmission(ctx, tx, submissionID, models.SubmissionFailed); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit fail translation: %w", err)
	}
	return nil
}

func finishSubmission(ctx context.Context, tx pgx.Tx, submissionID uuid.UUID, status string) error {
	tag, err := tx.Exec(ctx,
		`UPDATE submissions SET status = $2, updated_at = NOW()
		 WHERE id = $1 AND status = 'translating'`, submissionID, status)
	if err != nil {
		return fmt.Errorf("finish submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: submission %s is not translating", ErrInvalidTransition, submissionID)
	}
	return nil
}

func (s *PostgresStore) RequeueStale(ctx context.Context, olderThan time.Duration) ([]uuid.UUID, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin requeue: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	rows, err := tx.Query(ctx,
		`UPDATE submissions SET status = 'pending', record_id = NULL, updated_at = NOW()
		 WHERE status = 'translating' AND updated_at < NOW() - make_interval(secs => $1)
		 RETURNING id`, olderThan.Seconds())
	if err != nil {
		return nil, fmt.Errorf("requeue stale submissions: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("scan requeued ids: %w", err)
	}

	if len(ids) > 0 {
		_, err = tx.Exec(ctx,
			`UPDATE translated_books SET status = 'failed', error_message = $2,
			   completed_at = NOW(), updated_at = NOW()
			 WHERE submission_id = ANY($1) AND status IN ('pending', 'processing')`,
			ids, AbandonedMessage)
		if err != nil {
			return nil, fmt.Errorf("fail abandoned records: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit requeue: %w", err)
	}
	return ids, nil
}

// --- Records ---

func (s *PostgresStore) GetRecord(ctx context.Context, id uuid.UUID) (*models.TranslationRecord, error) {
	var r models.TranslationRecord
	err := s.pool.QueryRow(ctx,
		`SELECT id, submission_id, title, status, source_format, target_language, category,
		   html_url, epub_url, pdf_url, cover_url, input_tokens, output_tokens, estimated_cost,
		   page_count, file_size_bytes, error_message, is_deleted, deleted_at, created_at, completed_at
		 FROM translated_books WHERE id = $1`, id,
	).Scan(&r.ID, &r.SubmissionID, &r.Title, &r.Status, &r.SourceFormat, &r.TargetLanguage, &r.Category,
		&r.HTMLURL, &r.EPUBURL, &r.PDFURL, &r.CoverURL, &r.InputTokens, &r.OutputTokens, &r.EstimatedCost,
		&r.PageCount, &r.FileSizeBytes, &r.ErrorMessage, &r.IsDeleted, &r.DeletedAt, &r.CreatedAt, &r.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) explainRecordMiss(ctx context.Context, id uuid.UUID) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM translated_books WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get record status: %w", err)
	}
	return fmt.Errorf("%w: record is %s", ErrInvalidTransition, status)
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
