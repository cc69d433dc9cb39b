package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/booktranslator/internal/config"
	"github.com/kiranshivaraju/booktranslator/internal/store"
	"github.com/kiranshivaraju/booktranslator/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool + cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("books_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, store.RunMigrations(connStr))

	pool, err := store.Connect(ctx, config.DatabaseConfig{
		URL: connStr, MaxOpenConns: 10, MaxIdleConns: 1, ConnectAttempts: 3,
	}, "booktranslator-test")
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func newSubmission(title string, priority int, createdAt time.Time) *models.Submission {
	id := uuid.New()
	return &models.Submission{
		ID:         id,
		Title:      title,
		SourceURL:  "http://files/pending/" + id.String() + "/source.pdf",
		SourcePath: "pending/" + id.String() + "/source.pdf",
		Checksum:   "sum-" + id.String(),
		Origin:     models.OriginOperatorUpload,
		Category:   "general",
		Priority:   priority,
		Status:     models.SubmissionPending,
		Metadata:   map[string]any{"note": "hello"},
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
}

func newRecord(sub *models.Submission) *models.TranslationRecord {
	pdfURL := "http://files/original.pdf"
	return &models.TranslationRecord{
		ID:             uuid.New(),
		SubmissionID:   sub.ID,
		Title:          sub.Title,
		Status:         models.RecordProcessing,
		SourceFormat:   "pdf",
		TargetLanguage: "vi",
		Category:       sub.Category,
		PDFURL:         &pdfURL,
		CreatedAt:      time.Now().UTC().Truncate(time.Microsecond),
	}
}

// --- Submissions ---

func TestSubmission_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	sub := newSubmission("Deep Work", 0, now)
	require.NoError(t, s.CreateSubmission(ctx, sub))

	got, err := s.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "Deep Work", got.Title)
	assert.Equal(t, models.SubmissionPending, got.Status)
	assert.Equal(t, "hello", got.Metadata["note"])
	assert.Nil(t, got.RecordID)
}

func TestSubmission_GetNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))

	_, err := s.GetSubmission(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSubmission_DuplicateSourceRef(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()
	ref := "crawled:1234.5678"

	a := newSubmission("a", 0, now)
	a.SourceRef = &ref
	require.NoError(t, s.CreateSubmission(ctx, a))

	b := newSubmission("b", 0, now)
	b.SourceRef = &ref
	assert.ErrorIs(t, s.CreateSubmission(ctx, b), store.ErrDuplicateKey)

	found, err := s.FindSubmissionBySourceRef(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, a.ID, found.ID)
}

func TestSubmission_ListOrdering(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	older := newSubmission("older-low", 0, base.Add(-2*time.Hour))
	newer := newSubmission("newer-low", 0, base.Add(-time.Hour))
	urgent := newSubmission("urgent", 5, base)
	crawled := newSubmission("crawled", 1, base)
	crawled.Origin = models.OriginCrawled
	for _, sub := range []*models.Submission{newer, urgent, older, crawled} {
		require.NoError(t, s.CreateSubmission(ctx, sub))
	}

	all, err := s.ListSubmissions(ctx, store.SubmissionFilter{Status: models.SubmissionPending})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, []string{"urgent", "crawled", "older-low", "newer-low"},
		[]string{all[0].Title, all[1].Title, all[2].Title, all[3].Title})

	onlyCrawled, err := s.ListSubmissions(ctx, store.SubmissionFilter{Origin: models.OriginCrawled})
	require.NoError(t, err)
	require.Len(t, onlyCrawled, 1)
	assert.Equal(t, crawled.ID, onlyCrawled[0].ID)

	limited, err := s.ListSubmissions(ctx, store.SubmissionFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestSubmission_DeleteRejectsTranslating(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	sub := newSubmission("busy", 0, time.Now().UTC())
	require.NoError(t, s.CreateSubmission(ctx, sub))
	require.NoError(t, s.StartTranslation(ctx, sub.ID, newRecord(sub)))

	err := s.DeleteSubmission(ctx, sub.ID)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	assert.ErrorIs(t, s.DeleteSubmission(ctx, uuid.New()), store.ErrNotFound)
}

func TestSubmission_DeletePending(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	sub := newSubmission("idle", 0, time.Now().UTC())
	require.NoError(t, s.CreateSubmission(ctx, sub))
	require.NoError(t, s.DeleteSubmission(ctx, sub.ID))

	_, err := s.GetSubmission(ctx, sub.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- Lifecycle ---

func TestStartTranslation_ConcurrentClaims(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	sub := newSubmission("race", 0, time.Now().UTC())
	require.NoError(t, s.CreateSubmission(ctx, sub))

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.StartTranslation(ctx, sub.ID, newRecord(sub))
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, store.ErrInvalidTransition)
	}
	assert.Equal(t, 1, wins)

	got, err := s.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionTranslating, got.Status)
	require.NotNil(t, got.RecordID)
}

func TestCompleteTranslation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	sub := newSubmission("done", 0, time.Now().UTC())
	require.NoError(t, s.CreateSubmission(ctx, sub))
	rec := newRecord(sub)
	require.NoError(t, s.StartTranslation(ctx, sub.ID, rec))

	// The catalog set a cover and soft-deleted the record while the job ran.
	_, err := pool.Exec(ctx,
		`UPDATE translated_books SET cover_url = 'catalog-cover', is_deleted = TRUE, category = 'science' WHERE id = $1`, rec.ID)
	require.NoError(t, err)

	require.NoError(t, s.UpdateRecordUsage(ctx, rec.ID, models.Usage{InputTokens: 100, OutputTokens: 50, EstimatedCost: 0.01}))

	cover := "pipeline-cover"
	err = s.CompleteTranslation(ctx, sub.ID, rec.ID, models.Artifacts{
		HTMLURL: "h", EPUBURL: "e", PDFURL: "p", CoverURL: &cover, PageCount: 10, FileSizeBytes: 4096,
	}, models.Usage{InputTokens: 200, OutputTokens: 90, EstimatedCost: 0.02})
	require.NoError(t, err)

	got, err := s.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RecordCompleted, got.Status)
	assert.Equal(t, "h", *got.HTMLURL)
	assert.Equal(t, "e", *got.EPUBURL)
	assert.Equal(t, "p", *got.PDFURL)
	assert.Equal(t, "catalog-cover", *got.CoverURL)
	assert.True(t, got.IsDeleted)
	assert.Equal(t, "science", got.Category)
	assert.Equal(t, int64(200), got.InputTokens)
	assert.Equal(t, 10, got.PageCount)
	assert.NotNil(t, got.CompletedAt)

	gotSub, err := s.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionCompleted, gotSub.Status)

	// A completed submission cannot be claimed again.
	assert.ErrorIs(t, s.StartTranslation(ctx, sub.ID, newRecord(sub)), store.ErrInvalidTransition)
}

func TestUpdateRecordUsage_NeverDecreases(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	sub := newSubmission("usage", 0, time.Now().UTC())
	require.NoError(t, s.CreateSubmission(ctx, sub))
	rec := newRecord(sub)
	require.NoError(t, s.StartTranslation(ctx, sub.ID, rec))

	require.NoError(t, s.UpdateRecordUsage(ctx, rec.ID, models.Usage{InputTokens: 500, OutputTokens: 300, EstimatedCost: 0.5}))
	require.NoError(t, s.UpdateRecordUsage(ctx, rec.ID, models.Usage{InputTokens: 10, OutputTokens: 10, EstimatedCost: 0.1}))

	got, err := s.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), got.InputTokens)
	assert.Equal(t, int64(300), got.OutputTokens)
	assert.InDelta(t, 0.5, got.EstimatedCost, 1e-9)
}

func TestFailTranslation_ThenReset(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	sub := newSubmission("flaky", 0, time.Now().UTC())
	require.NoError(t, s.CreateSubmission(ctx, sub))
	rec := newRecord(sub)
	require.NoError(t, s.StartTranslation(ctx, sub.ID, rec))

	err := s.FailTranslation(ctx, sub.ID, rec.ID, "translation failed: chunk 3/5", models.Usage{InputTokens: 40, OutputTokens: 20})
	require.NoError(t, err)

	got, err := s.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RecordFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "chunk 3")
	assert.Equal(t, int64(40), got.InputTokens)

	// Failing twice is rejected.
	err = s.FailTranslation(ctx, sub.ID, rec.ID, "again", models.Usage{})
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	require.NoError(t, s.ResetSubmission(ctx, sub.ID))
	gotSub, err := s.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionPending, gotSub.Status)
	assert.Nil(t, gotSub.RecordID)

	// Pending cannot be reset.
	assert.ErrorIs(t, s.ResetSubmission(ctx, sub.ID), store.ErrInvalidTransition)

	// And it can be claimed again like a fresh submission.
	require.NoError(t, s.StartTranslation(ctx, sub.ID, newRecord(sub)))
}

func TestRequeueStale(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	stale := newSubmission("stale", 0, time.Now().UTC())
	fresh := newSubmission("fresh", 0, time.Now().UTC())
	require.NoError(t, s.CreateSubmission(ctx, stale))
	require.NoError(t, s.CreateSubmission(ctx, fresh))
	staleRec := newRecord(stale)
	require.NoError(t, s.StartTranslation(ctx, stale.ID, staleRec))
	require.NoError(t, s.StartTranslation(ctx, fresh.ID, newRecord(fresh)))

	_, err := pool.Exec(ctx,
		`UPDATE submissions SET updated_at = NOW() - INTERVAL '3 hours' WHERE id = $1`, stale.ID)
	require.NoError(t, err)

	ids, err := s.RequeueStale(ctx, 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{stale.ID}, ids)

	gotStale, err := s.GetSubmission(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionPending, gotStale.Status)

	rec, err := s.GetRecord(ctx, staleRec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RecordFailed, rec.Status)
	assert.Equal(t, store.AbandonedMessage, *rec.ErrorMessage)

	gotFresh, err := s.GetSubmission(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionTranslating, gotFresh.Status)
}

func TestQueuedTranslation_Lifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	sub := newSubmission("queued", 3, time.Now().UTC())
	require.NoError(t, s.CreateSubmission(ctx, sub))
	rec := newRecord(sub)
	rec.Status = models.RecordPending
	require.NoError(t, s.QueueTranslation(ctx, sub.ID, rec))

	got, err := s.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionPending, got.Status)
	require.NotNil(t, got.RecordID)
	assert.Equal(t, rec.ID, *got.RecordID)

	// A queued submission can be neither started directly nor queued twice.
	assert.ErrorIs(t, s.StartTranslation(ctx, sub.ID, newRecord(sub)), store.ErrInvalidTransition)
	assert.ErrorIs(t, s.QueueTranslation(ctx, sub.ID, newRecord(sub)), store.ErrInvalidTransition)

	queued, err := s.ListQueued(ctx)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, sub.ID, queued[0].ID)

	require.NoError(t, s.ClaimQueued(ctx, sub.ID, rec.ID))
	got, err = s.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionTranslating, got.Status)
	gotRec, err := s.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RecordProcessing, gotRec.Status)

	assert.ErrorIs(t, s.ClaimQueued(ctx, sub.ID, rec.ID), store.ErrInvalidTransition)
	assert.ErrorIs(t, s.ClaimQueued(ctx, uuid.New(), rec.ID), store.ErrNotFound)

	queued, err = s.ListQueued(ctx)
	require.NoError(t, err)
	assert.Empty(t, queued)
}

func TestDropQueued(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	sub := newSubmission("withdrawn", 0, time.Now().UTC())
	require.NoError(t, s.CreateSubmission(ctx, sub))
	rec := newRecord(sub)
	rec.Status = models.RecordPending
	require.NoError(t, s.QueueTranslation(ctx, sub.ID, rec))

	// A queued submission must be withdrawn before it can be deleted.
	assert.ErrorIs(t, s.DeleteSubmission(ctx, sub.ID), store.ErrInvalidTransition)

	require.NoError(t, s.DropQueued(ctx, sub.ID, rec.ID, "cancelled: withdrawn"))

	got, err := s.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionPending, got.Status)
	assert.Nil(t, got.RecordID)

	gotRec, err := s.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RecordFailed, gotRec.Status)
	assert.Equal(t, "cancelled: withdrawn", *gotRec.ErrorMessage)

	// A late claim loses to the drop.
	assert.ErrorIs(t, s.ClaimQueued(ctx, sub.ID, rec.ID), store.ErrInvalidTransition)

	// The submission can be started normally again.
	require.NoError(t, s.StartTranslation(ctx, sub.ID, newRecord(sub)))
}

func TestUpdateSubmission(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	sub := newSubmission("Old Title", 0, time.Now().UTC())
	require.NoError(t, s.CreateSubmission(ctx, sub))

	title, prio := "New Title", 8
	got, err := s.UpdateSubmission(ctx, sub.ID, store.SubmissionUpdate{Title: &title, Priority: &prio})
	require.NoError(t, err)
	assert.Equal(t, "New Title", got.Title)
	assert.Equal(t, 8, got.Priority)
	assert.Equal(t, "general", got.Category)

	require.NoError(t, s.StartTranslation(ctx, sub.ID, newRecord(sub)))
	_, err = s.UpdateSubmission(ctx, sub.ID, store.SubmissionUpdate{Title: &title})
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	_, err = s.UpdateSubmission(ctx, uuid.New(), store.SubmissionUpdate{Title: &title})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSubmission_ListOffset(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.CreateSubmission(ctx, newSubmission(string(rune('a'+i)), 0, base.Add(time.Duration(i)*time.Minute))))
	}

	page, err := s.ListSubmissions(ctx, store.SubmissionFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].Title)
	assert.Equal(t, "d", page[1].Title)

	tail, err := s.ListSubmissions(ctx, store.SubmissionFilter{Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Len(t, tail, 1)
}
