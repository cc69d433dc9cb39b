package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/kiranshivaraju/booktranslator/internal/cache"
	"github.com/kiranshivaraju/booktranslator/internal/events"
	"github.com/kiranshivaraju/booktranslator/internal/objectstore"
	"github.com/kiranshivaraju/booktranslator/internal/render"
	"github.com/kiranshivaraju/booktranslator/internal/store"
	"github.com/kiranshivaraju/booktranslator/internal/translate"
	"github.com/kiranshivaraju/booktranslator/pkg/models"
)

// finalizeTimeout bounds the cleanup and bookkeeping done after a job stops.
const finalizeTimeout = 2 * time.Minute

// Extractor turns a source document into ordered blocks.
type Extractor interface {
	Extract(data []byte) (*models.Document, error)
}

// Translator translates blocks in order, reporting running usage.
type Translator interface {
	Translate(ctx context.Context, blocks []models.Block, targetLanguage string, onProgress func(translate.Progress)) (*translate.Result, error)
}

// Renderer produces the published artifacts.
type Renderer interface {
	Render(in render.Input) (*render.Output, error)
}

// Publisher receives job lifecycle events.
type Publisher interface {
	Publish(e events.Event)
}

// ProgressCache keeps the latest snapshot of a running job.
type ProgressCache interface {
	SetJobProgress(ctx context.Context, p cache.JobProgress, ttl time.Duration) error
}

// RunnerDeps are the collaborators a Runner drives. Events and Progress are optional.
type RunnerDeps struct {
	Store      store.Store
	Objects    objectstore.Store
	Extractor  Extractor
	Translator Translator
	Renderer   Renderer
	Events     Publisher
	Progress   ProgressCache
}

// Runner executes translation jobs in the background, at most MaxConcurrent at
// a time. Jobs triggered while every slot is busy wait in memory, highest
// priority first; their submissions stay pending until a slot frees.
type Runner struct {
	deps     RunnerDeps
	timeout  time.Duration
	capacity int64
	slots    *semaphore.Weighted
	running  atomic.Int64

	baseCtx context.Context
	stopAll context.CancelCauseFunc

	mu      sync.Mutex
	active  map[uuid.UUID]*activeJob
	waiting []job
	closed  bool
	wg      sync.WaitGroup
}

type activeJob struct {
	recordID uuid.UUID
	cancel   context.CancelCauseFunc
	// finishing is set once the job is past its last cancellation point.
	finishing bool
}

// job is one submission and its record. A queued job has not claimed its
// submission yet.
type job struct {
	sub    *models.Submission
	rec    *models.TranslationRecord
	queued bool
}

// NewRunner creates a Runner. maxConcurrent below 1 is treated as 1.
func NewRunner(deps RunnerDeps, maxConcurrent int, jobTimeout time.Duration) *Runner {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	return &Runner{
		deps:     deps,
		timeout:  jobTimeout,
		capacity: int64(maxConcurrent),
		slots:    semaphore.NewWeighted(int64(maxConcurrent)),
		baseCtx:  ctx,
		stopAll:  cancel,
		active:   make(map[uuid.UUID]*activeJob),
	}
}

// FreeSlots returns how many more jobs could start processing right now.
func (r *Runner) FreeSlots() int {
	return int(r.capacity - r.running.Load())
}

// Waiting returns how many queued jobs wait for a slot.
func (r *Runner) Waiting() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiting)
}

func (r *Runner) tryAcquire() bool {
	if !r.slots.TryAcquire(1) {
		return false
	}
	r.running.Add(1)
	return true
}

// release frees a slot and hands it to the next waiting job, if any.
func (r *Runner) release() {
	r.running.Add(-1)
	r.slots.Release(1)
	r.dispatch()
}

// reserve registers a job before its claim is committed, so a cancel that
// arrives in between is not lost. A false return means the submission already
// has a worker here.
func (r *Runner) reserve(submissionID, recordID uuid.UUID) (context.Context, context.CancelCauseFunc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.active[submissionID]; busy {
		return nil, nil, false
	}
	ctx, cancel := context.WithCancelCause(r.baseCtx)
	r.active[submissionID] = &activeJob{recordID: recordID, cancel: cancel}
	return ctx, cancel, true
}

// unreserve drops a reservation whose claim failed.
func (r *Runner) unreserve(submissionID uuid.UUID, cancel context.CancelCauseFunc) {
	r.mu.Lock()
	delete(r.active, submissionID)
	r.mu.Unlock()
	cancel(nil)
}

// start runs a reserved job that already holds a slot.
func (r *Runner) start(ctx context.Context, cancel context.CancelCauseFunc, j job) {
	r.wg.Add(1)
	go r.run(ctx, cancel, j)
}

// enqueue parks a queued job until a slot frees. After Shutdown it does
// nothing: the request stays queued in the store for the next process.
func (r *Runner) enqueue(j job) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if _, busy := r.active[j.sub.ID]; busy {
		r.mu.Unlock()
		return
	}
	for _, w := range r.waiting {
		if w.sub.ID == j.sub.ID {
			r.mu.Unlock()
			return
		}
	}
	j.queued = true
	r.waiting = append(r.waiting, j)
	r.mu.Unlock()

	r.notify(context.Background(), events.TypeQueued, j, models.RecordPending, models.Usage{}, 0, 0, "")
	r.dispatch()
}

// dispatch starts waiting jobs, highest priority first, while slots are free.
func (r *Runner) dispatch() {
	for {
		r.mu.Lock()
		if r.closed || len(r.waiting) == 0 || !r.tryAcquire() {
			r.mu.Unlock()
			return
		}
		next := 0
		for i, w := range r.waiting {
			if w.sub.Priority > r.waiting[next].sub.Priority {
				next = i
			}
		}
		j := r.waiting[next]
		r.waiting = append(r.waiting[:next], r.waiting[next+1:]...)

		ctx, cancel := context.WithCancelCause(r.baseCtx)
		r.active[j.sub.ID] = &activeJob{recordID: j.rec.ID, cancel: cancel}
		r.wg.Add(1)
		r.mu.Unlock()

		go r.run(ctx, cancel, j)
	}
}

// dequeue removes a job that is still waiting for a slot.
func (r *Runner) dequeue(submissionID uuid.UUID) (job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, w := range r.waiting {
		if w.sub.ID == submissionID {
			r.waiting = append(r.waiting[:i], r.waiting[i+1:]...)
			return w, true
		}
	}
	return job{}, false
}

// refresh replaces the submission of a waiting job, so edits to its priority
// take effect before it starts.
func (r *Runner) refresh(sub *models.Submission) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.waiting {
		if r.waiting[i].sub.ID == sub.ID {
			r.waiting[i].sub = sub
			return
		}
	}
}

// cancel stops the job owned by submissionID at its next checkpoint. owned is
// false when no worker here runs it. A job already finalizing cannot be
// cancelled and returns ErrInvalidState.
func (r *Runner) cancel(submissionID uuid.UUID) (owned bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.active[submissionID]
	if !ok {
		return false, nil
	}
	if a.finishing {
		return true, fmt.Errorf("%w: translation is already finishing", ErrInvalidState)
	}
	a.cancel(ErrCancelled)
	return true, nil
}

// finish marks the job as past its last cancellation point. It fails if the
// job was stopped first.
func (r *Runner) finish(ctx context.Context, submissionID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctx.Err() != nil {
		return fmt.Errorf("stopped before finalizing: %w", context.Cause(ctx))
	}
	if a, ok := r.active[submissionID]; ok {
		a.finishing = true
	}
	return nil
}

// Shutdown stops starting queued jobs, waits for running jobs until ctx is
// done, then interrupts the rest and waits for them to record their failure.
// Queued jobs are left in the store and resumed by the next process.
func (r *Runner) Shutdown(ctx context.Context) {
	r.mu.Lock()
	r.closed = true
	parked := len(r.waiting)
	r.waiting = nil
	r.mu.Unlock()
	if parked > 0 {
		slog.Info("leaving queued translations for the next start", "count", parked)
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-ctx.Done():
	}

	slog.Warn("interrupting running translation jobs")
	r.stopAll(errShutdown)
	<-done
}

func (r *Runner) run(ctx context.Context, cancel context.CancelCauseFunc, j job) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		delete(r.active, j.sub.ID)
		r.mu.Unlock()
		cancel(nil)
	}()
	defer r.release()

	log := slog.With("submission_id", j.sub.ID, "record_id", j.rec.ID)

	if j.queued && !r.claim(ctx, j) {
		return
	}

	tracker := objectstore.NewTracker(r.deps.Objects, j.rec.ID.String())
	var usage models.Usage

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("panic in translation job", "error", rec, "stack", string(debug.Stack()))
			r.fail(ctx, j, tracker, usage, fmt.Errorf("panic: %v", rec))
		}
	}()

	log.Info("translation started")
	r.notify(ctx, events.TypeStarted, j, models.RecordProcessing, usage, 0, 0, "")
	started := time.Now()

	art, err := r.execute(ctx, j, tracker, &usage)
	if err == nil {
		err = r.finish(ctx, j.sub.ID)
	}
	if err != nil {
		r.fail(ctx, j, tracker, usage, jobError(ctx, err))
		return
	}

	finCtx, finCancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer finCancel()
	if err := r.deps.Store.CompleteTranslation(finCtx, j.sub.ID, j.rec.ID, *art, usage); err != nil {
		r.fail(ctx, j, tracker, usage, fmt.Errorf("finalizing record: %w", err))
		return
	}

	log.Info("translation completed",
		"pages", art.PageCount,
		"size_bytes", art.FileSizeBytes,
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
		"estimated_cost", usage.EstimatedCost,
		"duration", time.Since(started).String(),
	)
	r.notify(finCtx, events.TypeCompleted, j, models.RecordCompleted, usage, 0, 0, "")
}

// claim moves a queued job's submission to translating. A job stopped before
// its claim does not touch the submission: shutdown leaves the request queued
// for the next process, cancellation withdraws it.
func (r *Runner) claim(ctx context.Context, j job) bool {
	log := slog.With("submission_id", j.sub.ID, "record_id", j.rec.ID)
	dbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if ctx.Err() != nil {
		if errors.Is(context.Cause(ctx), ErrCancelled) {
			msg := fmt.Sprintf("%v: withdrawn before start", ErrCancelled)
			if err := r.deps.Store.DropQueued(dbCtx, j.sub.ID, j.rec.ID, msg); err != nil {
				log.Warn("withdrawing queued translation failed", "error", err)
			}
			r.notify(dbCtx, events.TypeFailed, j, models.RecordFailed, models.Usage{}, 0, 0, msg)
		}
		return false
	}

	if err := r.deps.Store.ClaimQueued(dbCtx, j.sub.ID, j.rec.ID); err != nil {
		// Removed or withdrawn while waiting.
		log.Warn("queued translation could not be claimed", "error", err)
		return false
	}
	return true
}

// execute runs extraction, translation, rendering and upload. Cancellation is
// observed between stages, between chunks and between uploads.
func (r *Runner) execute(ctx context.Context, j job, tracker *objectstore.Tracker, usage *models.Usage) (*models.Artifacts, error) {
	ctx, cancel := context.WithTimeoutCause(ctx, r.timeout, translate.ErrTimeout)
	defer cancel()

	art, err := r.stages(ctx, j, tracker, usage)
	if err != nil && errors.Is(context.Cause(ctx), translate.ErrTimeout) && !errors.Is(err, translate.ErrTimeout) {
		err = fmt.Errorf("%w: %v", translate.ErrTimeout, err)
	}
	return art, err
}

func (r *Runner) stages(ctx context.Context, j job, tracker *objectstore.Tracker, usage *models.Usage) (*models.Artifacts, error) {
	source, err := r.deps.Objects.Get(ctx, j.sub.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("loading source document: %w", err)
	}

	doc, err := r.deps.Extractor.Extract(source)
	if err != nil {
		return nil, err
	}
	if err := checkpoint(ctx, "extraction"); err != nil {
		return nil, err
	}

	result, err := r.deps.Translator.Translate(ctx, doc.Blocks, j.rec.TargetLanguage, func(p translate.Progress) {
		*usage = p.Usage
		r.recordUsage(ctx, j, p)
	})
	if result != nil {
		*usage = result.Usage
	}
	if err != nil {
		return nil, err
	}
	if err := checkpoint(ctx, "translation"); err != nil {
		return nil, err
	}

	out, err := r.deps.Renderer.Render(render.Input{
		Title:     j.rec.Title,
		Language:  j.rec.TargetLanguage,
		Blocks:    result.Blocks,
		SourcePDF: source,
		PageCount: doc.PageCount,
	})
	if err != nil {
		return nil, err
	}

	return publish(ctx, tracker, out)
}

// publish uploads every artifact. Images go first so the HTML can point at
// their public URLs.
func publish(ctx context.Context, tracker *objectstore.Tracker, out *render.Output) (*models.Artifacts, error) {
	put := func(a render.Asset) (string, error) {
		if err := checkpoint(ctx, "upload of "+a.Path); err != nil {
			return "", err
		}
		url, err := tracker.Put(ctx, a.Path, a.Data, a.ContentType)
		if err != nil {
			return "", fmt.Errorf("uploading %s: %w", a.Path, err)
		}
		return url, nil
	}

	art := &models.Artifacts{PageCount: out.PageCount, FileSizeBytes: out.SizeBytes}
	var err error

	if art.PDFURL, err = put(out.PDF); err != nil {
		return nil, err
	}

	imageURLs := make(map[string]string, len(out.Images))
	for _, img := range out.Images {
		url, err := put(img)
		if err != nil {
			return nil, err
		}
		imageURLs[img.Path] = url
	}

	htmlAsset := out.HTML
	htmlAsset.Data = render.RelinkImages(out.HTML.Data, imageURLs)
	if art.HTMLURL, err = put(htmlAsset); err != nil {
		return nil, err
	}
	if art.EPUBURL, err = put(out.EPUB); err != nil {
		return nil, err
	}

	if out.Cover != nil {
		url, err := put(*out.Cover)
		if err != nil {
			return nil, err
		}
		art.CoverURL = &url
	}

	return art, nil
}

func (r *Runner) recordUsage(ctx context.Context, j job, p translate.Progress) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := r.deps.Store.UpdateRecordUsage(writeCtx, j.rec.ID, p.Usage); err != nil {
		slog.Warn("recording usage failed", "record_id", j.rec.ID, "chunk", p.Chunk, "error", err)
	}
	r.notify(writeCtx, events.TypeProgress, j, models.RecordProcessing, p.Usage, p.Chunk, p.Total, "")
}

// fail removes everything the job uploaded, then records the failure.
func (r *Runner) fail(ctx context.Context, j job, tracker *objectstore.Tracker, usage models.Usage, err error) {
	log := slog.With("submission_id", j.sub.ID, "record_id", j.rec.ID)

	finCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if left := tracker.Cleanup(finCtx); left > 0 {
		log.Error("some artifacts could not be removed", "count", left)
	}

	msg := err.Error()
	if ferr := r.deps.Store.FailTranslation(finCtx, j.sub.ID, j.rec.ID, msg, usage); ferr != nil {
		log.Error("recording job failure", "error", ferr, "job_error", msg)
	}
	log.Error("translation failed", "error", msg,
		"input_tokens", usage.InputTokens, "output_tokens", usage.OutputTokens)
	r.notify(finCtx, events.TypeFailed, j, models.RecordFailed, usage, 0, 0, msg)
}

func (r *Runner) notify(ctx context.Context, typ string, j job, status string, usage models.Usage, chunk, total int, errMsg string) {
	now := time.Now().UTC()
	if r.deps.Progress != nil {
		err := r.deps.Progress.SetJobProgress(ctx, cache.JobProgress{
			SubmissionID:  j.sub.ID,
			RecordID:      j.rec.ID,
			Status:        status,
			Chunk:         chunk,
			TotalChunks:   total,
			InputTokens:   usage.InputTokens,
			OutputTokens:  usage.OutputTokens,
			EstimatedCost: usage.EstimatedCost,
			Error:         errMsg,
			UpdatedAt:     now,
		}, cache.ProgressTTL)
		if err != nil {
			slog.Debug("caching job progress failed", "record_id", j.rec.ID, "error", err)
		}
	}
	if r.deps.Events != nil {
		r.deps.Events.Publish(events.Event{
			Type:          typ,
			SubmissionID:  j.sub.ID,
			RecordID:      j.rec.ID,
			Status:        status,
			Chunk:         chunk,
			TotalChunks:   total,
			InputTokens:   usage.InputTokens,
			OutputTokens:  usage.OutputTokens,
			EstimatedCost: usage.EstimatedCost,
			Error:         errMsg,
			Timestamp:     now,
		})
	}
}

func checkpoint(ctx context.Context, stage string) error {
	if ctx.Err() != nil {
		return fmt.Errorf("stopped after %s: %w", stage, context.Cause(ctx))
	}
	return nil
}

// jobError makes sure a job stopped by cancellation or timeout says so, even
// when the stage that noticed reported something less specific.
func jobError(ctx context.Context, err error) error {
	cause := context.Cause(ctx)
	switch {
	case cause == nil:
		return err
	case errors.Is(cause, ErrCancelled) && !errors.Is(err, ErrCancelled):
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	case errors.Is(cause, errShutdown) && !errors.Is(err, errShutdown):
		return fmt.Errorf("%w: %v", errShutdown, err)
	}
	return err
}
