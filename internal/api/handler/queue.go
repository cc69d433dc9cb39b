package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kiranshivaraju/booktranslator/internal/api/response"
	"github.com/kiranshivaraju/booktranslator/internal/cache"
	"github.com/kiranshivaraju/booktranslator/internal/feed"
	"github.com/kiranshivaraju/booktranslator/internal/queue"
	"github.com/kiranshivaraju/booktranslator/pkg/models"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
	// multipartOverhead is allowed on top of the file limit for boundaries and form fields.
	multipartOverhead = 1 << 20
	maxJSONBody       = 64 << 10
)

// QueueService defines the queue operations the handlers depend on.
type QueueService interface {
	Admit(ctx context.Context, req queue.AdmitRequest) (*models.Submission, error)
	List(ctx context.Context, f queue.Filter) ([]*models.Submission, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Submission, error)
	GetRecord(ctx context.Context, id uuid.UUID) (*models.TranslationRecord, error)
	Trigger(ctx context.Context, id uuid.UUID) (uuid.UUID, error)
	Cancel(ctx context.Context, id uuid.UUID) error
	Remove(ctx context.Context, id uuid.UUID) error
	Reset(ctx context.Context, id uuid.UUID) error
	Update(ctx context.Context, id uuid.UUID, req queue.UpdateRequest) (*models.Submission, error)
}

var _ QueueService = (*queue.Manager)(nil)

// URLAdmitter fetches a document by URL and admits it.
type URLAdmitter interface {
	AdmitURL(ctx context.Context, req feed.URLRequest) (*models.Submission, error)
}

var _ URLAdmitter = (*feed.Importer)(nil)

// ProgressReader returns the latest cached snapshot of a running job.
type ProgressReader interface {
	GetJobProgress(ctx context.Context, recordID uuid.UUID) (*cache.JobProgress, bool, error)
}

type uploadResponse struct {
	ID     uuid.UUID `json:"id"`
	Title  string    `json:"title"`
	Status string    `json:"status"`
}

type admitURLRequest struct {
	PDFURL   string `json:"pdf_url"`
	Title    string `json:"title"`
	Category string `json:"category"`
	Priority int    `json:"priority"`
	Source   string `json:"source"`
}

type updateRequest struct {
	Title    *string `json:"title"`
	Category *string `json:"category"`
	Priority *int    `json:"priority"`
}

type triggerResponse struct {
	TranslatedBookID uuid.UUID `json:"translated_book_id"`
}

type recordResponse struct {
	*models.TranslationRecord
	Progress *cache.JobProgress `json:"progress,omitempty"`
}

// NewUploadHandler returns an http.HandlerFunc for POST /queue/upload.
func NewUploadHandler(svc QueueService, maxUploadBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes+multipartOverhead)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.Error(w, http.StatusBadRequest, response.CodeValidation, "upload exceeds the size limit", nil)
				return
			}
			response.Error(w, http.StatusBadRequest, response.CodeValidation, "expected a multipart form", nil)
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeValidation, "file is required", nil)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeValidation, "could not read uploaded file", nil)
			return
		}

		priority := 0
		if p := strings.TrimSpace(r.FormValue("priority")); p != "" {
			priority, err = strconv.Atoi(p)
			if err != nil {
				response.Error(w, http.StatusBadRequest, response.CodeValidation, "priority must be an integer", nil)
				return
			}
		}

		var metadata map[string]any
		if note := strings.TrimSpace(r.FormValue("note")); note != "" {
			metadata = map[string]any{"note": note}
		}

		sub, err := svc.Admit(r.Context(), queue.AdmitRequest{
			Data:          data,
			Filename:      header.Filename,
			Title:         r.FormValue("title"),
			OriginalTitle: r.FormValue("original_title"),
			Origin:        r.FormValue("source"),
			Category:      r.FormValue("category"),
			Priority:      priority,
			Metadata:      metadata,
		})
		if err != nil {
			writeQueueError(w, r, err)
			return
		}

		response.Created(w, uploadResponse{ID: sub.ID, Title: sub.Title, Status: sub.Status})
	}
}

// NewAdmitURLHandler returns an http.HandlerFunc for POST /queue/pending. The
// document is downloaded before the response is written.
func NewAdmitURLHandler(admitter URLAdmitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req admitURLRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		sub, err := admitter.AdmitURL(r.Context(), feed.URLRequest{
			PDFURL:   req.PDFURL,
			Title:    req.Title,
			Category: req.Category,
			Priority: req.Priority,
			Origin:   req.Source,
		})
		if errors.Is(err, feed.ErrDownload) {
			response.Error(w, http.StatusBadGateway, response.CodeDownloadFailed, err.Error(), nil)
			return
		}
		if err != nil {
			writeQueueError(w, r, err)
			return
		}
		response.Created(w, uploadResponse{ID: sub.ID, Title: sub.Title, Status: sub.Status})
	}
}

// NewListHandler returns an http.HandlerFunc for GET /queue/pending. It pages
// with limit and offset.
func NewListHandler(svc QueueService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		limit := defaultListLimit
		if l := q.Get("limit"); l != "" {
			n, err := strconv.Atoi(l)
			if err != nil || n < 1 {
				response.Error(w, http.StatusBadRequest, response.CodeValidation, "limit must be a positive integer", nil)
				return
			}
			limit = min(n, maxListLimit)
		}

		offset := 0
		if o := q.Get("offset"); o != "" {
			n, err := strconv.Atoi(o)
			if err != nil || n < 0 {
				response.Error(w, http.StatusBadRequest, response.CodeValidation, "offset must be a non-negative integer", nil)
				return
			}
			offset = n
		}

		subs, err := svc.List(r.Context(), queue.Filter{
			Status: q.Get("status"),
			Origin: q.Get("source"),
			Limit:  limit + 1,
			Offset: offset,
		})
		if err != nil {
			writeQueueError(w, r, err)
			return
		}

		items, page := response.Window(subs, offset, limit)
		response.List(w, items, page)
	}
}

// NewGetHandler returns an http.HandlerFunc for GET /queue/pending/{id}.
func NewGetHandler(svc QueueService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		sub, err := svc.Get(r.Context(), id)
		if err != nil {
			writeQueueError(w, r, err)
			return
		}
		response.JSON(w, sub)
	}
}

// NewUpdateHandler returns an http.HandlerFunc for PATCH /queue/pending/{id}.
// Omitted fields are left unchanged.
func NewUpdateHandler(svc QueueService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req updateRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		sub, err := svc.Update(r.Context(), id, queue.UpdateRequest{
			Title:    req.Title,
			Category: req.Category,
			Priority: req.Priority,
		})
		if err != nil {
			writeQueueError(w, r, err)
			return
		}
		response.JSON(w, sub)
	}
}

// NewTriggerHandler returns an http.HandlerFunc for POST /queue/translate/{id}.
// It answers as soon as the job is claimed; translation continues in the background.
func NewTriggerHandler(svc QueueService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		recordID, err := svc.Trigger(r.Context(), id)
		if err != nil {
			writeQueueError(w, r, err)
			return
		}
		response.Accepted(w, triggerResponse{TranslatedBookID: recordID})
	}
}

// NewDeleteHandler returns an http.HandlerFunc for DELETE /queue/pending/{id}.
func NewDeleteHandler(svc QueueService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		if err := svc.Remove(r.Context(), id); err != nil {
			writeQueueError(w, r, err)
			return
		}
		response.JSON(w, map[string]any{"id": id, "deleted": true})
	}
}

// NewResetHandler returns an http.HandlerFunc for POST /queue/pending/{id}/reset.
func NewResetHandler(svc QueueService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		if err := svc.Reset(r.Context(), id); err != nil {
			writeQueueError(w, r, err)
			return
		}
		sub, err := svc.Get(r.Context(), id)
		if err != nil {
			writeQueueError(w, r, err)
			return
		}
		response.JSON(w, sub)
	}
}

// NewCancelHandler returns an http.HandlerFunc for POST /queue/cancel/{id}.
func NewCancelHandler(svc QueueService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		if err := svc.Cancel(r.Context(), id); err != nil {
			writeQueueError(w, r, err)
			return
		}
		response.Accepted(w, map[string]any{"id": id, "cancel_requested": true})
	}
}

// NewRecordHandler returns an http.HandlerFunc for GET /queue/records/{id}.
// Running jobs include their latest cached progress when one is available.
func NewRecordHandler(svc QueueService, progress ProgressReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		rec, err := svc.GetRecord(r.Context(), id)
		if err != nil {
			writeQueueError(w, r, err)
			return
		}

		out := recordResponse{TranslationRecord: rec}
		running := rec.Status == models.RecordPending || rec.Status == models.RecordProcessing
		if running && progress != nil {
			p, found, err := progress.GetJobProgress(r.Context(), id)
			if err != nil {
				slog.Warn("reading job progress failed", "record_id", id, "error", err)
			} else if found {
				out.Progress = p
			}
		}
		response.JSON(w, out)
	}
}

// decodeJSON reads a small JSON body, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		response.Error(w, http.StatusBadRequest, response.CodeValidation, "invalid JSON body: "+err.Error(), nil)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, response.CodeValidation, "id must be a UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

// writeQueueError maps queue errors onto HTTP statuses.
func writeQueueError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, queue.ErrValidation):
		response.Error(w, http.StatusBadRequest, response.CodeValidation, err.Error(), nil)
	case errors.Is(err, queue.ErrNotFound):
		response.Error(w, http.StatusNotFound, response.CodeNotFound, err.Error(), nil)
	case errors.Is(err, queue.ErrInvalidState):
		response.Error(w, http.StatusConflict, response.CodeInvalidState, err.Error(), nil)
	case errors.Is(err, queue.ErrConflict):
		response.Error(w, http.StatusConflict, response.CodeConflict, err.Error(), nil)
	default:
		slog.Error("queue request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, response.CodeInternal,
			"An unexpected error occurred", nil)
	}
}
