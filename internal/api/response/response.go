// Package response writes the JSON envelopes every API endpoint answers with:
// {"data": ...} on success, {"data": [...], "page": {...}} for lists and
// {"error": {"code", "message", "details"}} on failure.
package response

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Error codes shared by handlers and middleware.
const (
	CodeValidation     = "VALIDATION_ERROR"
	CodeNotFound       = "NOT_FOUND"
	CodeInvalidState   = "INVALID_STATE"
	CodeConflict       = "CONFLICT"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeRateLimited    = "RATE_LIMIT_EXCEEDED"
	CodeDegraded       = "DEGRADED"
	CodeNotImplemented = "NOT_IMPLEMENTED"
	CodeInternal       = "INTERNAL_ERROR"
)

type envelope struct {
	Data any `json:"data"`
}

type listEnvelope struct {
	Data any  `json:"data"`
	Page Page `json:"page"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Page describes one window of an offset-paginated list. NextOffset is set
// only when more items follow.
type Page struct {
	Offset     int  `json:"offset"`
	Limit      int  `json:"limit"`
	Count      int  `json:"count"`
	NextOffset *int `json:"next_offset,omitempty"`
}

// Window trims items fetched with limit+1 to limit and describes the page.
// Fetching one extra item tells whether another page exists without a count
// query.
func Window[T any](items []T, offset, limit int) ([]T, Page) {
	p := Page{Offset: offset, Limit: limit}
	if len(items) > limit {
		items = items[:limit]
		next := offset + limit
		p.NextOffset = &next
	}
	if items == nil {
		items = []T{}
	}
	p.Count = len(items)
	return items, p
}

func JSON(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Data: data})
}

func Created(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, envelope{Data: data})
}

func Accepted(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusAccepted, envelope{Data: data})
}

// List writes one page of a collection.
func List(w http.ResponseWriter, data any, page Page) {
	writeJSON(w, http.StatusOK, listEnvelope{Data: data, Page: page})
}

func Error(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are gone by now; the client sees a truncated body.
		slog.Warn("writing JSON response failed", "status", status, "error", err)
	}
}
