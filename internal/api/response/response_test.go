package response_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/booktranslator/internal/api/response"
)

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestSuccessEnvelopes(t *testing.T) {
	tests := []struct {
		name   string
		write  func(http.ResponseWriter, any)
		status int
	}{
		{"json", response.JSON, http.StatusOK},
		{"created", response.Created, http.StatusCreated},
		{"accepted", response.Accepted, http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w, map[string]string{"translated_book_id": "r-1"})

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

			data := decode(t, w)["data"].(map[string]any)
			assert.Equal(t, "r-1", data["translated_book_id"])
		})
	}
}

func TestWindow(t *testing.T) {
	tests := []struct {
		name      string
		fetched   []string
		offset    int
		limit     int
		wantItems []string
		wantNext  *int
	}{
		{"more follow", []string{"a", "b", "c"}, 0, 2, []string{"a", "b"}, intPtr(2)},
		{"last page", []string{"e"}, 4, 2, []string{"e"}, nil},
		{"exactly full", []string{"c", "d"}, 2, 2, []string{"c", "d"}, nil},
		{"past the end", nil, 10, 2, []string{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, page := response.Window(tt.fetched, tt.offset, tt.limit)
			assert.Equal(t, tt.wantItems, items)
			assert.Equal(t, tt.offset, page.Offset)
			assert.Equal(t, tt.limit, page.Limit)
			assert.Equal(t, len(tt.wantItems), page.Count)
			assert.Equal(t, tt.wantNext, page.NextOffset)
		})
	}
}

func TestList(t *testing.T) {
	w := httptest.NewRecorder()
	items, page := response.Window([]string{"first", "second", "third"}, 20, 2)

	response.List(w, items, page)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Len(t, body["data"].([]any), 2)

	p := body["page"].(map[string]any)
	assert.Equal(t, float64(20), p["offset"])
	assert.Equal(t, float64(2), p["limit"])
	assert.Equal(t, float64(2), p["count"])
	assert.Equal(t, float64(22), p["next_offset"])
}

func TestList_LastPageOmitsNextOffset(t *testing.T) {
	w := httptest.NewRecorder()
	items, page := response.Window([]string(nil), 0, 50)

	response.List(w, items, page)

	body := decode(t, w)
	assert.Equal(t, []any{}, body["data"])
	_, hasNext := body["page"].(map[string]any)["next_offset"]
	assert.False(t, hasNext)
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	response.Error(w, http.StatusBadRequest, response.CodeValidation, "priority must be an integer", map[string]string{
		"priority": "high",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	errObj := decode(t, w)["error"].(map[string]any)
	assert.Equal(t, "VALIDATION_ERROR", errObj["code"])
	assert.Equal(t, "priority must be an integer", errObj["message"])
	assert.Equal(t, map[string]any{"priority": "high"}, errObj["details"])
}

func TestError_NoDetails(t *testing.T) {
	w := httptest.NewRecorder()
	response.Error(w, http.StatusConflict, response.CodeInvalidState, "submission is translating", nil)

	assert.Equal(t, http.StatusConflict, w.Code)
	errObj := decode(t, w)["error"].(map[string]any)
	assert.Equal(t, "INVALID_STATE", errObj["code"])
	_, hasDetails := errObj["details"]
	assert.False(t, hasDetails)
}

func intPtr(n int) *int { return &n }
