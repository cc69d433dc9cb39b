package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostJSON_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("X-Key"))

		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "hello", in["text"])

		_ = json.NewEncoder(w).Encode(map[string]string{"text": "xin chào"})
	}))
	defer srv.Close()

	var out map[string]string
	err := PostJSON(context.Background(), srv.Client(), srv.URL, map[string]string{"X-Key": "secret"},
		map[string]string{"text": "hello"}, &out)

	require.NoError(t, err)
	assert.Equal(t, "xin chào", out["text"])
}

func TestPostJSON_StatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusInternalServerError, ErrProviderUnavailable},
		{http.StatusBadGateway, ErrProviderUnavailable},
		{http.StatusServiceUnavailable, ErrProviderUnavailable},
		{http.StatusGatewayTimeout, ErrInferenceTimeout},
		{http.StatusBadRequest, ErrRequestRejected},
		{http.StatusUnauthorized, ErrRequestRejected},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			}))
			defer srv.Close()

			var out map[string]any
			err := PostJSON(context.Background(), srv.Client(), srv.URL, nil, map[string]string{}, &out)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPostJSON_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	var out map[string]any
	err := PostJSON(context.Background(), srv.Client(), srv.URL, nil, map[string]string{}, &out)
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestPostJSON_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	var out map[string]any
	err := PostJSON(context.Background(), http.DefaultClient, url, nil, map[string]string{}, &out)
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestPostJSON_ClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := &http.Client{Timeout: 20 * time.Millisecond}
	var out map[string]any
	err := PostJSON(context.Background(), client, srv.URL, nil, map[string]string{}, &out)
	assert.ErrorIs(t, err, ErrInferenceTimeout)
}
