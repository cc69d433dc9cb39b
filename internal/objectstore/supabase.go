package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Supabase stores objects through the Supabase Storage REST API.
type Supabase struct {
	baseURL string
	key     string
	bucket  string
	client  *http.Client
}

var _ Store = (*Supabase)(nil)

func NewSupabase(baseURL, key, bucket string) *Supabase {
	return &Supabase{
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     key,
		bucket:  bucket,
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

func (s *Supabase) Put(ctx context.Context, logicalPath string, data []byte, contentType string) (string, error) {
	name, err := CleanPath(logicalPath)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.objectURL(name), bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	s.setHeaders(req)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")

	if err := s.do(req, nil); err != nil {
		return "", fmt.Errorf("uploading %s: %w", name, err)
	}
	return s.PublicURL(name), nil
}

func (s *Supabase) Get(ctx context.Context, logicalPath string) ([]byte, error) {
	name, err := CleanPath(logicalPath)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.objectURL(name), nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	s.setHeaders(req)

	var buf bytes.Buffer
	if err := s.do(req, &buf); err != nil {
		return nil, fmt.Errorf("downloading %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

func (s *Supabase) Delete(ctx context.Context, logicalPath string) error {
	name, err := CleanPath(logicalPath)
	if err != nil {
		return err
	}
	body, _ := json.Marshal(map[string][]string{"prefixes": {name}})
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		fmt.Sprintf("%s/storage/v1/object/%s", s.baseURL, s.bucket), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	s.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	if err := s.do(req, nil); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("deleting %s: %w", name, err)
	}
	return nil
}

func (s *Supabase) PublicURL(logicalPath string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, s.bucket, logicalPath)
}

func (s *Supabase) objectURL(name string) string {
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", s.baseURL, s.bucket, name)
}

func (s *Supabase) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("apikey", s.key)
}

func (s *Supabase) do(req *http.Request, out io.Writer) error {
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 300:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out != nil {
		if _, err := io.Copy(out, resp.Body); err != nil {
			return fmt.Errorf("reading body: %w", err)
		}
	}
	return nil
}
