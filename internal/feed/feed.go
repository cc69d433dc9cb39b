// Package feed imports crawler output into the translation queue.
//
// A feed file maps a crawler-assigned id to a paper:
//
//	{"2401.01234": {"title": "...", "pdf_url": "https://...", "authors": ["..."]}}
//
// YAML files use the same shape.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kiranshivaraju/booktranslator/internal/queue"
	"github.com/kiranshivaraju/booktranslator/pkg/models"
)

const (
	maxTitleLen     = 200
	maxAuthors      = 5
	defaultCategory = "ai_research"
)

var (
	// ErrFeed is returned for unreadable feed files.
	ErrFeed = errors.New("invalid feed")
	// ErrDownload is returned when a document cannot be fetched from its URL.
	ErrDownload = errors.New("download failed")
)

// Paper is one crawled document.
type Paper struct {
	Title     string   `json:"title"     yaml:"title"`
	PDFURL    string   `json:"pdf_url"   yaml:"pdf_url"`
	Authors   []string `json:"authors"   yaml:"authors"`
	Published string   `json:"published" yaml:"published"`
	Category  string   `json:"category"  yaml:"category"`
}

// Entry is a paper with its crawler id.
type Entry struct {
	ID string
	Paper
}

// SourceRef is the unique reference a crawled paper is admitted under.
func (e Entry) SourceRef() string { return "crawled:" + e.ID }

// Parse decodes a feed. name picks the format by extension: .yaml and .yml
// are YAML, everything else JSON. Entries come back sorted by id.
func Parse(name string, data []byte) ([]Entry, error) {
	papers := map[string]Paper{}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &papers); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFeed, err)
		}
	default:
		if err := json.Unmarshal(data, &papers); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFeed, err)
		}
	}

	entries := make([]Entry, 0, len(papers))
	for id, p := range papers {
		entries = append(entries, Entry{ID: id, Paper: p})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

// Queue is the part of the queue the importer needs.
type Queue interface {
	Admit(ctx context.Context, req queue.AdmitRequest) (*models.Submission, error)
	FindBySourceRef(ctx context.Context, ref string) (*models.Submission, error)
}

// Result counts what an import did.
type Result struct {
	Added   int
	Skipped int
	Failed  int
}

// Importer downloads feed entries and admits them as crawled submissions.
type Importer struct {
	queue    Queue
	client   *http.Client
	maxBytes int64
	// Category applies to entries that do not name one.
	Category string
	Priority int
}

// NewImporter creates an Importer. maxBytes caps each download.
func NewImporter(q Queue, client *http.Client, maxBytes int64) *Importer {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Importer{queue: q, client: client, maxBytes: maxBytes, Category: defaultCategory}
}

// Import admits every entry not already queued. A failing entry is logged and
// counted; the import carries on with the next one. Only ctx cancellation stops it early.
func (im *Importer) Import(ctx context.Context, entries []Entry) (Result, error) {
	var res Result
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		log := slog.With("feed_id", e.ID)

		if strings.TrimSpace(e.PDFURL) == "" {
			log.Info("skipping entry without pdf_url")
			res.Skipped++
			continue
		}

		_, err := im.queue.FindBySourceRef(ctx, e.SourceRef())
		switch {
		case err == nil:
			log.Info("skipping entry already in queue")
			res.Skipped++
			continue
		case !errors.Is(err, queue.ErrNotFound):
			return res, fmt.Errorf("looking up %s: %w", e.SourceRef(), err)
		}

		if err := im.importOne(ctx, e); err != nil {
			if errors.Is(err, queue.ErrConflict) {
				res.Skipped++
				continue
			}
			log.Error("importing entry failed", "error", err)
			res.Failed++
			continue
		}
		res.Added++
	}
	return res, nil
}

func (im *Importer) importOne(ctx context.Context, e Entry) error {
	data, err := im.download(ctx, e.PDFURL)
	if err != nil {
		return err
	}

	title := truncateRunes(strings.TrimSpace(e.Title), maxTitleLen)
	category := e.Category
	if category == "" {
		category = im.Category
	}
	authors := e.Authors
	if len(authors) > maxAuthors {
		authors = authors[:maxAuthors]
	}

	sub, err := im.queue.Admit(ctx, queue.AdmitRequest{
		Data:          data,
		Filename:      e.ID + ".pdf",
		Title:         title,
		OriginalTitle: title,
		Origin:        models.OriginCrawled,
		Category:      category,
		Priority:      im.Priority,
		SourceRef:     e.SourceRef(),
		Metadata: map[string]any{
			"feed_id":   e.ID,
			"pdf_url":   e.PDFURL,
			"authors":   authors,
			"published": e.Published,
		},
	})
	if err != nil {
		return err
	}
	slog.Info("feed entry admitted", "feed_id", e.ID, "submission_id", sub.ID)
	return nil
}

// URLRequest asks for a single document to be fetched and admitted.
type URLRequest struct {
	PDFURL   string
	Title    string
	Category string
	Priority int
	// Origin defaults to a user request.
	Origin string
}

// AdmitURL downloads one document and admits it. The URL is the submission's
// source reference, so a URL already in the queue is rejected with
// queue.ErrConflict.
func (im *Importer) AdmitURL(ctx context.Context, req URLRequest) (*models.Submission, error) {
	raw := strings.TrimSpace(req.PDFURL)
	u, err := url.Parse(raw)
	if raw == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: pdf_url must be an http or https URL", queue.ErrValidation)
	}
	ref := "url:" + u.String()

	_, err = im.queue.FindBySourceRef(ctx, ref)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: %s is already queued", queue.ErrConflict, u)
	case !errors.Is(err, queue.ErrNotFound):
		return nil, fmt.Errorf("looking up %s: %w", ref, err)
	}

	data, err := im.download(ctx, u.String())
	if err != nil {
		return nil, err
	}

	origin := req.Origin
	if origin == "" {
		origin = models.OriginUserRequest
	}
	category := req.Category
	if category == "" {
		category = im.Category
	}

	sub, err := im.queue.Admit(ctx, queue.AdmitRequest{
		Data:      data,
		Filename:  path.Base(u.Path),
		Title:     truncateRunes(strings.TrimSpace(req.Title), maxTitleLen),
		Origin:    origin,
		Category:  category,
		Priority:  req.Priority,
		SourceRef: ref,
		Metadata:  map[string]any{"pdf_url": u.String()},
	})
	if err != nil {
		return nil, err
	}
	slog.Info("document admitted from url", "submission_id", sub.ID, "url", u.String())
	return sub, nil
}

func (im *Importer) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request for %s: %w", ErrDownload, url, err)
	}
	resp, err := im.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDownload, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s: status %d", ErrDownload, url, resp.StatusCode)
	}

	body := io.Reader(resp.Body)
	if im.maxBytes > 0 {
		body = io.LimitReader(resp.Body, im.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrDownload, url, err)
	}
	if im.maxBytes > 0 && int64(len(data)) > im.maxBytes {
		return nil, fmt.Errorf("%w: %s is larger than %d bytes", ErrDownload, url, im.maxBytes)
	}
	return data, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
