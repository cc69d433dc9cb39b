// Package objectstore stores job artifacts behind a backend-agnostic interface.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	// ErrStorage is returned once an operation has failed on every attempt.
	ErrStorage = errors.New("storage error")
	// ErrNotFound is returned by Get for a missing object.
	ErrNotFound = errors.New("object not found")
	// ErrInvalidPath is returned for empty, absolute or escaping logical paths.
	ErrInvalidPath = errors.New("invalid object path")
)

// Store is implemented by every storage backend. Logical paths use forward
// slashes and are relative to the store root (e.g. "<record id>/result.html").
// Implementations are safe for concurrent use.
type Store interface {
	Put(ctx context.Context, logicalPath string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, logicalPath string) ([]byte, error)
	Delete(ctx context.Context, logicalPath string) error
	PublicURL(logicalPath string) string
}

// CleanPath validates a logical path and returns its canonical form.
func CleanPath(p string) (string, error) {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return cleaned, nil
}

// Join builds a logical path from segments.
func Join(elem ...string) string {
	return path.Join(elem...)
}
