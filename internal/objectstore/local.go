package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Local stores objects on the filesystem under a root directory and serves
// them from PublicBaseURL (the server mounts the directory at /files/).
type Local struct {
	root    string
	baseURL string
}

var _ Store = (*Local)(nil)

func NewLocal(root, publicBaseURL string) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving storage dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage dir: %w", err)
	}
	return &Local{root: abs, baseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

// Root returns the directory objects are written to.
func (l *Local) Root() string { return l.root }

func (l *Local) Put(_ context.Context, logicalPath string, data []byte, _ string) (string, error) {
	full, err := l.resolve(logicalPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("creating directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing %s: %w", logicalPath, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing %s: %w", logicalPath, err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return "", fmt.Errorf("renaming into place: %w", err)
	}

	return l.PublicURL(logicalPath), nil
}

func (l *Local) Get(_ context.Context, logicalPath string) ([]byte, error) {
	full, err := l.resolve(logicalPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, logicalPath)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", logicalPath, err)
	}
	return data, nil
}

func (l *Local) Delete(_ context.Context, logicalPath string) error {
	full, err := l.resolve(logicalPath)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting %s: %w", logicalPath, err)
	}
	// Prune now-empty parent directories up to the root.
	for dir := filepath.Dir(full); dir != l.root && strings.HasPrefix(dir, l.root); dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			break
		}
	}
	return nil
}

func (l *Local) PublicURL(logicalPath string) string {
	segments := strings.Split(logicalPath, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return l.baseURL + "/" + strings.Join(segments, "/")
}

func (l *Local) resolve(logicalPath string) (string, error) {
	cleaned, err := CleanPath(logicalPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.root, filepath.FromSlash(cleaned)), nil
}
