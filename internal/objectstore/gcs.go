package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCS stores objects in a Google Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket string
}

var _ Store = (*GCS)(nil)

// NewGCS creates a client using credentialsFile, or application default
// credentials when it is empty.
func NewGCS(ctx context.Context, bucket, credentialsFile string) (*GCS, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gcs client: %w", err)
	}
	return &GCS{client: client, bucket: bucket}, nil
}

func (g *GCS) Put(ctx context.Context, logicalPath string, data []byte, contentType string) (string, error) {
	name, err := CleanPath(logicalPath)
	if err != nil {
		return "", err
	}

	w := g.client.Bucket(g.bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("writing gs://%s/%s: %w", g.bucket, name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalizing gs://%s/%s: %w", g.bucket, name, err)
	}
	return g.PublicURL(name), nil
}

func (g *GCS) Get(ctx context.Context, logicalPath string) ([]byte, error) {
	name, err := CleanPath(logicalPath)
	if err != nil {
		return nil, err
	}
	r, err := g.client.Bucket(g.bucket).Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("opening gs://%s/%s: %w", g.bucket, name, err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (g *GCS) Delete(ctx context.Context, logicalPath string) error {
	name, err := CleanPath(logicalPath)
	if err != nil {
		return err
	}
	err = g.client.Bucket(g.bucket).Object(name).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("deleting gs://%s/%s: %w", g.bucket, name, err)
	}
	return nil
}

func (g *GCS) PublicURL(logicalPath string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", g.bucket, logicalPath)
}

// Close releases the underlying client.
func (g *GCS) Close() error {
	return g.client.Close()
}
