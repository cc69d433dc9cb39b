package objectstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Retrying wraps a Store and retries failed operations a bounded number of times.
type Retrying struct {
	inner       Store
	maxAttempts int
	backoff     time.Duration
}

var _ Store = (*Retrying)(nil)

// NewRetrying wraps inner. maxAttempts below 1 is treated as 1.
func NewRetrying(inner Store, maxAttempts int, backoff time.Duration) *Retrying {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Retrying{inner: inner, maxAttempts: maxAttempts, backoff: backoff}
}

func (r *Retrying) Put(ctx context.Context, logicalPath string, data []byte, contentType string) (string, error) {
	var url string
	err := r.do(ctx, "put", logicalPath, func(ctx context.Context) error {
		var err error
		url, err = r.inner.Put(ctx, logicalPath, data, contentType)
		return err
	})
	return url, err
}

func (r *Retrying) Get(ctx context.Context, logicalPath string) ([]byte, error) {
	var data []byte
	err := r.do(ctx, "get", logicalPath, func(ctx context.Context) error {
		var err error
		data, err = r.inner.Get(ctx, logicalPath)
		return err
	})
	return data, err
}

func (r *Retrying) Delete(ctx context.Context, logicalPath string) error {
	return r.do(ctx, "delete", logicalPath, func(ctx context.Context) error {
		return r.inner.Delete(ctx, logicalPath)
	})
}

func (r *Retrying) PublicURL(logicalPath string) string {
	return r.inner.PublicURL(logicalPath)
}

func (r *Retrying) do(ctx context.Context, op, logicalPath string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		// Permanent outcomes are not retried.
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidPath) {
			return err
		}
		lastErr = err
		if attempt == r.maxAttempts-1 {
			break
		}

		wait := r.backoff * time.Duration(1<<attempt)
		slog.Warn("storage operation failed, retrying",
			"op", op, "path", logicalPath, "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s %s: %v", ErrStorage, op, logicalPath, context.Cause(ctx))
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("%w: %s %s after %d attempts: %v", ErrStorage, op, logicalPath, r.maxAttempts, lastErr)
}
