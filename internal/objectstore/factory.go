package objectstore

import (
	"context"
	"fmt"
	"time"

	"github.com/kiranshivaraju/booktranslator/internal/config"
)

const retryBackoff = 500 * time.Millisecond

// New builds the configured backend wrapped in bounded retries.
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	var (
		backend Store
		err     error
	)
	switch cfg.Backend {
	case "local":
		backend, err = NewLocal(cfg.Local.Dir, cfg.Local.PublicBaseURL)
	case "gcs":
		backend, err = NewGCS(ctx, cfg.GCS.Bucket, cfg.GCS.CredentialsFile)
	case "azure":
		backend, err = NewAzure(cfg.Azure.ConnectionString, cfg.Azure.Container)
	case "supabase":
		backend = NewSupabase(cfg.Supabase.URL, cfg.Supabase.Key, cfg.Supabase.Bucket)
	default:
		return nil, fmt.Errorf("unknown storage backend %q: must be one of local, gcs, azure, supabase", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return NewRetrying(backend, cfg.MaxAttempts, retryBackoff), nil
}
