package commands

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/booktranslator/internal/config"
	"github.com/kiranshivaraju/booktranslator/internal/objectstore"
	"github.com/kiranshivaraju/booktranslator/internal/queue"
	"github.com/kiranshivaraju/booktranslator/internal/store"
)

// openQueue connects to the database and object store and returns a Manager
// that never runs jobs itself. The returned func releases the connections.
func openQueue(ctx context.Context) (*queue.Manager, *config.Config, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	pool, err := store.Connect(ctx, cfg.Database, "booktranslator-queuectl")
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect database: %w", err)
	}

	objects, err := objectstore.New(ctx, cfg.Storage)
	if err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("create object store: %w", err)
	}

	pg := store.NewPostgresStore(pool)
	runner := queue.NewRunner(queue.RunnerDeps{Store: pg, Objects: objects}, 1, cfg.Job.Timeout)
	manager := queue.NewManager(pg, objects, runner, queue.Config{
		MaxUploadBytes: cfg.Job.MaxUploadBytes,
		StaleAfter:     cfg.Job.StaleAfter,
		TargetLanguage: cfg.Job.TargetLanguage,
	})

	return manager, cfg, pool.Close, nil
}
