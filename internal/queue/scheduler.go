package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/booktranslator/pkg/models"
)

// Scheduler periodically triggers the highest-priority pending submissions
// while job slots are free.
type Scheduler struct {
	manager  *Manager
	interval time.Duration
}

func NewScheduler(m *Manager, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{manager: m, interval: interval}
}

// Run ticks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	slog.Info("scheduler started", "interval", s.interval.String())
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-t.C:
			if _, err := s.Tick(ctx); err != nil {
				slog.Error("scheduler tick failed", "error", err)
			}
		}
	}
}

// Tick triggers up to FreeSlots pending submissions and returns how many started.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	free := s.manager.FreeSlots()
	if free <= 0 {
		return 0, nil
	}

	subs, err := s.manager.List(ctx, Filter{Status: models.SubmissionPending, Limit: free})
	if err != nil {
		return 0, err
	}

	started := 0
	for _, sub := range subs {
		if sub.RecordID != nil {
			// Already queued; the runner starts it when a slot frees.
			continue
		}
		recordID, err := s.manager.Trigger(ctx, sub.ID)
		if errors.Is(err, ErrInvalidState) {
			// Someone else claimed it between listing and triggering.
			continue
		}
		if err != nil {
			return started, err
		}
		started++
		slog.Info("scheduler triggered translation", "submission_id", sub.ID, "record_id", recordID)
	}
	return started, nil
}
