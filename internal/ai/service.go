package ai

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kiranshivaraju/booktranslator/pkg/models"
)

// TranslationService puts a per-call timeout and a retry policy in front of a provider.
type TranslationService struct {
	provider models.TranslationProvider
	timeout  time.Duration
	retry    RetryPolicy
}

// NewTranslationService creates a new TranslationService.
func NewTranslationService(provider models.TranslationProvider, timeout time.Duration, retry RetryPolicy) *TranslationService {
	return &TranslationService{
		provider: provider,
		timeout:  timeout,
		retry:    retry,
	}
}

// Provider returns the name of the wrapped provider.
func (s *TranslationService) Provider() string { return s.provider.Name() }

// Translate sends one chunk, retrying transient failures.
//
// A provider call that has started is never interrupted by cancellation of ctx;
// it is bounded only by the per-call timeout. ctx is observed between attempts.
func (s *TranslationService) Translate(ctx context.Context, req models.TranslateRequest) (models.TranslateResult, error) {
	var result models.TranslateResult
	op := fmt.Sprintf("translate chunk %d", req.ChunkIndex+1)

	err := s.retry.Do(ctx, op, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()

		res, err := s.provider.Translate(callCtx, req)
		if err != nil {
			return err
		}
		res.Text = strings.TrimSpace(res.Text)
		if res.Text == "" {
			return fmt.Errorf("%w: empty translation", ErrInvalidResponse)
		}
		if !utf8.ValidString(res.Text) {
			res.Text = strings.ToValidUTF8(res.Text, "�")
		}
		result = res
		return nil
	})
	if err != nil {
		return models.TranslateResult{}, err
	}
	return result, nil
}
