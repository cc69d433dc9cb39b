package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/kiranshivaraju/booktranslator/internal/ai"
	"github.com/kiranshivaraju/booktranslator/pkg/models"
)

// MockProvider satisfies models.TranslationProvider for testing.
// Every request is recorded in call order.
type MockProvider struct {
	Name_         string
	TranslateFunc func(ctx context.Context, req models.TranslateRequest) (models.TranslateResult, error)

	mu    sync.Mutex
	calls []models.TranslateRequest
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Translate(ctx context.Context, req models.TranslateRequest) (models.TranslateResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	if m.TranslateFunc != nil {
		return m.TranslateFunc(ctx, req)
	}
	return models.TranslateResult{}, nil
}

// Calls returns a copy of every request received so far.
func (m *MockProvider) Calls() []models.TranslateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.TranslateRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

// Echo is the deterministic translation the default mock produces.
func Echo(req models.TranslateRequest) models.TranslateResult {
	return models.TranslateResult{
		Text:         fmt.Sprintf("[%s] %s", req.TargetLanguage, req.Text),
		InputTokens:  int64(len(req.Text)/4 + 1),
		OutputTokens: int64(len(req.Text)/4 + 1),
		Model:        "mock-v1",
	}
}

// NewMockProvider returns a MockProvider that prefixes each chunk with its target language.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		TranslateFunc: func(_ context.Context, req models.TranslateRequest) (models.TranslateResult, error) {
			return Echo(req), nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		TranslateFunc: func(_ context.Context, _ models.TranslateRequest) (models.TranslateResult, error) {
			return models.TranslateResult{}, err
		},
	}
}

// NewFailOnChunkProvider echoes every chunk except chunkIndex, which always fails with err.
func NewFailOnChunkProvider(chunkIndex int, err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-fail-on-chunk",
		TranslateFunc: func(_ context.Context, req models.TranslateRequest) (models.TranslateResult, error) {
			if req.ChunkIndex == chunkIndex {
				return models.TranslateResult{}, err
			}
			return Echo(req), nil
		},
	}
}

// NewFlakyProvider fails the first n calls with err and echoes afterwards.
func NewFlakyProvider(n int, err error) *MockProvider {
	var mu sync.Mutex
	remaining := n
	return &MockProvider{
		Name_: "mock-flaky",
		TranslateFunc: func(_ context.Context, req models.TranslateRequest) (models.TranslateResult, error) {
			mu.Lock()
			defer mu.Unlock()
			if remaining > 0 {
				remaining--
				return models.TranslateResult{}, err
			}
			return Echo(req), nil
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		TranslateFunc: func(ctx context.Context, _ models.TranslateRequest) (models.TranslateResult, error) {
			<-ctx.Done()
			return models.TranslateResult{}, ai.ErrInferenceTimeout
		},
	}
}

// Compile-time check that MockProvider implements TranslationProvider.
var _ models.TranslationProvider = (*MockProvider)(nil)
