package vllm

import (
	"context"
	"time"

	"github.com/kiranshivaraju/booktranslator/internal/ai/openai"
	"github.com/kiranshivaraju/booktranslator/internal/config"
	"github.com/kiranshivaraju/booktranslator/pkg/models"
)

// Provider implements models.TranslationProvider against a vLLM server's OpenAI-compatible API.
type Provider struct {
	inner *openai.Provider
}

func NewProvider(cfg config.VLLMConfig, timeout time.Duration) *Provider {
	return &Provider{inner: openai.NewCompatibleProvider("vllm", cfg.BaseURL, "", cfg.Model, timeout)}
}

func (p *Provider) Name() string { return "vllm" }

func (p *Provider) Translate(ctx context.Context, req models.TranslateRequest) (models.TranslateResult, error) {
	return p.inner.Translate(ctx, req)
}

var _ models.TranslationProvider = (*Provider)(nil)
