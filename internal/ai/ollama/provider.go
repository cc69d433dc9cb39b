package ollama

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/kiranshivaraju/booktranslator/internal/ai"
	"github.com/kiranshivaraju/booktranslator/internal/config"
	"github.com/kiranshivaraju/booktranslator/pkg/models"
)

// Provider implements models.TranslationProvider using Ollama's chat endpoint.
type Provider struct {
	cfg    config.OllamaConfig
	client *http.Client
}

func NewProvider(cfg config.OllamaConfig, timeout time.Duration) *Provider {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Provider{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

func (p *Provider) Name() string { return "ollama" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Model           string      `json:"model"`
	Message         chatMessage `json:"message"`
	PromptEvalCount int64       `json:"prompt_eval_count"`
	EvalCount       int64       `json:"eval_count"`
}

func (p *Provider) Translate(ctx context.Context, req models.TranslateRequest) (models.TranslateResult, error) {
	body := chatRequest{
		Model: p.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: ai.SystemPrompt(req.TargetLanguage)},
			{Role: "user", Content: ai.UserPrompt(req)},
		},
	}

	var resp chatResponse
	if err := ai.PostJSON(ctx, p.client, p.cfg.BaseURL+"/api/chat", nil, body, &resp); err != nil {
		return models.TranslateResult{}, err
	}

	return models.TranslateResult{
		Text:         resp.Message.Content,
		InputTokens:  resp.PromptEvalCount,
		OutputTokens: resp.EvalCount,
		Model:        resp.Model,
	}, nil
}

var _ models.TranslationProvider = (*Provider)(nil)
