package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kiranshivaraju/booktranslator/internal/ai"
	"github.com/kiranshivaraju/booktranslator/internal/config"
	"github.com/kiranshivaraju/booktranslator/pkg/models"
)

const (
	apiVersion = "2023-06-01"
	maxTokens  = 8192
)

// Provider implements models.TranslationProvider using the Anthropic messages API.
type Provider struct {
	cfg    config.AnthropicConfig
	client *http.Client
}

func NewProvider(cfg config.AnthropicConfig, timeout time.Duration) *Provider {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Provider{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

func (p *Provider) Name() string { return "anthropic" }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system"`
	Messages  []message `json:"messages"`
}

type messagesResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

func (p *Provider) Translate(ctx context.Context, req models.TranslateRequest) (models.TranslateResult, error) {
	body := messagesRequest{
		Model:     p.cfg.Model,
		MaxTokens: maxTokens,
		System:    ai.SystemPrompt(req.TargetLanguage),
		Messages:  []message{{Role: "user", Content: ai.UserPrompt(req)}},
	}
	headers := map[string]string{
		"x-api-key":         p.cfg.APIKey,
		"anthropic-version": apiVersion,
	}

	var resp messagesResponse
	if err := ai.PostJSON(ctx, p.client, p.cfg.BaseURL+"/v1/messages", headers, body, &resp); err != nil {
		return models.TranslateResult{}, err
	}

	var text strings.Builder
	for _, c := range resp.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	if text.Len() == 0 {
		return models.TranslateResult{}, fmt.Errorf("%w: no text content in response", ai.ErrInvalidResponse)
	}

	return models.TranslateResult{
		Text:         text.String(),
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		Model:        resp.Model,
	}, nil
}

var _ models.TranslationProvider = (*Provider)(nil)
