package gemini

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kiranshivaraju/booktranslator/internal/ai"
	"github.com/kiranshivaraju/booktranslator/internal/config"
	"github.com/kiranshivaraju/booktranslator/pkg/models"
)

// Provider implements models.TranslationProvider using the Gemini generateContent API.
type Provider struct {
	cfg    config.GeminiConfig
	client *http.Client
}

func NewProvider(cfg config.GeminiConfig, timeout time.Duration) *Provider {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Provider{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

func (p *Provider) Name() string { return "gemini" }

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	SystemInstruction content   `json:"systemInstruction"`
	Contents          []content `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int64 `json:"promptTokenCount"`
		CandidatesTokenCount int64 `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

func (p *Provider) Translate(ctx context.Context, req models.TranslateRequest) (models.TranslateResult, error) {
	body := generateRequest{
		SystemInstruction: content{Parts: []part{{Text: ai.SystemPrompt(req.TargetLanguage)}}},
		Contents:          []content{{Role: "user", Parts: []part{{Text: ai.UserPrompt(req)}}}},
	}
	u := fmt.Sprintf("%s/v1beta/models/%s:generateContent", p.cfg.BaseURL, url.PathEscape(p.cfg.Model))
	headers := map[string]string{"x-goog-api-key": p.cfg.APIKey}

	var resp generateResponse
	if err := ai.PostJSON(ctx, p.client, u, headers, body, &resp); err != nil {
		return models.TranslateResult{}, err
	}
	if len(resp.Candidates) == 0 {
		return models.TranslateResult{}, fmt.Errorf("%w: no candidates in response", ai.ErrInvalidResponse)
	}

	var text strings.Builder
	for _, pt := range resp.Candidates[0].Content.Parts {
		text.WriteString(pt.Text)
	}

	model := resp.ModelVersion
	if model == "" {
		model = p.cfg.Model
	}
	return models.TranslateResult{
		Text:         text.String(),
		InputTokens:  resp.UsageMetadata.PromptTokenCount,
		OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		Model:        model,
	}, nil
}

var _ models.TranslationProvider = (*Provider)(nil)
