package providers

import (
	"fmt"

	"github.com/kiranshivaraju/booktranslator/internal/ai/anthropic"
	"github.com/kiranshivaraju/booktranslator/internal/ai/gemini"
	"github.com/kiranshivaraju/booktranslator/internal/ai/ollama"
	"github.com/kiranshivaraju/booktranslator/internal/ai/openai"
	"github.com/kiranshivaraju/booktranslator/internal/ai/vllm"
	"github.com/kiranshivaraju/booktranslator/internal/config"
	"github.com/kiranshivaraju/booktranslator/pkg/models"
)

// NewProvider constructs the translation provider selected by config.
// Called once at server startup.
func NewProvider(cfg config.AIConfig) (models.TranslationProvider, error) {
	switch cfg.Provider {
	case "ollama":
		return ollama.NewProvider(cfg.Ollama, cfg.InferenceTimeout), nil
	case "vllm":
		return vllm.NewProvider(cfg.VLLM, cfg.InferenceTimeout), nil
	case "openai":
		return openai.NewProvider(cfg.OpenAI, cfg.InferenceTimeout), nil
	case "anthropic":
		return anthropic.NewProvider(cfg.Anthropic, cfg.InferenceTimeout), nil
	case "gemini":
		return gemini.NewProvider(cfg.Gemini, cfg.InferenceTimeout), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of ollama, vllm, openai, anthropic, gemini", cfg.Provider)
	}
}
