package models

import "context"

// TranslationProvider is the capability all LLM integrations implement.
// Never call specific providers directly; always inject this interface.
// Implementations must be safe for concurrent use by multiple jobs.
type TranslationProvider interface {
	// Translate sends one chunk of text and returns the translation with token counts.
	Translate(ctx context.Context, req TranslateRequest) (TranslateResult, error)
	// Name returns the provider identifier (e.g., "openai", "gemini").
	Name() string
}

// TranslateRequest is the input to a single chunk translation call.
type TranslateRequest struct {
	Text           string
	TargetLanguage string
	ChunkIndex     int
	// Context carries the tail of the previously translated chunk for terminology continuity.
	Context string
}

// TranslateResult is the output of a single chunk translation call.
type TranslateResult struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
	Model        string
}
