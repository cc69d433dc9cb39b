// Package translate drives extracted blocks through a translation provider in order.
package translate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/booktranslator/internal/textclean"
	"github.com/kiranshivaraju/booktranslator/pkg/models"
)

const (
	defaultMaxChunkChars = 4000
	defaultBudget        = time.Hour
	// contextTail is how much of the previous translation is sent along for continuity.
	contextTail = 400
)

// ChunkTranslator translates one chunk, handling its own retries.
type ChunkTranslator interface {
	Translate(ctx context.Context, req models.TranslateRequest) (models.TranslateResult, error)
}

// Progress is reported after every successfully translated chunk.
type Progress struct {
	Chunk int // 1-based
	Total int
	Usage models.Usage
}

// Result is the outcome of a translation run. On failure it still carries the
// usage accumulated by the chunks that succeeded.
type Result struct {
	Blocks []models.Block
	Usage  models.Usage
	Chunks int
}

// Options configures an Orchestrator.
type Options struct {
	MaxChunkChars int
	Budget        time.Duration
	Pricing       Pricing
}

// Orchestrator sends chunks one at a time, strictly in document order.
type Orchestrator struct {
	translator    ChunkTranslator
	maxChunkChars int
	budget        time.Duration
	pricing       Pricing
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(translator ChunkTranslator, opts Options) *Orchestrator {
	if opts.MaxChunkChars <= 0 {
		opts.MaxChunkChars = defaultMaxChunkChars
	}
	if opts.Budget <= 0 {
		opts.Budget = defaultBudget
	}
	return &Orchestrator{
		translator:    translator,
		maxChunkChars: opts.MaxChunkChars,
		budget:        opts.Budget,
		pricing:       opts.Pricing,
	}
}

// Translate returns translated blocks in the original reading order. Images and
// parse-error placeholders pass through unchanged.
//
// ctx is checked between chunks only; onProgress (may be nil) runs after each
// chunk with running totals that never decrease. If the budget runs out the
// error wraps ErrTimeout; if ctx is cancelled the error wraps its cause. A
// document without text fails with ErrNoText, since a completed translation
// must have consumed tokens.
func (o *Orchestrator) Translate(ctx context.Context, blocks []models.Block, targetLanguage string, onProgress func(Progress)) (*Result, error) {
	ctx, cancel := context.WithTimeoutCause(ctx, o.budget, ErrTimeout)
	defer cancel()

	cleaned := make([]models.Block, len(blocks))
	removed := 0
	for i, b := range blocks {
		if b.Kind == models.BlockText {
			var n int
			b.Text, n = textclean.StripPromotional(b.Text)
			removed += n
		}
		cleaned[i] = b
	}
	if removed > 0 {
		slog.Info("dropped promotional lines", "count", removed)
	}

	pieces := Plan(cleaned, o.maxChunkChars)
	total := ChunkCount(pieces)
	res := &Result{Chunks: total, Blocks: make([]models.Block, 0, len(pieces))}
	if total == 0 {
		return res, ErrNoText
	}

	var (
		inTokens, outTokens int64
		prevTail            string
		chunkIndex          int
	)

	for _, piece := range pieces {
		if !piece.IsChunk() {
			res.Blocks = append(res.Blocks, *piece.Passthrough)
			continue
		}

		if ctx.Err() != nil {
			return res, stopError(ctx, chunkIndex, total)
		}

		out, err := o.translator.Translate(ctx, models.TranslateRequest{
			Text:           piece.Text,
			TargetLanguage: targetLanguage,
			ChunkIndex:     chunkIndex,
			Context:        prevTail,
		})
		if err != nil {
			if ctx.Err() != nil {
				return res, stopError(ctx, chunkIndex, total)
			}
			return res, &ChunkError{Index: chunkIndex, Total: total, Err: err}
		}

		inTokens += out.InputTokens
		outTokens += out.OutputTokens
		res.Usage = o.pricing.Usage(inTokens, outTokens)

		text := textclean.CleanTableOfContents(out.Text)
		res.Blocks = append(res.Blocks, models.Block{
			Kind:      models.BlockText,
			PageIndex: piece.PageIndex,
			Position:  piece.Position,
			Text:      text,
		})
		prevTail = tail(text, contextTail)
		chunkIndex++

		slog.Debug("chunk translated", "chunk", chunkIndex, "total", total,
			"input_tokens", out.InputTokens, "output_tokens", out.OutputTokens)
		if onProgress != nil {
			onProgress(Progress{Chunk: chunkIndex, Total: total, Usage: res.Usage})
		}
	}

	if ctx.Err() != nil {
		return res, stopError(ctx, chunkIndex, total)
	}
	if inTokens+outTokens == 0 {
		return res, fmt.Errorf("%w: provider reported no token usage for %d chunks", ErrTranslation, total)
	}
	return res, nil
}

func stopError(ctx context.Context, chunkIndex, total int) error {
	if chunkIndex >= total {
		return fmt.Errorf("stopped after chunk %d/%d: %w", total, total, context.Cause(ctx))
	}
	return fmt.Errorf("stopped before chunk %d/%d: %w", chunkIndex+1, total, context.Cause(ctx))
}

// tail returns the last n runes of s.
func tail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
