package ai

import (
	"fmt"
	"strings"

	"github.com/kiranshivaraju/booktranslator/pkg/models"
)

var languageNames = map[string]string{
	"vi": "Vietnamese",
	"en": "English",
	"fr": "French",
	"de": "German",
	"es": "Spanish",
	"ja": "Japanese",
	"ko": "Korean",
	"zh": "Chinese",
}

// LanguageName returns the English name of a language code, or the code itself when unknown.
func LanguageName(code string) string {
	if name, ok := languageNames[strings.ToLower(code)]; ok {
		return name
	}
	return code
}

// SystemPrompt builds the instruction shared by every provider.
func SystemPrompt(targetLanguage string) string {
	lang := LanguageName(targetLanguage)
	return fmt.Sprintf(`You are a professional book translator. Translate the Markdown content you are given into %[1]s.

Rules:
1. Output only the %[1]s translation. Never repeat the source text.
2. Keep all Markdown syntax unchanged, including headings, emphasis and image links.
3. Do not translate code blocks or URLs.
4. Keep established domain terminology in its original form when %[1]s readers would expect it.
5. Preserve paragraph breaks.`, lang)
}

// UserPrompt wraps a chunk of source text, optionally preceded by the tail of the previous chunk.
func UserPrompt(req models.TranslateRequest) string {
	var b strings.Builder
	if req.Context != "" {
		b.WriteString("Previous passage, for continuity only. Do not translate it:\n\n")
		b.WriteString(req.Context)
		b.WriteString("\n\n---\n\n")
	}
	b.WriteString("Content to translate:\n\n")
	b.WriteString(req.Text)
	return b.String()
}
