// Package textclean normalizes extracted and translated book text.
package textclean

import (
	"crypto/sha256"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Normalization regexes compiled once at package init.
var (
	rePromo = regexp.MustCompile(`(?i)(install bookey app|unlock full text|scan to download|more free book|listen it|bookey\.app)`)

	reDotRun      = regexp.MustCompile(`\.{4,}`)
	reDotPageNum  = regexp.MustCompile(`\.{2,}(\d+)\s*`)
	reWideSpace   = regexp.MustCompile(`[ \t]{2,}`)
	reWhitespace  = regexp.MustCompile(`[ \t\f\v\r]+`)
	reBlankLines  = regexp.MustCompile(`\n{3,}`)
	reFilenameSep = regexp.MustCompile(`[_\-]+`)
)

// IsPromotional reports whether a line is publisher advertising rather than book content.
func IsPromotional(line string) bool {
	return rePromo.MatchString(line)
}

// StripPromotional removes promotional lines and returns the remaining text and how many lines were dropped.
func StripPromotional(text string) (string, int) {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	removed := 0
	for _, line := range lines {
		if IsPromotional(line) {
			removed++
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n"), removed
}

// CleanTableOfContents rewrites dot leaders left over from PDF tables of contents.
// "Basics ........ 12" becomes "Basics ... 12", "Basics..12" becomes "Basics (12)",
// and lines that are more than half dots are dropped.
func CleanTableOfContents(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line != "" && float64(strings.Count(line, "."))/float64(len(line)) > 0.5 {
			continue
		}
		cleaned := reDotRun.ReplaceAllString(line, " ... ")
		cleaned = reDotPageNum.ReplaceAllString(cleaned, " ($1) ")
		cleaned = reWideSpace.ReplaceAllString(cleaned, " ")
		out = append(out, strings.TrimRight(cleaned, " "))
	}
	return strings.Join(out, "\n")
}

// NormalizeWhitespace collapses horizontal whitespace runs and excess blank lines.
func NormalizeWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = reWhitespace.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s = strings.Join(lines, "\n")
	s = reBlankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// Fingerprint computes a stable SHA-256 hex digest of data.
func Fingerprint(data []byte) string {
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%x", hash)
}

// TitleFromFilename turns "the_mental-game.pdf" into "the mental game".
func TitleFromFilename(name string) string {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = reFilenameSep.ReplaceAllString(base, " ")
	return strings.Join(strings.Fields(base), " ")
}

// Truncate truncates s to maxBytes without splitting UTF-8 runes.
func Truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
