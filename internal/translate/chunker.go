package translate

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kiranshivaraju/booktranslator/pkg/models"
)

var (
	reHeading       = regexp.MustCompile(`^(#{1,6}\s+\S|(?i:chapter|part|section|chương|phần)\s+[\dIVXLC]+\b)`)
	reSentenceBreak = regexp.MustCompile(`([.!?…]["'”’)\]]?)\s+`)
	reParagraph     = regexp.MustCompile(`\n\s*\n`)
)

// Piece is one step of a translation plan: either a chunk of text to send to
// the provider, or a block that passes through untouched (images, parse-error
// placeholders).
type Piece struct {
	Text        string
	PageIndex   int
	Position    int
	Passthrough *models.Block
}

// IsChunk reports whether the piece must be translated.
func (p Piece) IsChunk() bool { return p.Passthrough == nil }

// Plan partitions blocks into translation chunks of at most maxChars runes,
// preserving reading order. Chunks never span a passthrough block. Text is
// broken at headings first, then paragraphs, then sentences; a single sentence
// longer than maxChars is split at whitespace.
func Plan(blocks []models.Block, maxChars int) []Piece {
	var (
		pieces  []Piece
		current strings.Builder
		start   *models.Block
	)

	flush := func() {
		if strings.TrimSpace(current.String()) != "" {
			pieces = append(pieces, Piece{
				Text:      strings.TrimSpace(current.String()),
				PageIndex: start.PageIndex,
				Position:  start.Position,
			})
		}
		current.Reset()
		start = nil
	}

	appendUnit := func(b *models.Block, unit string) {
		if start == nil {
			start = b
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(unit)
	}

	for i := range blocks {
		b := &blocks[i]
		if b.Kind != models.BlockText || b.IsParseError() {
			flush()
			pieces = append(pieces, Piece{PageIndex: b.PageIndex, Position: b.Position, Passthrough: b})
			continue
		}

		for _, para := range reParagraph.Split(b.Text, -1) {
			para = strings.TrimSpace(para)
			if para == "" {
				continue
			}

			size := utf8.RuneCountInString(current.String())
			paraSize := utf8.RuneCountInString(para)

			// Prefer to open a new chunk at a heading once the current one is half full.
			if isHeading(para) && size > maxChars/2 {
				flush()
				size = 0
			}

			if paraSize > maxChars {
				flush()
				for _, part := range splitLong(para, maxChars) {
					appendUnit(b, part)
					flush()
				}
				continue
			}

			if size > 0 && size+2+paraSize > maxChars {
				flush()
			}
			appendUnit(b, para)
		}
	}
	flush()

	return pieces
}

// ChunkCount returns how many pieces of the plan are sent to the provider.
func ChunkCount(pieces []Piece) int {
	n := 0
	for _, p := range pieces {
		if p.IsChunk() {
			n++
		}
	}
	return n
}

func isHeading(para string) bool {
	if strings.Contains(para, "\n") {
		first, _, _ := strings.Cut(para, "\n")
		return reHeading.MatchString(first)
	}
	return reHeading.MatchString(para)
}

// splitLong breaks an oversized paragraph into parts of at most maxChars runes,
// packing whole sentences where possible.
func splitLong(para string, maxChars int) []string {
	var parts []string
	var cur strings.Builder

	for _, s := range sentences(para) {
		sLen := utf8.RuneCountInString(s)
		curLen := utf8.RuneCountInString(cur.String())

		if sLen > maxChars {
			if cur.Len() > 0 {
				parts = append(parts, cur.String())
				cur.Reset()
			}
			parts = append(parts, hardSplit(s, maxChars)...)
			continue
		}
		if curLen > 0 && curLen+1+sLen > maxChars {
			parts = append(parts, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(s)
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}

func sentences(para string) []string {
	marked := reSentenceBreak.ReplaceAllString(para, "$1\x00")
	var out []string
	for _, s := range strings.Split(marked, "\x00") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// hardSplit cuts s into pieces of at most maxChars runes, preferring the last whitespace.
func hardSplit(s string, maxChars int) []string {
	var out []string
	runes := []rune(s)
	for len(runes) > maxChars {
		cut := maxChars
		for i := maxChars; i > maxChars/2; i-- {
			if runes[i] == ' ' || runes[i] == '\n' {
				cut = i
				break
			}
		}
		out = append(out, strings.TrimSpace(string(runes[:cut])))
		runes = runes[cut:]
	}
	if rest := strings.TrimSpace(string(runes)); rest != "" {
		out = append(out, rest)
	}
	return out
}
