package render

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/kiranshivaraju/booktranslator/pkg/models"
)

type nodeKind int

const (
	nodeHeading nodeKind = iota
	nodeParagraph
	nodeImage
)

// node is the format-neutral body model shared by the HTML and EPUB writers.
type node struct {
	kind  nodeKind
	level int    // heading level, 1-6
	html  string // sanitized inline HTML for headings and paragraphs
	image int    // index into Output.Images for image nodes
}

var (
	reHeadingLine = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	reBold        = regexp.MustCompile(`\*\*([^*\n]+)\*\*`)
	reItalic      = regexp.MustCompile(`(^|[^*])\*([^*\n]+)\*`)
	reParaBreak   = regexp.MustCompile(`\n\s*\n`)
	reMDImage     = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
)

// buildNodes converts translated blocks into body nodes. imageIndex maps a
// block position in blocks to its index in the published image list.
func buildNodes(policy *bluemonday.Policy, blocks []models.Block, imageIndex map[int]int) []node {
	var nodes []node
	for i, b := range blocks {
		switch {
		case b.Kind == models.BlockImage:
			if idx, ok := imageIndex[i]; ok {
				nodes = append(nodes, node{kind: nodeImage, image: idx})
			}
		case b.IsParseError():
			continue
		default:
			for _, para := range reParaBreak.Split(b.Text, -1) {
				para = strings.TrimSpace(reMDImage.ReplaceAllString(para, ""))
				if para == "" {
					continue
				}
				if m := reHeadingLine.FindStringSubmatch(para); m != nil && !strings.Contains(para, "\n") {
					nodes = append(nodes, node{kind: nodeHeading, level: len(m[1]), html: inline(policy, m[2])})
					continue
				}
				nodes = append(nodes, node{kind: nodeParagraph, html: inline(policy, para)})
			}
		}
	}
	return nodes
}

// inline sanitizes provider text and applies the small Markdown subset we keep.
func inline(policy *bluemonday.Policy, s string) string {
	safe := policy.Sanitize(s)
	safe = reBold.ReplaceAllString(safe, "<strong>$1</strong>")
	safe = reItalic.ReplaceAllString(safe, "$1<em>$2</em>")
	lines := strings.Split(safe, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	return strings.Join(lines, "<br/>")
}

// writeBody renders nodes as an XHTML-compatible fragment. src returns the
// reference used for image n.
func writeBody(b *strings.Builder, nodes []node, src func(n int) string) {
	for _, nd := range nodes {
		switch nd.kind {
		case nodeHeading:
			fmt.Fprintf(b, "<h%d>%s</h%d>\n", nd.level, nd.html, nd.level)
		case nodeParagraph:
			fmt.Fprintf(b, "<p>%s</p>\n", nd.html)
		case nodeImage:
			fmt.Fprintf(b, "<figure><img src=\"%s\" alt=\"\"/></figure>\n", src(nd.image))
		}
	}
}

// splitSections groups nodes into chapters at level 1 and 2 headings.
func splitSections(nodes []node) [][]node {
	var sections [][]node
	var cur []node
	for _, nd := range nodes {
		if nd.kind == nodeHeading && nd.level <= 2 && len(cur) > 0 {
			sections = append(sections, cur)
			cur = nil
		}
		cur = append(cur, nd)
	}
	if len(cur) > 0 {
		sections = append(sections, cur)
	}
	return sections
}
