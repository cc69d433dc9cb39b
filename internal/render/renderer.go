// Package render produces the published artifacts of a translation job.
package render

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"strings"

	epub "github.com/go-shiori/go-epub"
	"github.com/microcosm-cc/bluemonday"

	"github.com/kiranshivaraju/booktranslator/internal/ai"
	"github.com/kiranshivaraju/booktranslator/pkg/models"
)

// ErrRender is returned when an artifact cannot be produced.
var ErrRender = errors.New("render failed")

const stylesheet = `body { font-family: Georgia, serif; line-height: 1.6; margin: 0 auto; max-width: 42em; padding: 1em; }
figure { margin: 1.5em 0; text-align: center; }
img { max-width: 100%; height: auto; }
h1, h2, h3 { line-height: 1.25; }
`

// Input is everything the renderer needs for one job.
type Input struct {
	Title     string
	Language  string
	Blocks    []models.Block
	SourcePDF []byte
	PageCount int
	// Cover overrides the default cover (first image on the first page).
	Cover *models.Image
}

// Asset is a rendered file addressed by its path relative to the job root.
type Asset struct {
	Path        string
	Data        []byte
	ContentType string
}

// Output holds every artifact of a job. Paths are logical and storage-relative.
type Output struct {
	HTML      Asset
	EPUB      Asset
	PDF       Asset
	Images    []Asset
	Cover     *Asset
	PageCount int
	// SizeBytes is the combined size of every artifact.
	SizeBytes int64
}

// Renderer builds HTML and EPUB from the same block model.
type Renderer struct {
	policy *bluemonday.Policy
}

func New() *Renderer {
	return &Renderer{policy: bluemonday.StrictPolicy()}
}

// Render produces all artifacts. The HTML references images as images/<n>.<ext>;
// the EPUB embeds the same images in its own manifest.
func (r *Renderer) Render(in Input) (*Output, error) {
	if len(in.SourcePDF) == 0 {
		return nil, fmt.Errorf("%w: source PDF is empty", ErrRender)
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = "Untitled"
	}

	out := &Output{PageCount: in.PageCount}

	imageIndex := make(map[int]int)
	var firstPageImage *models.Image
	for i, b := range in.Blocks {
		if b.Kind != models.BlockImage || b.Image == nil || len(b.Image.Data) == 0 {
			continue
		}
		n := len(out.Images) + 1
		imageIndex[i] = len(out.Images)
		out.Images = append(out.Images, Asset{
			Path:        fmt.Sprintf("images/%d.%s", n, b.Image.Ext),
			Data:        b.Image.Data,
			ContentType: b.Image.ContentType,
		})
		if firstPageImage == nil && b.PageIndex == 0 {
			firstPageImage = b.Image
		}
	}

	nodes := buildNodes(r.policy, in.Blocks, imageIndex)

	out.HTML = Asset{Path: "result.html", Data: r.html(title, in.Language, nodes, out.Images), ContentType: "text/html; charset=utf-8"}

	epubData, err := r.epub(title, in.Language, nodes, out.Images)
	if err != nil {
		return nil, err
	}
	out.EPUB = Asset{Path: "book.epub", Data: epubData, ContentType: "application/epub+zip"}

	out.PDF = Asset{Path: "original.pdf", Data: in.SourcePDF, ContentType: "application/pdf"}

	cover := in.Cover
	if cover == nil {
		cover = firstPageImage
	}
	if cover != nil {
		out.Cover = &Asset{Path: "cover." + cover.Ext, Data: cover.Data, ContentType: cover.ContentType}
	}

	out.SizeBytes = int64(len(out.HTML.Data) + len(out.EPUB.Data) + len(out.PDF.Data))
	for _, img := range out.Images {
		out.SizeBytes += int64(len(img.Data))
	}
	if out.Cover != nil {
		out.SizeBytes += int64(len(out.Cover.Data))
	}

	return out, nil
}

func (r *Renderer) html(title, lang string, nodes []node, images []Asset) []byte {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n")
	fmt.Fprintf(&b, "<html lang=\"%s\">\n<head>\n<meta charset=\"utf-8\"/>\n", html.EscapeString(langOrDefault(lang)))
	fmt.Fprintf(&b, "<title>%s</title>\n<style>\n%s</style>\n</head>\n<body>\n", html.EscapeString(title), stylesheet)
	fmt.Fprintf(&b, "<h1 class=\"book-title\">%s</h1>\n", html.EscapeString(title))
	writeBody(&b, nodes, func(n int) string { return images[n].Path })
	b.WriteString("</body>\n</html>\n")
	return []byte(b.String())
}

func (r *Renderer) epub(title, lang string, nodes []node, images []Asset) ([]byte, error) {
	e, err := epub.NewEpub(title)
	if err != nil {
		return nil, fmt.Errorf("%w: creating epub: %v", ErrRender, err)
	}
	e.SetLang(langOrDefault(lang))
	e.SetDescription(fmt.Sprintf("Translated into %s", ai.LanguageName(langOrDefault(lang))))

	cssPath, err := e.AddCSS(dataURL("text/css", []byte(stylesheet)), "book.css")
	if err != nil {
		return nil, fmt.Errorf("%w: adding stylesheet: %v", ErrRender, err)
	}

	embedded := make([]string, len(images))
	for i, img := range images {
		name := strings.TrimPrefix(img.Path, "images/")
		p, err := e.AddImage(dataURL(img.ContentType, img.Data), name)
		if err != nil {
			return nil, fmt.Errorf("%w: embedding %s: %v", ErrRender, img.Path, err)
		}
		embedded[i] = p
	}

	sections := splitSections(nodes)
	if len(sections) == 0 {
		sections = [][]node{nil}
	}
	for i, sec := range sections {
		var body strings.Builder
		sectionTitle := title
		if len(sec) > 0 && sec[0].kind == nodeHeading {
			sectionTitle = html.UnescapeString(stripTags(sec[0].html))
		}
		if i == 0 {
			fmt.Fprintf(&body, "<h1 class=\"book-title\">%s</h1>\n", html.EscapeString(title))
		}
		writeBody(&body, sec, func(n int) string { return embedded[n] })
		if _, err := e.AddSection(body.String(), sectionTitle, fmt.Sprintf("section%04d.xhtml", i+1), cssPath); err != nil {
			return nil, fmt.Errorf("%w: adding section %d: %v", ErrRender, i+1, err)
		}
	}

	var buf bytes.Buffer
	if _, err := e.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("%w: writing epub: %v", ErrRender, err)
	}
	return buf.Bytes(), nil
}

func dataURL(contentType string, data []byte) string {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func langOrDefault(lang string) string {
	if lang == "" {
		return "en"
	}
	return lang
}

func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// RelinkImages rewrites the logical image references in rendered HTML to the
// public URLs they were uploaded to. Paths missing from urls are left as is.
func RelinkImages(doc []byte, urls map[string]string) []byte {
	for logical, public := range urls {
		doc = bytes.ReplaceAll(doc,
			[]byte(`src="`+logical+`"`),
			[]byte(`src="`+html.EscapeString(public)+`"`))
	}
	return doc
}
