// Package extract turns PDF bytes into an ordered sequence of text and image blocks.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"

	"github.com/ledongthuc/pdf"

	"github.com/kiranshivaraju/booktranslator/internal/textclean"
	"github.com/kiranshivaraju/booktranslator/pkg/models"
)

// ErrExtraction is returned for corrupt or non-PDF input.
var ErrExtraction = errors.New("extraction failed")

const (
	// headerWindow is how far into the file the %PDF- marker may appear.
	headerWindow = 1024
	// maxImagePixels skips pathological image dimensions.
	maxImagePixels = 40_000_000
)

// Extractor reads PDF documents. The zero value is not usable; call New.
type Extractor struct {
	pageText func(p pdf.Page) (string, error)
}

// New returns an Extractor backed by github.com/ledongthuc/pdf.
func New() *Extractor {
	return &Extractor{
		pageText: func(p pdf.Page) (string, error) { return p.GetPlainText(nil) },
	}
}

// Extract returns every page's content in reading order. A page that cannot be
// parsed becomes a single empty text block carrying models.ParseErrorMarker.
func (e *Extractor) Extract(data []byte) (*models.Document, error) {
	if !LooksLikePDF(data) {
		return nil, fmt.Errorf("%w: input is not a PDF document", ErrExtraction)
	}

	r, err := openReader(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	total, err := numPages(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	if total == 0 {
		return nil, fmt.Errorf("%w: document has no pages", ErrExtraction)
	}

	doc := &models.Document{PageCount: total}
	failed := 0
	for i := 0; i < total; i++ {
		blocks, err := e.page(r, i)
		if err != nil {
			failed++
			slog.Warn("page parse failed", "page", i+1, "error", err)
			blocks = []models.Block{{
				Kind:      models.BlockText,
				PageIndex: i,
				Marker:    models.ParseErrorMarker,
			}}
		}
		doc.Blocks = append(doc.Blocks, blocks...)
	}

	if failed == total {
		return nil, fmt.Errorf("%w: none of %d pages could be parsed", ErrExtraction, total)
	}

	return doc, nil
}

// page extracts one page (0-based index). Panics inside the PDF library are
// converted into errors so a single bad page never aborts the document.
func (e *Extractor) page(r *pdf.Reader, index int) (blocks []models.Block, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			blocks = nil
			err = fmt.Errorf("panic reading page: %v", rec)
		}
	}()

	p := r.Page(index + 1)
	if p.V.IsNull() {
		return nil, errors.New("page object missing")
	}

	text, err := e.pageText(p)
	if err != nil {
		return nil, err
	}

	blocks = append(blocks, models.Block{
		Kind:      models.BlockText,
		PageIndex: index,
		Text:      textclean.NormalizeWhitespace(text),
		Position:  0,
	})

	for _, img := range pageImages(p, index) {
		blocks = append(blocks, models.Block{
			Kind:      models.BlockImage,
			PageIndex: index,
			Image:     img,
			Position:  len(blocks),
		})
	}

	return blocks, nil
}

// pageImages returns the decodable image XObjects on a page in resource-name order.
// Images the library cannot decode (for example DCT-compressed JPEGs) are skipped.
func pageImages(p pdf.Page, index int) []*models.Image {
	xobjects := p.Resources().Key("XObject")
	if xobjects.Kind() != pdf.Dict {
		return nil
	}

	var images []*models.Image
	for _, name := range xobjects.Keys() {
		x := xobjects.Key(name)
		if x.Key("Subtype").Name() != "Image" {
			continue
		}
		img, err := decodeImage(x)
		if err != nil {
			slog.Debug("skipping image", "page", index+1, "name", name, "reason", err)
			continue
		}
		images = append(images, img)
	}
	return images
}

func decodeImage(x pdf.Value) (img *models.Image, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			img = nil
			err = fmt.Errorf("decode panic: %v", rec)
		}
	}()

	if f := filterName(x.Key("Filter")); f != "" && f != "FlateDecode" {
		return nil, fmt.Errorf("unsupported filter %s", f)
	}

	w := int(x.Key("Width").Int64())
	h := int(x.Key("Height").Int64())
	if w <= 0 || h <= 0 || w*h > maxImagePixels {
		return nil, fmt.Errorf("unsupported dimensions %dx%d", w, h)
	}
	if bpc := x.Key("BitsPerComponent").Int64(); bpc != 8 {
		return nil, fmt.Errorf("unsupported bits per component %d", bpc)
	}

	rc := x.Reader()
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading image stream: %w", err)
	}

	var decoded image.Image
	switch cs := x.Key("ColorSpace").Name(); cs {
	case "DeviceRGB":
		if len(raw) < w*h*3 {
			return nil, fmt.Errorf("short RGB stream: %d bytes", len(raw))
		}
		rgba := image.NewNRGBA(image.Rect(0, 0, w, h))
		for i := 0; i < w*h; i++ {
			rgba.Pix[i*4] = raw[i*3]
			rgba.Pix[i*4+1] = raw[i*3+1]
			rgba.Pix[i*4+2] = raw[i*3+2]
			rgba.Pix[i*4+3] = 0xff
		}
		decoded = rgba
	case "DeviceGray":
		if len(raw) < w*h {
			return nil, fmt.Errorf("short gray stream: %d bytes", len(raw))
		}
		gray := image.NewGray(image.Rect(0, 0, w, h))
		copy(gray.Pix, raw[:w*h])
		decoded = gray
	default:
		return nil, fmt.Errorf("unsupported color space %q", cs)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, decoded); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}
	return &models.Image{Data: buf.Bytes(), Ext: "png", ContentType: "image/png"}, nil
}

// filterName returns the single filter applied to a stream, or "" when there is none.
// Filter chains are reported by their first element so they are rejected unless plain Flate.
func filterName(v pdf.Value) string {
	switch v.Kind() {
	case pdf.Name:
		return v.Name()
	case pdf.Array:
		if v.Len() == 1 {
			return v.Index(0).Name()
		}
		if v.Len() > 1 {
			return "chain"
		}
	}
	return ""
}

// LooksLikePDF reports whether the %PDF- header appears near the start of data.
func LooksLikePDF(data []byte) bool {
	window := data
	if len(window) > headerWindow {
		window = window[:headerWindow]
	}
	return bytes.Contains(window, []byte("%PDF-"))
}

func openReader(data []byte) (r *pdf.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r = nil
			err = fmt.Errorf("malformed document: %v", rec)
		}
	}()
	return pdf.NewReader(bytes.NewReader(data), int64(len(data)))
}

func numPages(r *pdf.Reader) (n int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			n = 0
			err = fmt.Errorf("reading page tree: %v", rec)
		}
	}()
	return r.NumPage(), nil
}
