package extract

import (
	"bytes"
	"errors"
	"image/png"
	"testing"

	"github.com/ledongthuc/pdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/booktranslator/pkg/models"
)

func textBlocks(doc *models.Document) []models.Block {
	var out []models.Block
	for _, b := range doc.Blocks {
		if b.Kind == models.BlockText {
			out = append(out, b)
		}
	}
	return out
}

func TestExtract_TextInPageOrder(t *testing.T) {
	data := buildPDF([]testPage{
		{Lines: []string{"Chapter One", "The first hand."}},
		{Lines: []string{"Chapter Two"}},
		{Lines: []string{"Chapter Three"}},
	})

	doc, err := New().Extract(data)
	require.NoError(t, err)

	assert.Equal(t, 3, doc.PageCount)
	texts := textBlocks(doc)
	require.Len(t, texts, 3)
	assert.Contains(t, texts[0].Text, "Chapter One")
	assert.Contains(t, texts[1].Text, "Chapter Two")
	assert.Contains(t, texts[2].Text, "Chapter Three")
	for i, b := range texts {
		assert.Equal(t, i, b.PageIndex)
		assert.False(t, b.IsParseError())
	}
}

func TestExtract_FlateImageBecomesPNG(t *testing.T) {
	data := buildPDF([]testPage{
		{Lines: []string{"Cover"}, RGB: solidRGB(2, 2, 200, 10, 10), ImgW: 2, ImgH: 2},
		{Lines: []string{"Body"}},
	})

	doc, err := New().Extract(data)
	require.NoError(t, err)

	var images []models.Block
	for _, b := range doc.Blocks {
		if b.Kind == models.BlockImage {
			images = append(images, b)
		}
	}
	require.Len(t, images, 1)
	assert.Equal(t, 0, images[0].PageIndex)
	assert.Equal(t, 1, images[0].Position)
	assert.Equal(t, "png", images[0].Image.Ext)

	decoded, err := png.Decode(bytes.NewReader(images[0].Image.Data))
	require.NoError(t, err)
	assert.Equal(t, 2, decoded.Bounds().Dx())
	r, _, _, _ := decoded.At(0, 0).RGBA()
	assert.Equal(t, uint32(200), r>>8)
}

func TestExtract_UnsupportedImageSkippedPageKept(t *testing.T) {
	data := buildPDF([]testPage{
		{Lines: []string{"Photo page"}, RGB: []byte{0xff, 0xd8, 0xff, 0xe0}, ImgW: 1, ImgH: 1, JPEGFiltered: true},
	})

	doc, err := New().Extract(data)
	require.NoError(t, err)

	require.Len(t, doc.Blocks, 1)
	assert.Equal(t, models.BlockText, doc.Blocks[0].Kind)
	assert.Contains(t, doc.Blocks[0].Text, "Photo page")
}

func TestExtract_FailedPageBecomesMarkedPlaceholder(t *testing.T) {
	data := buildPDF([]testPage{
		{Lines: []string{"one"}},
		{Lines: []string{"two"}},
		{Lines: []string{"three"}},
	})

	e := New()
	calls := 0
	e.pageText = func(p pdf.Page) (string, error) {
		calls++
		if calls == 2 {
			return "", errors.New("bad content stream")
		}
		return p.GetPlainText(nil)
	}

	doc, err := e.Extract(data)
	require.NoError(t, err)

	assert.Equal(t, 3, doc.PageCount)
	require.Len(t, doc.Blocks, 3)
	assert.False(t, doc.Blocks[0].IsParseError())
	assert.True(t, doc.Blocks[1].IsParseError())
	assert.Equal(t, 1, doc.Blocks[1].PageIndex)
	assert.Empty(t, doc.Blocks[1].Text)
	assert.False(t, doc.Blocks[2].IsParseError())
}

func TestExtract_PanickingPageIsContained(t *testing.T) {
	data := buildPDF([]testPage{{Lines: []string{"one"}}, {Lines: []string{"two"}}})

	e := New()
	calls := 0
	e.pageText = func(p pdf.Page) (string, error) {
		calls++
		if calls == 1 {
			panic("unexpected token")
		}
		return p.GetPlainText(nil)
	}

	doc, err := e.Extract(data)
	require.NoError(t, err)
	require.Len(t, doc.Blocks, 2)
	assert.True(t, doc.Blocks[0].IsParseError())
	assert.Contains(t, doc.Blocks[1].Text, "two")
}

func TestExtract_AllPagesFailing(t *testing.T) {
	data := buildPDF([]testPage{{Lines: []string{"one"}}})

	e := New()
	e.pageText = func(pdf.Page) (string, error) { return "", errors.New("broken") }

	_, err := e.Extract(data)
	assert.ErrorIs(t, err, ErrExtraction)
}

func TestExtract_NotAPDF(t *testing.T) {
	_, err := New().Extract([]byte("PK\x03\x04 this is a zip file"))
	assert.ErrorIs(t, err, ErrExtraction)
}

func TestExtract_Empty(t *testing.T) {
	_, err := New().Extract(nil)
	assert.ErrorIs(t, err, ErrExtraction)
}

func TestExtract_CorruptPDF(t *testing.T) {
	data := []byte("%PDF-1.4\n1 0 obj << /Type /Catalog >> garbage without xref\n")
	_, err := New().Extract(data)
	assert.ErrorIs(t, err, ErrExtraction)
}
