package extract

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"strings"
)

// testPage describes one page of a generated PDF.
type testPage struct {
	Lines []string
	// RGB is an optional w*h*3 image placed on the page.
	RGB          []byte
	ImgW, ImgH   int
	JPEGFiltered bool
}

// buildPDF writes a minimal but well-formed PDF with a correct xref table.
func buildPDF(pages []testPage) []byte {
	var objs []string
	add := func(body string) int {
		objs = append(objs, body)
		return len(objs)
	}

	catalog := add("") // placeholder, patched below
	pagesObj := add("")
	font := add("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")

	var kids []string
	for _, p := range pages {
		var content strings.Builder
		content.WriteString("BT\n/F1 12 Tf\n72 720 Td\n14 TL\n")
		for _, l := range p.Lines {
			fmt.Fprintf(&content, "(%s) Tj T*\n", l)
		}
		content.WriteString("ET\n")
		resources := fmt.Sprintf("/Font << /F1 %d 0 R >>", font)

		if p.RGB != nil {
			data := p.RGB
			filter := "/FlateDecode"
			if p.JPEGFiltered {
				filter = "/DCTDecode"
			} else {
				var zb bytes.Buffer
				zw := zlib.NewWriter(&zb)
				_, _ = zw.Write(p.RGB)
				_ = zw.Close()
				data = zb.Bytes()
			}
			img := add(fmt.Sprintf("<< /Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace /DeviceRGB /BitsPerComponent 8 /Filter %s /Length %d >>\nstream\n%s\nendstream",
				p.ImgW, p.ImgH, filter, len(data), data))
			resources += fmt.Sprintf(" /XObject << /Im1 %d 0 R >>", img)
			content.WriteString("q 100 0 0 100 72 500 cm /Im1 Do Q\n")
		}

		c := content.String()
		contentObj := add(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(c), c))
		page := add(fmt.Sprintf("<< /Type /Page /Parent %d 0 R /MediaBox [0 0 612 792] /Resources << %s >> /Contents %d 0 R >>",
			pagesObj, resources, contentObj))
		kids = append(kids, fmt.Sprintf("%d 0 R", page))
	}

	objs[catalog-1] = fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R >>", pagesObj)
	objs[pagesObj-1] = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(kids))

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")
	offsets := make([]int, len(objs))
	for i, body := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objs)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root %d 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, catalog, xref)
	return buf.Bytes()
}

// solidRGB returns w*h pixels of one colour.
func solidRGB(w, h int, r, g, b byte) []byte {
	out := make([]byte, 0, w*h*3)
	for i := 0; i < w*h; i++ {
		out = append(out, r, g, b)
	}
	return out
}
