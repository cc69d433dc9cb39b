package models

// BlockKind distinguishes text blocks from image blocks.
type BlockKind string

const (
	BlockText  BlockKind = "text"
	BlockImage BlockKind = "image"
)

// ParseErrorMarker tags the empty text block emitted for a page that failed to parse.
const ParseErrorMarker = "page-parse-error"

// Image is an embedded picture lifted out of the source document.
type Image struct {
	Data        []byte
	Ext         string // "png" or "jpg"
	ContentType string
}

// Block is one unit of document content in reading order.
type Block struct {
	Kind      BlockKind
	PageIndex int
	Text      string
	Image     *Image
	// Position is the order of the block within its page.
	Position int
	// Marker is set to ParseErrorMarker on placeholder blocks.
	Marker string
}

// IsParseError reports whether the block stands in for an unparseable page.
func (b Block) IsParseError() bool { return b.Marker == ParseErrorMarker }

// Document is the ordered output of extraction.
type Document struct {
	Blocks    []Block
	PageCount int
}
