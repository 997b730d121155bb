// media/types.go
package media

import "errors"

const (
	MIMEJPEG = "image/jpeg"
	MIMEPNG  = "image/png"
	MIMEHEIC = "image/heic"
	MIMEHEIF = "image/heif"
)

var (
	ErrEmptyPayload      = errors.New("empty payload")
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrConversion        = errors.New("image conversion failed")
	ErrPathTraversal     = errors.New("path escapes the image root")
)

// Decoded is a payload after decoding: canonical bytes plus the sniffed MIME type.
type Decoded struct {
	Bytes []byte
	MIME  string
	Ext   string // without the dot, "jpg" for jpeg

	// NeedsConversion is set for HEIC/HEIF, which must become JPEG before storage
	NeedsConversion bool
}

// Box is a pixel rectangle with X2 > X1 and Y2 > Y1.
type Box struct {
	X1, Y1, X2, Y2 int
}

func (b Box) Width() int  { return b.X2 - b.X1 }
func (b Box) Height() int { return b.Y2 - b.Y1 }
func (b Box) Area() int   { return b.Width() * b.Height() }
