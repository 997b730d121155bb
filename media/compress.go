package media

import (
	"bytes"
	"image/png"
	"log"

	"github.com/disintegration/imaging"
)

// Compressor re-encodes JPEG and PNG payloads, keeping the result only when it is strictly smaller.
type Compressor struct {
	Enabled     bool
	JPEGQuality int
	PNGLevel    png.CompressionLevel
	MinBytes    int
}

// Compress returns the re-encoded bytes, or nil when the caller must keep data as is.
func (c *Compressor) Compress(data []byte, mime string) []byte {
	if c == nil || !c.Enabled || len(data) < c.MinBytes {
		return nil
	}

	var opts []imaging.EncodeOption
	var format imaging.Format
	switch mime {
	case MIMEJPEG:
		format = imaging.JPEG
		opts = append(opts, imaging.JPEGQuality(c.JPEGQuality))
	case MIMEPNG:
		format = imaging.PNG
		opts = append(opts, imaging.PNGCompressionLevel(c.PNGLevel))
	default:
		return nil
	}

	// orientation is baked into pixels since re-encoding drops EXIF
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		log.Printf("media.compress: decode failed, keeping original: %v", err)
		return nil
	}

	var buf bytes.Buffer
	buf.Grow(len(data))
	if err := imaging.Encode(&buf, img, format, opts...); err != nil {
		log.Printf("media.compress: encode failed, keeping original: %v", err)
		return nil
	}
	if buf.Len() >= len(data) {
		return nil
	}
	return buf.Bytes()
}
