package media

import (
	"encoding/base64"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePayloadShapes(t *testing.T) {
	jpg := encodeJPEG(t, gradient(32, 32), 90)
	pngBytes := encodePNG(t, gradient(32, 32), png.DefaultCompression)
	b64 := base64.StdEncoding.EncodeToString(jpg)

	tests := []struct {
		name     string
		payload  []byte
		wantMIME string
		wantExt  string
		wantData []byte
	}{
		{"data uri jpeg", []byte("data:image/jpeg;base64," + b64), MIMEJPEG, "jpg", jpg},
		{"data uri with declared png but jpeg content", []byte("data:image/png;base64," + b64), MIMEJPEG, "jpg", jpg},
		{"raw base64", []byte(b64), MIMEJPEG, "jpg", jpg},
		{"raw base64 wrapped at 76 columns", []byte(wrap(b64, 76)), MIMEJPEG, "jpg", jpg},
		{"binary jpeg", jpg, MIMEJPEG, "jpg", jpg},
		{"binary png", pngBytes, MIMEPNG, "png", pngBytes},
		{"padded with whitespace", []byte("\n  " + b64 + "  \n"), MIMEJPEG, "jpg", jpg},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec, err := Decode(tt.payload, "")
			require.NoError(t, err)
			assert.Equal(t, tt.wantMIME, dec.MIME)
			assert.Equal(t, tt.wantExt, dec.Ext)
			assert.Equal(t, tt.wantData, dec.Bytes)
			assert.False(t, dec.NeedsConversion)
		})
	}
}

func TestDecodeRejects(t *testing.T) {
	gif := append([]byte("GIF89a"), make([]byte, 64)...)
	mp4 := append([]byte{0, 0, 0, 0x20}, []byte("ftypisom\x00\x00\x02\x00isomiso2avc1mp41")...)
	mp4 = append(mp4, make([]byte, 64)...)

	t.Run("empty", func(t *testing.T) {
		_, err := Decode(nil, "")
		assert.ErrorIs(t, err, ErrEmptyPayload)
		_, err = Decode([]byte("   \n"), "")
		assert.ErrorIs(t, err, ErrEmptyPayload)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := Decode([]byte{0xFF, 0xD8, 0xFF}, "a.jpg")
		assert.ErrorIs(t, err, ErrEmptyPayload)
	})

	t.Run("text", func(t *testing.T) {
		_, err := Decode([]byte(strings.Repeat("not an image at all ", 5)), "")
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})

	t.Run("gif is not an accepted format", func(t *testing.T) {
		_, err := Decode(gif, "x.gif")
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})

	t.Run("video wins over a misleading name", func(t *testing.T) {
		_, err := Decode(mp4, "trip.jpg")
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})

	t.Run("base64 lookalike that decodes to garbage", func(t *testing.T) {
		// passes the heuristic, but the decoded bytes are not an image
		_, err := Decode([]byte(strings.Repeat("AAAA", 32)), "")
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})

	t.Run("truncated jpeg header", func(t *testing.T) {
		jpg := encodeJPEG(t, gradient(16, 16), 90)
		_, err := Decode(jpg[:20], "")
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})

	t.Run("data uri without base64", func(t *testing.T) {
		_, err := Decode([]byte("data:image/svg+xml,<svg xmlns='http://www.w3.org/2000/svg'/>"), "")
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})
}

func TestDecodeHEIC(t *testing.T) {
	t.Run("sniffed from content", func(t *testing.T) {
		dec, err := Decode(heicHeader(), "photo.bin")
		require.NoError(t, err)
		assert.Equal(t, MIMEHEIC, dec.MIME)
		assert.True(t, dec.NeedsConversion)
	})

	t.Run("extension fallback when sniffing is inconclusive", func(t *testing.T) {
		blob := make([]byte, 64)
		for i := range blob {
			blob[i] = byte(0x80 + i)
		}
		dec, err := Decode(blob, "IMG_0001.HEIC")
		require.NoError(t, err)
		assert.True(t, dec.NeedsConversion)
	})
}

func TestDecodeFile(t *testing.T) {
	dir := t.TempDir()
	jpg := encodeJPEG(t, gradient(20, 20), 80)
	p := filepath.Join(dir, "x.jpeg")
	require.NoError(t, os.WriteFile(p, jpg, 0o644))

	dec, raw, err := DecodeFile(p)
	require.NoError(t, err)
	assert.Equal(t, jpg, raw)
	assert.Equal(t, "jpg", dec.Ext)

	_, _, err = DecodeFile(filepath.Join(dir, "missing.jpg"))
	assert.Error(t, err)
}

func TestLooksLikeBase64(t *testing.T) {
	assert.True(t, LooksLikeBase64([]byte(strings.Repeat("QUJD", 16))))
	assert.False(t, LooksLikeBase64([]byte(strings.Repeat("QUJD", 15))), "shorter than 64")
	assert.False(t, LooksLikeBase64([]byte(strings.Repeat("QUJD", 16)+"Q")), "length not multiple of 4")
	assert.False(t, LooksLikeBase64([]byte(strings.Repeat("QU D", 16))), "space inside")
	assert.True(t, LooksLikeBase64([]byte(wrap(strings.Repeat("QUJD", 40), 76))), "line breaks are ignored")
}

func TestExtensionForMIME(t *testing.T) {
	assert.Equal(t, "jpg", ExtensionForMIME(MIMEJPEG))
	assert.Equal(t, "png", ExtensionForMIME(MIMEPNG))
	assert.Equal(t, "jpg", ExtensionForMIME("image/x-unknown"))
}

func wrap(s string, width int) string {
	var b strings.Builder
	for i := 0; i < len(s); i += width {
		end := i + width
		if end > len(s) {
			end = len(s)
		}
		b.WriteString(s[i:end])
		b.WriteString("\r\n")
	}
	return b.String()
}
