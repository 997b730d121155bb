package media

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const (
	// MinPayloadBytes is the shortest payload worth sniffing
	MinPayloadBytes = 16

	// raw base64 is only considered from this length on
	minBase64Len = 64
)

// Decode normalizes a payload into image bytes. It accepts data URIs, raw base64 text and binary.
// The MIME type always comes from the decoded content; nameHint's extension is used only
// when sniffing is inconclusive.
func Decode(raw []byte, nameHint string) (*Decoded, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) < MinPayloadBytes {
		return nil, ErrEmptyPayload
	}

	if hasDataURIPrefix(trimmed) {
		data, err := decodeDataURI(trimmed)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}
		if len(data) < MinPayloadBytes {
			return nil, ErrEmptyPayload
		}
		return sniff(data, nameHint)
	}

	if LooksLikeBase64(trimmed) {
		if data, err := decodeBase64(trimmed); err == nil && len(data) >= MinPayloadBytes {
			if dec, err := sniff(data, nameHint); err == nil {
				return dec, nil
			}
		}
		// the heuristic alone is never trusted; fall back to treating it as binary
	}

	return sniff(raw, nameHint)
}

// DecodeFile decodes a file on disk and also returns its untouched bytes.
func DecodeFile(path string) (*Decoded, []byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	dec, err := Decode(raw, filepath.Base(path))
	if err != nil {
		return nil, raw, err
	}
	return dec, raw, nil
}

// LooksLikeBase64 is the raw-base64 heuristic: long enough, length%4 == 0 once line breaks
// are removed, and only base64 alphabet characters.
func LooksLikeBase64(b []byte) bool {
	n := 0
	for _, c := range b {
		switch {
		case c == '\r' || c == '\n':
			continue
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '+', c == '/', c == '=':
			n++
		default:
			return false
		}
	}
	return n >= minBase64Len && n%4 == 0
}

// ExtensionForMIME maps a MIME type to the stored file extension.
func ExtensionForMIME(mime string) string {
	switch mime {
	case MIMEPNG:
		return "png"
	case MIMEHEIC, MIMEHEIF:
		return "heic"
	default:
		return "jpg"
	}
}

func hasDataURIPrefix(b []byte) bool {
	return len(b) > 5 && strings.EqualFold(string(b[:5]), "data:")
}

func decodeDataURI(b []byte) ([]byte, error) {
	comma := bytes.IndexByte(b, ',')
	if comma < 0 {
		return nil, fmt.Errorf("data URI has no payload separator")
	}
	header := strings.ToLower(string(b[5:comma]))
	if !strings.Contains(header, ";base64") {
		return nil, fmt.Errorf("data URI is not base64 encoded")
	}
	return decodeBase64(b[comma+1:])
}

func decodeBase64(b []byte) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, string(b))

	data, err := base64.StdEncoding.DecodeString(clean)
	if err == nil {
		return data, nil
	}
	if data, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(clean, "=")); rawErr == nil {
		return data, nil
	}
	return nil, fmt.Errorf("invalid base64: %w", err)
}

func sniff(data []byte, nameHint string) (*Decoded, error) {
	mime := baseMIME(mimetype.Detect(data).String())
	if !strings.HasPrefix(mime, "image/") {
		if fallback := mimeFromExtension(nameHint); fallback != "" && !isKnownNonImage(mime) {
			mime = fallback
		}
	}

	switch {
	case mime == MIMEJPEG || mime == MIMEPNG:
		if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("%w: %s header is not decodable: %v", ErrUnsupportedFormat, mime, err)
		}
		return &Decoded{Bytes: data, MIME: mime, Ext: ExtensionForMIME(mime)}, nil
	case isHEIC(mime):
		return &Decoded{Bytes: data, MIME: MIMEHEIC, Ext: ExtensionForMIME(MIMEHEIC), NeedsConversion: true}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mime)
	}
}

func baseMIME(m string) string {
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = m[:i]
	}
	return strings.ToLower(strings.TrimSpace(m))
}

func isHEIC(mime string) bool {
	switch mime {
	case MIMEHEIC, MIMEHEIF, "image/heic-sequence", "image/heif-sequence":
		return true
	}
	return false
}

// isKnownNonImage is true when sniffing positively identified something other than an image,
// in which case a misleading filename must not win.
func isKnownNonImage(mime string) bool {
	return mime != "application/octet-stream" && mime != "text/plain" && mime != ""
}

func mimeFromExtension(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".jpe":
		return MIMEJPEG
	case ".png":
		return MIMEPNG
	case ".heic", ".heif":
		return MIMEHEIC
	}
	return ""
}
