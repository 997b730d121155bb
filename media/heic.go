package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// HEICBackend turns HEIC/HEIF bytes into JPEG bytes.
type HEICBackend interface {
	Name() string
	Available() bool
	Convert(ctx context.Context, src []byte) ([]byte, error)
}

// CommandBackend runs an external encoder binary against temp files.
type CommandBackend struct {
	Label  string
	Binary string
	Args   func(in, out string) []string
}

func (b CommandBackend) Name() string { return b.Label }

func (b CommandBackend) Available() bool {
	_, err := exec.LookPath(b.Binary)
	return err == nil
}

func (b CommandBackend) Convert(ctx context.Context, src []byte) ([]byte, error) {
	dir, err := os.MkdirTemp("", "heic-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in.heic")
	out := filepath.Join(dir, "out.jpg")
	if err := os.WriteFile(in, src, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write temp input: %w", err)
	}

	cmd := exec.CommandContext(ctx, b.Binary, b.Args(in, out)...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("%s failed: %w (%s)", b.Binary, err, strings.TrimSpace(string(output)))
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("%s produced no output: %w", b.Binary, err)
	}
	return data, nil
}

// DefaultHEICBackends lists the host encoders tried in order: libheif, ImageMagick 7, ImageMagick 6, ffmpeg.
func DefaultHEICBackends(quality int) []HEICBackend {
	q := strconv.Itoa(quality)
	return []HEICBackend{
		CommandBackend{Label: "libheif", Binary: "heif-convert", Args: func(in, out string) []string {
			return []string{"-q", q, in, out}
		}},
		CommandBackend{Label: "imagemagick", Binary: "magick", Args: func(in, out string) []string {
			return []string{in, "-quality", q, out}
		}},
		CommandBackend{Label: "imagemagick6", Binary: "convert", Args: func(in, out string) []string {
			return []string{in, "-quality", q, out}
		}},
		CommandBackend{Label: "ffmpeg", Binary: "ffmpeg", Args: func(in, out string) []string {
			return []string{"-y", "-loglevel", "error", "-i", in, "-frames:v", "1", "-q:v", "2", out}
		}},
	}
}

// HEICConverter tries each available backend until one yields a real JPEG.
type HEICConverter struct {
	Backends []HEICBackend
}

func NewHEICConverter(quality int) *HEICConverter {
	return &HEICConverter{Backends: DefaultHEICBackends(quality)}
}

func (c *HEICConverter) ToJPEG(ctx context.Context, src []byte) ([]byte, error) {
	var failures []string
	tried := 0
	for _, b := range c.Backends {
		if !b.Available() {
			continue
		}
		tried++
		out, err := b.Convert(ctx, src)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", b.Name(), err))
			continue
		}
		if !mimetype.Detect(out).Is(MIMEJPEG) {
			failures = append(failures, fmt.Sprintf("%s: output is not a JPEG", b.Name()))
			continue
		}
		return out, nil
	}

	if tried == 0 {
		return nil, fmt.Errorf("%w: no HEIC encoder available on this host", ErrConversion)
	}
	return nil, fmt.Errorf("%w: %s", ErrConversion, strings.Join(failures, "; "))
}
