package ingest

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AfonsecaO/nudenet-clasificador-sub000/config"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/media"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/workspace"
)

func newTestWorkspace(t *testing.T) *workspace.Workspace {
	t.Helper()
	m := workspace.NewManager(config.Config{WorkspacesPath: t.TempDir(), DBDriver: config.DriverSQLite})
	t.Cleanup(m.Close)
	ws, err := m.Create("test")
	require.NoError(t, err)

	s := ws.Settings()
	s.Source.ImageFields = []string{"foto"}
	require.NoError(t, ws.UpdateSettings(s))
	return ws
}

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	return NewPipeline(newTestWorkspace(t), nil, nil, nil)
}

func picture(seed uint8, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x) + seed, G: uint8(y) * seed, B: seed, A: 255})
		}
	}
	return img
}

func jpegBytes(t *testing.T, seed uint8, quality int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, picture(seed, 64, 48), &jpeg.Options{Quality: quality}))
	return buf.Bytes()
}

func pngBytes(t *testing.T, seed uint8) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, picture(seed, 32, 32)))
	return buf.Bytes()
}

// heicPayload is enough of an ISO-BMFF header for content sniffing to report image/heic.
func heicPayload(tag byte) []byte {
	b := []byte{0, 0, 0, 0x18}
	b = append(b, []byte("ftypheic")...)
	b = append(b, 0, 0, 0, 0)
	b = append(b, []byte("mif1heic")...)
	body := make([]byte, 64)
	body[0] = tag
	return append(b, body...)
}

type fakeConverter struct {
	out   []byte
	err   error
	calls int
}

func (f *fakeConverter) ToJPEG(ctx context.Context, src []byte) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.out, nil
}

var errNoEncoder = errors.New("no encoder")

type recordingWarmer struct {
	paths []string
}

func (w *recordingWarmer) Warm(_ *media.Cache, absPath string) bool {
	w.paths = append(w.paths, absPath)
	return true
}
