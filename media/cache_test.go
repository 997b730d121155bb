package media

import (
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSource(t *testing.T, dir string, w, h int) string {
	t.Helper()
	p := filepath.Join(dir, "src.jpg")
	require.NoError(t, os.WriteFile(p, encodeJPEG(t, gradient(w, h), 90), 0o644))
	return p
}

func TestCacheKeyChangesWithInputs(t *testing.T) {
	base := CacheKey("/a.jpg", 1, 10, 320)
	assert.Len(t, base, 32)
	assert.NotEqual(t, base, CacheKey("/a.jpg", 2, 10, 320))
	assert.NotEqual(t, base, CacheKey("/a.jpg", 1, 11, 320))
	assert.NotEqual(t, base, CacheKey("/a.jpg", 1, 10, 160))
	assert.NotEqual(t, base, CacheKey("/b.jpg", 1, 10, 320))
}

func TestThumbnail(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, 400, 200)
	c := NewCache(filepath.Join(dir, "cache"))

	p, err := c.Thumbnail(src, 100)
	require.NoError(t, err)
	assert.NotEqual(t, src, p)

	img, err := imaging.Open(p)
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 50, img.Bounds().Dy())

	again, err := c.Thumbnail(src, 100)
	require.NoError(t, err)
	assert.Equal(t, p, again)

	other, err := c.Thumbnail(src, 50)
	require.NoError(t, err)
	assert.NotEqual(t, p, other)
}

func TestThumbnailFallsBackWhileLocked(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, 64, 64)
	c := NewCache(filepath.Join(dir, "cache"))
	c.LockWait = 120 * time.Millisecond

	info, err := os.Stat(src)
	require.NoError(t, err)
	target := c.thumbnailTarget(CacheKey(src, info.ModTime().UnixNano(), info.Size(), 32))
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))
	require.NoError(t, os.WriteFile(target+".lock", []byte("1"), 0o644))

	p, err := c.Thumbnail(src, 32)
	require.NoError(t, err)
	assert.Equal(t, src, p, "a held lock means serving the original")
	_, err = os.Stat(target)
	assert.True(t, os.IsNotExist(err), "the loser must not write the entry")
}

func TestStaleLockIsBroken(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, 64, 64)
	c := NewCache(filepath.Join(dir, "cache"))
	c.LockStale = time.Second

	info, err := os.Stat(src)
	require.NoError(t, err)
	target := c.thumbnailTarget(CacheKey(src, info.ModTime().UnixNano(), info.Size(), 32))
	lock := target + ".lock"
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))
	require.NoError(t, os.WriteFile(lock, []byte("1"), 0o644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(lock, old, old))

	p, err := c.Thumbnail(src, 32)
	require.NoError(t, err)
	assert.Equal(t, target, p)
	_, err = os.Stat(lock)
	assert.True(t, os.IsNotExist(err))
}

func TestRenderAvatarReplaces(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, 300, 200)
	c := NewCache(filepath.Join(dir, "cache"))
	target := c.AvatarTarget("u1")

	require.NoError(t, c.RenderAvatar(src, Box{X1: 10, Y1: 10, X2: 60, Y2: 40}, target))
	first, err := os.ReadFile(target)
	require.NoError(t, err)

	require.NoError(t, c.RenderAvatar(src, Box{X1: 200, Y1: 100, X2: 290, Y2: 190}, target))
	second, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	img, err := imaging.Open(target)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(AvatarSize, AvatarSize), img.Bounds().Size())
}

func TestSquareCropStaysInBounds(t *testing.T) {
	img := gradient(100, 60)
	cases := []Box{
		{X1: 0, Y1: 0, X2: 10, Y2: 10},
		{X1: 90, Y1: 50, X2: 100, Y2: 60},
		{X1: 0, Y1: 0, X2: 100, Y2: 60},
		{X1: 40, Y1: 20, X2: 41, Y2: 21},
	}
	for _, b := range cases {
		out := SquareCrop(img, b, 32)
		assert.Equal(t, image.Pt(32, 32), out.Bounds().Size(), "box %+v", b)
	}
}
