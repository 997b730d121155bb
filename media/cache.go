package media

import (
	"errors"
	"fmt"
	"image"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
)

const (
	// CacheVersion is part of every thumbnail key; bump it when rendering changes
	CacheVersion = 2

	ThumbnailJpegQuality = 82
	AvatarSize           = 256
	AvatarJpegQuality    = 88

	// avatar crops take this much context around the detection box
	avatarPadding = 1.4

	lockPollInterval = 50 * time.Millisecond
)

// ErrCacheBusy means another caller holds the lock and did not finish in time.
var ErrCacheBusy = errors.New("cache entry is being generated elsewhere")

// Cache holds derived images (thumbnails, folder avatars) for one workspace.
// Regeneration of an entry is serialized by a lock file next to it.
type Cache struct {
	Dir       string
	LockWait  time.Duration // how long a second requester waits for the winner
	LockStale time.Duration // older locks are treated as abandoned
	Log       *log.Logger
}

func (c *Cache) logger() *log.Logger {
	if c.Log != nil {
		return c.Log
	}
	return log.Default()
}

func NewCache(dir string) *Cache {
	return &Cache{Dir: dir, LockWait: 3 * time.Second, LockStale: 2 * time.Minute}
}

// CacheKey addresses a thumbnail by source identity and rendering parameters, so a changed
// source file lands on a new key without explicit invalidation.
func CacheKey(absPath string, modTime, size int64, width int) string {
	return Hash([]byte(fmt.Sprintf("%s|%d|%d|%d|v%d", absPath, modTime, size, width, CacheVersion)))
}

func (c *Cache) thumbnailTarget(key string) string {
	return filepath.Join(c.Dir, "thumbs", key[:2], key+".jpg")
}

// AvatarTarget is the cache file for a folder's representative crop.
func (c *Cache) AvatarTarget(folderPath string) string {
	return filepath.Join(c.Dir, "avatars", Hash([]byte(folderPath))+".jpg")
}

// Thumbnail returns a path to serve for absPath at width. When another request is already
// rendering the same entry and does not finish in time, the original file is returned.
func (c *Cache) Thumbnail(absPath string, width int) (string, error) {
	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("failed to stat source %s: %w", absPath, err)
	}
	target := c.thumbnailTarget(CacheKey(absPath, info.ModTime().UnixNano(), info.Size(), width))

	err = c.Produce(target, false, func(w io.Writer) error {
		img, err := imaging.Open(absPath, imaging.AutoOrientation(true))
		if err != nil {
			return fmt.Errorf("failed to open image %s: %w", absPath, err)
		}
		if width > 0 && img.Bounds().Dx() > width {
			img = imaging.Resize(img, width, 0, imaging.Lanczos)
		}
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(ThumbnailJpegQuality))
	})
	if errors.Is(err, ErrCacheBusy) {
		c.logger().Printf("media.cache: %s busy, serving original", target)
		return absPath, nil
	}
	if err != nil {
		return "", err
	}
	return target, nil
}

// RenderAvatar crops a square around box from srcPath into target, replacing any previous file.
func (c *Cache) RenderAvatar(srcPath string, box Box, target string) error {
	return c.Produce(target, true, func(w io.Writer) error {
		img, err := imaging.Open(srcPath, imaging.AutoOrientation(true))
		if err != nil {
			return fmt.Errorf("failed to open image %s: %w", srcPath, err)
		}
		return imaging.Encode(w, SquareCrop(img, box, AvatarSize), imaging.JPEG, imaging.JPEGQuality(AvatarJpegQuality))
	})
}

// Produce renders target under its lock file. Without force an existing target is kept.
func (c *Cache) Produce(target string, force bool, render func(w io.Writer) error) error {
	if !force && fileExists(target) {
		return nil
	}
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory %s: %w", dir, err)
	}

	lockPath := target + ".lock"
	acquired, err := c.acquire(lockPath)
	if err != nil {
		return err
	}
	if !acquired {
		deadline := time.Now().Add(c.LockWait)
		for time.Now().Before(deadline) {
			if !lockHeld(lockPath) && fileExists(target) {
				return nil
			}
			time.Sleep(lockPollInterval)
		}
		return ErrCacheBusy
	}
	defer os.Remove(lockPath)

	if !force && fileExists(target) {
		return nil
	}

	tmp, err := os.CreateTemp(dir, ".render-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := render(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", target, err)
	}
	return nil
}

func (c *Cache) acquire(lockPath string) (bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return true, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return false, fmt.Errorf("failed to create lock %s: %w", lockPath, err)
		}
		info, statErr := os.Stat(lockPath)
		if statErr != nil || time.Since(info.ModTime()) <= c.LockStale {
			return false, nil
		}
		c.logger().Printf("media.cache: breaking stale lock %s", lockPath)
		os.Remove(lockPath)
	}
	return false, nil
}

// SquareCrop cuts a square of about avatarPadding times the longer box side, centered on box
// and kept inside the image, and resizes it to size x size.
func SquareCrop(img image.Image, box Box, size int) image.Image {
	bounds := img.Bounds()
	side := int(float64(maxInt(box.Width(), box.Height())) * avatarPadding)
	side = clampInt(side, 1, minSide(bounds))

	cx := (box.X1 + box.X2) / 2
	cy := (box.Y1 + box.Y2) / 2
	x0 := clampInt(cx-side/2, bounds.Min.X, bounds.Max.X-side)
	y0 := clampInt(cy-side/2, bounds.Min.Y, bounds.Max.Y-side)

	crop := imaging.Crop(img, image.Rect(x0, y0, x0+side, y0+side))
	return imaging.Fill(crop, size, size, imaging.Center, imaging.Lanczos)
}

func minSide(r image.Rectangle) int {
	if r.Dx() < r.Dy() {
		return r.Dx()
	}
	return r.Dy()
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

func lockHeld(lockPath string) bool {
	_, err := os.Stat(lockPath)
	return err == nil
}
