package media

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const tempSuffix = ".tmp"

// Store is the image root of one workspace.
type Store interface {
	// WriteAtomic stores data at rel (or rel_n when taken) and returns the final relative path
	WriteAtomic(rel string, data []byte) (string, error)
	Get(relativePath string) (io.ReadCloser, os.FileInfo, error)
	Delete(relativePath string) error
	GetFullPath(relativePath string) (string, error)
	Walk(fn func(rel string, info fs.FileInfo) error) error
}

// LocalStorage implements Store on the local filesystem.
type LocalStorage struct {
	basePath string // absolute path of the image root
	Log      *log.Logger
}

func (ls *LocalStorage) logger() *log.Logger {
	if ls.Log != nil {
		return ls.Log
	}
	return log.Default()
}

// NewLocalStorage creates the root directory if needed.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	absBasePath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("invalid base storage path '%s': %w", basePath, err)
	}
	if err := os.MkdirAll(absBasePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base storage directory '%s': %w", absBasePath, err)
	}
	return &LocalStorage{basePath: absBasePath}, nil
}

func (ls *LocalStorage) Root() string { return ls.basePath }

// WriteAtomic writes to a temp file in the target directory, then hard-links it into place.
// The link fails instead of clobbering when the name was taken meanwhile, in which case the
// next free suffix is tried. Readers never see a partial file at the final path.
func (ls *LocalStorage) WriteAtomic(rel string, data []byte) (string, error) {
	fullPath, err := ls.GetFullPath(rel)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory '%s': %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+uuid.NewString()+"-*"+tempSuffix)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file in '%s': %w", dir, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write data to '%s': %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to sync '%s': %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close '%s': %w", tmpPath, err)
	}

	candidate := rel
	for i := 0; i <= MaxCollisionAttempts; i++ {
		if i > 0 {
			candidate = WithSuffix(rel, i)
		}
		target, err := ls.GetFullPath(candidate)
		if err != nil {
			return "", err
		}
		err = os.Link(tmpPath, target)
		if err == nil {
			ls.logger().Printf("media.store: saved %s", target)
			return candidate, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("failed to move '%s' into place: %w", target, err)
		}
	}
	return "", fmt.Errorf("no free name for '%s' after %d attempts", rel, MaxCollisionAttempts)
}

func (ls *LocalStorage) Get(relativePath string) (io.ReadCloser, os.FileInfo, error) {
	fullPath, err := ls.GetFullPath(relativePath)
	if err != nil {
		return nil, nil, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("asset not found at '%s': %w", relativePath, err)
		}
		return nil, nil, fmt.Errorf("failed to open asset '%s': %w", relativePath, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("failed to stat asset '%s': %w", relativePath, err)
	}

	return file, info, nil
}

// Exists reports whether anything is at rel.
func (ls *LocalStorage) Exists(rel string) bool {
	fullPath, err := ls.GetFullPath(rel)
	if err != nil {
		return false
	}
	return exists(fullPath)
}

// Delete removes a file; a missing file is not an error.
func (ls *LocalStorage) Delete(relativePath string) error {
	fullPath, err := ls.GetFullPath(relativePath)
	if err != nil {
		return err
	}

	err = os.Remove(fullPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete asset '%s': %w", relativePath, err)
	}
	if err == nil {
		ls.logger().Printf("media.store: deleted %s", fullPath)
	}
	return nil
}

// GetFullPath resolves a relative path and refuses anything outside the root.
func (ls *LocalStorage) GetFullPath(relativePath string) (string, error) {
	cleanRelativePath := filepath.Clean(filepath.FromSlash(relativePath))
	if filepath.IsAbs(cleanRelativePath) {
		return "", fmt.Errorf("%w: '%s'", ErrPathTraversal, relativePath)
	}

	absFullPath, err := filepath.Abs(filepath.Join(ls.basePath, cleanRelativePath))
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path for '%s': %w", relativePath, err)
	}

	if absFullPath != ls.basePath && !strings.HasPrefix(absFullPath, ls.basePath+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: '%s'", ErrPathTraversal, relativePath)
	}
	return absFullPath, nil
}

// Walk visits every regular file under the root, skipping temp files and dot entries.
func (ls *LocalStorage) Walk(fn func(rel string, info fs.FileInfo) error) error {
	return filepath.WalkDir(ls.basePath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if p != ls.basePath && strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() || strings.HasSuffix(name, tempSuffix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(ls.basePath, p)
		if err != nil {
			return err
		}
		return fn(filepath.ToSlash(rel), info)
	})
}
