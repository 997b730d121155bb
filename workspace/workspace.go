package workspace

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"gorm.io/gorm"

	"github.com/AfonsecaO/nudenet-clasificador-sub000/database"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/media"
)

const (
	imagesSubDir = "images"
	cacheSubDir  = "cache"
	logsSubDir   = "logs"
	logFileName  = "workspace.log"
)

// Workspace is the explicit handle every operation receives: one store, one image root,
// one cache, one log stream. Nothing is shared between workspaces.
type Workspace struct {
	Slug      string
	Root      string
	ImagesDir string
	CacheDir  string
	LogsDir   string

	DB    *gorm.DB
	Store *media.LocalStorage
	Cache *media.Cache
	Log   *log.Logger

	logFile *os.File

	mu       sync.RWMutex
	settings Settings
}

func (w *Workspace) SettingsPath() string {
	return filepath.Join(w.Root, SettingsFileName)
}

// Settings returns a copy of the current settings.
func (w *Workspace) Settings() Settings {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.settings
}

// UpdateSettings persists s and makes it current.
func (w *Workspace) UpdateSettings(s Settings) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := SaveSettings(w.SettingsPath(), s); err != nil {
		return err
	}
	w.settings = s
	return nil
}

// AbsPath resolves a path relative to the image root.
func (w *Workspace) AbsPath(rel string) (string, error) {
	return w.Store.GetFullPath(rel)
}

func (w *Workspace) Close() error {
	err := database.CloseGormDB(w.DB)
	if w.logFile != nil {
		w.logFile.Close()
	}
	return err
}

func open(root, slug string, opts database.Options) (*Workspace, error) {
	ws := &Workspace{
		Slug:      slug,
		Root:      root,
		ImagesDir: filepath.Join(root, imagesSubDir),
		CacheDir:  filepath.Join(root, cacheSubDir),
		LogsDir:   filepath.Join(root, logsSubDir),
	}
	for _, dir := range []string{ws.ImagesDir, ws.CacheDir, ws.LogsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create workspace directory %s: %w", dir, err)
		}
	}

	logFile, err := os.OpenFile(filepath.Join(ws.LogsDir, logFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open workspace log: %w", err)
	}
	ws.logFile = logFile
	ws.Log = log.New(io.MultiWriter(os.Stdout, logFile), "["+slug+"] ", log.LstdFlags)

	settings, err := LoadSettings(ws.SettingsPath())
	if err != nil {
		logFile.Close()
		return nil, err
	}
	ws.settings = settings

	store, err := media.NewLocalStorage(ws.ImagesDir)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	store.Log = ws.Log
	ws.Store = store
	ws.Cache = media.NewCache(ws.CacheDir)
	ws.Cache.Log = ws.Log

	opts.Slug = slug
	opts.Dir = root
	db, err := database.InitGormDB(opts)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("failed to open store for workspace %s: %w", slug, err)
	}
	ws.DB = db

	return ws, nil
}
