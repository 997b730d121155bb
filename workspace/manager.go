package workspace

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/AfonsecaO/nudenet-clasificador-sub000/config"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/database"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/utils"
)

var (
	ErrNotFound = errors.New("workspace not found")
	ErrExists   = errors.New("workspace already exists")
)

// Manager creates, opens and removes workspaces under one root. Open handles are cached so
// every request for a slug shares one store pool.
type Manager struct {
	cfg config.Config

	mu   sync.Mutex
	open map[string]*Workspace
}

func NewManager(cfg config.Config) *Manager {
	return &Manager{cfg: cfg, open: make(map[string]*Workspace)}
}

func (m *Manager) dbOptions() database.Options {
	return database.Options{Driver: m.cfg.DBDriver, DSN: m.cfg.DatabaseDSN}
}

func (m *Manager) dir(slug string) string {
	return filepath.Join(m.cfg.WorkspacesPath, slug)
}

// Create makes a new workspace with default settings.
func (m *Manager) Create(name string) (*Workspace, error) {
	slug, err := NormalizeSlug(name)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	root := m.dir(slug)
	if _, err := os.Stat(root); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrExists, slug)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace %s: %w", slug, err)
	}
	if err := SaveSettings(filepath.Join(root, SettingsFileName), DefaultSettings()); err != nil {
		return nil, err
	}

	ws, err := open(root, slug, m.dbOptions())
	if err != nil {
		return nil, err
	}
	m.open[slug] = ws
	log.Printf("workspace: created %s at %s", slug, root)
	return ws, nil
}

// Open returns the handle for an existing workspace.
func (m *Manager) Open(name string) (*Workspace, error) {
	slug, err := NormalizeSlug(name)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if ws, ok := m.open[slug]; ok {
		return ws, nil
	}
	root := m.dir(slug)
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, slug)
	}
	ws, err := open(root, slug, m.dbOptions())
	if err != nil {
		return nil, err
	}
	m.open[slug] = ws
	return ws, nil
}

// List returns the slugs of every workspace on disk, naturally ordered.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.cfg.WorkspacesPath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	slugs := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if slug, err := NormalizeSlug(e.Name()); err == nil && slug == e.Name() {
			slugs = append(slugs, slug)
		}
	}
	utils.NaturalSort(slugs)
	return slugs, nil
}

// Delete closes the workspace and removes its directory tree (and schema on postgres).
func (m *Manager) Delete(name string) error {
	slug, err := NormalizeSlug(name)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	root := m.dir(slug)
	if _, err := os.Stat(root); err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, slug)
	}
	if ws, ok := m.open[slug]; ok {
		if err := ws.Close(); err != nil {
			log.Printf("workspace: error closing %s: %v", slug, err)
		}
		delete(m.open, slug)
	}
	if m.cfg.DBDriver == database.DriverPostgres {
		if err := database.DropSchema(m.cfg.DatabaseDSN, slug); err != nil {
			return err
		}
	}
	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("failed to remove workspace %s: %w", slug, err)
	}
	log.Printf("workspace: deleted %s", slug)
	return nil
}

// Close releases every open handle.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for slug, ws := range m.open {
		if err := ws.Close(); err != nil {
			log.Printf("workspace: error closing %s: %v", slug, err)
		}
		delete(m.open, slug)
	}
}
