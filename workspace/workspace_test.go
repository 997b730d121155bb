package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AfonsecaO/nudenet-clasificador-sub000/config"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/database"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/models"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(config.Config{WorkspacesPath: t.TempDir(), DBDriver: config.DriverSQLite})
	t.Cleanup(m.Close)
	return m
}

func TestNormalizeSlug(t *testing.T) {
	ok := map[string]string{
		"Clientes 2024":     "clientes-2024",
		"  mi.proyecto  ":   "mi-proyecto",
		"Año_Nuevo":         "ano_nuevo",
		"a -- b":            "a-b",
		"--weird__":         "weird",
		"UPPER/../../etc":   "upper-etc",
		"already-fine_slug": "already-fine_slug",
	}
	for in, want := range ok {
		got, err := NormalizeSlug(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "   ", "!!!", "../.."} {
		_, err := NormalizeSlug(in)
		assert.ErrorIs(t, err, ErrInvalidSlug, in)
	}
}

func TestManagerLifecycle(t *testing.T) {
	m := newTestManager(t)

	ws, err := m.Create("Proyecto Uno")
	require.NoError(t, err)
	assert.Equal(t, "proyecto-uno", ws.Slug)
	for _, dir := range []string{ws.ImagesDir, ws.CacheDir, ws.LogsDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
	assert.FileExists(t, filepath.Join(ws.Root, database.SQLiteFileName))
	assert.FileExists(t, ws.SettingsPath())

	_, err = m.Create("proyecto-uno")
	assert.ErrorIs(t, err, ErrExists)

	again, err := m.Open("PROYECTO UNO")
	require.NoError(t, err)
	assert.Same(t, ws, again)

	_, err = m.Create("proyecto-10")
	require.NoError(t, err)
	_, err = m.Create("proyecto-2")
	require.NoError(t, err)
	slugs, err := m.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"proyecto-2", "proyecto-10", "proyecto-uno"}, slugs)

	require.NoError(t, m.Delete("proyecto-uno"))
	_, err = os.Stat(ws.Root)
	assert.True(t, os.IsNotExist(err))
	_, err = m.Open("proyecto-uno")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Delete("proyecto-uno"), ErrNotFound)
}

func TestWorkspacesAreIsolated(t *testing.T) {
	m := newTestManager(t)
	a, err := m.Create("a")
	require.NoError(t, err)
	b, err := m.Create("b")
	require.NoError(t, err)

	require.NoError(t, a.DB.Create(&models.Image{
		RelPath: "x.jpg", AbsPath: "/x.jpg", Filename: "x.jpg", StoredHash: "h",
		ClassificationStatus: database.StatusPending, DetectionStatus: database.StatusPending,
	}).Error)

	var countA, countB int64
	require.NoError(t, a.DB.Model(&models.Image{}).Count(&countA).Error)
	require.NoError(t, b.DB.Model(&models.Image{}).Count(&countB).Error)
	assert.Equal(t, int64(1), countA)
	assert.Equal(t, int64(0), countB)
}

func TestSettingsRoundTripAndValidation(t *testing.T) {
	m := newTestManager(t)
	ws, err := m.Create("cfg")
	require.NoError(t, err)

	s := ws.Settings()
	err = s.ValidateSource()
	assert.ErrorIs(t, err, ErrMissingConfig)
	assert.Contains(t, err.Error(), "source.dsn")
	assert.Contains(t, err.Error(), "source.image_fields")
	assert.NoError(t, s.ValidateNaming(), "defaults carry a complete naming setup")

	s.Source.DSN = "file:src.db"
	s.Source.ImageFields = []string{"foto"}
	s.IgnoredLabels = []string{"FACE_MALE"}
	require.NoError(t, ws.UpdateSettings(s))
	assert.NoError(t, ws.Settings().ValidateSource())

	loaded, err := LoadSettings(ws.SettingsPath())
	require.NoError(t, err)
	assert.Equal(t, s, loaded)

	s.Naming.UserIDField = ""
	assert.ErrorIs(t, s.ValidateNaming(), ErrMissingConfig)
	s.Naming.Pattern = ""
	assert.ErrorIs(t, s.ValidateSource(), ErrMissingConfig)
}

func TestLoadSettingsMissingFileGivesDefaults(t *testing.T) {
	s, err := LoadSettings(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)
}

func TestStoreEventsReachWorkspaceLog(t *testing.T) {
	m := newTestManager(t)
	ws, err := m.Create("logs")
	require.NoError(t, err)

	_, err = ws.Store.WriteAtomic("f/x.jpg", []byte("data"))
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(ws.LogsDir, logFileName))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "media.store: saved")
	assert.Same(t, ws.Log, ws.Cache.Log)
}
