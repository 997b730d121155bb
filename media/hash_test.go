package media

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash(t *testing.T) {
	a := Hash([]byte("payload"))
	assert.Len(t, a, 32)
	assert.Equal(t, a, Hash([]byte("payload")))
	assert.NotEqual(t, a, Hash([]byte("payload2")))

	p := filepath.Join(t.TempDir(), "f.bin")
	require.NoError(t, os.WriteFile(p, []byte("payload"), 0o644))
	fromFile, err := HashFile(p)
	require.NoError(t, err)
	assert.Equal(t, a, fromFile)
}
