package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileCreatesTab(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.json")

	p, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, p.TabID, 36)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "Load must not write")
}

func TestSaveLoad_KeepsTab(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "p.json")

	p, err := Load(path)
	require.NoError(t, err)
	p.SetLastPhase("locked_sticky")
	require.NoError(t, p.Save())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, p.TabID, again.TabID)
	assert.Equal(t, "locked_sticky", again.LastPhase)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestNewTab(t *testing.T) {
	p, err := Load(filepath.Join(t.TempDir(), "p.json"))
	require.NoError(t, err)
	p.SetLastPhase("unlocked")
	old := p.TabID

	p.NewTab()
	assert.NotEqual(t, old, p.TabID)
	assert.Empty(t, p.LastPhase)
}

func TestLoad_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
