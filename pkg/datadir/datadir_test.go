package datadir

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager(t *testing.T) {
	base := filepath.Join(t.TempDir(), "instances")

	m, err := NewManager(base)
	require.NoError(t, err)
	assert.Equal(t, base, m.basePath)
	assert.DirExists(t, base)
	assert.Equal(t, filepath.Join(base, "svc1"), m.PathFor("svc1"))
	assert.Equal(t, filepath.Join(base, "svc1", MigrationsDir), m.MigrationsPath("svc1"))
}

func TestManager_Create(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	created, err := m.Create("svc1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.DirExists(t, m.MigrationsPath("svc1"))

	created, err = m.Create("svc1")
	require.NoError(t, err)
	assert.False(t, created, "existing directory must not be reported as created")
}

func TestManager_CopyIsIndependent(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	_, err = m.Create("svc1")
	require.NoError(t, err)
	dbPath := filepath.Join(m.PathFor("svc1"), "pb_data", "data.db")
	require.NoError(t, os.MkdirAll(filepath.Dir(dbPath), 0755))
	require.NoError(t, os.WriteFile(dbPath, []byte("records"), 0600))

	require.NoError(t, m.Copy("svc1", "svc2"))

	copied, err := os.ReadFile(filepath.Join(m.PathFor("svc2"), "pb_data", "data.db"))
	require.NoError(t, err)
	assert.Equal(t, "records", string(copied))

	// Removing the source leaves the copy intact
	require.NoError(t, m.Delete("svc1"))
	assert.FileExists(t, filepath.Join(m.PathFor("svc2"), "pb_data", "data.db"))
}

func TestManager_CopyErrors(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	assert.Error(t, m.Copy("missing", "svc2"))

	_, err = m.Create("svc1")
	require.NoError(t, err)
	_, err = m.Create("svc2")
	require.NoError(t, err)
	assert.Error(t, m.Copy("svc1", "svc2"), "existing destination must not be overwritten")
}

func TestManager_Reset(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	_, err = m.Create("svc1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(m.PathFor("svc1"), "data.db"), []byte("x"), 0600))

	require.NoError(t, m.Reset("svc1"))

	entries, err := os.ReadDir(m.PathFor("svc1"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, MigrationsDir, entries[0].Name())
}

func TestManager_DeleteNonExistent(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	assert.NoError(t, m.Delete("nonexistent"))
}

func TestManager_Size(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	_, err = m.Create("svc1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(m.PathFor("svc1"), "a"), make([]byte, 1500), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(m.MigrationsPath("svc1"), "b"), make([]byte, 500), 0600))

	size, err := m.Size("svc1")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), size)
	assert.Equal(t, "2kB", m.HumanSize("svc1"))
	assert.Equal(t, "unknown", m.HumanSize("missing"))
}
