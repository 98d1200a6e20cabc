package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_CustomRootMovesDerivedPaths(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
paths:
  root: /srv/burrow
  journal: /tmp/journal.db
certificates:
  default_email: ops@example.com
bridge:
  secret: s3cret
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/burrow/instances.json", cfg.Paths.Registry)
	assert.Equal(t, "/srv/burrow/bin", cfg.Paths.Bin)
	assert.Equal(t, "/tmp/journal.db", cfg.Paths.Journal)
	assert.Equal(t, "ops@example.com", cfg.Certificates.DefaultEmail)
	assert.Equal(t, "s3cret", cfg.Bridge.Secret)
	// Untouched sections keep their defaults
	assert.Equal(t, "pm2", cfg.Supervisor.Command)
	assert.Equal(t, "/srv/burrow/bin/pocketbase", cfg.BinaryPath())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "malformed yaml", content: "paths: [oops"},
		{name: "bad memory ceiling", content: "supervisor:\n  max_memory: lots\n"},
		{name: "unknown convention", content: "proxy:\n  convention: gentoo\n"},
		{name: "negative burst", content: "api:\n  burst: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0600))

			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "config.yaml")

	cfg := DefaultWithRoot(t.TempDir())
	cfg.Certificates.DefaultEmail = "admin@example.com"
	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestSave_RoundTripBridgePrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultWithRoot(t.TempDir())
	require.Nil(t, cfg.API.Prefix)
	require.NoError(t, cfg.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "prefix:")

	cfg.API.Prefix = []string{"sudo", "-n"}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"sudo", "-n"}, loaded.API.Prefix)
	assert.Equal(t, cfg, loaded)
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvPath, "")
	assert.Equal(t, DefaultPath, ResolvePath(""))

	t.Setenv(EnvPath, "/env/config.yaml")
	assert.Equal(t, "/env/config.yaml", ResolvePath(""))
	assert.Equal(t, "/flag/config.yaml", ResolvePath("/flag/config.yaml"))
}
