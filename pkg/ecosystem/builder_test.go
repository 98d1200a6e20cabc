package ecosystem

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry() *types.Registry {
	reg := types.NewRegistry()
	reg.Instances["svc2"] = &types.Instance{Name: "svc2", Domain: "b.example.com", Port: 8092, DataDirectory: "/var/lib/burrow/instances/svc2"}
	reg.Instances["svc1"] = &types.Instance{Name: "svc1", Domain: "a.example.com", Port: 8091, DataDirectory: "/var/lib/burrow/instances/svc1"}
	return reg
}

func TestNewBuilder(t *testing.T) {
	tests := []struct {
		name      string
		maxMemory string
		wantErr   bool
	}{
		{name: "megabytes", maxMemory: "512M"},
		{name: "gigabytes", maxMemory: "1G"},
		{name: "garbage", maxMemory: "lots", wantErr: true},
		{name: "empty", maxMemory: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBuilder("/bin/pocketbase", tt.maxMemory, "eco.json")
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBuilder_Build(t *testing.T) {
	b, err := NewBuilder("/var/lib/burrow/bin/pocketbase", "512M", "")
	require.NoError(t, err)

	eco := b.Build(testRegistry())
	require.Len(t, eco.Apps, 2)
	assert.Equal(t, "svc1", eco.Apps[0].Name)
	assert.Equal(t, "svc2", eco.Apps[1].Name)

	app := eco.Apps[0]
	assert.Equal(t, "/var/lib/burrow/bin/pocketbase", app.Script)
	assert.Equal(t, []string{
		"serve",
		"--http=127.0.0.1:8091",
		"--dir=/var/lib/burrow/instances/svc1",
		"--migrationsDir=/var/lib/burrow/instances/svc1/pb_migrations",
	}, app.Args)
	assert.Equal(t, "/var/lib/burrow/instances/svc1", app.Cwd)
	assert.True(t, app.Autorestart)
	assert.Equal(t, "512M", app.MaxMemoryRestart)
	assert.Equal(t, "production", app.Env["NODE_ENV"])
}

func TestBuilder_BuildEmpty(t *testing.T) {
	b, err := NewBuilder("/bin/pocketbase", "512M", "")
	require.NoError(t, err)

	data, err := Marshal(b.Build(types.NewRegistry()))
	require.NoError(t, err)
	assert.JSONEq(t, `{"apps":[]}`, string(data))
}

func TestBuilder_WriteIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ecosystem.config.json")
	b, err := NewBuilder("/bin/pocketbase", "512M", path)
	require.NoError(t, err)

	require.NoError(t, b.Write(b.Build(testRegistry())))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, b.Write(b.Build(testRegistry())))
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, first, second)

	var eco types.Ecosystem
	require.NoError(t, json.Unmarshal(first, &eco))
	assert.Len(t, eco.Apps, 2)
}
