package ecosystem

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/burrow/pkg/datadir"
	"github.com/cuemby/burrow/pkg/fsutil"
	"github.com/cuemby/burrow/pkg/types"
	units "github.com/docker/go-units"
)

// Builder generates the supervisor descriptor from the registry
type Builder struct {
	// Binary is the shared server executable
	Binary string

	// MaxMemory is the restart ceiling in supervisor notation, e.g. "512M"
	MaxMemory string

	// Path is where Write stores the descriptor
	Path string
}

// NewBuilder validates maxMemory and returns a Builder
func NewBuilder(binary, maxMemory, path string) (*Builder, error) {
	if _, err := units.RAMInBytes(maxMemory); err != nil {
		return nil, fmt.Errorf("invalid memory ceiling %q: %w", maxMemory, err)
	}
	return &Builder{Binary: binary, MaxMemory: maxMemory, Path: path}, nil
}

// Build returns one process entry per instance, sorted by name. Two calls
// with the same registry produce identical descriptors.
func (b *Builder) Build(reg *types.Registry) *types.Ecosystem {
	eco := &types.Ecosystem{Apps: make([]types.ProcessEntry, 0, len(reg.Instances))}
	for _, inst := range reg.Sorted() {
		eco.Apps = append(eco.Apps, b.Entry(inst))
	}
	return eco
}

// Entry returns the process entry of one instance
func (b *Builder) Entry(inst *types.Instance) types.ProcessEntry {
	return types.ProcessEntry{
		Name:   inst.Name,
		Script: b.Binary,
		Args: []string{
			"serve",
			fmt.Sprintf("--http=127.0.0.1:%d", inst.Port),
			"--dir=" + inst.DataDirectory,
			"--migrationsDir=" + filepath.Join(inst.DataDirectory, datadir.MigrationsDir),
		},
		Cwd:              inst.DataDirectory,
		Interpreter:      "none",
		Autorestart:      true,
		MaxMemoryRestart: b.MaxMemory,
		Env: map[string]string{
			"NODE_ENV":   "production",
			"BURROW_ENV": "production",
		},
	}
}

// Marshal renders the descriptor as indented JSON
func Marshal(eco *types.Ecosystem) ([]byte, error) {
	data, err := json.MarshalIndent(eco, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ecosystem: %w", err)
	}
	return append(data, '\n'), nil
}

// Write stores the descriptor atomically at b.Path
func (b *Builder) Write(eco *types.Ecosystem) error {
	data, err := Marshal(eco)
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(b.Path, data, 0644); err != nil {
		return fmt.Errorf("failed to write ecosystem: %w", err)
	}
	return nil
}
