package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/burrow/pkg/fsutil"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/gofrs/flock"
	"github.com/tidwall/jsonc"
)

var (
	// ErrCorruptRegistry is wrapped by Load when the document cannot be parsed
	ErrCorruptRegistry = errors.New("registry document is malformed")

	// ErrRegistryBusy is returned by Lock when another operation holds the lock
	ErrRegistryBusy = errors.New("registry is locked by another operation")
)

// RegistryStore persists the instance registry as a single JSON document.
// Every operation loads the whole document, mutates it in memory and writes
// the whole document back.
type RegistryStore struct {
	path     string
	lockPath string
	locking  bool
}

// NewRegistryStore creates a store for the document at path. When locking is
// set, Lock takes an advisory file lock next to the document.
func NewRegistryStore(path string, locking bool) *RegistryStore {
	return &RegistryStore{
		path:     path,
		lockPath: path + ".lock",
		locking:  locking,
	}
}

// Path returns the document path
func (s *RegistryStore) Path() string {
	return s.path
}

// Load returns the current registry, or an empty one if the document is absent.
// Comments and trailing commas left by hand edits are tolerated.
func (s *RegistryStore) Load() (*types.Registry, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return types.NewRegistry(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read registry %s: %w", s.path, err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return types.NewRegistry(), nil
	}

	reg := types.NewRegistry()
	if err := json.Unmarshal(jsonc.ToJSON(data), reg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptRegistry, s.path, err)
	}
	if reg.Instances == nil {
		reg.Instances = make(map[string]*types.Instance)
	}

	// Map keys are authoritative for the name
	for name, inst := range reg.Instances {
		if inst == nil {
			return nil, fmt.Errorf("%w: %s: instance %q is null", ErrCorruptRegistry, s.path, name)
		}
		if inst.Name == "" {
			inst.Name = name
		}
	}

	return reg, nil
}

// Save writes the whole registry atomically
func (s *RegistryStore) Save(reg *types.Registry) error {
	if reg.Instances == nil {
		reg.Instances = make(map[string]*types.Instance)
	}

	// encoding/json sorts map keys, so output is stable for identical input
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}
	data = append(data, '\n')

	if err := fsutil.WriteFileAtomic(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to save registry: %w", err)
	}
	return nil
}

// Lock serializes mutating operations across processes. The returned function
// releases the lock. Lock waits up to the context deadline, retrying every
// 100ms, and returns ErrRegistryBusy if the lock never frees.
func (s *RegistryStore) Lock(ctx context.Context) (func(), error) {
	if !s.locking {
		return func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(s.lockPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	fileLock := flock.New(s.lockPath)
	locked, err := fileLock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return nil, fmt.Errorf("failed to lock registry: %w", err)
	}
	if !locked {
		return nil, ErrRegistryBusy
	}

	return func() { _ = fileLock.Unlock() }, nil
}
