package datadir

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cuemby/burrow/pkg/fsutil"
	units "github.com/docker/go-units"
)

const (
	// DefaultBasePath is the base directory for instance data
	DefaultBasePath = "/var/lib/burrow/instances"

	// MigrationsDir is the migrations subdirectory inside every data directory
	MigrationsDir = "pb_migrations"
)

// Manager owns the per-instance data directories. The path of an instance's
// directory is derived from its name and never shared with another instance.
type Manager struct {
	basePath string
}

// NewManager creates a data directory manager rooted at basePath
func NewManager(basePath string) (*Manager, error) {
	if basePath == "" {
		basePath = DefaultBasePath
	}

	// Ensure base directory exists
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create instances directory: %w", err)
	}

	return &Manager{basePath: basePath}, nil
}

// PathFor returns the data directory of the named instance
func (m *Manager) PathFor(name string) string {
	return filepath.Join(m.basePath, name)
}

// MigrationsPath returns the migrations directory of the named instance
func (m *Manager) MigrationsPath(name string) string {
	return filepath.Join(m.PathFor(name), MigrationsDir)
}

// Exists reports whether the instance's data directory is present
func (m *Manager) Exists(name string) bool {
	info, err := os.Stat(m.PathFor(name))
	return err == nil && info.IsDir()
}

// Create creates an empty data directory. It reports whether the directory
// was newly created, so callers only remove what they made.
func (m *Manager) Create(name string) (bool, error) {
	path := m.PathFor(name)
	if m.Exists(name) {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Join(path, MigrationsDir), 0755); err != nil {
		return false, fmt.Errorf("failed to create data directory %s: %w", path, err)
	}
	return true, nil
}

// Copy copies the source instance's data directory to a new instance.
// The destination must not exist.
func (m *Manager) Copy(source, target string) error {
	src := m.PathFor(source)
	dst := m.PathFor(target)

	if !m.Exists(source) {
		return fmt.Errorf("data directory of %s does not exist: %s", source, src)
	}
	if err := fsutil.CopyDir(src, dst); err != nil {
		// Do not leave a half-copied directory behind
		os.RemoveAll(dst)
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	return nil
}

// Delete removes an instance's data directory and all contents
func (m *Manager) Delete(name string) error {
	path := m.PathFor(name)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // Already deleted
	}

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to delete data directory %s: %w", path, err)
	}
	return nil
}

// Reset deletes and recreates an instance's data directory, leaving it empty
// apart from the migrations subdirectory
func (m *Manager) Reset(name string) error {
	if err := m.Delete(name); err != nil {
		return err
	}
	if _, err := m.Create(name); err != nil {
		return err
	}
	return nil
}

// Size returns the total size of regular files in the data directory
func (m *Manager) Size(name string) (int64, error) {
	var total int64
	err := filepath.WalkDir(m.PathFor(name), func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// HumanSize returns Size formatted for display, e.g. "12.5MB"
func (m *Manager) HumanSize(name string) string {
	size, err := m.Size(name)
	if err != nil {
		return "unknown"
	}
	return units.HumanSize(float64(size))
}
