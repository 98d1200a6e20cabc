package nginx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cuemby/burrow/pkg/fsutil"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/system"
	"github.com/rs/zerolog"
)

// Config configures a Manager
type Config struct {
	Layout Layout

	// Command is the nginx executable used for config tests
	Command string

	// ReloadCommand reloads the running server, e.g. systemctl reload nginx
	ReloadCommand []string

	TLS TLSFiles
}

// Manager installs, activates and removes per-instance nginx configs
type Manager struct {
	cfg    Config
	runner system.Runner
	logger zerolog.Logger

	dirsOnce sync.Once
	dirsErr  error
}

// NewManager creates a proxy config manager
func NewManager(cfg Config, runner system.Runner) *Manager {
	if cfg.Command == "" {
		cfg.Command = "nginx"
	}
	if len(cfg.ReloadCommand) == 0 {
		cfg.ReloadCommand = []string{"systemctl", "reload", "nginx"}
	}
	return &Manager{
		cfg:    cfg,
		runner: runner,
		logger: log.WithComponent("nginx"),
	}
}

// Layout returns the packaging layout in use
func (m *Manager) Layout() Layout {
	return m.cfg.Layout
}

// TLSFiles returns the certificate locations referenced by rendered configs
func (m *Manager) TLSFiles() TLSFiles {
	return m.cfg.TLS
}

// ConfigPath returns the config file of the named instance
func (m *Manager) ConfigPath(name string) string {
	return filepath.Join(m.cfg.Layout.AvailableDir, name+".conf")
}

// EnabledPath returns the activation symlink of the named instance, or ""
// when the layout has none
func (m *Manager) EnabledPath(name string) string {
	if m.cfg.Layout.EnabledDir == "" {
		return ""
	}
	return filepath.Join(m.cfg.Layout.EnabledDir, name+".conf")
}

// Activate renders site, installs it atomically, enables it, tests the full
// nginx configuration and reloads. The returned messages describe what was
// done, including non-fatal problems such as a failed symlink.
func (m *Manager) Activate(ctx context.Context, site Site) ([]string, error) {
	var messages []string

	rendered, err := Render(site, m.cfg.TLS)
	if err != nil {
		return messages, err
	}

	warnings, err := m.ensureDirs()
	messages = append(messages, warnings...)
	if err != nil {
		return messages, err
	}

	path := m.ConfigPath(site.Name)
	previous, readErr := os.ReadFile(path)
	if readErr != nil {
		previous = nil
	}
	if err := fsutil.WriteFileAtomic(path, []byte(rendered), 0644); err != nil {
		return messages, fmt.Errorf("failed to write proxy config: %w", err)
	}

	form := "HTTP-only"
	if site.UseTLS {
		form = "TLS"
	}
	messages = append(messages, fmt.Sprintf("wrote %s proxy config %s", form, path))

	if link := m.EnabledPath(site.Name); link != "" {
		if err := relink(path, link); err != nil {
			messages = append(messages, fmt.Sprintf("warning: failed to enable %s: %v", link, err))
			m.logger.Warn().Err(err).Str("instance", site.Name).Msg("Failed to create activation symlink")
		}
	}

	if err := m.TestAndReload(ctx); err != nil {
		messages = append(messages, m.revert(site.Name, previous))
		return messages, err
	}
	messages = append(messages, "proxy configuration reloaded")

	m.logger.Info().
		Str("instance", site.Name).
		Str("domain", site.Domain).
		Bool("tls", site.UseTLS).
		Msg("Proxy config activated")

	return messages, nil
}

// revert puts back the config that was in place before a rejected Activate,
// so the next reload of an unrelated instance does not trip over it
func (m *Manager) revert(name string, previous []byte) string {
	path := m.ConfigPath(name)
	if previous != nil {
		if err := fsutil.WriteFileAtomic(path, previous, 0644); err != nil {
			return fmt.Sprintf("warning: failed to restore %s: %v", path, err)
		}
		return fmt.Sprintf("restored previous proxy config %s", path)
	}

	if link := m.EnabledPath(name); link != "" {
		os.Remove(link)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Sprintf("warning: failed to remove rejected proxy config %s: %v", path, err)
	}
	return fmt.Sprintf("removed rejected proxy config %s", path)
}

// Remove deletes the instance's config file and symlink and reloads
func (m *Manager) Remove(ctx context.Context, name string) ([]string, error) {
	var messages []string

	if link := m.EnabledPath(name); link != "" {
		if err := os.Remove(link); err != nil && !errors.Is(err, os.ErrNotExist) {
			return messages, fmt.Errorf("failed to remove %s: %w", link, err)
		}
	}

	path := m.ConfigPath(name)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return messages, fmt.Errorf("failed to remove %s: %w", path, err)
	}
	messages = append(messages, fmt.Sprintf("removed proxy config %s", path))

	if err := m.TestAndReload(ctx); err != nil {
		return messages, err
	}
	messages = append(messages, "proxy configuration reloaded")
	return messages, nil
}

// TestAndReload runs nginx -t and, if the configuration is valid, reloads
func (m *Manager) TestAndReload(ctx context.Context) error {
	if _, err := m.runner.Run(ctx, system.Cmd(m.cfg.Command, "-t")); err != nil {
		return fmt.Errorf("proxy configuration test failed: %w", err)
	}

	reload := m.cfg.ReloadCommand
	if _, err := m.runner.Run(ctx, system.Cmd(reload[0], reload[1:]...)); err != nil {
		return fmt.Errorf("proxy reload failed: %w", err)
	}
	return nil
}

// ensureDirs creates the config directories on first use. On Arch it also
// checks that nginx.conf includes sites-enabled, since the package does not.
func (m *Manager) ensureDirs() ([]string, error) {
	var warnings []string

	m.dirsOnce.Do(func() {
		layout := m.cfg.Layout
		for _, dir := range []string{layout.AvailableDir, layout.EnabledDir} {
			if dir == "" {
				continue
			}
			if err := os.MkdirAll(dir, 0755); err != nil {
				m.dirsErr = fmt.Errorf("failed to create %s: %w", dir, err)
				return
			}
		}

		if layout.Convention == Arch && !includesEnabled(layout) {
			msg := fmt.Sprintf("warning: %s does not include %s/*; add an include line inside the http block",
				filepath.Join(layout.Root, "nginx.conf"), layout.EnabledDir)
			warnings = append(warnings, msg)
			m.logger.Warn().Str("dir", layout.EnabledDir).Msg("nginx.conf does not include sites-enabled")
		}
	})

	return warnings, m.dirsErr
}

func includesEnabled(layout Layout) bool {
	data, err := os.ReadFile(filepath.Join(layout.Root, "nginx.conf"))
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "include") && strings.Contains(line, "sites-enabled") {
			return true
		}
	}
	return false
}

// relink points link at target, replacing whatever was there
func relink(target, link string) error {
	if err := os.Remove(link); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return os.Symlink(target, link)
}
