package nginx

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Convention is the host's nginx packaging layout
type Convention string

const (
	// Debian keeps configs in sites-available and enables them with a
	// symlink in sites-enabled
	Debian Convention = "debian"

	// RHEL loads every file in a single conf.d directory
	RHEL Convention = "rhel"

	// Arch uses the Debian layout, but the directories are not shipped by
	// the package and nginx.conf must be taught to include sites-enabled
	Arch Convention = "arch"
)

// ParseConvention validates a configured convention name
func ParseConvention(s string) (Convention, error) {
	switch c := Convention(strings.ToLower(strings.TrimSpace(s))); c {
	case Debian, RHEL, Arch:
		return c, nil
	default:
		return "", fmt.Errorf("unknown nginx convention %q", s)
	}
}

// Layout describes where config files live for a convention
type Layout struct {
	Convention Convention

	// Root is the nginx configuration root, usually /etc/nginx
	Root string

	// AvailableDir holds the rendered config files
	AvailableDir string

	// EnabledDir holds activation symlinks. Empty when the convention
	// has no separate activation step.
	EnabledDir string
}

// NewLayout returns the layout of convention c under root
func NewLayout(c Convention, root string) Layout {
	l := Layout{Convention: c, Root: root}
	switch c {
	case RHEL:
		l.AvailableDir = filepath.Join(root, "conf.d")
	default:
		l.AvailableDir = filepath.Join(root, "sites-available")
		l.EnabledDir = filepath.Join(root, "sites-enabled")
	}
	return l
}

// Detect determines the packaging convention from the os-release file,
// falling back to probing the nginx root for known directories
func Detect(osReleasePath, root string) Convention {
	if data, err := os.ReadFile(osReleasePath); err == nil {
		if c, ok := fromOSRelease(data); ok {
			return c
		}
	}

	if isDir(filepath.Join(root, "sites-available")) {
		return Debian
	}
	if isDir(filepath.Join(root, "conf.d")) {
		return RHEL
	}
	return Debian
}

func fromOSRelease(data []byte) (Convention, bool) {
	fields := parseOSRelease(data)

	ids := append([]string{fields["ID"]}, strings.Fields(fields["ID_LIKE"])...)
	for _, id := range ids {
		switch id {
		case "debian", "ubuntu", "raspbian", "linuxmint", "pop":
			return Debian, true
		case "rhel", "centos", "fedora", "rocky", "almalinux", "amzn", "ol":
			return RHEL, true
		case "arch", "manjaro", "endeavouros":
			return Arch, true
		}
	}
	return "", false
}

// parseOSRelease reads KEY=value lines, unquoting values
func parseOSRelease(data []byte) map[string]string {
	fields := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		fields[key] = strings.ToLower(strings.Trim(value, `"'`))
	}
	return fields
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
