package release

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/klauspost/compress/zip"
	"github.com/zeebo/blake3"
	"golang.org/x/term"
	pb "gopkg.in/cheggaaa/pb.v2"
)

// LockFile is the download lock's name inside the install directory
const LockFile = ".download.lock"

// ErrLockHeld means another install is in progress. Retry once it finishes.
var ErrLockHeld = errors.New("another install is in progress (download lock held)")

// InstallOptions controls one Install call
type InstallOptions struct {
	// Version forces a specific version. Empty means resolve the latest.
	Version string

	// Force reinstalls even when the binary exists
	Force bool
}

// InstallResult describes what Install did
type InstallResult struct {
	Path      string `json:"path"`
	Version   string `json:"version,omitempty"`
	Source    Source `json:"source,omitempty"`
	Installed bool   `json:"installed"`

	// Concurrent is set when another installer finished while this one
	// waited and its binary was kept
	Concurrent bool `json:"concurrent,omitempty"`
}

// Installer downloads and installs the supervised server binary
type Installer struct {
	Dir        string
	BinaryName string

	// DownloadURL is a format string: %[1]s version, %[2]s architecture
	DownloadURL string

	Resolver *Resolver
	Client   *http.Client

	// LockWait is how long to wait for a concurrent install to finish
	LockWait time.Duration

	// PollInterval is how often a waiting installer re-checks
	PollInterval time.Duration

	// Progress receives a progress bar when it is a terminal
	Progress io.Writer

	// Arch overrides the release architecture, defaulting to runtime.GOARCH
	Arch string
}

// Path returns the installed executable
func (i *Installer) Path() string {
	return filepath.Join(i.Dir, i.BinaryName)
}

// LockPath returns the download lock file
func (i *Installer) LockPath() string {
	return filepath.Join(i.Dir, LockFile)
}

// Installed reports whether the executable exists
func (i *Installer) Installed() bool {
	info, err := os.Stat(i.Path())
	return err == nil && !info.IsDir()
}

// Install makes sure the binary is present. Without a version override or
// Force it is a no-op when the binary already exists.
func (i *Installer) Install(ctx context.Context, opts InstallOptions) (*InstallResult, error) {
	result := &InstallResult{Path: i.Path()}
	logger := log.WithComponent("release")

	if i.Installed() && opts.Version == "" && !opts.Force {
		return result, nil
	}

	if err := os.MkdirAll(i.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", i.Dir, err)
	}

	unlock, err := i.acquire()
	if errors.Is(err, ErrLockHeld) {
		// Another installer is running; its result is as good as ours
		if waitErr := i.waitForOther(ctx); waitErr != nil {
			return nil, waitErr
		}
		if i.Installed() && opts.Version == "" {
			logger.Info().Str("path", i.Path()).Msg("Binary installed by concurrent installer")
			result.Concurrent = true
			return result, nil
		}
		unlock, err = i.acquire()
	}
	if err != nil {
		return nil, err
	}
	defer unlock()

	version, source := opts.Version, SourceOverride
	if i.Resolver != nil {
		version, source = i.Resolver.Resolve(ctx, opts.Version)
	}
	if version == "" {
		return nil, fmt.Errorf("no version to install")
	}
	result.Version = version
	result.Source = source

	url := fmt.Sprintf(i.DownloadURL, version, i.arch())
	logger.Info().Str("version", version).Str("url", url).Msg("Downloading server binary")

	archive, err := i.download(ctx, url)
	if err != nil {
		return nil, err
	}

	if err := i.extract(archive); err != nil {
		return nil, err
	}

	result.Installed = true
	logger.Info().Str("version", version).Str("path", i.Path()).Msg("Server binary installed")
	return result, nil
}

// acquire creates the lock file exclusively. The returned func removes it.
func (i *Installer) acquire() (func(), error) {
	f, err := os.OpenFile(i.LockPath(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if errors.Is(err, os.ErrExist) {
		return nil, ErrLockHeld
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create download lock: %w", err)
	}
	fmt.Fprintln(f, strconv.Itoa(os.Getpid()))
	f.Close()

	return func() { os.Remove(i.LockPath()) }, nil
}

// waitForOther polls until the lock disappears or LockWait elapses
func (i *Installer) waitForOther(ctx context.Context) error {
	interval := i.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	deadline := time.NewTimer(i.LockWait)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := os.Stat(i.LockPath()); errors.Is(err, os.ErrNotExist) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w: remove %s if no install is running", ErrLockHeld, i.LockPath())
		case <-ticker.C:
		}
	}
}

func (i *Installer) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	client := i.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download of %s failed: %s", url, resp.Status)
	}

	var body io.Reader = resp.Body
	if f, ok := i.Progress.(*os.File); ok && term.IsTerminal(int(f.Fd())) && resp.ContentLength > 0 {
		bar := pb.New64(resp.ContentLength).SetWriter(f).Start()
		defer bar.Finish()
		body = bar.NewProxyReader(resp.Body)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	return data, nil
}

// extract writes the binary from the archive next to its final path and
// renames it into place
func (i *Installer) extract(archive []byte) error {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return fmt.Errorf("invalid release archive: %w", err)
	}

	for _, entry := range zr.File {
		if filepath.Base(entry.Name) != i.BinaryName || entry.FileInfo().IsDir() {
			continue
		}

		rc, err := entry.Open()
		if err != nil {
			return fmt.Errorf("failed to open %s in archive: %w", entry.Name, err)
		}
		defer rc.Close()

		tmp, err := os.CreateTemp(i.Dir, "."+i.BinaryName+".tmp-*")
		if err != nil {
			return fmt.Errorf("failed to create temp file: %w", err)
		}
		tmpPath := tmp.Name()

		if _, err := io.Copy(tmp, rc); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("failed to extract %s: %w", entry.Name, err)
		}
		if err := tmp.Chmod(0755); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("failed to chmod binary: %w", err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmpPath)
			return err
		}
		if err := os.Rename(tmpPath, i.Path()); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to install binary: %w", err)
		}
		return nil
	}

	return fmt.Errorf("release archive does not contain %s", i.BinaryName)
}

func (i *Installer) arch() string {
	arch := i.Arch
	if arch == "" {
		arch = runtime.GOARCH
	}
	if arch == "arm" {
		return "armv7"
	}
	return arch
}

// Fingerprint returns the hex BLAKE3 digest of the file at path
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
