package release

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/fsutil"
)

// DefaultCacheTTL is how long a resolved latest version stays valid
const DefaultCacheTTL = 24 * time.Hour

// cacheDocument is the on-disk form: {timestamp, latestVersion} with the
// timestamp in Unix milliseconds
type cacheDocument struct {
	Timestamp     int64  `json:"timestamp"`
	LatestVersion string `json:"latestVersion"`
}

// VersionCache remembers the latest upstream version in memory and on disk.
// It is owned by whoever creates it and passed explicitly to a Resolver.
type VersionCache struct {
	Path string
	TTL  time.Duration

	// Now returns the current time; tests replace it
	Now func() time.Time

	mu  sync.Mutex
	mem *cacheDocument
}

// NewVersionCache creates a cache persisted at path with the default TTL
func NewVersionCache(path string) *VersionCache {
	return &VersionCache{Path: path, TTL: DefaultCacheTTL, Now: time.Now}
}

// Get returns the cached version if it is still fresh. The in-memory copy is
// consulted first, then the file.
func (c *VersionCache) Get() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mem != nil && c.fresh(c.mem) {
		return c.mem.LatestVersion, true
	}

	doc, err := c.read()
	if err != nil || !c.fresh(doc) {
		return "", false
	}
	c.mem = doc
	return doc.LatestVersion, true
}

// Put records version as the latest, in memory and on disk. A failed disk
// write still updates the in-memory copy.
func (c *VersionCache) Put(version string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc := &cacheDocument{Timestamp: c.now().UnixMilli(), LatestVersion: version}
	c.mem = doc

	if c.Path == "" {
		return nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(c.Path, data, 0644); err != nil {
		return fmt.Errorf("failed to write version cache: %w", err)
	}
	return nil
}

func (c *VersionCache) read() (*cacheDocument, error) {
	if c.Path == "" {
		return nil, errors.New("no cache file")
	}
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return nil, err
	}
	var doc cacheDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.LatestVersion == "" {
		return nil, errors.New("empty cached version")
	}
	return &doc, nil
}

func (c *VersionCache) fresh(doc *cacheDocument) bool {
	ttl := c.TTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	age := c.now().Sub(time.UnixMilli(doc.Timestamp))
	return age >= 0 && age < ttl
}

func (c *VersionCache) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}
