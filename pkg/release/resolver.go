package release

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cuemby/burrow/pkg/log"
)

// DefaultLookupTimeout bounds the upstream latest-release query
const DefaultLookupTimeout = 5 * time.Second

// Source says where a resolved version came from
type Source string

const (
	SourceOverride Source = "override"
	SourceCache    Source = "cache"
	SourceUpstream Source = "upstream"
	SourceFallback Source = "fallback"
)

// Resolver decides which server version to install
type Resolver struct {
	Cache *VersionCache

	// LatestURL answers with a JSON document carrying tag_name
	LatestURL string

	// Fallback is used whenever upstream cannot be reached
	Fallback string

	Client  *http.Client
	Timeout time.Duration
}

// Resolve returns override when given, else the cached latest version, else
// the upstream latest version, else the fallback. It never fails.
func (r *Resolver) Resolve(ctx context.Context, override string) (string, Source) {
	if v := normalize(override); v != "" {
		return v, SourceOverride
	}

	if r.Cache != nil {
		if v, ok := r.Cache.Get(); ok {
			return v, SourceCache
		}
	}

	logger := log.WithComponent("release")

	v, err := r.latest(ctx)
	if err != nil {
		logger.Warn().
			Err(err).
			Str("fallback", r.Fallback).
			Msg("Could not resolve latest version, using fallback")
		return r.Fallback, SourceFallback
	}

	if r.Cache != nil {
		if err := r.Cache.Put(v); err != nil {
			logger.Debug().Err(err).Msg("Version cache not persisted")
		}
	}
	return v, SourceUpstream
}

func (r *Resolver) latest(ctx context.Context) (string, error) {
	if r.LatestURL == "" {
		return "", fmt.Errorf("no release source configured")
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.LatestURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("release source returned %s", resp.Status)
	}

	var body struct {
		TagName string `json:"tag_name"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return "", fmt.Errorf("malformed release document: %w", err)
	}
	v := normalize(body.TagName)
	if v == "" {
		return "", fmt.Errorf("release document has no tag_name")
	}
	return v, nil
}

// normalize strips whitespace and a leading "v"
func normalize(version string) string {
	return strings.TrimPrefix(strings.TrimSpace(version), "v")
}
