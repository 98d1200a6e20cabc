package release

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_Resolve(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		override   string
		wantVer    string
		wantSource Source
	}{
		{
			name: "upstream",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"tag_name":"v0.30.1","name":"v0.30.1"}`)
			},
			wantVer:    "0.30.1",
			wantSource: SourceUpstream,
		},
		{
			name: "override wins",
			handler: func(w http.ResponseWriter, r *http.Request) {
				t.Error("upstream must not be queried")
			},
			override:   "v0.29.0",
			wantVer:    "0.29.0",
			wantSource: SourceOverride,
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusForbidden)
			},
			wantVer:    "0.22.21",
			wantSource: SourceFallback,
		},
		{
			name: "malformed",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `<html>rate limited</html>`)
			},
			wantVer:    "0.22.21",
			wantSource: SourceFallback,
		},
		{
			name: "missing tag",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"name":"latest"}`)
			},
			wantVer:    "0.22.21",
			wantSource: SourceFallback,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			r := &Resolver{
				Cache:     NewVersionCache(filepath.Join(t.TempDir(), "cache.json")),
				LatestURL: srv.URL,
				Fallback:  "0.22.21",
				Client:    srv.Client(),
			}

			v, source := r.Resolve(context.Background(), tt.override)
			assert.Equal(t, tt.wantVer, v)
			assert.Equal(t, tt.wantSource, source)
		})
	}
}

func TestResolver_CachesUpstream(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, `{"tag_name":"v0.30.1"}`)
	}))
	defer srv.Close()

	r := &Resolver{
		Cache:     NewVersionCache(filepath.Join(t.TempDir(), "cache.json")),
		LatestURL: srv.URL,
		Fallback:  "0.22.21",
		Client:    srv.Client(),
	}

	v, source := r.Resolve(context.Background(), "")
	assert.Equal(t, "0.30.1", v)
	assert.Equal(t, SourceUpstream, source)

	v, source = r.Resolve(context.Background(), "")
	assert.Equal(t, "0.30.1", v)
	assert.Equal(t, SourceCache, source)

	assert.Equal(t, int32(1), hits.Load())
}

func TestResolver_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	r := &Resolver{LatestURL: srv.URL, Fallback: "0.22.21", Client: srv.Client(), Timeout: 50 * time.Millisecond}

	start := time.Now()
	v, source := r.Resolve(context.Background(), "")
	require.Less(t, time.Since(start), time.Second)
	assert.Equal(t, "0.22.21", v)
	assert.Equal(t, SourceFallback, source)
}

func TestResolver_UnwritableCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"tag_name":"v0.30.1"}`)
	}))
	defer srv.Close()

	// A regular file where the cache directory should be
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	r := &Resolver{
		Cache:     NewVersionCache(filepath.Join(blocker, "cache.json")),
		LatestURL: srv.URL,
		Fallback:  "0.22.21",
		Client:    srv.Client(),
	}

	v, source := r.Resolve(context.Background(), "")
	assert.Equal(t, "0.30.1", v)
	assert.Equal(t, SourceUpstream, source)
}
