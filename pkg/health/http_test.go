package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHTTPChecker_Check(t *testing.T) {
	tests := []struct {
		name        string
		handler     http.HandlerFunc
		checker     func(url string) *HTTPChecker
		wantHealthy bool
	}{
		{
			name: "healthy endpoint",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"code":200,"message":"API is healthy."}`))
			},
			checker:     NewHTTPChecker,
			wantHealthy: true,
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			checker: NewHTTPChecker,
		},
		{
			name: "custom status range",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusFound)
			},
			checker: func(url string) *HTTPChecker {
				return NewHTTPChecker(url).WithStatusRange(200, 299)
			},
		},
		{
			name: "custom header",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("X-Probe") != "burrow" {
					w.WriteHeader(http.StatusBadRequest)
				}
			},
			checker: func(url string) *HTTPChecker {
				return NewHTTPChecker(url).WithHeader("X-Probe", "burrow")
			},
			wantHealthy: true,
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(200 * time.Millisecond)
			},
			checker: func(url string) *HTTPChecker {
				return NewHTTPChecker(url).WithTimeout(50 * time.Millisecond)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			result := tt.checker(server.URL).Check(context.Background())
			assert.Equal(t, tt.wantHealthy, result.Healthy, result.Message)
			assert.Positive(t, result.Duration)
		})
	}
}

func TestHTTPChecker_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := NewHTTPChecker(server.URL).Check(ctx)
	assert.False(t, result.Healthy)
}

func TestServerHealth(t *testing.T) {
	checker := ServerHealth(8091)
	assert.Equal(t, "http://127.0.0.1:8091/api/health", checker.URL)
	assert.Equal(t, CheckTypeHTTP, checker.Type())
}
