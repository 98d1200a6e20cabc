package health

import (
	"context"
	"time"
)

// CheckType represents the type of health check
type CheckType string

const (
	CheckTypeHTTP CheckType = "http"
	CheckTypeTCP  CheckType = "tcp"
	CheckTypeExec CheckType = "exec"
)

// Result represents the outcome of a health check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface that all health checkers must implement
type Checker interface {
	// Check performs the health check and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of health check
	Type() CheckType
}

// Probe is a named check, e.g. "svc1 port" or "nginx"
type Probe struct {
	Name    string
	Checker Checker
}

// Report is the serialisable outcome of one probe
type Report struct {
	Name       string    `json:"name"`
	Type       CheckType `json:"type"`
	Healthy    bool      `json:"healthy"`
	Message    string    `json:"message"`
	DurationMS int64     `json:"durationMs"`
}

// Run executes probes one after another, in order
func Run(ctx context.Context, probes []Probe) []Report {
	reports := make([]Report, 0, len(probes))
	for _, p := range probes {
		result := p.Checker.Check(ctx)
		reports = append(reports, Report{
			Name:       p.Name,
			Type:       p.Checker.Type(),
			Healthy:    result.Healthy,
			Message:    result.Message,
			DurationMS: result.Duration.Milliseconds(),
		})
	}
	return reports
}

// Healthy reports whether every report is healthy
func Healthy(reports []Report) bool {
	for _, r := range reports {
		if !r.Healthy {
			return false
		}
	}
	return true
}
