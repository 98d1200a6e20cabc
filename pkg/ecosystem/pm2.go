package ecosystem

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/cuemby/burrow/pkg/system"
	"github.com/cuemby/burrow/pkg/types"
)

// PM2 drives the pm2 process supervisor
type PM2 struct {
	command   string
	ecosystem string
	runner    system.Runner
}

// NewPM2 creates a pm2 driver for the descriptor at ecosystemPath
func NewPM2(command, ecosystemPath string, runner system.Runner) *PM2 {
	if command == "" {
		command = "pm2"
	}
	return &PM2{command: command, ecosystem: ecosystemPath, runner: runner}
}

func (p *PM2) run(ctx context.Context, args ...string) (system.Output, error) {
	return p.runner.Run(ctx, system.Cmd(p.command, args...))
}

// ReloadAll applies the whole descriptor: new entries start, existing ones reload
func (p *PM2) ReloadAll(ctx context.Context) error {
	if _, err := p.run(ctx, "startOrReload", p.ecosystem); err != nil {
		return fmt.Errorf("failed to reload supervisor: %w", err)
	}
	return nil
}

// RestartOne restarts a single process from the descriptor
func (p *PM2) RestartOne(ctx context.Context, name string) error {
	if _, err := p.run(ctx, "startOrRestart", p.ecosystem, "--only", name); err != nil {
		return fmt.Errorf("failed to restart %s: %w", name, err)
	}
	return nil
}

// Start starts a process from the descriptor
func (p *PM2) Start(ctx context.Context, name string) error {
	if _, err := p.run(ctx, "start", p.ecosystem, "--only", name); err != nil {
		return fmt.Errorf("failed to start %s: %w", name, err)
	}
	return nil
}

// Stop stops a running process
func (p *PM2) Stop(ctx context.Context, name string) error {
	if _, err := p.run(ctx, "stop", name); err != nil {
		return fmt.Errorf("failed to stop %s: %w", name, err)
	}
	return nil
}

// Restart restarts a running process
func (p *PM2) Restart(ctx context.Context, name string) error {
	if _, err := p.run(ctx, "restart", name); err != nil {
		return fmt.Errorf("failed to restart %s: %w", name, err)
	}
	return nil
}

// Delete removes a process from the supervisor
func (p *PM2) Delete(ctx context.Context, name string) error {
	if _, err := p.run(ctx, "delete", name); err != nil {
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}
	return nil
}

// Save persists the supervisor's process list so it survives reboots
func (p *PM2) Save(ctx context.Context) error {
	if _, err := p.run(ctx, "save"); err != nil {
		return fmt.Errorf("failed to save supervisor state: %w", err)
	}
	return nil
}

// Logs returns the last lines of a process's output
func (p *PM2) Logs(ctx context.Context, name string, lines int) (string, error) {
	if lines <= 0 {
		lines = 100
	}
	out, err := p.run(ctx, "logs", name, "--lines", strconv.Itoa(lines), "--nostream", "--raw")
	if err != nil {
		return "", fmt.Errorf("failed to read logs of %s: %w", name, err)
	}
	return out.Stdout, nil
}

// jlistEntry is the subset of `pm2 jlist` output that burrow reads
type jlistEntry struct {
	Name  string `json:"name"`
	PID   int    `json:"pid"`
	Monit struct {
		Memory int64   `json:"memory"`
		CPU    float64 `json:"cpu"`
	} `json:"monit"`
	Env struct {
		Status      string `json:"status"`
		RestartTime int    `json:"restart_time"`
		Uptime      int64  `json:"pm_uptime"`
	} `json:"pm2_env"`
}

// Status returns the live state of every supervised process, keyed by name
func (p *PM2) Status(ctx context.Context) (map[string]*types.ProcessStatus, error) {
	out, err := p.run(ctx, "jlist")
	if err != nil {
		return nil, fmt.Errorf("failed to query supervisor: %w", err)
	}
	return ParseJList(out.Stdout)
}

// ParseJList parses `pm2 jlist` output. pm2 sometimes prints banner lines
// before the JSON array; they are skipped.
func ParseJList(raw string) (map[string]*types.ProcessStatus, error) {
	start := jsonStart(raw)
	if start < 0 {
		if strings.TrimSpace(raw) == "" {
			return map[string]*types.ProcessStatus{}, nil
		}
		return nil, fmt.Errorf("unexpected supervisor output: %q", firstLine(raw))
	}

	var entries []jlistEntry
	if err := json.Unmarshal([]byte(raw[start:]), &entries); err != nil {
		return nil, fmt.Errorf("failed to parse supervisor output: %w", err)
	}

	statuses := make(map[string]*types.ProcessStatus, len(entries))
	for _, e := range entries {
		statuses[e.Name] = &types.ProcessStatus{
			Name:        e.Name,
			Status:      e.Env.Status,
			PID:         e.PID,
			MemoryBytes: e.Monit.Memory,
			CPUPercent:  e.Monit.CPU,
			Restarts:    e.Env.RestartTime,
			UptimeSince: e.Env.Uptime,
		}
	}
	return statuses, nil
}

// jsonStart finds the JSON array in raw, skipping "[PM2] ..." banner lines
func jsonStart(raw string) int {
	offset := 0
	for _, line := range strings.SplitAfter(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[{") || strings.HasPrefix(trimmed, "[]") {
			return offset + strings.Index(line, "[")
		}
		offset += len(line)
	}
	return -1
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
