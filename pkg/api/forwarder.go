package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/cuemby/burrow/pkg/bridge"
	"github.com/cuemby/burrow/pkg/system"
	"github.com/cuemby/burrow/pkg/types"
)

// Forwarder hands a validated action to the privileged side
type Forwarder interface {
	Forward(ctx context.Context, action string, payload []byte) (*types.Result, error)
}

// ExecForwarder runs `burrow bridge` for every request. The API process
// itself holds no privileges beyond the bridge secret.
type ExecForwarder struct {
	// Executable is the burrow binary, normally with a sudo prefix rule
	Executable string

	// Prefix is prepended to the command line, e.g.
	// ["sudo", "-n", "--preserve-env=BURROW_BRIDGE_SECRET"]
	Prefix []string

	ConfigPath string
	Secret     string
	Runner     system.Runner
}

// NewExecForwarder creates a forwarder for the given binary. An empty
// executable means the running binary.
func NewExecForwarder(executable, configPath, secret string, runner system.Runner) (*ExecForwarder, error) {
	if secret == "" {
		return nil, fmt.Errorf("api.bridge_secret is not configured")
	}
	if executable == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate burrow executable: %w", err)
		}
		executable = self
	}
	return &ExecForwarder{
		Executable: executable,
		ConfigPath: configPath,
		Secret:     secret,
		Runner:     runner,
	}, nil
}

// Forward runs the bridge and parses its envelope. The bridge exits non-zero
// when the operation failed; the envelope still describes the failure.
func (f *ExecForwarder) Forward(ctx context.Context, action string, payload []byte) (*types.Result, error) {
	args := []string{"bridge", "--action", action}
	if len(payload) > 0 {
		args = append(args, "--payload", base64.StdEncoding.EncodeToString(payload))
	}
	if f.ConfigPath != "" {
		args = append(args, "--config", f.ConfigPath)
	}

	name := f.Executable
	if len(f.Prefix) > 0 {
		name = f.Prefix[0]
		args = append(append(append([]string{}, f.Prefix[1:]...), f.Executable), args...)
	}

	// The secret travels in the environment, out of sight of ps. A sudo
	// prefix must keep it, e.g. sudo -n --preserve-env=BURROW_BRIDGE_SECRET.
	cmd := system.Cmd(name, args...).WithEnv(bridge.EnvSecret + "=" + f.Secret)
	out, runErr := f.Runner.Run(ctx, cmd)

	var res types.Result
	if err := json.Unmarshal([]byte(strings.TrimSpace(out.Stdout)), &res); err != nil {
		if runErr != nil {
			return nil, fmt.Errorf("bridge exited with status %d: %s", out.ExitCode, out.Combined())
		}
		return nil, fmt.Errorf("bridge returned an invalid envelope: %w", err)
	}
	return &res, nil
}
