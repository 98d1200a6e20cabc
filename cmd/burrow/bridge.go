package main

import (
	"fmt"
	"os"

	"github.com/cuemby/burrow/pkg/bridge"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/orchestrator"
	"github.com/cuemby/burrow/pkg/system"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/spf13/cobra"
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge --action ACTION [--payload PAYLOAD]",
	Short: "Run one action for a programmatic caller",
	Long: `Run one action for a programmatic caller and print a single JSON envelope:

  {"success":true,"data":...,"messages":["..."]}

The secret is read from $` + bridge.EnvSecret + ` so that it never shows up in the
process list; --secret exists for manual runs. The payload is JSON,
optionally base64 encoded. The process exits non-zero when the action
failed. Logs go to stderr.

Actions: ` + fmt.Sprint(bridge.Names()),
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, _ := cmd.Flags().GetString("secret")
		if secret == "" {
			secret = os.Getenv(bridge.EnvSecret)
		}
		action, _ := cmd.Flags().GetString("action")
		payload, _ := cmd.Flags().GetString("payload")

		res := runBridge(cmd, bridge.Invocation{Secret: secret, Action: action, Payload: payload})
		if err := bridge.WriteEnvelope(stdout, res); err != nil {
			return err
		}
		if !res.Success {
			return errReported
		}
		return nil
	},
}

// runBridge never fails outside the envelope. An invocation with the wrong
// secret is turned away before any state is opened.
func runBridge(cmd *cobra.Command, inv bridge.Invocation) *types.Result {
	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return &types.Result{Error: err.Error(), Messages: []string{}}
	}
	if err := bridge.Authorize(cfg.Bridge.Secret, inv.Secret); err != nil {
		logger := log.WithComponent("bridge")
		logger.Warn().Str("action", inv.Action).Msg("Rejected bridge invocation with invalid secret")
		return &types.Result{Error: err.Error(), Messages: []string{}}
	}

	o, err := orchestrator.Open(cfg, path, system.NewExecRunner())
	if err != nil {
		return &types.Result{Error: err.Error(), Messages: []string{}}
	}
	return bridge.New(cfg.Bridge.Secret, o).Handle(cmd.Context(), inv)
}

var bridgeInitSecretCmd = &cobra.Command{
	Use:   "init-secret",
	Short: "Generate the bridge secret",
	Long: `Generate a random bridge secret and store it in the config file, both as
bridge.secret and as api.bridge_secret for an API running on this host.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		cfg, path, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Bridge.Secret != "" && !force {
			return fmt.Errorf("a bridge secret is already configured in %s; use --force to replace it", path)
		}

		secret, err := bridge.GenerateSecret()
		if err != nil {
			return err
		}
		cfg.Bridge.Secret = secret
		cfg.API.BridgeSecret = secret
		if err := cfg.Save(path); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "bridge secret written to %s\n", path)
		return nil
	},
}

func init() {
	bridgeCmd.Flags().String("secret", "", "Bridge secret (default $"+bridge.EnvSecret+")")
	bridgeCmd.Flags().String("action", "", "Action name")
	bridgeCmd.Flags().String("payload", "", "Action payload, JSON or base64 encoded JSON")

	bridgeInitSecretCmd.Flags().Bool("force", false, "Replace an existing secret")

	bridgeCmd.AddCommand(bridgeInitSecretCmd)
	rootCmd.AddCommand(bridgeCmd)
}

