package main

import (
	"fmt"

	"github.com/cuemby/burrow/pkg/orchestrator"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List instances with their process status",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := openOrchestrator(cmd)
		if err != nil {
			return err
		}

		res := o.List(cmd.Context())
		if jsonFlag(cmd) {
			return report(stdout, res, true)
		}
		if err := report(stdout, res, false); err != nil {
			return err
		}
		views, _ := res.Data.([]types.InstanceView)
		printInstances(stdout, views)
		return nil
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs NAME",
	Short: "Show recent process output of an instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lines, _ := cmd.Flags().GetInt("lines")

		o, err := openOrchestrator(cmd)
		if err != nil {
			return err
		}

		res := o.Logs(cmd.Context(), types.LogsRequest{Name: args[0], Lines: lines})
		if jsonFlag(cmd) {
			return report(stdout, res, true)
		}
		if err := report(stdout, res, false); err != nil {
			return err
		}
		if out, ok := res.Data.(string); ok {
			fmt.Fprint(stdout, out)
		}
		return nil
	},
}

var diagnosticsCmd = &cobra.Command{
	Use:   "diagnostics",
	Short: "Check the external tools, the server binary and every instance",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := openOrchestrator(cmd)
		if err != nil {
			return err
		}

		res := o.Diagnostics(cmd.Context())
		if jsonFlag(cmd) {
			return report(stdout, res, true)
		}
		if err := report(stdout, res, false); err != nil {
			return err
		}
		if d, ok := res.Data.(*orchestrator.Diagnostics); ok {
			printDiagnostics(stdout, d)
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [NAME]",
	Short: "Show recently journaled operations",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("limit")
		name := ""
		if len(args) == 1 {
			name = args[0]
		}

		o, err := openOrchestrator(cmd)
		if err != nil {
			return err
		}

		res := o.History(cmd.Context(), name, n)
		if jsonFlag(cmd) {
			return report(stdout, res, true)
		}
		if err := report(stdout, res, false); err != nil {
			return err
		}
		ops, _ := res.Data.([]*types.Operation)
		printHistory(stdout, ops)
		return nil
	},
}

var renewCmd = &cobra.Command{
	Use:   "renew-certificates",
	Short: "Renew certificates and refresh the TLS proxy configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		return simple(cmd, func(o *orchestrator.Orchestrator) *types.Result {
			return o.RenewCertificates(cmd.Context(), types.RenewRequest{Force: force})
		})
	},
}

var updateBinaryCmd = &cobra.Command{
	Use:   "update-binary",
	Short: "Install the latest (or a given) server release and reload every instance",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		version, _ := cmd.Flags().GetString("version")
		return simple(cmd, func(o *orchestrator.Orchestrator) *types.Result {
			return o.UpdateBinary(cmd.Context(), types.UpdateBinaryRequest{Version: version})
		})
	},
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild-ecosystem",
	Short: "Regenerate the pm2 descriptor from the registry and reload",
	Long: `Regenerate the pm2 descriptor from the registry and reload every process.

Use this after an interrupted operation left pm2 out of step with the registry.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return simple(cmd, func(o *orchestrator.Orchestrator) *types.Result {
			return o.RebuildEcosystem(cmd.Context())
		})
	},
}

var setEmailCmd = &cobra.Command{
	Use:   "set-email EMAIL",
	Short: "Set the default certificate email",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return simple(cmd, func(o *orchestrator.Orchestrator) *types.Result {
			return o.SetDefaultEmail(cmd.Context(), types.SetEmailRequest{Email: args[0]})
		})
	},
}

func init() {
	logsCmd.Flags().IntP("lines", "n", 100, "Number of lines")
	historyCmd.Flags().IntP("limit", "n", orchestrator.DefaultHistory, "Number of operations")
	renewCmd.Flags().Bool("force", false, "Renew even if the certificates are not due")
	updateBinaryCmd.Flags().String("version", "", "Release to install (default latest)")

	for _, cmd := range []*cobra.Command{
		listCmd, logsCmd, diagnosticsCmd, historyCmd,
		renewCmd, updateBinaryCmd, rebuildCmd, setEmailCmd,
	} {
		addJSONFlag(cmd)
		rootCmd.AddCommand(cmd)
	}
}

// simple runs an operation whose outcome is fully described by its messages
func simple(cmd *cobra.Command, op func(*orchestrator.Orchestrator) *types.Result) error {
	o, err := openOrchestrator(cmd)
	if err != nil {
		return err
	}
	return report(stdout, op(o), jsonFlag(cmd))
}
