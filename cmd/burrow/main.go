package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/orchestrator"
	"github.com/cuemby/burrow/pkg/system"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// errReported signals a failure whose details were already printed
var errReported = errors.New("operation failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "burrow",
	Short: "Burrow - single-host instance orchestrator",
	Long: `Burrow provisions and supervises server instances on a single host.

Each instance is a process run by pm2, an nginx virtual host in front of it
and, optionally, a Let's Encrypt certificate obtained with certbot. The
instance registry is the source of truth; the pm2 descriptor and the nginx
configuration are regenerated from it.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initLogging(cmd)
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Burrow version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "Config file (default $BURROW_CONFIG or "+config.DefaultPath+")")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Write logs as JSON")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Burrow version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

// configPath resolves the config file from the flag and the environment
func configPath(cmd *cobra.Command) string {
	flag, _ := cmd.Flags().GetString("config")
	return config.ResolvePath(flag)
}

// loadConfig reads the configuration in effect for cmd
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path := configPath(cmd)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// initLogging configures the global logger from the config file, with
// command-line flags taking precedence. An unreadable config file is
// reported by the command itself.
func initLogging(cmd *cobra.Command) error {
	level := log.InfoLevel
	jsonOutput := false

	if cfg, err := config.Load(configPath(cmd)); err == nil {
		level = log.Level(cfg.Log.Level)
		jsonOutput = cfg.Log.JSON
	}
	if flag, _ := cmd.Flags().GetString("log-level"); flag != "" {
		level = log.Level(flag)
	}
	if cmd.Flags().Changed("log-json") {
		jsonOutput, _ = cmd.Flags().GetBool("log-json")
	}

	log.Init(log.Config{Level: level, JSONOutput: jsonOutput, Output: os.Stderr})
	return nil
}

// openOrchestrator loads configuration and wires the orchestrator against
// the real system
func openOrchestrator(cmd *cobra.Command) (*orchestrator.Orchestrator, error) {
	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	o, err := orchestrator.Open(cfg, path, system.NewExecRunner())
	if err != nil {
		return nil, fmt.Errorf("failed to initialise: %w", err)
	}
	return o, nil
}
