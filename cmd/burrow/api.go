package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/burrow/pkg/api"
	"github.com/cuemby/burrow/pkg/bridge"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/system"
	"github.com/spf13/cobra"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Run and manage the HTTP API",
}

var apiServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve the HTTP API. Every accepted request runs "burrow bridge" with
api.bridge_secret in $BURROW_BRIDGE_SECRET, optionally through api.prefix.
A sudo prefix must keep that variable, for example
[sudo, -n, --preserve-env=BURROW_BRIDGE_SECRET].`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
			cfg.API.Listen = listen
		}

		forwarder, err := api.NewExecForwarder(cfg.API.Executable, path, cfg.API.BridgeSecret, system.NewExecRunner())
		if err != nil {
			return err
		}
		forwarder.Prefix = cfg.API.Prefix

		server, err := api.NewServer(api.Config{
			Listen:        cfg.API.Listen,
			JWTKey:        []byte(cfg.API.JWTKey),
			RatePerSecond: cfg.API.RatePerSecond,
			Burst:         cfg.API.Burst,
			Version:       Version,
		}, forwarder)
		if err != nil {
			return err
		}

		errCh := make(chan error, 1)
		go func() {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("API server error: %w", err)
			}
			close(errCh)
		}()

		select {
		case <-cmd.Context().Done():
			log.Info("Shutting down API")
		case err := <-errCh:
			if err != nil {
				return err
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	},
}

var apiTokenCmd = &cobra.Command{
	Use:   "token SUBJECT",
	Short: "Issue a bearer token for the API",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scope, _ := cmd.Flags().GetString("scope")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		token, err := api.IssueToken([]byte(cfg.API.JWTKey), args[0], scope, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, token)
		return nil
	},
}

var apiInitKeyCmd = &cobra.Command{
	Use:   "init-key",
	Short: "Generate the token signing key",
	Long: `Generate a random token signing key and store it in the config file.
Replacing the key invalidates every token issued with the previous one.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		cfg, path, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.API.JWTKey != "" && !force {
			return fmt.Errorf("a signing key is already configured in %s; use --force to replace it", path)
		}

		key, err := bridge.GenerateSecret()
		if err != nil {
			return err
		}
		cfg.API.JWTKey = key
		if err := cfg.Save(path); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "signing key written to %s\n", path)
		return nil
	},
}

func init() {
	apiServeCmd.Flags().String("listen", "", "Listen address (default api.listen)")
	apiTokenCmd.Flags().String("scope", api.ScopeRead, "Token scope: read or admin")
	apiTokenCmd.Flags().Duration("ttl", 30*24*time.Hour, "Token lifetime")
	apiInitKeyCmd.Flags().Bool("force", false, "Replace an existing key")

	apiCmd.AddCommand(apiServeCmd)
	apiCmd.AddCommand(apiTokenCmd)
	apiCmd.AddCommand(apiInitKeyCmd)
	rootCmd.AddCommand(apiCmd)
}
