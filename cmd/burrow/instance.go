package main

import (
	"fmt"
	"strconv"

	"github.com/cuemby/burrow/pkg/orchestrator"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var addCmd = &cobra.Command{
	Use:   "add NAME DOMAIN PORT",
	Short: "Provision a new instance",
	Long: `Provision a new instance: data directory, nginx virtual host, optional
TLS certificate and a pm2 process.

Examples:
  # HTTP only
  burrow add svc1 a.example.com 8091

  # With a certificate and an admin account
  burrow add svc1 a.example.com 8091 --tls --email ops@example.com \
    --admin-email admin@example.com`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := addRequest(cmd, args)
		if err != nil {
			return err
		}
		return provision(cmd, func(o *orchestrator.Orchestrator) *types.Result {
			return o.Add(cmd.Context(), req)
		})
	},
}

var cloneCmd = &cobra.Command{
	Use:   "clone SOURCE NAME DOMAIN PORT",
	Short: "Provision a new instance with a copy of another instance's data",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := addRequest(cmd, args[1:])
		if err != nil {
			return err
		}
		clone := types.CloneRequest{Source: args[0], AddRequest: req}
		return provision(cmd, func(o *orchestrator.Orchestrator) *types.Result {
			return o.Clone(cmd.Context(), clone)
		})
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove NAME",
	Short: "Remove an instance",
	Long: `Remove an instance's pm2 process, nginx configuration and registry entry.

The data directory is kept unless --delete-data is given. Certificates are
always kept; the command prints how to delete one.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		deleteData, _ := cmd.Flags().GetBool("delete-data")

		if deleteData {
			if err := newPrompter().confirmDestructive(cmd, name, "remove "+name+" and delete its data"); err != nil {
				return err
			}
		}

		o, err := openOrchestrator(cmd)
		if err != nil {
			return err
		}

		res := o.Remove(cmd.Context(), types.RemoveRequest{Name: name, DeleteData: deleteData})
		return report(stdout, res, jsonFlag(cmd))
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset NAME",
	Short: "Wipe an instance's data directory and restart it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if err := newPrompter().confirmDestructive(cmd, name, "delete all data of "+name); err != nil {
			return err
		}

		req := types.ResetRequest{Name: name, Admin: adminFlags(cmd.Flags())}
		return provision(cmd, func(o *orchestrator.Orchestrator) *types.Result {
			return o.Reset(cmd.Context(), req)
		})
	},
}

var resetCredentialCmd = &cobra.Command{
	Use:   "reset-credential NAME",
	Short: "Create or update an instance's admin account",
	Long: `Create or update the admin account of an instance.

Without --password the password is asked for on a terminal; leaving it empty,
or running without a terminal, generates one and prints it once.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")

		if password == "" {
			if p := newPrompter(); p.interactive {
				var err error
				if password, err = p.secret("Password (empty to generate): "); err != nil {
					return err
				}
			}
		}

		o, err := openOrchestrator(cmd)
		if err != nil {
			return err
		}

		res := o.ResetCredential(cmd.Context(), types.ResetCredentialRequest{
			Name:     args[0],
			Email:    email,
			Password: password,
		})
		if err := report(stdout, res, jsonFlag(cmd)); err != nil {
			return err
		}
		if cred, ok := res.Data.(types.AdminCredential); ok && cred.Password != "" && !jsonFlag(cmd) {
			fmt.Fprintf(stdout, "Generated password for %s: %s\n", cred.Email, cred.Password)
		}
		return nil
	},
}

func controlCmd(action types.ControlAction, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(action) + " NAME|all",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := openOrchestrator(cmd)
			if err != nil {
				return err
			}

			res := o.Control(cmd.Context(), types.ControlRequest{Action: action, Target: args[0]})
			return report(stdout, res, jsonFlag(cmd))
		},
	}
}

func init() {
	for _, cmd := range []*cobra.Command{addCmd, cloneCmd} {
		cmd.Flags().Bool("tls", false, "Request a Let's Encrypt certificate")
		cmd.Flags().String("email", "", "Certificate email (default certificates.default_email)")
		cmd.Flags().Bool("http2", false, "Enable HTTP/2 on the TLS listener")
		cmd.Flags().Bool("max-body-20mb", false, "Allow request bodies up to 20 MB")
		cmd.Flags().Bool("proceed-on-dns-mismatch", false, "Request a certificate even if the domain points elsewhere")
		cmd.Flags().Bool("proceed-on-unresolved", false, "Request a certificate even if the domain does not resolve")
		cmd.Flags().Bool("skip-dns-check", false, "Skip the DNS check before requesting a certificate")
		cmd.Flags().BoolP("yes", "y", false, "Do not ask about DNS problems; the --proceed flags decide")
	}
	for _, cmd := range []*cobra.Command{addCmd, cloneCmd, resetCmd} {
		cmd.Flags().String("admin-email", "", "Create an admin account with this email")
		cmd.Flags().String("admin-password", "", "Admin password (generated when empty)")
	}

	removeCmd.Flags().Bool("delete-data", false, "Also delete the data directory")
	addConfirmFlags(removeCmd)
	addConfirmFlags(resetCmd)

	resetCredentialCmd.Flags().String("email", "", "Admin account email (required)")
	resetCredentialCmd.Flags().String("password", "", "New password")
	_ = resetCredentialCmd.MarkFlagRequired("email")

	instanceCmds := []*cobra.Command{
		addCmd, cloneCmd, removeCmd, resetCmd, resetCredentialCmd,
		controlCmd(types.ControlStart, "Start an instance or all of them"),
		controlCmd(types.ControlStop, "Stop an instance or all of them"),
		controlCmd(types.ControlRestart, "Restart an instance or all of them"),
	}
	for _, cmd := range instanceCmds {
		addJSONFlag(cmd)
		rootCmd.AddCommand(cmd)
	}
}

// addRequest builds an AddRequest from NAME DOMAIN PORT and flags
func addRequest(cmd *cobra.Command, args []string) (types.AddRequest, error) {
	flags := cmd.Flags()
	port, err := strconv.Atoi(args[2])
	if err != nil {
		return types.AddRequest{}, fmt.Errorf("invalid port %q", args[2])
	}

	useTLS, _ := flags.GetBool("tls")
	email, _ := flags.GetString("email")
	http2, _ := flags.GetBool("http2")
	bigBody, _ := flags.GetBool("max-body-20mb")
	mismatch, _ := flags.GetBool("proceed-on-dns-mismatch")
	unresolved, _ := flags.GetBool("proceed-on-unresolved")
	skip, _ := flags.GetBool("skip-dns-check")

	return types.AddRequest{
		Name:             args[0],
		Domain:           args[1],
		Port:             port,
		UseTLS:           useTLS,
		CertificateEmail: email,
		UseHTTP2:         http2,
		MaxBodySize20MB:  bigBody,
		Admin:            adminFlags(cmd.Flags()),
		DNS: types.DNSPolicy{
			ProceedOnMismatch:   mismatch,
			ProceedOnUnresolved: unresolved,
			SkipCheck:           skip,
		},
	}, nil
}

func adminFlags(flags *pflag.FlagSet) *types.AdminCredential {
	email, _ := flags.GetString("admin-email")
	if email == "" {
		return nil
	}
	password, _ := flags.GetString("admin-password")
	return &types.AdminCredential{Email: email, Password: password}
}

// provision runs an operation that ends with a provisioned instance and
// prints its summary
func provision(cmd *cobra.Command, op func(*orchestrator.Orchestrator) *types.Result) error {
	o, err := openOrchestrator(cmd)
	if err != nil {
		return err
	}

	// Ask about DNS problems on a terminal unless --yes leaves it to the flags
	yes, _ := cmd.Flags().GetBool("yes")
	if p := newPrompter(); p.interactive && !yes && cmd.Flags().Lookup("tls") != nil {
		o.SetDNSDecider(p.dnsDecider())
	}

	res := op(o)
	asJSON := jsonFlag(cmd)
	if err := report(stdout, res, asJSON); err != nil {
		return err
	}
	if p, ok := res.Data.(*orchestrator.Provisioned); ok && !asJSON {
		fmt.Fprintln(stdout, p.String())
		if p.Admin != nil && p.Admin.Password != "" {
			fmt.Fprintf(stdout, "Generated admin password for %s: %s\n", p.Admin.Email, p.Admin.Password)
		}
	}
	return nil
}

func addJSONFlag(cmd *cobra.Command) {
	cmd.Flags().Bool("json", false, "Print the result envelope as JSON")
}

func jsonFlag(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}
