package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/cuemby/burrow/pkg/release"
	"github.com/cuemby/burrow/pkg/saga"
	"github.com/cuemby/burrow/pkg/types"
	"go.uber.org/multierr"
)

// DefaultHistory is the number of journal entries History returns by default
const DefaultHistory = 20

// List returns every instance with its live process status. A supervisor
// that cannot be queried only produces a warning.
func (o *Orchestrator) List(ctx context.Context) *types.Result {
	return o.run(ctx, "list", "", false, func(ctx context.Context, l *saga.Log) (interface{}, error) {
		views, err := o.Views(ctx, l)
		if err != nil {
			return nil, err
		}
		l.Add("%d instances", len(views))
		return views, nil
	})
}

// Views loads the registry and joins it with the supervisor's status
func (o *Orchestrator) Views(ctx context.Context, l *saga.Log) ([]types.InstanceView, error) {
	reg, err := o.registry.Load()
	if err != nil {
		return nil, err
	}

	statuses, err := o.pm2.Status(ctx)
	if err != nil {
		l.Warn("process status unavailable: %v", err)
		statuses = nil
	}

	views := make([]types.InstanceView, 0, len(reg.Instances))
	for _, inst := range reg.Sorted() {
		views = append(views, o.view(inst, statuses))
	}
	return views, nil
}

// ResetCredential creates or updates an instance's administrative account.
// An empty password is replaced with a generated one, returned as data.
func (o *Orchestrator) ResetCredential(ctx context.Context, req types.ResetCredentialRequest) *types.Result {
	return o.run(ctx, "reset-credential", req.Name, true, func(ctx context.Context, l *saga.Log) (interface{}, error) {
		reg, err := o.registry.Load()
		if err != nil {
			return nil, err
		}
		inst, err := existing(reg, req.Name)
		if err != nil {
			return nil, err
		}
		cred := types.AdminCredential{Email: strings.TrimSpace(req.Email), Password: req.Password}
		if err := validateAdmin(&cred); err != nil {
			return nil, err
		}

		generated := cred.Password == ""
		if generated {
			if cred.Password, err = GeneratePassword(); err != nil {
				return nil, err
			}
		}

		if err := o.createAdmin(ctx, inst, cred); err != nil {
			return nil, err
		}
		l.Add("admin account %s updated for %s", cred.Email, inst.Name)
		if !generated {
			cred.Password = ""
		}
		return cred, nil
	})
}

// RenewCertificates runs certbot renew and re-renders the proxy config of
// every TLS instance
func (o *Orchestrator) RenewCertificates(ctx context.Context, req types.RenewRequest) *types.Result {
	return o.run(ctx, "renew-certificates", "", true, func(ctx context.Context, l *saga.Log) (interface{}, error) {
		reg, err := o.registry.Load()
		if err != nil {
			return nil, err
		}

		output, err := o.certs.Certbot.Renew(ctx, req.Force)
		if err != nil {
			return nil, err
		}
		if summary := lastLine(output); summary != "" {
			l.Add("certbot: %s", summary)
		}
		l.Add("certificate renewal finished")

		var errs error
		var served []string
		for _, inst := range reg.Sorted() {
			if !inst.UseTLS {
				continue
			}
			tls := o.effectiveTLS(inst)
			messages, err := o.proxy.Activate(ctx, site(inst, tls))
			l.Append(messages...)
			if err != nil {
				l.Warn("proxy config of %s failed: %v", inst.Name, err)
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", inst.Name, err))
				continue
			}
			if !tls {
				l.Warn("no certificate for %s; %s is served over HTTP only", inst.Name, inst.Domain)
				continue
			}
			served = append(served, inst.Name)
		}
		return served, errs
	})
}

// UpdateBinary installs the requested (or latest) server build and reloads
// every process
func (o *Orchestrator) UpdateBinary(ctx context.Context, req types.UpdateBinaryRequest) *types.Result {
	return o.run(ctx, "update-binary", "", true, func(ctx context.Context, l *saga.Log) (interface{}, error) {
		reg, err := o.registry.Load()
		if err != nil {
			return nil, err
		}

		res, err := o.installer.Install(ctx, release.InstallOptions{
			Version: strings.TrimPrefix(strings.TrimSpace(req.Version), "v"),
			Force:   true,
		})
		if err != nil {
			return nil, err
		}
		switch {
		case res.Concurrent:
			l.Add("server binary %s was installed by a concurrent update and kept", res.Path)
		case res.Installed:
			l.Add("installed server binary %s (%s)", res.Version, res.Source)
		default:
			l.Add("server binary %s already present", res.Path)
		}

		if len(reg.Instances) == 0 {
			l.Add("no instances to reload")
			return res, nil
		}
		if err := o.applyEcosystem(ctx, l, reg, ""); err != nil {
			return res, err
		}
		return res, nil
	})
}

// RebuildEcosystem regenerates the process descriptor from the registry and
// reloads the supervisor. It is the recovery path after an interrupted operation.
func (o *Orchestrator) RebuildEcosystem(ctx context.Context) *types.Result {
	return o.run(ctx, "rebuild-ecosystem", "", true, func(ctx context.Context, l *saga.Log) (interface{}, error) {
		reg, err := o.registry.Load()
		if err != nil {
			return nil, err
		}
		if err := o.applyEcosystem(ctx, l, reg, ""); err != nil {
			return nil, err
		}
		return o.eco.Build(reg), nil
	})
}

// SetDefaultEmail changes the email used for certificates when a request
// does not carry one
func (o *Orchestrator) SetDefaultEmail(ctx context.Context, req types.SetEmailRequest) *types.Result {
	return o.run(ctx, "set-default-email", "", true, func(ctx context.Context, l *saga.Log) (interface{}, error) {
		email := strings.TrimSpace(req.Email)
		if err := ValidateEmail(email); err != nil {
			return nil, err
		}

		previous := o.cfg.Certificates.DefaultEmail
		o.cfg.Certificates.DefaultEmail = email
		if err := o.cfg.Save(o.configPath); err != nil {
			o.cfg.Certificates.DefaultEmail = previous
			return nil, err
		}
		l.Add("default certificate email set to %s", email)
		return email, nil
	})
}

// Logs returns recent supervisor output of one instance
func (o *Orchestrator) Logs(ctx context.Context, req types.LogsRequest) *types.Result {
	return o.run(ctx, "get-logs", req.Name, false, func(ctx context.Context, l *saga.Log) (interface{}, error) {
		reg, err := o.registry.Load()
		if err != nil {
			return nil, err
		}
		inst, err := existing(reg, req.Name)
		if err != nil {
			return nil, err
		}
		return o.pm2.Logs(ctx, inst.Name, req.Lines)
	})
}

// Control starts, stops or restarts one instance or all of them, one after
// another. Every target is attempted; the error lists the ones that failed.
func (o *Orchestrator) Control(ctx context.Context, req types.ControlRequest) *types.Result {
	return o.run(ctx, string(req.Action), req.Target, true, func(ctx context.Context, l *saga.Log) (interface{}, error) {
		var apply func(context.Context, string) error
		switch req.Action {
		case types.ControlStart:
			apply = o.pm2.Start
		case types.ControlStop:
			apply = o.pm2.Stop
		case types.ControlRestart:
			apply = o.pm2.Restart
		default:
			return nil, invalid("action", "unknown action %q", req.Action)
		}

		reg, err := o.registry.Load()
		if err != nil {
			return nil, err
		}

		targets := reg.Names()
		if req.Target != "all" {
			inst, err := existing(reg, req.Target)
			if err != nil {
				return nil, err
			}
			targets = []string{inst.Name}
		}
		if len(targets) == 0 {
			l.Add("no instances")
			return targets, nil
		}

		var errs error
		for _, name := range targets {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := apply(ctx, name); err != nil {
				l.Warn("%s %s failed: %v", req.Action, name, err)
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
				continue
			}
			l.Add("%s: %s", name, pastTense(req.Action))
		}

		if err := o.pm2.Save(ctx); err != nil {
			l.Warn("saving process supervisor state failed: %v", err)
		}
		return targets, errs
	})
}

// History returns journaled operations, most recent first. An empty name
// returns operations on every instance.
func (o *Orchestrator) History(ctx context.Context, name string, n int) *types.Result {
	return o.run(ctx, "history", name, false, func(ctx context.Context, l *saga.Log) (interface{}, error) {
		if o.journal == nil {
			return nil, fmt.Errorf("operation journal unavailable")
		}
		if n <= 0 {
			n = DefaultHistory
		}
		if name != "" {
			return o.journal.ForInstance(name, n)
		}
		return o.journal.Recent(n)
	})
}

func pastTense(action types.ControlAction) string {
	switch action {
	case types.ControlStart:
		return "started"
	case types.ControlStop:
		return "stopped"
	default:
		return "restarted"
	}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
