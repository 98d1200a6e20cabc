package orchestrator

import (
	"context"
	"fmt"

	"github.com/cuemby/burrow/pkg/certs"
	"github.com/cuemby/burrow/pkg/release"
	"github.com/cuemby/burrow/pkg/saga"
	"github.com/cuemby/burrow/pkg/types"
)

// Provisioned is the data returned by Add and Clone
type Provisioned struct {
	Instance *types.Instance `json:"instance"`

	// TLS is set when the proxy serves the instance over HTTPS
	TLS bool `json:"tls"`

	// Admin carries the generated password, if one was generated
	Admin *types.AdminCredential `json:"admin,omitempty"`
}

// Add provisions a new instance: data directory, registry record, proxy
// config, optional certificate and a supervised process
func (o *Orchestrator) Add(ctx context.Context, req types.AddRequest) *types.Result {
	return o.run(ctx, "add", req.Name, true, func(ctx context.Context, l *saga.Log) (interface{}, error) {
		reg, err := o.registry.Load()
		if err != nil {
			return nil, err
		}
		inst, err := o.validateNew(reg, req)
		if err != nil {
			return nil, err
		}

		var created bool
		prepare := saga.Step{
			Name:  "create data directory",
			Fatal: true,
			Apply: func(ctx context.Context, l *saga.Log) error {
				var err error
				if created, err = o.data.Create(inst.Name); err != nil {
					return err
				}
				if created {
					l.Add("created data directory %s", inst.DataDirectory)
				} else {
					l.Add("reusing existing data directory %s", inst.DataDirectory)
				}
				return nil
			},
			Compensate: func(ctx context.Context, l *saga.Log) error {
				if !created {
					return nil
				}
				return o.data.Delete(inst.Name)
			},
		}

		return o.provision(ctx, l, reg, inst, req, prepare)
	})
}

// Clone provisions a new instance whose data directory is a copy of an
// existing instance's
func (o *Orchestrator) Clone(ctx context.Context, req types.CloneRequest) *types.Result {
	return o.run(ctx, "clone", req.Name, true, func(ctx context.Context, l *saga.Log) (interface{}, error) {
		reg, err := o.registry.Load()
		if err != nil {
			return nil, err
		}
		source, err := existing(reg, req.Source)
		if err != nil {
			return nil, err
		}
		if !o.data.Exists(source.Name) {
			return nil, invalid("source", "data directory of %s does not exist", source.Name)
		}
		inst, err := o.validateNew(reg, req.AddRequest)
		if err != nil {
			return nil, err
		}

		prepare := saga.Step{
			Name:  "copy data directory",
			Fatal: true,
			Apply: func(ctx context.Context, l *saga.Log) error {
				if err := o.data.Copy(source.Name, inst.Name); err != nil {
					return err
				}
				l.Add("copied data of %s to %s (%s)", source.Name, inst.DataDirectory, o.data.HumanSize(inst.Name))
				return nil
			},
			Compensate: func(ctx context.Context, l *saga.Log) error {
				return o.data.Delete(inst.Name)
			},
		}

		return o.provision(ctx, l, reg, inst, req.AddRequest, prepare)
	})
}

// provision runs the shared add/clone sequence after prepare has put the
// data directory in place
func (o *Orchestrator) provision(ctx context.Context, l *saga.Log, reg *types.Registry, inst *types.Instance, req types.AddRequest, prepare saga.Step) (interface{}, error) {
	snapshot := reg.Snapshot()
	provisioned := &Provisioned{Instance: inst}

	steps := []saga.Step{
		prepare,
		o.saveRegistryStep(reg, snapshot, func() { reg.Instances[inst.Name] = inst }),
		{
			Name:  "activate proxy config",
			Fatal: true,
			Apply: func(ctx context.Context, l *saga.Log) error {
				// The HTTP-only form serves the certificate challenge
				messages, err := o.proxy.Activate(ctx, site(inst, false))
				l.Append(messages...)
				return err
			},
			Compensate: func(ctx context.Context, l *saga.Log) error {
				messages, err := o.proxy.Remove(ctx, inst.Name)
				l.Append(messages...)
				return err
			},
		},
	}

	if inst.UseTLS {
		var outcome certs.Outcome
		steps = append(steps,
			saga.Step{
				Name: "certificate",
				Apply: func(ctx context.Context, l *saga.Log) error {
					outcome = o.certs.Run(ctx, certs.Request{
						Site:   site(inst, true),
						Email:  inst.CertificateEmail,
						Policy: req.DNS,
						Decide: o.decide,
					})
					l.Append(outcome.Messages...)
					return outcome.Err
				},
			},
			saga.Step{
				Name:  "final proxy activation",
				Fatal: true,
				Apply: func(ctx context.Context, l *saga.Log) error {
					messages, err := o.certs.Reconcile(ctx, site(inst, true), outcome)
					l.Append(messages...)
					provisioned.TLS = err == nil && outcome.Issued
					return err
				},
			},
		)
	}

	steps = append(steps,
		o.installBinaryStep(),
		o.descriptorStep(reg, snapshot),
		o.reloadStep("", inst.Name),
	)

	if req.Admin != nil {
		steps = append(steps, o.adminStep(inst, *req.Admin, provisioned))
	}

	if err := saga.New(l, steps...).Run(ctx); err != nil {
		return nil, err
	}

	if inst.UseTLS && !provisioned.TLS {
		l.Warn("%s was provisioned without TLS; run renew-certificates once DNS points at this host", inst.Name)
	}
	l.Add("instance %s is available at %s", inst.Name, o.view(inst, nil).URL)
	return provisioned, nil
}

// Reset wipes an instance's data directory and restarts its process. The
// registry record is not changed.
func (o *Orchestrator) Reset(ctx context.Context, req types.ResetRequest) *types.Result {
	return o.run(ctx, "reset", req.Name, true, func(ctx context.Context, l *saga.Log) (interface{}, error) {
		reg, err := o.registry.Load()
		if err != nil {
			return nil, err
		}
		inst, err := existing(reg, req.Name)
		if err != nil {
			return nil, err
		}
		if req.Admin != nil {
			if err := validateAdmin(req.Admin); err != nil {
				return nil, err
			}
		}

		provisioned := &Provisioned{Instance: inst, TLS: o.effectiveTLS(inst)}
		steps := []saga.Step{
			{
				Name: "stop process",
				Apply: func(ctx context.Context, l *saga.Log) error {
					if err := o.pm2.Stop(ctx, inst.Name); err != nil {
						return err
					}
					l.Add("stopped process %s", inst.Name)
					return nil
				},
			},
			{
				Name:  "reset data directory",
				Fatal: true,
				Apply: func(ctx context.Context, l *saga.Log) error {
					if err := o.data.Reset(inst.Name); err != nil {
						return err
					}
					l.Add("deleted and recreated data directory %s", inst.DataDirectory)
					return nil
				},
			},
			o.descriptorStep(reg, reg),
			o.reloadStep(inst.Name, ""),
		}
		if req.Admin != nil {
			steps = append(steps, o.adminStep(inst, *req.Admin, provisioned))
		}

		if err := saga.New(l, steps...).Run(ctx); err != nil {
			return nil, err
		}
		return provisioned, nil
	})
}

// Remove deletes an instance's process, registry record and proxy config,
// and its data directory when asked to. Certificates are kept.
func (o *Orchestrator) Remove(ctx context.Context, req types.RemoveRequest) *types.Result {
	return o.run(ctx, "remove", req.Name, true, func(ctx context.Context, l *saga.Log) (interface{}, error) {
		reg, err := o.registry.Load()
		if err != nil {
			return nil, err
		}
		inst, err := existing(reg, req.Name)
		if err != nil {
			return nil, err
		}
		snapshot := reg.Snapshot()

		steps := []saga.Step{
			{
				Name: "delete process",
				Apply: func(ctx context.Context, l *saga.Log) error {
					if err := o.pm2.Delete(ctx, inst.Name); err != nil {
						return err
					}
					l.Add("deleted process %s", inst.Name)
					return nil
				},
			},
		}
		if req.DeleteData {
			steps = append(steps, saga.Step{
				Name:  "delete data directory",
				Fatal: true,
				Apply: func(ctx context.Context, l *saga.Log) error {
					if err := o.data.Delete(inst.Name); err != nil {
						return err
					}
					l.Add("deleted data directory %s", inst.DataDirectory)
					return nil
				},
			})
		}
		steps = append(steps,
			o.saveRegistryStep(reg, snapshot, func() { delete(reg.Instances, inst.Name) }),
			saga.Step{
				Name: "remove proxy config",
				Apply: func(ctx context.Context, l *saga.Log) error {
					messages, err := o.proxy.Remove(ctx, inst.Name)
					l.Append(messages...)
					return err
				},
				Compensate: func(ctx context.Context, l *saga.Log) error {
					messages, err := o.proxy.Activate(ctx, site(inst, o.effectiveTLS(inst)))
					l.Append(messages...)
					return err
				},
			},
			o.descriptorStep(reg, snapshot),
			o.reloadStep("", ""),
		)

		if err := saga.New(l, steps...).Run(ctx); err != nil {
			return nil, err
		}

		if !req.DeleteData {
			l.Add("data directory %s kept", inst.DataDirectory)
		}
		if o.certs.Certbot.HasCertificate(inst.Domain) {
			l.Add("certificate for %s kept; delete it with: certbot delete --cert-name %s", inst.Domain, inst.Domain)
		}
		l.Add("instance %s removed", inst.Name)
		return inst, nil
	})
}

// saveRegistryStep applies mutate to reg and saves it. Compensation writes
// the snapshot back.
func (o *Orchestrator) saveRegistryStep(reg, snapshot *types.Registry, mutate func()) saga.Step {
	return saga.Step{
		Name:  "save registry",
		Fatal: true,
		Apply: func(ctx context.Context, l *saga.Log) error {
			mutate()
			if err := o.registry.Save(reg); err != nil {
				return err
			}
			l.Add("saved registry (%d instances)", len(reg.Instances))
			return nil
		},
		Compensate: func(ctx context.Context, l *saga.Log) error {
			return o.registry.Save(snapshot)
		},
	}
}

// descriptorStep writes the process descriptor for reg. Compensation writes
// the descriptor of snapshot.
func (o *Orchestrator) descriptorStep(reg, snapshot *types.Registry) saga.Step {
	return saga.Step{
		Name:  "write process descriptor",
		Fatal: true,
		Apply: func(ctx context.Context, l *saga.Log) error {
			if err := o.eco.Write(o.eco.Build(reg)); err != nil {
				return err
			}
			l.Add("wrote process descriptor %s (%d processes)", o.eco.Path, len(reg.Instances))
			return nil
		},
		Compensate: func(ctx context.Context, l *saga.Log) error {
			return o.eco.Write(o.eco.Build(snapshot))
		},
	}
}

// reloadStep applies the descriptor. When only is set just that process is
// restarted, otherwise the whole descriptor is reloaded. Compensation deletes
// the process named by started, if any.
func (o *Orchestrator) reloadStep(only, started string) saga.Step {
	step := saga.Step{
		Name:  "reload process supervisor",
		Fatal: true,
		Apply: func(ctx context.Context, l *saga.Log) error {
			if only != "" {
				if err := o.pm2.RestartOne(ctx, only); err != nil {
					return err
				}
				l.Add("restarted process %s", only)
			} else {
				if err := o.pm2.ReloadAll(ctx); err != nil {
					return err
				}
				l.Add("reloaded process supervisor")
			}

			if err := o.pm2.Save(ctx); err != nil {
				return err
			}
			l.Add("saved process supervisor state")
			return nil
		},
	}
	if started != "" {
		step.Compensate = func(ctx context.Context, l *saga.Log) error {
			if err := o.pm2.Delete(ctx, started); err != nil {
				return err
			}
			return o.pm2.Save(ctx)
		}
	}
	return step
}

func (o *Orchestrator) installBinaryStep() saga.Step {
	return saga.Step{
		Name:  "install server binary",
		Fatal: true,
		Apply: func(ctx context.Context, l *saga.Log) error {
			res, err := o.installer.Install(ctx, release.InstallOptions{})
			if err != nil {
				return err
			}
			if res.Installed {
				l.Add("installed server binary %s (%s)", res.Version, res.Source)
			}
			return nil
		},
	}
}

func (o *Orchestrator) adminStep(inst *types.Instance, admin types.AdminCredential, provisioned *Provisioned) saga.Step {
	return saga.Step{
		Name: "create admin account",
		Apply: func(ctx context.Context, l *saga.Log) error {
			generated := admin.Password == ""
			if generated {
				password, err := GeneratePassword()
				if err != nil {
					return err
				}
				admin.Password = password
			}
			if err := o.createAdmin(ctx, inst, admin); err != nil {
				return err
			}
			l.Add("created admin account %s", admin.Email)
			if generated {
				provisioned.Admin = &types.AdminCredential{Email: admin.Email, Password: admin.Password}
			}
			return nil
		},
	}
}

// String formats an outcome for the single-line CLI summary
func (p *Provisioned) String() string {
	scheme := "http"
	if p.TLS {
		scheme = "https"
	}
	return fmt.Sprintf("%s %s://%s -> 127.0.0.1:%d", p.Instance.Name, scheme, p.Instance.Domain, p.Instance.Port)
}
