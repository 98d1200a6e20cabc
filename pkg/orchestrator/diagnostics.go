package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/cuemby/burrow/pkg/fsutil"
	"github.com/cuemby/burrow/pkg/health"
	"github.com/cuemby/burrow/pkg/release"
	"github.com/cuemby/burrow/pkg/saga"
	"github.com/cuemby/burrow/pkg/system"
	"github.com/cuemby/burrow/pkg/types"
)

// Diagnostics is a point-in-time report of the host and every instance
type Diagnostics struct {
	Healthy    bool                  `json:"healthy"`
	Convention string                `json:"convention"`
	Tools      []health.Report       `json:"tools"`
	Binary     BinaryDiagnostics     `json:"binary"`
	Registry   RegistryDiagnostics   `json:"registry"`
	Instances  []InstanceDiagnostics `json:"instances"`
	Recent     []*types.Operation    `json:"recent,omitempty"`
}

// BinaryDiagnostics describes the installed server executable
type BinaryDiagnostics struct {
	Path        string `json:"path"`
	Installed   bool   `json:"installed"`
	Version     string `json:"version,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// RegistryDiagnostics summarises the registry
type RegistryDiagnostics struct {
	Path      string `json:"path"`
	Instances int    `json:"instances"`
	TLS       int    `json:"tls"`
	Online    int    `json:"online"`
}

// InstanceDiagnostics is the state of one instance across every system
type InstanceDiagnostics struct {
	Name           string          `json:"name"`
	Status         string          `json:"status"`
	DataSize       string          `json:"dataSize"`
	ProxyConfig    bool            `json:"proxyConfig"`
	HasCertificate bool            `json:"hasCertificate"`
	Probes         []health.Report `json:"probes"`
}

// Diagnostics probes the external tools, every instance and the binary
func (o *Orchestrator) Diagnostics(ctx context.Context) *types.Result {
	return o.run(ctx, "get-diagnostics", "", false, func(ctx context.Context, l *saga.Log) (interface{}, error) {
		views, err := o.Views(ctx, l)
		if err != nil {
			return nil, err
		}

		d := &Diagnostics{
			Convention: string(o.proxy.Layout().Convention),
			Tools:      health.Run(ctx, o.toolProbes()),
			Binary:     o.binaryDiagnostics(ctx),
			Registry: RegistryDiagnostics{
				Path:      o.registry.Path(),
				Instances: len(views),
			},
		}
		d.Healthy = health.Healthy(d.Tools) && d.Binary.Installed

		for _, v := range views {
			if v.UseTLS {
				d.Registry.TLS++
			}
			status := "unknown"
			if v.Process != nil {
				status = v.Process.Status
				if status == "online" {
					d.Registry.Online++
				}
			}

			probes := health.Run(ctx, []health.Probe{
				{Name: fmt.Sprintf("%s port %d", v.Name, v.Port), Checker: health.Port(v.Port)},
				{Name: fmt.Sprintf("%s health", v.Name), Checker: health.ServerHealth(v.Port)},
			})
			if !health.Healthy(probes) {
				d.Healthy = false
			}

			d.Instances = append(d.Instances, InstanceDiagnostics{
				Name:           v.Name,
				Status:         status,
				DataSize:       o.data.HumanSize(v.Name),
				ProxyConfig:    fsutil.Exists(o.proxy.ConfigPath(v.Name)),
				HasCertificate: v.HasCertificate,
				Probes:         probes,
			})
		}

		if o.journal != nil {
			recent, err := o.journal.Recent(5)
			if err != nil {
				l.Warn("operation journal unreadable: %v", err)
			}
			d.Recent = recent
		}

		for _, t := range d.Tools {
			if !t.Healthy {
				l.Warn("%s: %s", t.Name, t.Message)
			}
		}
		l.Add("%d instances, %d online, %d with TLS", d.Registry.Instances, d.Registry.Online, d.Registry.TLS)
		return d, nil
	})
}

func (o *Orchestrator) toolProbes() []health.Probe {
	return []health.Probe{
		{Name: "nginx", Checker: health.NewExecChecker(o.runner, o.cfg.Proxy.Command, "-v")},
		{Name: "pm2", Checker: health.NewExecChecker(o.runner, o.cfg.Supervisor.Command, "--version")},
		{Name: "certbot", Checker: health.NewExecChecker(o.runner, o.cfg.Certificates.Command, "--version")},
		{Name: "openssl", Checker: health.NewExecChecker(o.runner, "openssl", "version")},
	}
}

func (o *Orchestrator) binaryDiagnostics(ctx context.Context) BinaryDiagnostics {
	b := BinaryDiagnostics{Path: o.installer.Path(), Installed: o.installer.Installed()}
	if !b.Installed {
		return b
	}

	out, err := o.runner.Run(ctx, system.Cmd(b.Path, "--version"))
	if err == nil {
		// "pocketbase version 0.22.21"
		fields := strings.Fields(out.Stdout)
		if len(fields) > 0 {
			b.Version = fields[len(fields)-1]
		}
	}
	if sum, err := release.Fingerprint(b.Path); err == nil {
		b.Fingerprint = sum
	}
	return b
}
