package orchestrator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/cuemby/burrow/pkg/certs"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/datadir"
	"github.com/cuemby/burrow/pkg/ecosystem"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/nginx"
	"github.com/cuemby/burrow/pkg/release"
	"github.com/cuemby/burrow/pkg/saga"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/system"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/google/uuid"
)

// DefaultLockTimeout bounds how long a mutating operation waits for the registry lock
const DefaultLockTimeout = 30 * time.Second

// Journal records completed operations
type Journal interface {
	Record(op *types.Operation) error
	Recent(n int) ([]*types.Operation, error)
	ForInstance(name string, n int) ([]*types.Operation, error)
}

// Deps are the collaborators of an Orchestrator
type Deps struct {
	Config     *config.Config
	ConfigPath string

	Registry  *storage.RegistryStore
	Journal   Journal
	Data      *datadir.Manager
	Proxy     *nginx.Manager
	Certs     *certs.Workflow
	Ecosystem *ecosystem.Builder
	PM2       *ecosystem.PM2
	Installer *release.Installer
	Runner    system.Runner

	LockTimeout time.Duration
}

// Orchestrator runs the instance lifecycle operations. Every operation
// returns a *types.Result and never panics.
type Orchestrator struct {
	cfg        *config.Config
	configPath string

	registry  *storage.RegistryStore
	journal   Journal
	data      *datadir.Manager
	proxy     *nginx.Manager
	certs     *certs.Workflow
	eco       *ecosystem.Builder
	pm2       *ecosystem.PM2
	installer *release.Installer
	runner    system.Runner

	lockTimeout time.Duration

	// decide, when set, is asked whether to continue after a failed DNS check
	decide func(certs.DNSReport) bool
}

// New creates an orchestrator from explicit collaborators
func New(deps Deps) *Orchestrator {
	lockTimeout := deps.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &Orchestrator{
		cfg:         deps.Config,
		configPath:  deps.ConfigPath,
		registry:    deps.Registry,
		journal:     deps.Journal,
		data:        deps.Data,
		proxy:       deps.Proxy,
		certs:       deps.Certs,
		eco:         deps.Ecosystem,
		pm2:         deps.PM2,
		installer:   deps.Installer,
		runner:      deps.Runner,
		lockTimeout: lockTimeout,
	}
}

// Open wires every collaborator from configuration
func Open(cfg *config.Config, configPath string, runner system.Runner) (*Orchestrator, error) {
	logger := log.WithComponent("orchestrator")

	data, err := datadir.NewManager(cfg.Paths.Instances)
	if err != nil {
		return nil, err
	}

	convention := nginx.Detect(cfg.Proxy.OSRelease, cfg.Proxy.Root)
	if cfg.Proxy.Convention != "" {
		if convention, err = nginx.ParseConvention(cfg.Proxy.Convention); err != nil {
			return nil, err
		}
	}
	layout := nginx.NewLayout(convention, cfg.Proxy.Root)
	tlsFiles := nginx.TLSFiles{LiveDir: cfg.Certificates.LiveDir, DHParam: cfg.Certificates.DHParam}

	proxy := nginx.NewManager(nginx.Config{
		Layout:        layout,
		Command:       cfg.Proxy.Command,
		ReloadCommand: cfg.Proxy.ReloadCommand,
		TLS:           tlsFiles,
	}, runner)

	certbot := &certs.Certbot{
		Command: cfg.Certificates.Command,
		LiveDir: cfg.Certificates.LiveDir,
		Runner:  runner,
	}
	if convention == nginx.RHEL {
		certbot.ServerRoot = cfg.Proxy.Root
	}

	builder, err := ecosystem.NewBuilder(cfg.BinaryPath(), cfg.Supervisor.MaxMemory, cfg.Paths.Ecosystem)
	if err != nil {
		return nil, err
	}

	lockWait, err := time.ParseDuration(cfg.Binary.LockWait)
	if err != nil {
		return nil, fmt.Errorf("invalid binary.lock_wait %q: %w", cfg.Binary.LockWait, err)
	}

	o := New(Deps{
		Config:     cfg,
		ConfigPath: configPath,
		Registry:   storage.NewRegistryStore(cfg.Paths.Registry, true),
		Journal:    storage.NewJournal(cfg.Paths.Journal),
		Data:       data,
		Proxy:      proxy,
		Certs: &certs.Workflow{
			Validator:   certs.NewDNSValidator(cfg.Certificates.Resolver, cfg.Certificates.PublicIPURLs),
			Certbot:     certbot,
			Proxy:       proxy,
			Runner:      runner,
			DHParam:     cfg.Certificates.DHParam,
			DHParamBits: cfg.Certificates.DHParamBits,
		},
		Ecosystem: builder,
		PM2:       ecosystem.NewPM2(cfg.Supervisor.Command, cfg.Paths.Ecosystem, runner),
		Installer: &release.Installer{
			Dir:         cfg.Paths.Bin,
			BinaryName:  cfg.Binary.Name,
			DownloadURL: cfg.Binary.DownloadURL,
			Resolver: &release.Resolver{
				Cache:     release.NewVersionCache(cfg.Paths.VersionCache),
				LatestURL: cfg.Binary.LatestURL,
				Fallback:  cfg.Binary.FallbackVersion,
				Client:    &http.Client{},
			},
			Client:   &http.Client{},
			LockWait: lockWait,
			Progress: os.Stderr,
		},
		Runner: runner,
	})

	logger.Debug().
		Str("convention", string(convention)).
		Str("registry", cfg.Paths.Registry).
		Msg("Orchestrator ready")

	return o, nil
}

// SetDNSDecider installs a callback asked whether to request a certificate
// after a DNS mismatch or an unresolved domain. It overrides the request's policy.
func (o *Orchestrator) SetDNSDecider(decide func(certs.DNSReport) bool) {
	o.decide = decide
}

// Config returns the configuration in use
func (o *Orchestrator) Config() *config.Config {
	return o.cfg
}

// opFunc is the body of one operation. Messages go to l; the returned data
// becomes Result.Data.
type opFunc func(ctx context.Context, l *saga.Log) (interface{}, error)

// run executes fn as one operation. Mutating operations hold the registry
// lock for their whole duration and are journaled.
func (o *Orchestrator) run(ctx context.Context, action, instance string, mutating bool, fn opFunc) (result *types.Result) {
	op := &types.Operation{
		ID:        uuid.New().String(),
		Action:    action,
		Instance:  instance,
		StartedAt: time.Now().UTC(),
	}
	logger := log.WithOperation(op.ID, action)
	l := &saga.Log{}

	var data interface{}
	var err error

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("Operation panicked")
			err = fmt.Errorf("internal error: %v", r)
			data = nil
		}

		result = &types.Result{
			Success:  err == nil,
			Data:     data,
			Messages: l.Messages(),
		}
		if err != nil {
			result.Error = err.Error()
		}
		if mutating {
			o.record(op, result)
		}

		event := logger.Info()
		if err != nil {
			event = logger.Warn().Err(err)
		}
		event.Str("instance", instance).
			Dur("duration", time.Since(op.StartedAt)).
			Msg("Operation finished")
	}()

	if mutating {
		lockCtx, cancel := context.WithTimeout(ctx, o.lockTimeout)
		unlock, lockErr := o.registry.Lock(lockCtx)
		cancel()
		if lockErr != nil {
			err = lockErr
			return
		}
		defer unlock()
	}

	data, err = fn(ctx, l)
	return
}

func (o *Orchestrator) record(op *types.Operation, result *types.Result) {
	if o.journal == nil {
		return
	}
	op.Success = result.Success
	op.Error = result.Error
	op.Messages = result.Messages
	op.FinishedAt = time.Now().UTC()
	// The journal is history, not state: a failed write never fails the operation
	if err := o.journal.Record(op); err != nil {
		logger := log.WithComponent("orchestrator")
		logger.Warn().Err(err).Str("op_id", op.ID).Msg("Failed to journal operation")
	}
}

// site converts an instance to proxy site parameters with the given TLS form
func site(inst *types.Instance, useTLS bool) nginx.Site {
	return nginx.Site{
		Name:            inst.Name,
		Domain:          inst.Domain,
		Port:            inst.Port,
		UseTLS:          useTLS,
		UseHTTP2:        inst.UseHTTP2,
		MaxBodySize20MB: inst.MaxBodySize20MB,
	}
}

// effectiveTLS reports whether the TLS form can be served: TLS is wanted and
// a certificate exists. A failed issuance leaves UseTLS set on the record
// while the proxy keeps serving plain HTTP.
func (o *Orchestrator) effectiveTLS(inst *types.Instance) bool {
	return inst.UseTLS && o.certs.Certbot.HasCertificate(inst.Domain)
}

func (o *Orchestrator) view(inst *types.Instance, statuses map[string]*types.ProcessStatus) types.InstanceView {
	v := types.InstanceView{
		Instance:       inst,
		HasCertificate: o.effectiveTLS(inst),
	}
	scheme := "http"
	if v.HasCertificate {
		scheme = "https"
	}
	v.URL = fmt.Sprintf("%s://%s", scheme, inst.Domain)
	if statuses != nil {
		v.Process = statuses[inst.Name]
	}
	return v
}

// applyEcosystem writes the descriptor for reg and applies it: a global
// reload, or a restart of only the named process
func (o *Orchestrator) applyEcosystem(ctx context.Context, l *saga.Log, reg *types.Registry, only string) error {
	return saga.New(l, o.descriptorStep(reg, reg), o.reloadStep(only, "")).Run(ctx)
}

// createAdmin creates or updates the supervised server's superuser
func (o *Orchestrator) createAdmin(ctx context.Context, inst *types.Instance, admin types.AdminCredential) error {
	_, err := o.runner.Run(ctx, system.Cmd(o.eco.Binary,
		"superuser", "upsert", admin.Email, admin.Password,
		"--dir="+inst.DataDirectory,
	).WithSecret(admin.Password))
	if err != nil {
		// The command line carries the password; do not echo it back
		var exitErr *system.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("superuser upsert exited with status %d: %s", exitErr.Output.ExitCode, exitErr.Output.Combined())
		}
		return fmt.Errorf("superuser upsert failed")
	}
	return nil
}

// GeneratePassword returns a random password for administrative accounts
func GeneratePassword() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	return hex.EncodeToString(b), nil
}
