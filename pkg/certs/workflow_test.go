package certs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/burrow/pkg/nginx"
	"github.com/cuemby/burrow/pkg/system"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedValidator struct {
	status DNSStatus
	calls  int
}

func (v *fixedValidator) Validate(ctx context.Context, domain string) DNSReport {
	v.calls++
	return DNSReport{Domain: domain, Status: v.status}
}

type workflowFixture struct {
	workflow *Workflow
	runner   *system.FakeRunner
	proxy    *nginx.Manager
	live     string
}

func newWorkflowFixture(t *testing.T, status DNSStatus) *workflowFixture {
	t.Helper()
	dir := t.TempDir()
	live := filepath.Join(dir, "live")
	dhparam := filepath.Join(dir, "ssl-dhparams.pem")

	runner := system.NewFakeRunner()
	runner.On("openssl dhparam", system.FakeResponse{Effect: func(system.Command) {
		_ = os.WriteFile(dhparam, []byte("params"), 0644)
	}})

	proxy := nginx.NewManager(nginx.Config{
		Layout: nginx.NewLayout(nginx.Debian, filepath.Join(dir, "nginx")),
		TLS:    nginx.TLSFiles{LiveDir: live, DHParam: dhparam},
	}, runner)

	return &workflowFixture{
		workflow: &Workflow{
			Validator:   &fixedValidator{status: status},
			Certbot:     &Certbot{LiveDir: live, Runner: runner},
			Proxy:       proxy,
			Runner:      runner,
			DHParam:     dhparam,
			DHParamBits: 2048,
		},
		runner: runner,
		proxy:  proxy,
		live:   live,
	}
}

var tlsSite = nginx.Site{Name: "svc1", Domain: "a.example.com", Port: 8091, UseTLS: true}

func TestWorkflow_IssuesAndReconcilesTLS(t *testing.T) {
	f := newWorkflowFixture(t, DNSMatch)
	f.runner.On("certbot --nginx", system.FakeResponse{Effect: issueEffect(f.live, "a.example.com")})
	ctx := context.Background()

	out := f.workflow.Run(ctx, Request{Site: tlsSite, Email: "ops@example.com"})
	require.NoError(t, out.Err)
	assert.True(t, out.Issued)
	assert.False(t, out.Skipped)
	require.NotNil(t, out.DNS)
	assert.Equal(t, DNSMatch, out.DNS.Status)

	_, err := f.workflow.Reconcile(ctx, tlsSite, out)
	require.NoError(t, err)

	data, err := os.ReadFile(f.proxy.ConfigPath("svc1"))
	require.NoError(t, err)
	assert.Contains(t, string(data), filepath.Join(f.live, "a.example.com", "fullchain.pem"))
	assert.Contains(t, string(data), "ssl_dhparam")
}

func TestWorkflow_CertbotFailureFallsBackToHTTP(t *testing.T) {
	f := newWorkflowFixture(t, DNSMismatch)
	f.runner.Fail("certbot", "Some challenges have failed.")
	ctx := context.Background()

	out := f.workflow.Run(ctx, Request{
		Site:   tlsSite,
		Email:  "ops@example.com",
		Policy: types.DNSPolicy{ProceedOnMismatch: true},
	})
	require.Error(t, out.Err)
	assert.False(t, out.Issued)
	assert.False(t, out.Skipped)
	assert.Len(t, f.runner.CallsWithPrefix("certbot"), 1, "never retried")

	messages, err := f.workflow.Reconcile(ctx, tlsSite, out)
	require.NoError(t, err)
	assert.Contains(t, messages[len(messages)-1], "HTTP only")

	data, err := os.ReadFile(f.proxy.ConfigPath("svc1"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "fullchain.pem")
	assert.NotContains(t, string(data), "listen 443")
}

func TestWorkflow_DNSGate(t *testing.T) {
	tests := []struct {
		name        string
		status      DNSStatus
		policy      types.DNSPolicy
		decide      func(DNSReport) bool
		wantSkipped bool
		wantChecked bool
	}{
		{name: "unresolved stops", status: DNSUnresolved, wantSkipped: true, wantChecked: true},
		{name: "mismatch stops", status: DNSMismatch, wantSkipped: true, wantChecked: true},
		{name: "mismatch allowed", status: DNSMismatch, policy: types.DNSPolicy{ProceedOnMismatch: true}, wantChecked: true},
		{name: "network failure proceeds", status: DNSSkipped, wantChecked: true},
		{name: "check disabled", status: DNSUnresolved, policy: types.DNSPolicy{SkipCheck: true}},
		{
			name:        "operator overrides",
			status:      DNSUnresolved,
			decide:      func(DNSReport) bool { return true },
			wantChecked: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newWorkflowFixture(t, tt.status)

			out := f.workflow.Run(context.Background(), Request{
				Site:   tlsSite,
				Email:  "ops@example.com",
				Policy: tt.policy,
				Decide: tt.decide,
			})

			assert.Equal(t, tt.wantSkipped, out.Skipped)
			assert.Equal(t, tt.wantChecked, out.DNS != nil)
			if tt.wantSkipped {
				assert.Empty(t, f.runner.CallsWithPrefix("certbot"))
				assert.Empty(t, f.runner.CallsWithPrefix("openssl"))
			} else {
				assert.Len(t, f.runner.CallsWithPrefix("certbot"), 1)
			}
		})
	}
}

func TestWorkflow_RequiresEmail(t *testing.T) {
	f := newWorkflowFixture(t, DNSMatch)

	out := f.workflow.Run(context.Background(), Request{Site: tlsSite})
	require.Error(t, out.Err)
	assert.Empty(t, f.runner.Calls())
}
