package orchestrator

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/release"
	"github.com/cuemby/burrow/pkg/system"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jlistOutput = `[PM2] Spawning PM2 daemon with pm2_home=/root/.pm2
[{"name":"svc1","pid":4242,"monit":{"memory":31457280,"cpu":0.5},"pm2_env":{"status":"online","restart_time":2,"pm_uptime":1760000000000}}]`

func TestList(t *testing.T) {
	f := newFixture(t)
	f.add(t, "svc2", "b.example.com", 8092)
	f.add(t, "svc1", "a.example.com", 8091)
	f.runner.On("pm2 jlist", system.FakeResponse{Output: system.Output{Stdout: jlistOutput}})

	res := f.o.List(context.Background())
	require.True(t, res.Success, res.Error)

	views, ok := res.Data.([]types.InstanceView)
	require.True(t, ok)
	require.Len(t, views, 2)

	assert.Equal(t, "svc1", views[0].Name)
	require.NotNil(t, views[0].Process)
	assert.Equal(t, "online", views[0].Process.Status)
	assert.Equal(t, 4242, views[0].Process.PID)
	assert.Equal(t, "http://a.example.com", views[0].URL)
	assert.False(t, views[0].HasCertificate)

	assert.Equal(t, "svc2", views[1].Name)
	assert.Nil(t, views[1].Process)
}

func TestList_SupervisorUnavailable(t *testing.T) {
	f := newFixture(t)
	f.add(t, "svc1", "a.example.com", 8091)
	f.runner.Fail("pm2 jlist", "pm2: command not found")

	res := f.o.List(context.Background())
	require.True(t, res.Success, res.Error)
	assert.True(t, messagesContain(res.Messages, "warning: process status unavailable"))
	assert.Len(t, res.Data.([]types.InstanceView), 1)
}

func TestList_CorruptRegistry(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(f.cfg.Paths.Registry), 0755))
	require.NoError(t, os.WriteFile(f.cfg.Paths.Registry, []byte(`{"instances": [`), 0600))

	res := f.o.List(context.Background())
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "malformed")
}

func TestResetCredential(t *testing.T) {
	f := newFixture(t)
	f.add(t, "svc1", "a.example.com", 8091)
	ctx := context.Background()

	t.Run("generated", func(t *testing.T) {
		f.runner.Reset()
		res := f.o.ResetCredential(ctx, types.ResetCredentialRequest{Name: "svc1", Email: "admin@example.com"})
		require.True(t, res.Success, res.Error)

		cred := res.Data.(types.AdminCredential)
		assert.Len(t, cred.Password, 24)
		calls := f.runner.CallsWithPrefix(f.cfg.BinaryPath() + " superuser upsert")
		require.Len(t, calls, 1)
		assert.Contains(t, calls[0], cred.Password)
	})

	t.Run("supplied", func(t *testing.T) {
		res := f.o.ResetCredential(ctx, types.ResetCredentialRequest{Name: "svc1", Email: "admin@example.com", Password: "correct-horse"})
		require.True(t, res.Success, res.Error)
		assert.Empty(t, res.Data.(types.AdminCredential).Password)
	})

	t.Run("short password", func(t *testing.T) {
		res := f.o.ResetCredential(ctx, types.ResetCredentialRequest{Name: "svc1", Email: "admin@example.com", Password: "short"})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "at least 8")
	})

	t.Run("unknown instance", func(t *testing.T) {
		res := f.o.ResetCredential(ctx, types.ResetCredentialRequest{Name: "nope", Email: "admin@example.com"})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "does not exist")
	})
}

func TestRenewCertificates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.issue("a.example.com")

	res := f.o.Add(ctx, types.AddRequest{Name: "svc1", Domain: "a.example.com", Port: 8091, UseTLS: true, CertificateEmail: "ops@example.com"})
	require.True(t, res.Success, res.Error)
	f.add(t, "svc2", "b.example.com", 8092)

	// svc3 wants TLS but its certificate was never issued
	f.runner.Fail("certbot --nginx", "Challenge failed")
	res = f.o.Add(ctx, types.AddRequest{Name: "svc3", Domain: "c.example.com", Port: 8093, UseTLS: true, CertificateEmail: "ops@example.com"})
	require.True(t, res.Success, res.Error)

	f.runner.Reset()
	f.runner.On("certbot renew", system.FakeResponse{Output: system.Output{Stdout: "Processing...\nNo renewals were attempted."}})

	res = f.o.RenewCertificates(ctx, types.RenewRequest{Force: true})
	require.True(t, res.Success, res.Error)

	assert.Equal(t, []string{"certbot renew --non-interactive --force-renewal"}, f.runner.CallsWithPrefix("certbot"))
	assert.Equal(t, []string{"svc1"}, res.Data)
	assert.True(t, messagesContain(res.Messages, "certbot: No renewals were attempted."))
	assert.True(t, messagesContain(res.Messages, "warning: no certificate for svc3"))

	assert.Contains(t, f.proxyConfig(t, "svc1"), "ssl_certificate")
	assert.NotContains(t, f.proxyConfig(t, "svc3"), "ssl_certificate")
	assert.NotContains(t, f.proxyConfig(t, "svc2"), "ssl_certificate")
}

func TestRenewCertificates_CertbotFails(t *testing.T) {
	f := newFixture(t)
	f.runner.Fail("certbot renew", "Another instance of Certbot is already running.")

	res := f.o.RenewCertificates(context.Background(), types.RenewRequest{})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "Another instance of Certbot")
}

func TestUpdateBinary(t *testing.T) {
	f := newFixture(t)
	f.add(t, "svc1", "a.example.com", 8091)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("pocketbase")
	require.NoError(t, err)
	_, err = w.Write([]byte("new build"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	var requested string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = r.URL.Path
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	f.o.installer.DownloadURL = srv.URL + "/v%[1]s/pocketbase_%[1]s_linux_%[2]s.zip"
	f.o.installer.Client = srv.Client()
	f.o.installer.Arch = "amd64"
	f.runner.Reset()

	res := f.o.UpdateBinary(context.Background(), types.UpdateBinaryRequest{Version: "v0.23.1"})
	require.True(t, res.Success, res.Error)

	assert.Equal(t, "/v0.23.1/pocketbase_0.23.1_linux_amd64.zip", requested)
	data, err := os.ReadFile(f.cfg.BinaryPath())
	require.NoError(t, err)
	assert.Equal(t, "new build", string(data))

	installed := res.Data.(*release.InstallResult)
	assert.Equal(t, "0.23.1", installed.Version)
	assert.Equal(t, release.SourceOverride, installed.Source)
	assert.Len(t, f.runner.CallsWithPrefix("pm2 startOrReload"), 1)
}

func TestUpdateBinary_ConcurrentInstall(t *testing.T) {
	f := newFixture(t)
	f.o.installer.LockWait = 2 * time.Second
	f.o.installer.PollInterval = 20 * time.Millisecond

	lock := f.o.installer.LockPath()
	require.NoError(t, os.WriteFile(lock, []byte("1234\n"), 0644))
	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = os.Remove(lock)
	}()

	res := f.o.UpdateBinary(context.Background(), types.UpdateBinaryRequest{})
	require.True(t, res.Success, res.Error)

	installed := res.Data.(*release.InstallResult)
	assert.True(t, installed.Concurrent)
	assert.True(t, messagesContain(res.Messages, "installed by a concurrent update"))
	for _, m := range res.Messages {
		assert.NotContains(t, m, "()")
	}
}

func TestRebuildEcosystem(t *testing.T) {
	f := newFixture(t)
	f.add(t, "svc1", "a.example.com", 8091)
	f.add(t, "svc2", "b.example.com", 8092)
	require.NoError(t, os.Remove(f.cfg.Paths.Ecosystem))
	f.runner.Reset()

	res := f.o.RebuildEcosystem(context.Background())
	require.True(t, res.Success, res.Error)

	eco := f.loadEcosystem(t)
	require.Len(t, eco.Apps, 2)
	assert.Equal(t, "svc1", eco.Apps[0].Name)
	assert.Equal(t, "svc2", eco.Apps[1].Name)
	assert.Equal(t, []string{"pm2 startOrReload " + f.cfg.Paths.Ecosystem, "pm2 save"}, f.runner.Calls())
}

func TestSetDefaultEmail(t *testing.T) {
	f := newFixture(t)

	res := f.o.SetDefaultEmail(context.Background(), types.SetEmailRequest{Email: "ops@example.com"})
	require.True(t, res.Success, res.Error)

	saved, err := config.Load(f.configPath)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", saved.Certificates.DefaultEmail)
	assert.Equal(t, "ops@example.com", f.o.Config().Certificates.DefaultEmail)

	info, err := os.Stat(f.configPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	res = f.o.SetDefaultEmail(context.Background(), types.SetEmailRequest{Email: "not an email"})
	assert.False(t, res.Success)
	assert.Equal(t, "ops@example.com", f.o.Config().Certificates.DefaultEmail)
}

func TestLogs(t *testing.T) {
	f := newFixture(t)
	f.add(t, "svc1", "a.example.com", 8091)
	f.runner.On("pm2 logs svc1", system.FakeResponse{Output: system.Output{Stdout: "Server started at http://127.0.0.1:8091\n"}})

	res := f.o.Logs(context.Background(), types.LogsRequest{Name: "svc1", Lines: 20})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Server started at http://127.0.0.1:8091\n", res.Data)
	assert.Equal(t, []string{"pm2 logs svc1 --lines 20 --nostream --raw"}, f.runner.CallsWithPrefix("pm2 logs"))

	res = f.o.Logs(context.Background(), types.LogsRequest{Name: "nope"})
	assert.False(t, res.Success)
}

func TestControl(t *testing.T) {
	tests := []struct {
		name      string
		req       types.ControlRequest
		wantCalls []string
		wantErr   string
	}{
		{
			name:      "stop one",
			req:       types.ControlRequest{Action: types.ControlStop, Target: "svc2"},
			wantCalls: []string{"pm2 stop svc2", "pm2 save"},
		},
		{
			name:      "restart all in order",
			req:       types.ControlRequest{Action: types.ControlRestart, Target: "all"},
			wantCalls: []string{"pm2 restart svc1", "pm2 restart svc2", "pm2 save"},
		},
		{
			name:    "unknown instance",
			req:     types.ControlRequest{Action: types.ControlStart, Target: "svc9"},
			wantErr: "does not exist",
		},
		{
			name:    "unknown action",
			req:     types.ControlRequest{Action: "pause", Target: "all"},
			wantErr: "unknown action",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.add(t, "svc2", "b.example.com", 8092)
			f.add(t, "svc1", "a.example.com", 8091)
			f.runner.Reset()

			res := f.o.Control(context.Background(), tt.req)
			if tt.wantErr != "" {
				assert.False(t, res.Success)
				assert.Contains(t, res.Error, tt.wantErr)
				assert.Empty(t, f.runner.Calls())
				return
			}
			require.True(t, res.Success, res.Error)
			assert.Equal(t, tt.wantCalls, f.runner.Calls())
		})
	}
}

func TestControl_ContinuesPastFailures(t *testing.T) {
	f := newFixture(t)
	f.add(t, "svc1", "a.example.com", 8091)
	f.add(t, "svc2", "b.example.com", 8092)
	f.runner.Reset()
	f.runner.Fail("pm2 start "+f.cfg.Paths.Ecosystem+" --only svc1", "[PM2][ERROR] Script not found")

	res := f.o.Control(context.Background(), types.ControlRequest{Action: types.ControlStart, Target: "all"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "svc1")
	assert.Contains(t, f.runner.Calls(), "pm2 start "+f.cfg.Paths.Ecosystem+" --only svc2")
	assert.True(t, messagesContain(res.Messages, "svc2: started"))
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, "svc1", "a.example.com", 8091)
	f.add(t, "svc2", "b.example.com", 8092)
	f.o.Remove(ctx, types.RemoveRequest{Name: "svc1"})

	res := f.o.History(ctx, "", 0)
	require.True(t, res.Success, res.Error)
	ops := res.Data.([]*types.Operation)
	require.Len(t, ops, 3)
	assert.Equal(t, "remove", ops[0].Action)

	res = f.o.History(ctx, "svc1", 10)
	require.True(t, res.Success, res.Error)
	ops = res.Data.([]*types.Operation)
	require.Len(t, ops, 2)
	for _, op := range ops {
		assert.Equal(t, "svc1", op.Instance)
	}
}

func TestDiagnostics(t *testing.T) {
	f := newFixture(t)
	f.add(t, "svc1", "a.example.com", 8091)
	f.runner.On("pm2 jlist", system.FakeResponse{Output: system.Output{Stdout: jlistOutput}})
	f.runner.On(f.cfg.BinaryPath()+" --version", system.FakeResponse{Output: system.Output{Stdout: "pocketbase version 0.22.21\n"}})
	f.runner.Fail("certbot --version", "certbot: command not found")

	res := f.o.Diagnostics(context.Background())
	require.True(t, res.Success, res.Error)

	d := res.Data.(*Diagnostics)
	assert.Equal(t, "debian", d.Convention)
	assert.False(t, d.Healthy)

	require.Len(t, d.Tools, 4)
	for _, tool := range d.Tools {
		assert.Equal(t, tool.Name != "certbot", tool.Healthy, tool.Name)
	}

	assert.True(t, d.Binary.Installed)
	assert.Equal(t, "0.22.21", d.Binary.Version)
	assert.Len(t, d.Binary.Fingerprint, 64)

	assert.Equal(t, 1, d.Registry.Instances)
	assert.Equal(t, 1, d.Registry.Online)
	require.Len(t, d.Instances, 1)
	assert.Equal(t, "online", d.Instances[0].Status)
	assert.True(t, d.Instances[0].ProxyConfig)
	assert.Len(t, d.Instances[0].Probes, 2)
	assert.NotEmpty(t, d.Recent)
	assert.True(t, messagesContain(res.Messages, "warning: certbot"))
}
