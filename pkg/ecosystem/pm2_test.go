package ecosystem

import (
	"context"
	"testing"

	"github.com/cuemby/burrow/pkg/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJList = `[PM2] Spawning PM2 daemon
[{"pid":4242,"name":"svc1","pm2_env":{"status":"online","restart_time":3,"pm_uptime":1760000000000},"monit":{"memory":52428800,"cpu":1.5}},
 {"pid":0,"name":"svc2","pm2_env":{"status":"stopped","restart_time":0},"monit":{"memory":0,"cpu":0}}]`

func TestParseJList(t *testing.T) {
	statuses, err := ParseJList(sampleJList)
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	svc1 := statuses["svc1"]
	require.NotNil(t, svc1)
	assert.Equal(t, "online", svc1.Status)
	assert.Equal(t, 4242, svc1.PID)
	assert.Equal(t, int64(52428800), svc1.MemoryBytes)
	assert.Equal(t, 3, svc1.Restarts)
	assert.Equal(t, "stopped", statuses["svc2"].Status)
}

func TestParseJList_Edges(t *testing.T) {
	statuses, err := ParseJList("")
	require.NoError(t, err)
	assert.Empty(t, statuses)

	statuses, err = ParseJList("[]")
	require.NoError(t, err)
	assert.Empty(t, statuses)

	_, err = ParseJList("pm2: command not found")
	assert.Error(t, err)

	_, err = ParseJList("[{broken")
	assert.Error(t, err)
}

func TestPM2_Commands(t *testing.T) {
	ctx := context.Background()
	runner := system.NewFakeRunner()
	runner.On("pm2 logs", system.FakeResponse{Output: system.Output{Stdout: "line 1\nline 2\n"}})
	runner.On("pm2 jlist", system.FakeResponse{Output: system.Output{Stdout: sampleJList}})

	p := NewPM2("", "/var/lib/burrow/ecosystem.config.json", runner)

	require.NoError(t, p.ReloadAll(ctx))
	require.NoError(t, p.RestartOne(ctx, "svc1"))
	require.NoError(t, p.Start(ctx, "svc1"))
	require.NoError(t, p.Stop(ctx, "svc1"))
	require.NoError(t, p.Restart(ctx, "svc1"))
	require.NoError(t, p.Delete(ctx, "svc1"))
	require.NoError(t, p.Save(ctx))

	logs, err := p.Logs(ctx, "svc1", 0)
	require.NoError(t, err)
	assert.Equal(t, "line 1\nline 2\n", logs)

	statuses, err := p.Status(ctx)
	require.NoError(t, err)
	assert.Len(t, statuses, 2)

	assert.Equal(t, []string{
		"pm2 startOrReload /var/lib/burrow/ecosystem.config.json",
		"pm2 startOrRestart /var/lib/burrow/ecosystem.config.json --only svc1",
		"pm2 start /var/lib/burrow/ecosystem.config.json --only svc1",
		"pm2 stop svc1",
		"pm2 restart svc1",
		"pm2 delete svc1",
		"pm2 save",
		"pm2 logs svc1 --lines 100 --nostream --raw",
		"pm2 jlist",
	}, runner.Calls())
}

func TestPM2_Failure(t *testing.T) {
	runner := system.NewFakeRunner().Fail("pm2 startOrReload", "[PM2][ERROR] File not found")
	p := NewPM2("pm2", "eco.json", runner)

	err := p.ReloadAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "File not found")
}
