package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReport(t *testing.T) {
	t.Run("messages are printed verbatim", func(t *testing.T) {
		var buf bytes.Buffer
		res := &types.Result{Success: true, Messages: []string{"created data directory /x", "warning: certificate failed: boom"}}

		require.NoError(t, report(&buf, res, false))
		assert.Equal(t, "created data directory /x\nwarning: certificate failed: boom\n", buf.String())
	})

	t.Run("failure becomes an error", func(t *testing.T) {
		var buf bytes.Buffer
		res := &types.Result{Success: false, Error: "port 8091 is already used by svc1", Messages: []string{}}

		err := report(&buf, res, false)
		assert.EqualError(t, err, "port 8091 is already used by svc1")
	})

	t.Run("json prints exactly one envelope", func(t *testing.T) {
		var buf bytes.Buffer
		res := &types.Result{Success: false, Error: "boom"}

		err := report(&buf, res, true)
		assert.ErrorIs(t, err, errReported)

		var env map[string]interface{}
		dec := json.NewDecoder(&buf)
		require.NoError(t, dec.Decode(&env))
		assert.Equal(t, false, env["success"])
		assert.Equal(t, []interface{}{}, env["messages"])
		assert.False(t, dec.More())
	})
}

func TestPrintInstances(t *testing.T) {
	var buf bytes.Buffer
	printInstances(&buf, nil)
	assert.Equal(t, "No instances\n", buf.String())

	buf.Reset()
	printInstances(&buf, []types.InstanceView{
		{
			Instance: &types.Instance{Name: "svc1", Domain: "a.example.com", Port: 8091},
			URL:      "http://a.example.com",
			Process: &types.ProcessStatus{
				Name: "svc1", Status: "online", MemoryBytes: 50 * 1000 * 1000, Restarts: 2,
				UptimeSince: time.Now().Add(-2 * time.Hour).UnixMilli(),
			},
		},
		{
			Instance: &types.Instance{Name: "svc2", Domain: "b.example.com", Port: 8092, UseTLS: true},
			URL:      "http://b.example.com",
		},
	})

	out := buf.String()
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "http://a.example.com")
	assert.Contains(t, out, "50MB")
	assert.Contains(t, out, "2 hours")
	assert.Contains(t, out, "(no certificate)")
	assert.Contains(t, out, "unknown")
}

func TestPrintHistory(t *testing.T) {
	var buf bytes.Buffer
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	printHistory(&buf, []*types.Operation{
		{Action: "add", Instance: "svc1", Success: true, StartedAt: start, FinishedAt: start.Add(1500 * time.Millisecond)},
		{Action: "renew-certificates", Success: false, Error: "certbot exited with status 1", StartedAt: start, FinishedAt: start},
	})

	out := buf.String()
	assert.Contains(t, out, "add")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "failed: certbot exited with status 1")
	assert.Contains(t, out, "-")
}
