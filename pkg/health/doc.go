/*
Package health provides the probes burrow diagnostics run against the host
and its instances.

Three checkers implement the Checker interface:

	┌────────────┐  ┌────────────┐  ┌────────────┐
	│ TCPChecker │  │ HTTPChecker│  │ ExecChecker│
	└─────┬──────┘  └─────┬──────┘  └─────┬──────┘
	      ▼               ▼               ▼
	 127.0.0.1:port  /api/health     nginx -v, pm2 --version,
	                                 certbot --version, ...

TCP probes confirm that an instance is accepting connections on its loopback
port. HTTP probes call the supervised server's own health endpoint through the
same loopback port, bypassing nginx, so a failing proxy and a failing server
can be told apart. Exec probes run tool version commands through a
system.Runner and report the first line of output.

# Usage

	reports := health.Run(ctx, []health.Probe{
		{Name: "nginx", Checker: health.NewExecChecker(runner, "nginx", "-v")},
		{Name: "svc1 port", Checker: health.Port(8091)},
		{Name: "svc1 api", Checker: health.ServerHealth(8091)},
	})

Probes run sequentially; a diagnostics run over a handful of instances
finishes well within the per-probe timeouts.
*/
package health
