/*
Package api implements the burrow HTTP API, the network-facing side of the
command bridge.

The API process runs unprivileged. It never touches the registry, pm2, nginx
or certbot itself; every accepted request is forwarded to `burrow bridge`,
which runs with the privileges the orchestrator needs and is gated by the
bridge secret:

	client ──HTTPS──▶ nginx ──▶ burrow api serve ──exec──▶ burrow bridge
	                            (JWT, rate limit,          (secret check,
	                             payload validation)        orchestrator)

# Endpoints

	GET  /healthz                   liveness, no auth
	GET  /readyz                    readiness, no auth
	GET  /metrics                   Prometheus metrics, no auth
	GET  /api/v1/instances          same as the list action
	POST /api/v1/actions/{action}   body is the action payload (JSON)

Action responses carry the bridge envelope unchanged:

	{"success":true,"data":{...},"messages":["..."]}

Status codes: 200 success, 422 the operation failed, 400 malformed payload,
401 missing or invalid token, 403 token scope too narrow, 404 unknown action,
413 payload over 1 MiB, 429 rate limited, 502 bridge could not be run.

# Authentication

Requests under /api/v1 carry an HS256 bearer token issued with
`burrow api token`. Tokens have a scope:

  - read: list, get-logs and get-diagnostics
  - admin: every action

# Rate Limiting

Each client address gets a token bucket (api.rate_per_second, api.burst).
Rejected requests increment burrow_api_rate_limited_total.
*/
package api
