/*
Package metrics provides Prometheus metrics and health state for the burrow
API process.

Metrics are defined as package variables and registered with the default
Prometheus registry at init. They are exposed on /metrics by the API server.

# Metrics

	burrow_instances_total                   gauge, registered instances
	burrow_instances_tls_total               gauge, instances serving TLS
	burrow_instances_online_total            gauge, instances pm2 reports online
	burrow_api_requests_total                counter by route, status
	burrow_api_request_duration_seconds      histogram by route
	burrow_api_rate_limited_total            counter
	burrow_bridge_actions_total              counter by action, outcome
	burrow_bridge_action_duration_seconds    histogram by action
	burrow_component_up                      gauge by component

The instance gauges are refreshed by a Collector, which samples the instance
list through a Sampler (the API forwards the list action to the bridge).

# Timing

	timer := metrics.NewTimer()
	res, err := forwarder.Forward(ctx, action, payload)
	timer.ObserveDurationVec(metrics.BridgeActionDuration, action)

# Health

Components report their state with UpdateComponent, which also sets
burrow_component_up. GetReadiness requires every CriticalComponent ("api"
and "registry") to have reported and be healthy. The API server reports
"api" while it listens; the registry component follows the outcome of the
last Collector sample.
*/
package metrics
