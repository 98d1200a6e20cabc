/*
Package bridge is the secret-gated command path used by a separate process,
normally the burrow API, to run lifecycle operations:

	BURROW_BRIDGE_SECRET=<secret> burrow bridge --action add --payload <base64 JSON>

The secret may also be given with --secret, which leaves it visible in the
process list; the API always uses the environment.

The action name selects one of a closed set of Action types, each with its
own typed payload. Decode rejects unknown action names and unknown payload
fields. The result is written to stdout as a single JSON envelope:

	{"success":true,"data":{...},"messages":["..."]}

The secret is compared in constant time. There is no rate limiting here:
the bridge is not reachable from the network, and the API in front of it is
where callers are authenticated and throttled. Interactive confirmation of
destructive actions does not apply on this path.
*/
package bridge
