/*
Package orchestrator composes the registry, the data directories, the nginx
manager, the certificate workflow and the process supervisor into the
instance lifecycle operations.

Every operation returns a *types.Result and never panics. Mutating
operations run under the registry file lock and are recorded in the
operation journal.

# Sequences

Add and Clone run the same steps. Only the first differs:

	create data directory | copy data directory
	save registry                  (fatal)
	activate proxy config          (fatal, HTTP-only form)
	certificate                    (TLS only, warning on failure)
	final proxy activation         (fatal, TLS only)
	install server binary          (fatal, no-op when installed)
	write process descriptor       (fatal)
	reload process supervisor      (fatal)
	create admin account           (optional, warning on failure)

Reset stops the process, recreates the data directory and restarts only
that process. Remove deletes the process, optionally the data directory,
the registry record and the proxy config, then reloads the supervisor.

When a fatal step fails, the steps already applied are compensated in
reverse order: the registry snapshot is written back, the proxy config is
removed, a created data directory is deleted. Each compensation is logged
as "rolled back: <step>".

Validation errors are returned before any side effect.
*/
package orchestrator
