/*
Package log provides structured logging for burrow using zerolog.

A single global zerolog.Logger is configured once at startup through Init and
shared by every package. Component loggers add a field identifying where a
line came from:

	log.WithComponent("nginx")          // component=nginx
	log.WithInstance("svc1")            // instance=svc1
	log.WithOperation(id, "add")        // operation_id=... action=add

# Output

Logs always go to stderr unless another writer is configured. Standard output
is reserved for the messages a command prints for the operator and, for the
bridge subcommand, for exactly one JSON envelope; mixing log lines into stdout
would corrupt the envelope for programmatic callers.

Console format is used by default; JSON format is selected with log.json in
the configuration file or --log-json on the command line:

	2026-10-19T10:30:00Z INF proxy config activated component=nginx instance=svc1

	{"level":"info","component":"nginx","instance":"svc1","time":"...","message":"proxy config activated"}

# Levels

debug, info, warn and error. Unknown values fall back to info. Every external
command the tool runs is logged at debug level with its arguments and exit
status, which is usually the quickest way to see why a step failed.
*/
package log
