/*
Package storage persists burrow's state: the instance registry and the
operation journal.

# Registry

RegistryStore keeps the registry as one JSON document (by default
/var/lib/burrow/instances.json). Every operation loads the whole document,
changes it in memory and writes it back atomically through a temporary file
and rename, so readers never see a partial document.

The document is parsed with jsonc, which tolerates comments and trailing
commas left by hand edits. A document that still cannot be parsed is
reported as ErrCorruptRegistry and never repaired automatically. A missing
document is an empty registry.

Mutating operations take an advisory lock (gofrs/flock) on instances.json.lock
for their whole duration. A second CLI run or bridge call waits up to its
context deadline and then fails with ErrRegistryBusy.

# Journal

Journal is an append-only BoltDB (bbolt) database of completed mutating
operations:

	journal.db
	└── operations     key: bucket sequence (big endian)
	                   value: JSON types.Operation

Recent and ForInstance walk the bucket backwards, so results are most recent
first. The journal is history only; losing it does not affect any instance.
*/
package storage
