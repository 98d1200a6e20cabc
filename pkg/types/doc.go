/*
Package types defines the data structures shared by every burrow package.

The central record is Instance: one supervised server process, the reverse
proxy virtual host in front of it and the data directory it owns. Instances
live in the Registry, a single JSON document keyed by instance name:

	{
	  "instances": {
	    "svc1": {
	      "name": "svc1",
	      "domain": "a.example.com",
	      "port": 8091,
	      "dataDirectory": "/var/lib/burrow/instances/svc1",
	      "useTLS": false,
	      "useHTTP2": false,
	      "maxBodySize20MB": false
	    }
	  }
	}

Everything else is derived from the Registry and can be thrown away and
regenerated at any time:

  - Ecosystem: the process supervisor descriptor, one ProcessEntry per instance
  - the reverse proxy configuration file of each instance

# Invariants

Name, Port and Domain are unique across the Registry. DataDirectory is derived
from Name and never shared. CertificateEmail is present whenever UseTLS is set.
The Registry does not enforce these itself; the orchestrator validates them
before every write.

# Results

Every orchestrator operation returns a Result: a success flag, an optional
error string, optional data and the ordered list of human readable messages
describing each step taken. The CLI prints the messages verbatim and the
command bridge serialises the Result as its JSON envelope.
*/
package types
