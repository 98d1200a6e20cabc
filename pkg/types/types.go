package types

import (
	"sort"
	"time"
)

// Instance represents one managed server process together with its
// reverse-proxy host and data directory
type Instance struct {
	Name             string `json:"name"`
	Domain           string `json:"domain"`
	Port             int    `json:"port"`
	DataDirectory    string `json:"dataDirectory"`
	UseTLS           bool   `json:"useTLS"`
	CertificateEmail string `json:"certificateEmail,omitempty"` // Required when UseTLS is set
	UseHTTP2         bool   `json:"useHTTP2"`
	MaxBodySize20MB  bool   `json:"maxBodySize20MB"`
}

// Clone returns a copy of the instance record
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}

// Registry is the persisted source of truth: instance name -> record
type Registry struct {
	Instances map[string]*Instance `json:"instances"`
}

// NewRegistry returns an empty registry document
func NewRegistry() *Registry {
	return &Registry{Instances: make(map[string]*Instance)}
}

// Names returns the instance names in sorted order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.Instances))
	for name := range r.Instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sorted returns the instance records ordered by name
func (r *Registry) Sorted() []*Instance {
	out := make([]*Instance, 0, len(r.Instances))
	for _, name := range r.Names() {
		out = append(out, r.Instances[name])
	}
	return out
}

// Get returns the named instance, or nil
func (r *Registry) Get(name string) *Instance {
	if r == nil || r.Instances == nil {
		return nil
	}
	return r.Instances[name]
}

// Snapshot returns a deep copy of the registry
func (r *Registry) Snapshot() *Registry {
	snap := NewRegistry()
	for name, inst := range r.Instances {
		snap.Instances[name] = inst.Clone()
	}
	return snap
}

// Ecosystem is the process supervisor descriptor regenerated from the Registry
type Ecosystem struct {
	Apps []ProcessEntry `json:"apps"`
}

// ProcessEntry is a single supervised process definition
type ProcessEntry struct {
	Name             string            `json:"name"`
	Script           string            `json:"script"`
	Args             []string          `json:"args"`
	Cwd              string            `json:"cwd"`
	Interpreter      string            `json:"interpreter"`
	Autorestart      bool              `json:"autorestart"`
	MaxMemoryRestart string            `json:"max_memory_restart"`
	Env              map[string]string `json:"env"`
}

// ProcessStatus is the supervisor's live view of one process
type ProcessStatus struct {
	Name        string  `json:"name"`
	Status      string  `json:"status"`
	PID         int     `json:"pid"`
	MemoryBytes int64   `json:"memoryBytes"`
	CPUPercent  float64 `json:"cpuPercent"`
	Restarts    int     `json:"restarts"`
	UptimeSince int64   `json:"uptimeSince,omitempty"`
}

// InstanceView combines a registry record with its live process status
type InstanceView struct {
	*Instance
	Process        *ProcessStatus `json:"process,omitempty"`
	URL            string         `json:"url"`
	HasCertificate bool           `json:"hasCertificate"`
}

// Result is the uniform outcome of every orchestrator operation: an
// ordered message log, a success flag and optional data or error
type Result struct {
	Success  bool        `json:"success"`
	Data     interface{} `json:"data,omitempty"`
	Error    string      `json:"error,omitempty"`
	Messages []string    `json:"messages"`
}

// Operation is a journaled record of a completed orchestrator operation
type Operation struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	Instance   string    `json:"instance,omitempty"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	Messages   []string  `json:"messages"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// AdminCredential is an optional administrative account created inside the
// supervised server after provisioning
type AdminCredential struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// DNSPolicy controls whether certificate issuance proceeds when the DNS
// pre-check does not find the domain pointing at this host
type DNSPolicy struct {
	ProceedOnMismatch   bool `json:"proceedOnMismatch"`
	ProceedOnUnresolved bool `json:"proceedOnUnresolved"`
	SkipCheck           bool `json:"skipCheck"`
}

// AddRequest describes a new instance
type AddRequest struct {
	Name             string           `json:"name"`
	Domain           string           `json:"domain"`
	Port             int              `json:"port"`
	UseTLS           bool             `json:"useTLS"`
	CertificateEmail string           `json:"certificateEmail,omitempty"`
	UseHTTP2         bool             `json:"useHTTP2"`
	MaxBodySize20MB  bool             `json:"maxBodySize20MB"`
	Admin            *AdminCredential `json:"admin,omitempty"`
	DNS              DNSPolicy        `json:"dns"`
}

// CloneRequest describes a new instance whose data is copied from Source
type CloneRequest struct {
	Source string `json:"source"`
	AddRequest
}

// ResetRequest wipes an instance's data directory
type ResetRequest struct {
	Name  string           `json:"name"`
	Admin *AdminCredential `json:"admin,omitempty"`
}

// RemoveRequest deletes an instance
type RemoveRequest struct {
	Name       string `json:"name"`
	DeleteData bool   `json:"deleteData"`
}

// ResetCredentialRequest sets the administrative credential of an instance.
// An empty password is replaced with a generated one.
type ResetCredentialRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password,omitempty"`
}

// RenewRequest renews issued certificates
type RenewRequest struct {
	Force bool `json:"force"`
}

// UpdateBinaryRequest installs a specific (or the latest) server build
type UpdateBinaryRequest struct {
	Version string `json:"version,omitempty"`
}

// SetEmailRequest changes the default certificate issuance email
type SetEmailRequest struct {
	Email string `json:"email"`
}

// LogsRequest fetches recent supervisor log lines for an instance
type LogsRequest struct {
	Name  string `json:"name"`
	Lines int    `json:"lines"`
}

// ControlAction is a supervisor process control verb
type ControlAction string

const (
	ControlStart   ControlAction = "start"
	ControlStop    ControlAction = "stop"
	ControlRestart ControlAction = "restart"
)

// ControlRequest starts, stops or restarts one instance or all of them
type ControlRequest struct {
	Action ControlAction `json:"action"`
	Target string        `json:"target"` // Instance name or "all"
}
