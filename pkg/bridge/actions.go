package bridge

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/cuemby/burrow/pkg/types"
)

// EnvSecret carries the secret to a bridge process. Callers use it instead
// of a flag so the secret stays out of the process list.
const EnvSecret = "BURROW_BRIDGE_SECRET"

var (
	// ErrUnknownAction is returned by Decode for a name outside the action set
	ErrUnknownAction = errors.New("unknown action")

	// ErrInvalidPayload is returned by Decode when the payload does not fit the action
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrUnauthorized is reported when the invocation's secret does not match
	ErrUnauthorized = errors.New("invalid bridge secret")
)

// Action is one of the closed set of operations the bridge accepts. Every
// implementation is a pointer to one of the types below.
type Action interface {
	Name() string
	action()
}

// ListAction lists every instance
type ListAction struct{}

// AddAction provisions a new instance
type AddAction struct {
	types.AddRequest
}

// RemoveAction deletes an instance
type RemoveAction struct {
	types.RemoveRequest
}

// CloneAction provisions an instance with a copy of another's data
type CloneAction struct {
	types.CloneRequest
}

// ResetAction wipes an instance's data
type ResetAction struct {
	types.ResetRequest
}

// ResetCredentialAction sets an instance's administrative credential
type ResetCredentialAction struct {
	types.ResetCredentialRequest
}

// RenewCertificatesAction renews issued certificates
type RenewCertificatesAction struct {
	types.RenewRequest
}

// UpdateBinaryAction installs a new server build
type UpdateBinaryAction struct {
	types.UpdateBinaryRequest
}

// RebuildEcosystemAction regenerates the process descriptor
type RebuildEcosystemAction struct{}

// SetDefaultEmailAction sets the default certificate email
type SetDefaultEmailAction struct {
	types.SetEmailRequest
}

// GetLogsAction fetches recent log lines of an instance
type GetLogsAction struct {
	types.LogsRequest
}

// GetDiagnosticsAction reports host and instance health
type GetDiagnosticsAction struct{}

func (*ListAction) Name() string              { return "list" }
func (*AddAction) Name() string               { return "add" }
func (*RemoveAction) Name() string            { return "remove" }
func (*CloneAction) Name() string             { return "clone" }
func (*ResetAction) Name() string             { return "reset" }
func (*ResetCredentialAction) Name() string   { return "reset-credential" }
func (*RenewCertificatesAction) Name() string { return "renew-certificates" }
func (*UpdateBinaryAction) Name() string      { return "update-binary" }
func (*RebuildEcosystemAction) Name() string  { return "rebuild-ecosystem" }
func (*SetDefaultEmailAction) Name() string   { return "set-default-email" }
func (*GetLogsAction) Name() string           { return "get-logs" }
func (*GetDiagnosticsAction) Name() string    { return "get-diagnostics" }

func (*ListAction) action()              {}
func (*AddAction) action()               {}
func (*RemoveAction) action()            {}
func (*CloneAction) action()             {}
func (*ResetAction) action()             {}
func (*ResetCredentialAction) action()   {}
func (*RenewCertificatesAction) action() {}
func (*UpdateBinaryAction) action()      {}
func (*RebuildEcosystemAction) action()  {}
func (*SetDefaultEmailAction) action()   {}
func (*GetLogsAction) action()           {}
func (*GetDiagnosticsAction) action()    {}

var registry = map[string]func() Action{
	"list":               func() Action { return &ListAction{} },
	"add":                func() Action { return &AddAction{} },
	"remove":             func() Action { return &RemoveAction{} },
	"clone":              func() Action { return &CloneAction{} },
	"reset":              func() Action { return &ResetAction{} },
	"reset-credential":   func() Action { return &ResetCredentialAction{} },
	"renew-certificates": func() Action { return &RenewCertificatesAction{} },
	"update-binary":      func() Action { return &UpdateBinaryAction{} },
	"rebuild-ecosystem":  func() Action { return &RebuildEcosystemAction{} },
	"set-default-email":  func() Action { return &SetDefaultEmailAction{} },
	"get-logs":           func() Action { return &GetLogsAction{} },
	"get-diagnostics":    func() Action { return &GetDiagnosticsAction{} },
}

// Names returns every action name, sorted
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Mutating reports whether the named action changes host state
func Mutating(name string) bool {
	switch name {
	case "list", "get-logs", "get-diagnostics":
		return false
	}
	return true
}

// Decode builds the action named name from payload. The payload is JSON,
// optionally base64 encoded; an empty payload is an empty object. Unknown
// fields are rejected.
func Decode(name, payload string) (Action, error) {
	newAction, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (expected one of %s)", ErrUnknownAction, name, strings.Join(Names(), ", "))
	}

	raw, err := payloadJSON(payload)
	if err != nil {
		return nil, err
	}

	a := newAction()
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(a); err != nil {
		return nil, fmt.Errorf("%w for %s: %v", ErrInvalidPayload, name, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w for %s: trailing data after JSON object", ErrInvalidPayload, name)
	}
	return a, nil
}

// payloadJSON returns the JSON document carried by payload
func payloadJSON(payload string) ([]byte, error) {
	p := strings.TrimSpace(payload)
	if p == "" {
		return []byte("{}"), nil
	}
	if strings.HasPrefix(p, "{") {
		return []byte(p), nil
	}

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if decoded, err := enc.DecodeString(p); err == nil {
			decoded = bytes.TrimSpace(decoded)
			if len(decoded) == 0 {
				return []byte("{}"), nil
			}
			return decoded, nil
		}
	}
	return nil, fmt.Errorf("%w: payload is neither JSON nor base64 encoded JSON", ErrInvalidPayload)
}

// EncodePayload marshals v and base64 encodes it for the --payload flag
func EncodePayload(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
