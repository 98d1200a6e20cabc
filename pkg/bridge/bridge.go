package bridge

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
)

// Operations are the lifecycle operations the bridge dispatches to
type Operations interface {
	List(ctx context.Context) *types.Result
	Add(ctx context.Context, req types.AddRequest) *types.Result
	Remove(ctx context.Context, req types.RemoveRequest) *types.Result
	Clone(ctx context.Context, req types.CloneRequest) *types.Result
	Reset(ctx context.Context, req types.ResetRequest) *types.Result
	ResetCredential(ctx context.Context, req types.ResetCredentialRequest) *types.Result
	RenewCertificates(ctx context.Context, req types.RenewRequest) *types.Result
	UpdateBinary(ctx context.Context, req types.UpdateBinaryRequest) *types.Result
	RebuildEcosystem(ctx context.Context) *types.Result
	SetDefaultEmail(ctx context.Context, req types.SetEmailRequest) *types.Result
	Logs(ctx context.Context, req types.LogsRequest) *types.Result
	Diagnostics(ctx context.Context) *types.Result
}

// Invocation is one call through the bridge
type Invocation struct {
	Secret  string
	Action  string
	Payload string
}

// Bridge is the secret-gated entry point for a separate, lower-trust
// process. It runs with the caller's privileges and elevates nothing; the
// secret only proves the caller was handed it.
type Bridge struct {
	secret string
	ops    Operations
}

// New creates a bridge. An empty secret rejects every invocation.
func New(secret string, ops Operations) *Bridge {
	return &Bridge{secret: secret, ops: ops}
}

// Handle checks the secret, decodes the action and runs it. Failures are
// reported in the returned result, never as a panic or an error.
func (b *Bridge) Handle(ctx context.Context, inv Invocation) *types.Result {
	logger := log.WithComponent("bridge")

	if err := Authorize(b.secret, inv.Secret); err != nil {
		logger.Warn().Str("action", inv.Action).Msg("Rejected bridge invocation with invalid secret")
		return failure(err)
	}

	a, err := Decode(inv.Action, inv.Payload)
	if err != nil {
		return failure(err)
	}

	logger.Info().Str("action", a.Name()).Msg("Bridge invocation")
	return b.dispatch(ctx, a)
}

// Authorize compares a presented secret with the configured one in constant
// time. An empty configured secret rejects everything.
func Authorize(configured, presented string) error {
	if configured == "" || presented == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(configured)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

func (b *Bridge) dispatch(ctx context.Context, a Action) *types.Result {
	switch a := a.(type) {
	case *ListAction:
		return b.ops.List(ctx)
	case *AddAction:
		return b.ops.Add(ctx, a.AddRequest)
	case *RemoveAction:
		return b.ops.Remove(ctx, a.RemoveRequest)
	case *CloneAction:
		return b.ops.Clone(ctx, a.CloneRequest)
	case *ResetAction:
		return b.ops.Reset(ctx, a.ResetRequest)
	case *ResetCredentialAction:
		return b.ops.ResetCredential(ctx, a.ResetCredentialRequest)
	case *RenewCertificatesAction:
		return b.ops.RenewCertificates(ctx, a.RenewRequest)
	case *UpdateBinaryAction:
		return b.ops.UpdateBinary(ctx, a.UpdateBinaryRequest)
	case *RebuildEcosystemAction:
		return b.ops.RebuildEcosystem(ctx)
	case *SetDefaultEmailAction:
		return b.ops.SetDefaultEmail(ctx, a.SetEmailRequest)
	case *GetLogsAction:
		return b.ops.Logs(ctx, a.LogsRequest)
	case *GetDiagnosticsAction:
		return b.ops.Diagnostics(ctx)
	default:
		return failure(fmt.Errorf("unhandled action %s", a.Name()))
	}
}

func failure(err error) *types.Result {
	return &types.Result{Success: false, Error: err.Error(), Messages: []string{}}
}

// WriteEnvelope writes res to w as exactly one JSON document and a newline
func WriteEnvelope(w io.Writer, res *types.Result) error {
	if res.Messages == nil {
		res.Messages = []string{}
	}
	data, err := json.Marshal(res)
	if err != nil {
		data, _ = json.Marshal(failure(fmt.Errorf("failed to encode result: %w", err)))
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// GenerateSecret returns a random 256-bit secret, hex encoded
func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
