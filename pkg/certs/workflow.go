package certs

import (
	"context"
	"fmt"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/nginx"
	"github.com/cuemby/burrow/pkg/system"
	"github.com/cuemby/burrow/pkg/types"
)

// Validator checks a domain's DNS before issuance
type Validator interface {
	Validate(ctx context.Context, domain string) DNSReport
}

// ProxyActivator installs and activates a rendered proxy config
type ProxyActivator interface {
	Activate(ctx context.Context, site nginx.Site) ([]string, error)
}

// Request asks for a certificate for one instance
type Request struct {
	Site  nginx.Site
	Email string

	Policy types.DNSPolicy

	// Decide overrides Policy, e.g. to ask an operator on a terminal
	Decide func(report DNSReport) bool
}

// Outcome is the result of one certificate workflow run
type Outcome struct {
	// Issued is set when a certificate now exists for the domain
	Issued bool

	// Skipped is set when the DNS check stopped the request
	Skipped bool

	DNS      *DNSReport
	Messages []string

	// Err is the reason no certificate was issued
	Err error
}

// Workflow acquires certificates: DNS gate, DH parameters, certbot
type Workflow struct {
	Validator Validator
	Certbot   *Certbot
	Proxy     ProxyActivator
	Runner    system.Runner

	DHParam     string
	DHParamBits int
}

// Run attempts issuance once and never retries. The proxy must already serve
// the HTTP-only form for the domain. Failures are reported in the Outcome.
func (w *Workflow) Run(ctx context.Context, req Request) Outcome {
	var out Outcome
	logger := log.WithInstance(req.Site.Name)
	domain := req.Site.Domain

	if req.Email == "" {
		out.Err = fmt.Errorf("no certificate email configured for %s", domain)
		return out
	}

	if !req.Policy.SkipCheck && w.Validator != nil {
		report := w.Validator.Validate(ctx, domain)
		out.DNS = &report
		out.Messages = append(out.Messages, report.Message())

		allowed := report.Allowed(req.Policy)
		if req.Decide != nil && report.Status != DNSMatch && report.Status != DNSSkipped {
			allowed = req.Decide(report)
		}
		if !allowed {
			out.Skipped = true
			out.Err = fmt.Errorf("certificate request for %s not attempted: DNS %s", domain, report.Status)
			return out
		}
	}

	generated, err := EnsureDHParams(ctx, w.Runner, w.DHParam, w.DHParamBits)
	if err != nil {
		out.Err = err
		return out
	}
	if generated {
		out.Messages = append(out.Messages, fmt.Sprintf("generated DH parameters at %s", w.DHParam))
	}

	out.Messages = append(out.Messages, fmt.Sprintf("requesting certificate for %s", domain))
	if err := w.Certbot.Obtain(ctx, domain, req.Email); err != nil {
		logger.Warn().Err(err).Str("domain", domain).Msg("Certificate request failed")
		out.Err = err
		return out
	}

	out.Issued = true
	out.Messages = append(out.Messages, fmt.Sprintf("certificate issued for %s", domain))
	logger.Info().Str("domain", domain).Msg("Certificate issued")
	return out
}

// Reconcile renders the final proxy config for the outcome: the TLS form
// when a certificate exists, otherwise the HTTP-only form so the instance
// stays reachable over plain HTTP
func (w *Workflow) Reconcile(ctx context.Context, site nginx.Site, out Outcome) ([]string, error) {
	site.UseTLS = site.UseTLS && out.Issued

	messages, err := w.Proxy.Activate(ctx, site)
	if err != nil {
		return messages, err
	}
	if !site.UseTLS {
		messages = append(messages, fmt.Sprintf("%s is served over HTTP only", site.Domain))
	}
	return messages, nil
}
