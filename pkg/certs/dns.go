package certs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/miekg/dns"
	"go.uber.org/multierr"
)

// DefaultDNSTimeout bounds both the public address lookup and the domain query
const DefaultDNSTimeout = 5 * time.Second

// DNSStatus is the outcome of the pre-issuance DNS check
type DNSStatus string

const (
	// DNSMatch means the domain resolves to one of this host's addresses
	DNSMatch DNSStatus = "match"

	// DNSMismatch means the domain resolves, but not to this host
	DNSMismatch DNSStatus = "mismatch"

	// DNSUnresolved means the domain has no A or AAAA records
	DNSUnresolved DNSStatus = "unresolved"

	// DNSSkipped means the check could not run because the network failed
	DNSSkipped DNSStatus = "skipped"
)

// DNSReport describes one DNS check
type DNSReport struct {
	Domain    string    `json:"domain"`
	Status    DNSStatus `json:"status"`
	ServerIPs []string  `json:"serverIPs,omitempty"`
	DomainIPs []string  `json:"domainIPs,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// Message renders the report for the operation log
func (r DNSReport) Message() string {
	switch r.Status {
	case DNSMatch:
		return fmt.Sprintf("DNS for %s points at this server (%s)", r.Domain, strings.Join(r.DomainIPs, ", "))
	case DNSMismatch:
		return fmt.Sprintf("warning: %s resolves to %s but this server is %s",
			r.Domain, strings.Join(r.DomainIPs, ", "), strings.Join(r.ServerIPs, ", "))
	case DNSUnresolved:
		return fmt.Sprintf("warning: %s does not resolve; certificate issuance will almost certainly fail", r.Domain)
	default:
		return fmt.Sprintf("DNS check for %s skipped: %s", r.Domain, r.Reason)
	}
}

// Allowed reports whether issuance should go ahead under policy
func (r DNSReport) Allowed(policy types.DNSPolicy) bool {
	switch r.Status {
	case DNSMismatch:
		return policy.ProceedOnMismatch
	case DNSUnresolved:
		return policy.ProceedOnUnresolved
	default:
		return true
	}
}

// LookupFunc returns the addresses a domain resolves to. It returns no
// addresses and no error when the domain has no records, and an error only
// when the query itself failed.
type LookupFunc func(ctx context.Context, domain string) ([]net.IP, error)

// PublicIPFunc returns this host's public addresses
type PublicIPFunc func(ctx context.Context) ([]net.IP, error)

// DNSValidator checks that a domain points at this host before issuance
type DNSValidator struct {
	Lookup    LookupFunc
	PublicIPs PublicIPFunc
	Timeout   time.Duration
}

// NewDNSValidator creates a validator that queries resolver (host:port) and
// asks the given HTTP endpoints for the public address
func NewDNSValidator(resolver string, publicIPURLs []string) *DNSValidator {
	return &DNSValidator{
		Lookup:    ResolverLookup(resolver),
		PublicIPs: HTTPPublicIPs(publicIPURLs, &http.Client{}),
		Timeout:   DefaultDNSTimeout,
	}
}

// Validate compares the domain's records with this host's public addresses
func (v *DNSValidator) Validate(ctx context.Context, domain string) DNSReport {
	report := DNSReport{Domain: domain}
	logger := log.WithComponent("certs")

	timeout := v.Timeout
	if timeout <= 0 {
		timeout = DefaultDNSTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	serverIPs, err := v.PublicIPs(ctx)
	if err != nil {
		report.Status = DNSSkipped
		report.Reason = fmt.Sprintf("could not determine public address: %v", err)
		logger.Debug().Err(err).Str("domain", domain).Msg("DNS check skipped")
		return report
	}
	report.ServerIPs = ipStrings(serverIPs)

	domainIPs, err := v.Lookup(ctx, domain)
	if err != nil {
		report.Status = DNSSkipped
		report.Reason = fmt.Sprintf("could not query DNS: %v", err)
		logger.Debug().Err(err).Str("domain", domain).Msg("DNS check skipped")
		return report
	}
	report.DomainIPs = ipStrings(domainIPs)

	switch {
	case len(domainIPs) == 0:
		report.Status = DNSUnresolved
	case intersects(serverIPs, domainIPs):
		report.Status = DNSMatch
	default:
		report.Status = DNSMismatch
	}

	logger.Debug().
		Str("domain", domain).
		Str("status", string(report.Status)).
		Strs("domain_ips", report.DomainIPs).
		Strs("server_ips", report.ServerIPs).
		Msg("DNS check finished")

	return report
}

// ResolverLookup queries A and AAAA records from a single DNS server
func ResolverLookup(server string) LookupFunc {
	return func(ctx context.Context, domain string) ([]net.IP, error) {
		client := &dns.Client{Net: "udp"}

		var ips []net.IP
		var failures int
		var lastErr error
		for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
			msg := &dns.Msg{}
			msg.SetQuestion(dns.Fqdn(domain), qtype)
			msg.RecursionDesired = true

			resp, _, err := client.ExchangeContext(ctx, msg, server)
			if err != nil {
				failures++
				lastErr = err
				continue
			}
			if resp.Rcode != dns.RcodeSuccess && resp.Rcode != dns.RcodeNameError {
				failures++
				lastErr = fmt.Errorf("%s query failed: %s", dns.TypeToString[qtype], dns.RcodeToString[resp.Rcode])
				continue
			}

			for _, rr := range resp.Answer {
				switch rec := rr.(type) {
				case *dns.A:
					ips = append(ips, rec.A)
				case *dns.AAAA:
					ips = append(ips, rec.AAAA)
				}
			}
		}

		// Both families failing is a network problem, not an answer
		if failures == 2 {
			return nil, lastErr
		}
		return ips, nil
	}
}

// HTTPPublicIPs asks each endpoint for this host's address as plain text.
// It fails only when no endpoint answered.
func HTTPPublicIPs(urls []string, client *http.Client) PublicIPFunc {
	return func(ctx context.Context) ([]net.IP, error) {
		var ips []net.IP
		var errs []error

		for _, url := range urls {
			ip, err := fetchIP(ctx, client, url)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			ips = append(ips, ip)
		}

		if len(ips) == 0 {
			if len(errs) == 0 {
				return nil, errors.New("no public address endpoints configured")
			}
			return nil, multierr.Combine(errs...)
		}
		return ips, nil
	}
}

func fetchIP(ctx context.Context, client *http.Client, url string) (net.IP, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %s", url, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return nil, err
	}
	ip := net.ParseIP(strings.TrimSpace(string(body)))
	if ip == nil {
		return nil, fmt.Errorf("%s returned %q, not an address", url, strings.TrimSpace(string(body)))
	}
	return ip, nil
}

func intersects(a, b []net.IP) bool {
	for _, x := range a {
		for _, y := range b {
			if x.Equal(y) {
				return true
			}
		}
	}
	return false
}

func ipStrings(ips []net.IP) []string {
	out := make([]string, 0, len(ips))
	for _, ip := range ips {
		out = append(out, ip.String())
	}
	sort.Strings(out)
	return out
}
