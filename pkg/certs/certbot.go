package certs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/burrow/pkg/fsutil"
	"github.com/cuemby/burrow/pkg/system"
)

// Certbot drives the certbot client
type Certbot struct {
	Command string

	// LiveDir is where certbot stores issued certificates
	LiveDir string

	// ServerRoot is passed as --nginx-server-root when set. Needed on hosts
	// whose nginx layout certbot does not find by itself.
	ServerRoot string

	Runner system.Runner
}

// CertificatePath returns the certificate chain of domain
func (c *Certbot) CertificatePath(domain string) string {
	return filepath.Join(c.LiveDir, domain, "fullchain.pem")
}

// KeyPath returns the private key of domain
func (c *Certbot) KeyPath(domain string) string {
	return filepath.Join(c.LiveDir, domain, "privkey.pem")
}

// HasCertificate reports whether an issued certificate and key exist for domain
func (c *Certbot) HasCertificate(domain string) bool {
	return fsutil.Exists(c.CertificatePath(domain)) && fsutil.Exists(c.KeyPath(domain))
}

// Obtain requests a certificate for domain non-interactively. certbot's nginx
// plugin answers the HTTP challenge through the live port 80 config.
func (c *Certbot) Obtain(ctx context.Context, domain, email string) error {
	if email == "" {
		return fmt.Errorf("an email address is required to request a certificate for %s", domain)
	}

	args := []string{
		"--nginx",
		"-d", domain,
		"--non-interactive",
		"--agree-tos",
		"-m", email,
		"--redirect",
	}
	if c.ServerRoot != "" {
		args = append(args, "--nginx-server-root", c.ServerRoot)
	}

	if _, err := c.Runner.Run(ctx, system.Cmd(c.command(), args...)); err != nil {
		return fmt.Errorf("certificate request for %s failed: %w", domain, err)
	}
	if !c.HasCertificate(domain) {
		return fmt.Errorf("certbot reported success but no certificate exists at %s", c.CertificatePath(domain))
	}
	return nil
}

// Renew renews every certificate that is due, or all of them when force is set
func (c *Certbot) Renew(ctx context.Context, force bool) (string, error) {
	args := []string{"renew", "--non-interactive"}
	if force {
		args = append(args, "--force-renewal")
	}
	if c.ServerRoot != "" {
		args = append(args, "--nginx-server-root", c.ServerRoot)
	}

	out, err := c.Runner.Run(ctx, system.Cmd(c.command(), args...))
	if err != nil {
		return out.Combined(), fmt.Errorf("certificate renewal failed: %w", err)
	}
	return out.Combined(), nil
}

func (c *Certbot) command() string {
	if c.Command == "" {
		return "certbot"
	}
	return c.Command
}

// EnsureDHParams generates the shared Diffie-Hellman parameter file unless it
// already exists. Generation is CPU bound and can take minutes, so it runs at
// most once per host. It reports whether the file was generated.
func EnsureDHParams(ctx context.Context, runner system.Runner, path string, bits int) (bool, error) {
	if fsutil.Exists(path) {
		return false, nil
	}
	if bits <= 0 {
		bits = 2048
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}

	if _, err := runner.Run(ctx, system.Cmd("openssl", "dhparam", "-out", path, fmt.Sprint(bits))); err != nil {
		// openssl may leave a partial file behind
		os.Remove(path)
		return false, fmt.Errorf("failed to generate DH parameters: %w", err)
	}
	return true, nil
}
