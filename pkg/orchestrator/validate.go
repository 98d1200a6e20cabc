package orchestrator

import (
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"

	"github.com/cuemby/burrow/pkg/types"
)

const (
	MinPort = 1025
	MaxPort = 65534
)

var (
	namePattern  = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	labelPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)
)

var (
	// ErrValidation matches every ValidationError with errors.Is
	ErrValidation = errors.New("invalid request")

	// ErrNotFound matches a ValidationError for an unknown instance
	ErrNotFound = errors.New("instance not found")
)

// ValidationError is returned before any side effect when a request
// conflicts with the registry or is malformed
type ValidationError struct {
	Field   string
	Message string

	notFound bool
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation || (target == ErrNotFound && e.notFound)
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is a ValidationError
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// ValidateName checks an instance name
func ValidateName(name string) error {
	if name == "" {
		return invalid("name", "instance name is required")
	}
	if len(name) > 64 || !namePattern.MatchString(name) {
		return invalid("name", "instance name %q may only contain letters, digits, '-' and '_'", name)
	}
	return nil
}

// ValidateDomain checks a hostname and returns it lower-cased
func ValidateDomain(domain string) (string, error) {
	d := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(domain), "."))
	if d == "" {
		return "", invalid("domain", "domain is required")
	}
	labels := strings.Split(d, ".")
	if len(d) > 253 || len(labels) < 2 {
		return "", invalid("domain", "%q is not a valid domain name", domain)
	}
	for _, label := range labels {
		if len(label) > 63 || !labelPattern.MatchString(label) {
			return "", invalid("domain", "%q is not a valid domain name", domain)
		}
	}
	return d, nil
}

// ValidatePort checks that port is an unprivileged port
func ValidatePort(port int) error {
	if port < MinPort || port > MaxPort {
		return invalid("port", "port %d is outside %d-%d", port, MinPort, MaxPort)
	}
	return nil
}

// ValidateEmail checks a plain email address
func ValidateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return invalid("email", "%q is not a valid email address", email)
	}
	return nil
}

// validateNew checks an add or clone request against the registry and
// returns the instance record it would create
func (o *Orchestrator) validateNew(reg *types.Registry, req types.AddRequest) (*types.Instance, error) {
	if err := ValidateName(req.Name); err != nil {
		return nil, err
	}
	domain, err := ValidateDomain(req.Domain)
	if err != nil {
		return nil, err
	}
	if err := ValidatePort(req.Port); err != nil {
		return nil, err
	}

	email := strings.TrimSpace(req.CertificateEmail)
	if req.UseTLS {
		if email == "" {
			email = o.cfg.Certificates.DefaultEmail
		}
		if email == "" {
			return nil, invalid("email", "an email address is required for TLS; pass one or set a default with set-email")
		}
	}
	if email != "" {
		if err := ValidateEmail(email); err != nil {
			return nil, err
		}
	}

	if req.Admin != nil {
		if err := validateAdmin(req.Admin); err != nil {
			return nil, err
		}
	}

	if _, exists := reg.Instances[req.Name]; exists {
		return nil, invalid("name", "instance %q already exists", req.Name)
	}
	for _, other := range reg.Sorted() {
		if other.Port == req.Port {
			return nil, invalid("port", "port %d is already used by %s", req.Port, other.Name)
		}
		if strings.EqualFold(other.Domain, domain) {
			return nil, invalid("domain", "domain %s is already used by %s", domain, other.Name)
		}
	}

	inst := &types.Instance{
		Name:            req.Name,
		Domain:          domain,
		Port:            req.Port,
		DataDirectory:   o.data.PathFor(req.Name),
		UseTLS:          req.UseTLS,
		UseHTTP2:        req.UseHTTP2,
		MaxBodySize20MB: req.MaxBodySize20MB,
	}
	if req.UseTLS {
		inst.CertificateEmail = email
	}
	return inst, nil
}

func validateAdmin(admin *types.AdminCredential) error {
	if err := ValidateEmail(admin.Email); err != nil {
		return err
	}
	if admin.Password != "" && len(admin.Password) < 8 {
		return invalid("password", "admin password must be at least 8 characters")
	}
	return nil
}

// existing returns the named instance or a validation error
func existing(reg *types.Registry, name string) (*types.Instance, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	inst := reg.Get(name)
	if inst == nil {
		return nil, &ValidationError{
			Field:    "name",
			Message:  fmt.Sprintf("instance %q does not exist", name),
			notFound: true,
		}
	}
	return inst, nil
}
