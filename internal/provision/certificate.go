package provision

import (
	"context"
	"fmt"
	"path"

	"github.com/rs/zerolog"

	"github.com/edvin/hostprov/internal/host"
)

// CertState is the certificate bootstrap state of a host.
type CertState int

const (
	NoCert CertState = iota
	CertIssued
)

func (s CertState) String() string {
	if s == CertIssued {
		return "cert_issued"
	}
	return "no_cert"
}

// MarshalText renders the state in reports.
func (s CertState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// CertPath is where the issued full chain for domain lives.
func CertPath(liveDir, domain string) string {
	return path.Join(liveDir, domain, "fullchain.pem")
}

// KeyPath is where the private key for domain lives.
func KeyPath(liveDir, domain string) string {
	return path.Join(liveDir, domain, "privkey.pem")
}

// QueryCertState reads the state from the host. The certificate file is the
// only source of truth.
func QueryCertState(ctx context.Context, h host.Host, liveDir, domain string) (CertState, error) {
	ok, err := host.Exists(ctx, h, CertPath(liveDir, domain))
	if err != nil {
		return NoCert, err
	}
	if ok {
		return CertIssued, nil
	}
	return NoCert, nil
}

// Request describes a certificate to obtain.
type Request struct {
	Domain  string
	Email   string
	Webroot string
	LiveDir string
}

// Issuer obtains certificates from a CA.
type Issuer interface {
	Name() string
	// Install returns the steps that make the issuer usable on a host.
	Install() []Step
	// Issue obtains a certificate and stores it at CertPath. Errors carry a
	// failure category.
	Issue(ctx context.Context, h host.Host, req Request) error
}

// IssueCertificate runs the issuer unless the certificate already exists.
type IssueCertificate struct {
	Issuer  Issuer
	Request Request
}

func (s IssueCertificate) Name() string {
	return fmt.Sprintf("issue certificate %s (%s)", s.Request.Domain, s.Issuer.Name())
}

func (s IssueCertificate) Satisfied(ctx context.Context, h host.Host) (bool, error) {
	return host.Exists(ctx, h, CertPath(s.Request.LiveDir, s.Request.Domain))
}

func (s IssueCertificate) Apply(ctx context.Context, h host.Host) (Outcome, error) {
	zerolog.Ctx(ctx).Info().Str("domain", s.Request.Domain).Str("issuer", s.Issuer.Name()).Msg("requesting certificate")
	if err := s.Issuer.Issue(ctx, h, s.Request); err != nil {
		return Unchanged, err
	}
	return Changed, nil
}

// requireCertificate moves the bootstrap to CertIssued once the certificate
// is on disk and fails the run otherwise.
type requireCertificate struct {
	b *CertificateBootstrap
}

func (s requireCertificate) Name() string { return "certificate present" }

func (s requireCertificate) Satisfied(ctx context.Context, h host.Host) (bool, error) {
	state, err := QueryCertState(ctx, h, s.b.LiveDir, s.b.Domain)
	if err != nil {
		return false, err
	}
	if state == CertIssued {
		s.b.state = CertIssued
		return true, nil
	}
	return false, nil
}

func (s requireCertificate) Apply(context.Context, host.Host) (Outcome, error) {
	return Unchanged, fmt.Errorf("%w: %s absent after issuance", ErrValidation, CertPath(s.b.LiveDir, s.b.Domain))
}

// httpsSite deploys the HTTPS proxy configuration and refuses to do so while
// the certificate it references is missing.
type httpsSite struct {
	DeployFile
	liveDir string
	domain  string
}

func (s httpsSite) Name() string { return "https site " + s.Dest }

func (s httpsSite) Apply(ctx context.Context, h host.Host) (Outcome, error) {
	ok, err := host.Exists(ctx, h, CertPath(s.liveDir, s.domain))
	if err != nil {
		return Unchanged, err
	}
	if !ok {
		return Unchanged, fmt.Errorf("%w: refusing https config without %s", ErrValidation, CertPath(s.liveDir, s.domain))
	}
	return s.DeployFile.Apply(ctx, h)
}

// CertificateBootstrap is the certificate phase. Its initial state is read
// from the host when the runner reaches it.
type CertificateBootstrap struct {
	Domain  string
	Email   string
	Webroot string
	LiveDir string
	Issuer  Issuer

	HTTPSite   DeployFile
	HTTPSSite  DeployFile
	EnableSite EnsureSymlink

	initial  CertState
	state    CertState
	expanded bool
}

func (b *CertificateBootstrap) Name() string { return "certificate bootstrap " + b.Domain }

// Initial is the state found when the phase started.
func (b *CertificateBootstrap) Initial() (CertState, bool) { return b.initial, b.expanded }

// State is the state reached so far.
func (b *CertificateBootstrap) State() CertState { return b.state }

func (b *CertificateBootstrap) Expand(ctx context.Context, h host.Host) ([]Step, error) {
	state, err := QueryCertState(ctx, h, b.LiveDir, b.Domain)
	if err != nil {
		return nil, err
	}
	b.initial, b.state, b.expanded = state, state, true
	zerolog.Ctx(ctx).Info().Str("cert_state", state.String()).Msg("certificate bootstrap")

	https := Notify(httpsSite{DeployFile: b.HTTPSSite, liveDir: b.LiveDir, domain: b.Domain}, HandlerRestartProxy)
	enable := Notify(b.EnableSite, HandlerRestartProxy)

	if state == CertIssued {
		return []Step{https, enable}, nil
	}

	steps := []Step{
		Notify(b.HTTPSite, HandlerRestartProxy),
		enable,
		// The challenge is served by the proxy, so it must be live first.
		Flush(),
	}
	steps = append(steps, b.Issuer.Install()...)
	steps = append(steps,
		IssueCertificate{Issuer: b.Issuer, Request: Request{
			Domain:  b.Domain,
			Email:   b.Email,
			Webroot: b.Webroot,
			LiveDir: b.LiveDir,
		}},
		requireCertificate{b: b},
		https,
	)
	return steps, nil
}
