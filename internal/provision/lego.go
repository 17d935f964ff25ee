package provision

import (
	"context"
	"crypto"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"path"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge/http01"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
	"github.com/rs/zerolog"

	"github.com/edvin/hostprov/internal/host"
)

// LetsEncryptDirectory is the production ACME directory.
const LetsEncryptDirectory = lego.LEDirectoryProduction

// Lego issues certificates in-process over ACME. HTTP-01 tokens are written
// into the proxy's webroot on the target host, and the resulting files use
// certbot's live directory layout so the proxy config is issuer independent.
type Lego struct {
	DirectoryURL string
}

func (Lego) Name() string { return "lego" }

func (Lego) Install() []Step { return nil }

type acmeUser struct {
	email        string
	registration *registration.Resource
	key          crypto.PrivateKey
}

func (u *acmeUser) GetEmail() string                        { return u.email }
func (u *acmeUser) GetRegistration() *registration.Resource { return u.registration }
func (u *acmeUser) GetPrivateKey() crypto.PrivateKey        { return u.key }

// webrootProvider serves HTTP-01 challenges through the host transport.
type webrootProvider struct {
	ctx     context.Context
	host    host.Host
	webroot string
}

func (p *webrootProvider) tokenPath(token string) string {
	return path.Join(p.webroot, http01.ChallengePath(token))
}

func (p *webrootProvider) Present(_, token, keyAuth string) error {
	dest := p.tokenPath(token)
	if err := p.host.MkdirAll(p.ctx, path.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create challenge dir: %w", err)
	}
	return p.host.WriteFile(p.ctx, dest, []byte(keyAuth), 0o644)
}

func (p *webrootProvider) CleanUp(_, token, _ string) error {
	return p.host.Remove(p.ctx, p.tokenPath(token))
}

// AccountKeyPath is where the ACME account key is kept on the host, next to
// the live directory.
func AccountKeyPath(liveDir string) string {
	return path.Join(path.Dir(liveDir), "accounts", "hostprov", "account.key")
}

// accountKey loads the host's ACME account key, generating and storing one
// on first use. created reports that no account exists for it yet.
func accountKey(ctx context.Context, h host.Host, liveDir string) (crypto.PrivateKey, bool, error) {
	p := AccountKeyPath(liveDir)
	data, err := h.ReadFile(ctx, p)
	if err == nil {
		key, err := certcrypto.ParsePEMPrivateKey(data)
		if err != nil {
			return nil, false, fmt.Errorf("%w: parse account key %s: %w", ErrCommand, p, err)
		}
		return key, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, fmt.Errorf("%w: read account key: %w", ErrCommand, err)
	}

	key, err := certcrypto.GeneratePrivateKey(certcrypto.EC256)
	if err != nil {
		return nil, false, fmt.Errorf("%w: generate account key: %w", ErrCommand, err)
	}
	if err := h.MkdirAll(ctx, path.Dir(p), 0o700); err != nil {
		return nil, false, fmt.Errorf("%w: create %s: %w", ErrCommand, path.Dir(p), err)
	}
	if err := h.WriteFile(ctx, p, certcrypto.PEMEncode(key), 0o600); err != nil {
		return nil, false, fmt.Errorf("%w: write account key: %w", ErrCommand, err)
	}
	return key, true, nil
}

// account looks up the registration for a stored key and only registers a
// new account when there is none.
func account(ctx context.Context, client *lego.Client, created bool) (*registration.Resource, error) {
	if !created {
		reg, err := client.Registration.ResolveAccountByKey()
		if err == nil {
			return reg, nil
		}
		zerolog.Ctx(ctx).Info().Err(err).Msg("no account for stored key, registering")
	}
	return client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
}

func (l Lego) Issue(ctx context.Context, h host.Host, req Request) error {
	key, created, err := accountKey(ctx, h, req.LiveDir)
	if err != nil {
		return err
	}
	user := &acmeUser{email: req.Email, key: key}

	cfg := lego.NewConfig(user)
	cfg.CADirURL = l.DirectoryURL
	if cfg.CADirURL == "" {
		cfg.CADirURL = LetsEncryptDirectory
	}

	client, err := lego.NewClient(cfg)
	if err != nil {
		return fmt.Errorf("%w: create acme client: %w", classifyIssuance(err.Error()), err)
	}

	provider := &webrootProvider{ctx: ctx, host: h, webroot: req.Webroot}
	if err := client.Challenge.SetHTTP01Provider(provider); err != nil {
		return fmt.Errorf("%w: set http01 provider: %w", ErrCommand, err)
	}

	reg, err := account(ctx, client, created)
	if err != nil {
		return fmt.Errorf("%w: register acme account: %w", classifyIssuance(err.Error()), err)
	}
	user.registration = reg

	res, err := client.Certificate.Obtain(certificate.ObtainRequest{
		Domains: []string{req.Domain},
		Bundle:  true,
	})
	if err != nil {
		return fmt.Errorf("%w: obtain certificate for %s: %w", classifyIssuance(err.Error()), req.Domain, err)
	}

	zerolog.Ctx(ctx).Info().Str("domain", req.Domain).Str("cert_url", res.CertURL).Msg("certificate obtained")
	return storeCertificate(ctx, h, req, res.Certificate, res.IssuerCertificate, res.PrivateKey)
}

// storeCertificate writes the live directory files. fullchain.pem is written
// last because its presence marks the certificate as issued.
func storeCertificate(ctx context.Context, h host.Host, req Request, fullchain, chain, privkey []byte) error {
	dir := path.Join(req.LiveDir, req.Domain)
	if err := h.MkdirAll(ctx, dir, 0o700); err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrCommand, dir, err)
	}

	leaf := fullchain
	if block, _ := pem.Decode(fullchain); block != nil {
		leaf = pem.EncodeToMemory(block)
	}

	files := []struct {
		name string
		data []byte
		mode fs.FileMode
	}{
		{"privkey.pem", privkey, 0o600},
		{"cert.pem", leaf, 0o644},
		{"chain.pem", chain, 0o644},
		{"fullchain.pem", fullchain, 0o644},
	}
	for _, f := range files {
		p := path.Join(dir, f.name)
		if err := h.WriteFile(ctx, p, f.data, f.mode); err != nil {
			return fmt.Errorf("%w: write %s: %w", ErrCommand, p, err)
		}
	}
	return nil
}
