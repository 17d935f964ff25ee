package provision

import (
	"context"
	"strings"

	"github.com/edvin/hostprov/internal/host"
)

var (
	validationMarkers = []string{
		"challenge failed",
		"some challenges have failed",
		"unauthorized",
		"invalid response",
		"rejectedidentifier",
		"too many certificates",
		"ratelimited",
		"rate limit",
	}
	networkMarkers = []string{
		"connection refused",
		"timed out",
		"timeout",
		"temporary failure in name resolution",
		"no such host",
		"network is unreachable",
		"could not resolve",
	}
)

// classifyIssuance maps CA client output to a failure category.
func classifyIssuance(output string) error {
	lower := strings.ToLower(output)
	for _, m := range validationMarkers {
		if strings.Contains(lower, m) {
			return ErrValidation
		}
	}
	for _, m := range networkMarkers {
		if strings.Contains(lower, m) {
			return ErrNetworkFetch
		}
	}
	return ErrCommand
}

// Certbot issues certificates with the certbot snap using the webroot
// authenticator.
type Certbot struct {
	// Staging points certbot at the CA's test environment.
	Staging bool
}

func (Certbot) Name() string { return "certbot" }

func (Certbot) Install() []Step {
	return []Step{
		EnsureSnap{Package: "core"},
		EnsureSnap{Package: "certbot", Classic: true},
		EnsureSymlink{Target: "/snap/bin/certbot", Link: "/usr/bin/certbot"},
	}
}

func (c Certbot) command(req Request) host.Command {
	args := []string{
		"certonly", "--webroot",
		"-w", req.Webroot,
		"-d", req.Domain,
		"--email", req.Email,
		"--agree-tos", "--non-interactive", "--no-eff-email",
	}
	if c.Staging {
		args = append(args, "--staging")
	}
	return host.Command{Name: "certbot", Args: args}
}

func (c Certbot) Issue(ctx context.Context, h host.Host, req Request) error {
	cmd := c.command(req)
	out, err := h.Run(ctx, cmd)
	if err != nil {
		return runErr(classifyIssuance(string(out)), cmd, out, err)
	}
	return nil
}
