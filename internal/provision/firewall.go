package provision

import (
	"context"
	"strings"

	"github.com/edvin/hostprov/internal/host"
)

// exitNotFound is the shell's exit status for a missing program. Queries
// treat it as "not configured yet", which matters in check mode before the
// firewall package is installed.
const exitNotFound = 127

// EnsureFirewallRule allow-lists a ufw rule (an application profile such as
// "OpenSSH" or a port spec such as "443/tcp").
type EnsureFirewallRule struct {
	Rule string
}

func (s EnsureFirewallRule) Name() string { return "firewall allow " + s.Rule }

func (s EnsureFirewallRule) Satisfied(ctx context.Context, h host.Host) (bool, error) {
	c := host.Cmd("ufw", "show", "added")
	out, err := h.Run(ctx, c)
	if err != nil {
		if host.ExitCode(err) == exitNotFound {
			return false, nil
		}
		return false, runErr(ErrCommand, c, out, err)
	}
	return hasAddedRule(string(out), s.Rule), nil
}

func (s EnsureFirewallRule) Apply(ctx context.Context, h host.Host) (Outcome, error) {
	c := host.Cmd("ufw", "allow", s.Rule)
	if out, err := h.Run(ctx, c); err != nil {
		return Unchanged, runErr(ErrCommand, c, out, err)
	}
	return Changed, nil
}

// hasAddedRule scans `ufw show added` output, which lists every rule as the
// command that created it.
func hasAddedRule(output, rule string) bool {
	want := "ufw allow " + rule
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == want {
			return true
		}
	}
	return false
}

// EnsureFirewallEnabled turns ufw on.
type EnsureFirewallEnabled struct{}

func (EnsureFirewallEnabled) Name() string { return "firewall enabled" }

func (EnsureFirewallEnabled) Satisfied(ctx context.Context, h host.Host) (bool, error) {
	return firewallActive(ctx, h)
}

func (EnsureFirewallEnabled) Apply(ctx context.Context, h host.Host) (Outcome, error) {
	c := host.Cmd("ufw", "--force", "enable")
	if out, err := h.Run(ctx, c); err != nil {
		return Unchanged, runErr(ErrCommand, c, out, err)
	}
	return Changed, nil
}

func firewallActive(ctx context.Context, h host.Host) (bool, error) {
	c := host.Cmd("ufw", "status")
	out, err := h.Run(ctx, c)
	if err != nil {
		if host.ExitCode(err) == exitNotFound {
			return false, nil
		}
		return false, runErr(ErrCommand, c, out, err)
	}
	return strings.Contains(string(out), "Status: active"), nil
}
