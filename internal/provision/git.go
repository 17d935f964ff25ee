package provision

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/edvin/hostprov/internal/host"
)

// EnsureCheckout clones a repository at a pinned revision. An existing
// destination directory is left untouched, even if it is at a different
// revision.
type EnsureCheckout struct {
	RepoURL  string
	Dest     string
	Revision string
}

func (s EnsureCheckout) Name() string { return "checkout " + s.Dest }

func (s EnsureCheckout) Satisfied(ctx context.Context, h host.Host) (bool, error) {
	return host.Exists(ctx, h, s.Dest)
}

func (s EnsureCheckout) Apply(ctx context.Context, h host.Host) (Outcome, error) {
	env := []string{"GIT_TERMINAL_PROMPT=0"}

	clone := host.Command{Name: "git", Args: []string{"clone", "--quiet", s.RepoURL, s.Dest}, Env: env}
	if out, err := h.Run(ctx, clone); err != nil {
		s.discard(ctx, h)
		return Unchanged, runErr(ErrCommand, clone, out, err)
	}

	checkout := host.Command{Name: "git", Args: []string{"-C", s.Dest, "checkout", "--quiet", "--detach", s.Revision}, Env: env}
	if out, err := h.Run(ctx, checkout); err != nil {
		// Without this the next run would see Dest and skip the checkout.
		s.discard(ctx, h)
		return Unchanged, runErr(ErrCommand, checkout, out, err)
	}
	return Changed, nil
}

func (s EnsureCheckout) discard(ctx context.Context, h host.Host) {
	if out, err := h.Run(ctx, host.Cmd("rm", "-rf", s.Dest)); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("output", string(out)).Str("path", s.Dest).Msg("failed to remove partial checkout")
	}
}

// EnsureBootstrap runs a setup pipeline until the tool it installs leaves
// Marker behind. The runner never creates Marker itself, so a bootstrap that
// dies before producing it is retried on the next run.
type EnsureBootstrap struct {
	Marker   string
	Pipeline string
	Dir      string
}

func (s EnsureBootstrap) Name() string { return "bootstrap " + s.Marker }

func (s EnsureBootstrap) Satisfied(ctx context.Context, h host.Host) (bool, error) {
	return host.Exists(ctx, h, s.Marker)
}

func (s EnsureBootstrap) Apply(ctx context.Context, h host.Host) (Outcome, error) {
	c := host.Command{Name: "sh", Args: []string{"-c", s.Pipeline}, Dir: s.Dir}
	if out, err := h.Run(ctx, c); err != nil {
		return Unchanged, runErr(ErrCommand, c, out, err)
	}
	return Changed, nil
}

// EnsureUser creates a system account.
type EnsureUser struct {
	User string
	Home string
}

func (s EnsureUser) Name() string { return "user " + s.User }

func (s EnsureUser) Satisfied(ctx context.Context, h host.Host) (bool, error) {
	c := host.Cmd("id", "-u", s.User)
	out, err := h.Run(ctx, c)
	if err != nil {
		if host.ExitCode(err) == 1 {
			return false, nil
		}
		return false, runErr(ErrCommand, c, out, err)
	}
	return true, nil
}

func (s EnsureUser) Apply(ctx context.Context, h host.Host) (Outcome, error) {
	c := host.Cmd("useradd", "--system", "--home-dir", s.Home, "--no-create-home", "--shell", "/usr/sbin/nologin", s.User)
	if out, err := h.Run(ctx, c); err != nil {
		return Unchanged, runErr(ErrCommand, c, out, err)
	}
	return Changed, nil
}
