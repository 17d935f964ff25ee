package provision

import (
	"context"

	"github.com/edvin/hostprov/internal/host"
)

// EnsureSnap installs a snap package.
type EnsureSnap struct {
	Package string
	Classic bool
}

func (s EnsureSnap) Name() string { return "snap " + s.Package }

func (s EnsureSnap) Satisfied(ctx context.Context, h host.Host) (bool, error) {
	c := host.Cmd("snap", "list", s.Package)
	out, err := h.Run(ctx, c)
	if err != nil {
		// snap list exits 1 when the snap is not installed.
		if code := host.ExitCode(err); code == 1 || code == exitNotFound {
			return false, nil
		}
		return false, runErr(ErrPackageManager, c, out, err)
	}
	return true, nil
}

func (s EnsureSnap) Apply(ctx context.Context, h host.Host) (Outcome, error) {
	args := []string{"install", s.Package}
	if s.Classic {
		args = append(args, "--classic")
	}
	c := host.Cmd("snap", args...)
	if out, err := h.Run(ctx, c); err != nil {
		return Unchanged, runErr(ErrPackageManager, c, out, err)
	}
	return Changed, nil
}
