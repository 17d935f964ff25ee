package provision

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/edvin/hostprov/internal/host"
)

// EnsurePackage installs Debian packages that are not installed yet.
type EnsurePackage struct {
	Packages []string
	// UpdateCache refreshes the apt index before installing, for packages
	// coming from a freshly registered repository.
	UpdateCache bool
}

func (s EnsurePackage) Name() string {
	return "package " + strings.Join(s.Packages, ",")
}

func (s EnsurePackage) Satisfied(ctx context.Context, h host.Host) (bool, error) {
	for _, p := range s.Packages {
		ok, err := packageInstalled(ctx, h, p)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (s EnsurePackage) Apply(ctx context.Context, h host.Host) (Outcome, error) {
	env := []string{"DEBIAN_FRONTEND=noninteractive"}
	if s.UpdateCache {
		c := host.Command{Name: "apt-get", Args: []string{"update", "-q"}, Env: env}
		if out, err := h.Run(ctx, c); err != nil {
			return Unchanged, runErr(ErrPackageManager, c, out, err)
		}
	}

	args := append([]string{"install", "-y", "-q", "--no-install-recommends"}, s.Packages...)
	c := host.Command{Name: "apt-get", Args: args, Env: env}
	if out, err := h.Run(ctx, c); err != nil {
		return Unchanged, runErr(ErrPackageManager, c, out, err)
	}
	return Changed, nil
}

func packageInstalled(ctx context.Context, h host.Host, name string) (bool, error) {
	c := host.Cmd("dpkg-query", "-W", "-f=${Status}", name)
	out, err := h.Run(ctx, c)
	if err != nil {
		// dpkg-query exits 1 for unknown packages.
		if host.ExitCode(err) == 1 {
			return false, nil
		}
		return false, runErr(ErrPackageManager, c, out, err)
	}
	return strings.Contains(string(out), "install ok installed"), nil
}

// EnsureKeyTrusted imports an armored signing key as a binary keyring. The
// existence of Dest is the only idempotency guard: a present key is never
// refreshed.
type EnsureKeyTrusted struct {
	URL  string
	Dest string
}

func (s EnsureKeyTrusted) Name() string { return "trusted key " + s.Dest }

func (s EnsureKeyTrusted) Satisfied(ctx context.Context, h host.Host) (bool, error) {
	return host.Exists(ctx, h, s.Dest)
}

func (s EnsureKeyTrusted) Apply(ctx context.Context, h host.Host) (_ Outcome, err error) {
	if err := h.MkdirAll(ctx, filepath.Dir(s.Dest), 0o755); err != nil {
		return Unchanged, fmt.Errorf("%w: %w", ErrCommand, err)
	}

	mk := host.Cmd("mktemp", "/tmp/hostprov-key.XXXXXXXXXX")
	out, err := h.Run(ctx, mk)
	if err != nil {
		return Unchanged, runErr(ErrCommand, mk, out, err)
	}
	tmp := strings.TrimSpace(string(out))

	defer func() {
		// Runs even when the run is being cancelled.
		if rmErr := h.Remove(context.WithoutCancel(ctx), tmp); rmErr != nil {
			zerolog.Ctx(ctx).Warn().Err(rmErr).Str("path", tmp).Msg("failed to remove downloaded key")
			if err == nil {
				err = fmt.Errorf("%w: cleanup %s: %w", ErrCommand, tmp, rmErr)
			}
		}
	}()

	fetch := host.Cmd("curl", "-fsSL", "--retry", "3", "-o", tmp, s.URL)
	if out, err := h.Run(ctx, fetch); err != nil {
		return Unchanged, runErr(ErrNetworkFetch, fetch, out, err)
	}

	dearmor := host.Cmd("gpg", "--batch", "--yes", "--dearmor", "-o", s.Dest, tmp)
	if out, err := h.Run(ctx, dearmor); err != nil {
		return Unchanged, runErr(ErrCommand, dearmor, out, err)
	}
	return Changed, nil
}

// EnsureLine makes sure a text file contains Line, creating the file if
// needed.
type EnsureLine struct {
	Path string
	Line string
	Mode fs.FileMode
}

func (s EnsureLine) Name() string { return "line in " + s.Path }

func (s EnsureLine) Satisfied(ctx context.Context, h host.Host) (bool, error) {
	data, err := h.ReadFile(ctx, s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return hasLine(string(data), s.Line), nil
}

func (s EnsureLine) Apply(ctx context.Context, h host.Host) (Outcome, error) {
	data, err := h.ReadFile(ctx, s.Path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Unchanged, err
	}
	content := string(data)
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += s.Line + "\n"

	mode := s.Mode
	if mode == 0 {
		mode = 0o644
	}
	if err := h.WriteFile(ctx, s.Path, []byte(content), mode); err != nil {
		return Unchanged, fmt.Errorf("%w: %w", ErrCommand, err)
	}
	return Changed, nil
}

func hasLine(content, line string) bool {
	want := strings.TrimSpace(line)
	for _, l := range strings.Split(content, "\n") {
		if strings.TrimSpace(l) == want {
			return true
		}
	}
	return false
}
