package provision

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/hostprov/internal/host"
	"github.com/edvin/hostprov/internal/host/hosttest"
)

func TestEnsureCheckout(t *testing.T) {
	ctx := context.Background()
	h := hosttest.NewDebian("h")
	step := EnsureCheckout{RepoURL: "https://example.com/app.git", Dest: "/opt/app", Revision: "v1.2.0"}

	ok, err := step.Satisfied(ctx, h)
	require.NoError(t, err)
	require.False(t, ok)

	out, err := step.Apply(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, Changed, out)
	assert.Equal(t, 1, h.CountCalls("git -C /opt/app checkout --quiet --detach v1.2.0"))

	ok, err = step.Satisfied(ctx, h)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEnsureCheckout_FailedCheckoutRemovesClone(t *testing.T) {
	ctx := context.Background()
	h := hosttest.NewDebian("h")
	h.Handle("git", func(f *hosttest.Fake, c host.Command) ([]byte, error) {
		if c.Args[0] == "clone" {
			f.SetFile("/opt/app/.git/HEAD", "ref: refs/heads/main\n", 0o644)
			return nil, nil
		}
		return hosttest.Fail(c, 1, "error: pathspec 'v9' did not match any file(s) known to git\n")
	})
	step := EnsureCheckout{RepoURL: "https://example.com/app.git", Dest: "/opt/app", Revision: "v9"}

	_, err := step.Apply(ctx, h)
	require.ErrorIs(t, err, ErrCommand)
	assert.Contains(t, err.Error(), "pathspec")

	ok, err := step.Satisfied(ctx, h)
	require.NoError(t, err)
	assert.False(t, ok, "partial clone must not satisfy the next run")
}

func TestEnsureBootstrap(t *testing.T) {
	ctx := context.Background()
	h := hosttest.NewDebian("h")
	step := EnsureBootstrap{Marker: "/opt/app/.venv/bin/python", Pipeline: "curl -sSL https://example.com/install | sh", Dir: "/opt/app"}

	// The pipeline exits 0 without producing the marker.
	_, err := step.Apply(ctx, h)
	require.NoError(t, err)
	ok, err := step.Satisfied(ctx, h)
	require.NoError(t, err)
	assert.False(t, ok)

	h.ShellCreates = []string{step.Marker}
	_, err = step.Apply(ctx, h)
	require.NoError(t, err)
	ok, err = step.Satisfied(ctx, h)
	require.NoError(t, err)
	assert.True(t, ok)

	cmds := h.Commands()
	assert.Equal(t, "/opt/app", cmds[len(cmds)-1].Dir)
}

func TestEnsureUser(t *testing.T) {
	ctx := context.Background()
	h := hosttest.NewDebian("h")
	step := EnsureUser{User: "analyzer", Home: "/opt/analyzer"}

	ok, err := step.Satisfied(ctx, h)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = step.Apply(ctx, h)
	require.NoError(t, err)
	ok, err = step.Satisfied(ctx, h)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, h.CountCalls("useradd --system --home-dir /opt/analyzer"))
}
