package provision

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/hostprov/internal/host"
	"github.com/edvin/hostprov/internal/host/hosttest"
)

func TestEnsureService(t *testing.T) {
	ctx := context.Background()
	h := hosttest.NewDebian("h")
	step := EnsureService{Unit: "analyzer"}

	ok, err := step.Satisfied(ctx, h)
	require.NoError(t, err)
	require.False(t, ok)

	out, err := step.Apply(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, Changed, out)
	assert.True(t, h.Active("analyzer"))
	assert.Equal(t, 1, h.CountCalls("systemctl daemon-reload"))

	ok, err = step.Satisfied(ctx, h)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRestartHandler_PrecheckFailure(t *testing.T) {
	ctx := context.Background()
	h := hosttest.NewDebian("h")
	h.Handle("nginx", func(_ *hosttest.Fake, c host.Command) ([]byte, error) {
		return hosttest.Fail(c, 1, "nginx: [emerg] unexpected \"}\"\n")
	})
	check := host.Cmd("nginx", "-t")

	err := RestartHandler(HandlerRestartProxy, "nginx", &check).Run(ctx, h)
	require.ErrorIs(t, err, ErrCommand)
	assert.Contains(t, err.Error(), "emerg")
	assert.Zero(t, h.CountCalls("systemctl restart"))

	require.NoError(t, RestartHandler("restart analyzer", "analyzer", nil).Run(ctx, h))
	assert.Equal(t, 1, h.CountCalls("systemctl restart analyzer"))
}

func TestEnsureSnap(t *testing.T) {
	ctx := context.Background()
	h := hosttest.NewDebian("h")
	step := EnsureSnap{Package: "certbot", Classic: true}

	ok, err := step.Satisfied(ctx, h)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = step.Apply(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, 1, h.CountCalls("snap install certbot --classic"))

	ok, err = step.Satisfied(ctx, h)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEnsureSnap_Failure(t *testing.T) {
	h := hosttest.NewDebian("h")
	h.Handle("snap", func(_ *hosttest.Fake, c host.Command) ([]byte, error) {
		return hosttest.Fail(c, 10, "error: cannot communicate with server\n")
	})

	_, err := EnsureSnap{Package: "core"}.Apply(context.Background(), h)
	require.ErrorIs(t, err, ErrPackageManager)
}
