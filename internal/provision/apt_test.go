package provision

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/hostprov/internal/host"
	"github.com/edvin/hostprov/internal/host/hosttest"
)

const (
	testKeyURL  = "https://www.postgresql.org/media/keys/ACCC4CF8.asc"
	testKeyPath = "/etc/apt/keyrings/postgresql.gpg"
)

// downloadPath returns the file curl was told to write to.
func downloadPath(t *testing.T, h *hosttest.Debian) string {
	t.Helper()
	for _, c := range h.Commands() {
		if c.Name != "curl" {
			continue
		}
		for i, a := range c.Args {
			if a == "-o" && i+1 < len(c.Args) {
				return c.Args[i+1]
			}
		}
	}
	t.Fatal("curl was not run")
	return ""
}

func TestEnsureKeyTrusted_FetchesOnce(t *testing.T) {
	ctx := context.Background()
	h := hosttest.NewDebian("h")
	step := EnsureKeyTrusted{URL: testKeyURL, Dest: testKeyPath}

	ok, err := step.Satisfied(ctx, h)
	require.NoError(t, err)
	require.False(t, ok)

	out, err := step.Apply(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, Changed, out)
	assert.Equal(t, 1, h.CountCalls("curl"))

	_, exists := h.File(testKeyPath)
	assert.True(t, exists)
	tmp := downloadPath(t, h)
	assert.True(t, strings.HasPrefix(tmp, "/tmp/hostprov-key."))
	assert.NotEqual(t, "/tmp/hostprov-key.XXXXXXXXXX", tmp)
	_, exists = h.File(tmp)
	assert.False(t, exists, "downloaded key must be removed")

	ok, err = step.Satisfied(ctx, h)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, h.CountCalls("curl"))
}

func TestEnsureKeyTrusted_ExistingKeyNeverRefreshed(t *testing.T) {
	h := hosttest.NewDebian("h")
	h.SetFile(testKeyPath, "stale", 0o644)

	ok, err := EnsureKeyTrusted{URL: testKeyURL, Dest: testKeyPath}.Satisfied(context.Background(), h)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, h.CountCalls("curl"))
}

func TestEnsureKeyTrusted_DearmorFailureRemovesDownload(t *testing.T) {
	h := hosttest.NewDebian("h")
	h.Handle("gpg", func(_ *hosttest.Fake, c host.Command) ([]byte, error) {
		return hosttest.Fail(c, 2, "gpg: no valid OpenPGP data found.\n")
	})

	_, err := EnsureKeyTrusted{URL: testKeyURL, Dest: testKeyPath}.Apply(context.Background(), h)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCommand)
	assert.Contains(t, err.Error(), "no valid OpenPGP data found")

	_, exists := h.File(downloadPath(t, h))
	assert.False(t, exists)
	_, exists = h.File(testKeyPath)
	assert.False(t, exists)
}

func TestEnsureKeyTrusted_CancelledRunRemovesDownload(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := hosttest.NewDebian("h")
	h.Handle("gpg", func(*hosttest.Fake, host.Command) ([]byte, error) {
		// SIGINT arrives while gpg is running.
		cancel()
		return nil, context.Canceled
	})

	_, err := EnsureKeyTrusted{URL: testKeyURL, Dest: testKeyPath}.Apply(ctx, h)
	require.ErrorIs(t, err, context.Canceled)

	_, exists := h.File(downloadPath(t, h))
	assert.False(t, exists, "download must be removed after cancellation")
}

func TestEnsureKeyTrusted_DownloadFailureIsNetworkFetch(t *testing.T) {
	h := hosttest.NewDebian("h")
	h.Handle("curl", func(_ *hosttest.Fake, c host.Command) ([]byte, error) {
		return hosttest.Fail(c, 6, "curl: (6) Could not resolve host: www.postgresql.org\n")
	})

	_, err := EnsureKeyTrusted{URL: testKeyURL, Dest: testKeyPath}.Apply(context.Background(), h)
	assert.ErrorIs(t, err, ErrNetworkFetch)
	assert.Zero(t, h.CountCalls("gpg"))
}

func TestEnsurePackage(t *testing.T) {
	ctx := context.Background()
	h := hosttest.NewDebian("h")
	step := EnsurePackage{Packages: []string{"postgresql-16"}, UpdateCache: true}

	ok, err := step.Satisfied(ctx, h)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = step.Apply(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, 1, h.CountCalls("apt-get update"))
	assert.True(t, h.Installed("postgresql-16"))

	ok, err = step.Satisfied(ctx, h)
	require.NoError(t, err)
	assert.True(t, ok)

	install := h.Commands()[len(h.Commands())-2]
	assert.Contains(t, install.Env, "DEBIAN_FRONTEND=noninteractive")
}

func TestEnsurePackage_DpkgFailureIsPackageManager(t *testing.T) {
	h := hosttest.New("h")
	h.Handle("dpkg-query", func(_ *hosttest.Fake, c host.Command) ([]byte, error) {
		return hosttest.Fail(c, 2, "dpkg-query: error: parsing file '/var/lib/dpkg/status'\n")
	})

	_, err := EnsurePackage{Packages: []string{"git"}}.Satisfied(context.Background(), h)
	assert.ErrorIs(t, err, ErrPackageManager)
}

func TestEnsureLine(t *testing.T) {
	ctx := context.Background()
	h := hosttest.New("h")
	line := "deb [signed-by=/etc/apt/keyrings/postgresql.gpg] https://apt.postgresql.org/pub/repos/apt jammy-pgdg main"
	h.SetFile("/etc/apt/sources.list.d/pgdg.list", "# managed", 0o644)
	step := EnsureLine{Path: "/etc/apt/sources.list.d/pgdg.list", Line: line}

	ok, err := step.Satisfied(ctx, h)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = step.Apply(ctx, h)
	require.NoError(t, err)

	content, _ := h.File("/etc/apt/sources.list.d/pgdg.list")
	assert.Equal(t, "# managed\n"+line+"\n", content)

	ok, err = step.Satisfied(ctx, h)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHasLine(t *testing.T) {
	assert.True(t, hasLine("a\n  b  \nc", "b"))
	assert.False(t, hasLine("a\nbb\n", "b"))
	assert.False(t, hasLine("", "b"))
}
