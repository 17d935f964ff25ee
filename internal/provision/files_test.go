package provision

import (
	"context"
	"testing"
	"text/template"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/hostprov/internal/host/hosttest"
)

func TestDeployFile_ContentAndMode(t *testing.T) {
	ctx := context.Background()
	h := hosttest.New("h")
	step := File("/etc/analyzer/analyzer.env", []byte("PORT=8000\n"), 0o640)

	ok, err := step.Satisfied(ctx, h)
	require.NoError(t, err)
	assert.False(t, ok)

	h.SetFile("/etc/analyzer/analyzer.env", "PORT=8000\n", 0o644)
	ok, err = step.Satisfied(ctx, h)
	require.NoError(t, err)
	assert.False(t, ok, "mode differs")

	h.SetFile("/etc/analyzer/analyzer.env", "PORT=9000\n", 0o640)
	ok, err = step.Satisfied(ctx, h)
	require.NoError(t, err)
	assert.False(t, ok, "content differs")

	out, err := step.Apply(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, Changed, out)

	ok, err = step.Satisfied(ctx, h)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDeployFile_Template(t *testing.T) {
	ctx := context.Background()
	h := hosttest.New("h")
	tmpl := template.Must(template.New("t").Parse("port={{ .Port }}\n"))
	step := Template("/etc/app.conf", tmpl, struct{ Port int }{8000}, 0o644)

	_, err := step.Apply(ctx, h)
	require.NoError(t, err)
	got, _ := h.File("/etc/app.conf")
	assert.Equal(t, "port=8000\n", got)
}

func TestEnsureSymlink(t *testing.T) {
	ctx := context.Background()
	h := hosttest.New("h")
	step := EnsureSymlink{Target: "/etc/nginx/sites-available/app.example.com", Link: "/etc/nginx/sites-enabled/app.example.com"}

	ok, err := step.Satisfied(ctx, h)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = step.Apply(ctx, h)
	require.NoError(t, err)

	ok, err = step.Satisfied(ctx, h)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEnsureAbsent(t *testing.T) {
	ctx := context.Background()
	h := hosttest.New("h")
	h.SetFile("/etc/nginx/sites-enabled/default", "", 0o644)
	step := EnsureAbsent{Path: "/etc/nginx/sites-enabled/default"}

	ok, err := step.Satisfied(ctx, h)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = step.Apply(ctx, h)
	require.NoError(t, err)

	ok, err = step.Satisfied(ctx, h)
	require.NoError(t, err)
	assert.True(t, ok)
}
