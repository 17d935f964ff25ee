package provision

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/hostprov/internal/host"
	"github.com/edvin/hostprov/internal/host/hosttest"
)

func TestClassifyIssuance(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   error
	}{
		{"challenge", "Certbot failed to authenticate some domains\n  Type:   unauthorized\n  Detail: Invalid response from http://app.example.com/.well-known/acme-challenge/x: 404", ErrValidation},
		{"some challenges", "Some challenges have failed.", ErrValidation},
		{"rate limit", "Error creating new order :: too many certificates already issued for exact set of domains", ErrValidation},
		{"lego unauthorized", "acme: error: 403 :: urn:ietf:params:acme:error:unauthorized", ErrValidation},
		{"dns", "dial tcp: lookup acme-v02.api.letsencrypt.org: no such host", ErrNetworkFetch},
		{"refused", "connect: connection refused", ErrNetworkFetch},
		{"resolution", "Temporary failure in name resolution", ErrNetworkFetch},
		{"other", "An unexpected error occurred: PermissionError", ErrCommand},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyIssuance(tt.output))
		})
	}
}

func TestCertbot_Command(t *testing.T) {
	c := Certbot{}.command(Request{Domain: "app.example.com", Email: "ops@example.com", Webroot: "/var/www/letsencrypt"})

	assert.Equal(t, "certbot certonly --webroot -w /var/www/letsencrypt -d app.example.com --email ops@example.com --agree-tos --non-interactive --no-eff-email", c.String())

	staging := Certbot{Staging: true}.command(Request{Domain: "app.example.com"})
	assert.Contains(t, staging.Args, "--staging")
}

func TestCertbot_IssueFailureIsClassified(t *testing.T) {
	h := hosttest.New("h")
	h.Handle("certbot", func(_ *hosttest.Fake, c host.Command) ([]byte, error) {
		return hosttest.Fail(c, 1, "Some challenges have failed.\n")
	})

	err := Certbot{}.Issue(context.Background(), h, Request{Domain: "app.example.com"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "Some challenges have failed.")
}

func TestCertbot_InstallSteps(t *testing.T) {
	ctx := context.Background()
	h := hosttest.NewDebian("h")

	for _, s := range (Certbot{}).Install() {
		ok, err := s.Satisfied(ctx, h)
		require.NoError(t, err)
		require.False(t, ok, s.Name())
		_, err = s.Apply(ctx, h)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, h.CountCalls("snap install certbot --classic"))

	fi, err := h.Stat(ctx, "/usr/bin/certbot")
	require.NoError(t, err)
	assert.Equal(t, "/snap/bin/certbot", fi.LinkTarget)
}
