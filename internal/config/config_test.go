package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	// Clear any env vars that might interfere with defaults.
	os.Unsetenv("LOG_LEVEL")
	os.Unsetenv("HOSTPROV_MAX_PARALLEL")
	os.Unsetenv("SSH_KNOWN_HOSTS")
	os.Unsetenv("REPORT_S3_BUCKET")
	os.Unsetenv("S3_REGION")
	os.Unsetenv("ACME_DIRECTORY_URL")
	os.Unsetenv("ACME_STAGING")
	os.Unsetenv("SSH_INSECURE_IGNORE_HOST_KEY")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 5, cfg.MaxParallelHosts)
	assert.Equal(t, "", cfg.SSHKnownHostsPath)
	assert.Equal(t, "us-east-1", cfg.S3Region)
	assert.Equal(t, "https://acme-v02.api.letsencrypt.org/directory", cfg.ACMEDirectoryURL)
	assert.False(t, cfg.ACMEStaging)
	assert.False(t, cfg.SSHInsecureIgnoreHostKey)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_ACMEStaging(t *testing.T) {
	t.Chdir(t.TempDir())
	os.Unsetenv("ACME_DIRECTORY_URL")
	t.Setenv("ACME_STAGING", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.ACMEStaging)
	assert.Equal(t, "https://acme-staging-v02.api.letsencrypt.org/directory", cfg.ACMEDirectoryURL)
}

func TestLoad_InsecureHostKeyIsOptIn(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SSH_INSECURE_IGNORE_HOST_KEY", "1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.SSHInsecureIgnoreHostKey)

	t.Setenv("SSH_INSECURE_IGNORE_HOST_KEY", "sometimes")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SSH_INSECURE_IGNORE_HOST_KEY")
}

func TestLoad_AllEnvVars(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("HOSTPROV_MAX_PARALLEL", "2")
	t.Setenv("SSH_KEY_PATH", "/keys/deploy")
	t.Setenv("SSH_KNOWN_HOSTS", "/keys/known_hosts")
	t.Setenv("METRICS_TEXTFILE", "/var/lib/node_exporter/hostprov.prom")
	t.Setenv("REPORT_DIR", "/var/log/hostprov")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2, cfg.MaxParallelHosts)
	assert.Equal(t, "/keys/deploy", cfg.SSHKeyPath)
	assert.Equal(t, "/keys/known_hosts", cfg.SSHKnownHostsPath)
	assert.Equal(t, "/var/lib/node_exporter/hostprov.prom", cfg.MetricsTextfile)
	assert.Equal(t, "/var/log/hostprov", cfg.ReportDir)
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	os.Unsetenv("REPORT_DIR")
	require.NoError(t, os.WriteFile(".env", []byte("REPORT_DIR=/srv/reports\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("REPORT_DIR") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/srv/reports", cfg.ReportDir)
}

func TestLoad_InvalidParallel(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOSTPROV_MAX_PARALLEL", "many")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HOSTPROV_MAX_PARALLEL")
}

func TestValidate_S3MissingFields(t *testing.T) {
	cfg := &Config{MaxParallelHosts: 1, ReportS3Bucket: "reports"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "S3_ENDPOINT")
	assert.Contains(t, err.Error(), "S3_ACCESS_KEY and S3_SECRET_KEY must both be set")
}

func TestValidate_MetricsExclusive(t *testing.T) {
	cfg := &Config{MaxParallelHosts: 1, MetricsListenAddr: ":9100", MetricsTextfile: "/tmp/x.prom"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestValidate_ZeroParallel(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HOSTPROV_MAX_PARALLEL")
}
