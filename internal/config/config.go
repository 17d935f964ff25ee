package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds process-level settings for hostprov. Per-host and per-site
// values live in the inventory file.
type Config struct {
	ServiceName string
	LogLevel    string

	// SSH transport. An empty SSHKnownHostsPath means ~/.ssh/known_hosts.
	SSHKeyPath               string
	SSHKnownHostsPath        string
	SSHInsecureIgnoreHostKey bool

	// MaxParallelHosts bounds how many hosts are provisioned at once.
	MaxParallelHosts int

	// ACMEDirectoryURL is used by the native issuer only. ACMEStaging
	// switches both issuers to the CA's test environment.
	ACMEDirectoryURL string
	ACMEStaging      bool

	MetricsListenAddr string
	MetricsTextfile   string

	ReportDir      string
	ReportS3Bucket string
	S3Endpoint     string
	S3Region       string
	S3AccessKey    string
	S3SecretKey    string
}

// Load reads the configuration from the environment. A .env file in the
// working directory is applied first when present; real environment
// variables win over it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	parallel, err := strconv.Atoi(getEnv("HOSTPROV_MAX_PARALLEL", "5"))
	if err != nil {
		return nil, fmt.Errorf("HOSTPROV_MAX_PARALLEL: %w", err)
	}

	insecure, err := getEnvBool("SSH_INSECURE_IGNORE_HOST_KEY")
	if err != nil {
		return nil, err
	}
	staging, err := getEnvBool("ACME_STAGING")
	if err != nil {
		return nil, err
	}
	directory := "https://acme-v02.api.letsencrypt.org/directory"
	if staging {
		directory = "https://acme-staging-v02.api.letsencrypt.org/directory"
	}

	cfg := &Config{
		ServiceName:              getEnv("HOSTPROV_SERVICE_NAME", "hostprov"),
		LogLevel:                 getEnv("LOG_LEVEL", "info"),
		SSHKeyPath:               getEnv("SSH_KEY_PATH", os.ExpandEnv("${HOME}/.ssh/id_ed25519")),
		SSHKnownHostsPath:        getEnv("SSH_KNOWN_HOSTS", ""),
		SSHInsecureIgnoreHostKey: insecure,
		MaxParallelHosts:         parallel,
		ACMEDirectoryURL:         getEnv("ACME_DIRECTORY_URL", directory),
		ACMEStaging:              staging,
		MetricsListenAddr:        getEnv("METRICS_LISTEN_ADDR", ""),
		MetricsTextfile:          getEnv("METRICS_TEXTFILE", ""),
		ReportDir:                getEnv("REPORT_DIR", ""),
		ReportS3Bucket:           getEnv("REPORT_S3_BUCKET", ""),
		S3Endpoint:               getEnv("S3_ENDPOINT", ""),
		S3Region:                 getEnv("S3_REGION", "us-east-1"),
		S3AccessKey:              getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:              getEnv("S3_SECRET_KEY", ""),
	}

	return cfg, nil
}

// Validate checks cross-field requirements and names every offending
// variable in the returned error.
func (c *Config) Validate() error {
	var errs []error
	if c.MaxParallelHosts < 1 {
		errs = append(errs, fmt.Errorf("HOSTPROV_MAX_PARALLEL must be at least 1"))
	}
	if c.ReportS3Bucket != "" {
		if c.S3Endpoint == "" {
			errs = append(errs, fmt.Errorf("S3_ENDPOINT is required when REPORT_S3_BUCKET is set"))
		}
		if c.S3AccessKey == "" || c.S3SecretKey == "" {
			errs = append(errs, fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY must both be set"))
		}
	}
	if c.MetricsListenAddr != "" && c.MetricsTextfile != "" {
		errs = append(errs, fmt.Errorf("METRICS_LISTEN_ADDR and METRICS_TEXTFILE are mutually exclusive"))
	}
	return errors.Join(errs...)
}

func getEnvBool(key string) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
