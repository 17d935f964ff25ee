package inventory

import "path/filepath"

// Site holds the playbook-level settings shared by every host. Anything not
// set in the inventory file falls back to DefaultSite.
type Site struct {
	Database    DatabaseSite    `yaml:"database"`
	App         AppSite         `yaml:"app"`
	Job         JobSite         `yaml:"job"`
	Firewall    FirewallSite    `yaml:"firewall"`
	Proxy       ProxySite       `yaml:"proxy"`
	Certificate CertificateSite `yaml:"certificate"`
}

// DatabaseSite describes the database engine's apt repository and service.
type DatabaseSite struct {
	KeyURL     string   `yaml:"key_url" validate:"required,url"`
	KeyPath    string   `yaml:"key_path" validate:"required"`
	SourceLine string   `yaml:"source_line" validate:"required"`
	SourcePath string   `yaml:"source_path" validate:"required"`
	Packages   []string `yaml:"packages" validate:"required,min=1"`
	Service    string   `yaml:"service" validate:"required"`

	// DSN enables the readiness probe after the service is started.
	DSN           string `yaml:"dsn"`
	ReadyAttempts int    `yaml:"ready_attempts"`
}

// AppSite describes the pre-built application server.
type AppSite struct {
	Name     string `yaml:"name" validate:"required,alphanum"`
	RepoURL  string `yaml:"repo_url" validate:"required"`
	Revision string `yaml:"revision" validate:"required"`
	Dir      string `yaml:"dir"`
	User     string `yaml:"user"`

	// BootstrapCommand is a shell pipeline run once; BootstrapMarker is the
	// path the bootstrap tool leaves behind when it succeeds.
	BootstrapCommand string `yaml:"bootstrap_command"`
	BootstrapMarker  string `yaml:"bootstrap_marker" validate:"required_with=BootstrapCommand"`

	ExecStart   string            `yaml:"exec_start"`
	Port        int               `yaml:"port" validate:"min=1,max=65535"`
	Environment map[string]string `yaml:"environment"`
}

// JobSite is the periodic analysis job.
type JobSite struct {
	Name     string `yaml:"name"`
	Command  string `yaml:"command"`
	Schedule string `yaml:"schedule" validate:"required,schedule"`
}

// FirewallSite lists the ufw rules that must be allowed before enabling.
type FirewallSite struct {
	Rules []string `yaml:"rules" validate:"required,min=1"`
}

// ProxySite describes the nginx layout.
type ProxySite struct {
	Package        string `yaml:"package" validate:"required"`
	Service        string `yaml:"service" validate:"required"`
	SitesAvailable string `yaml:"sites_available" validate:"required"`
	SitesEnabled   string `yaml:"sites_enabled" validate:"required"`
	ACMEWebroot    string `yaml:"acme_webroot" validate:"required"`
	DisableDefault bool   `yaml:"disable_default"`
}

// CertificateSite selects the certificate issuer.
type CertificateSite struct {
	Issuer  string `yaml:"issuer" validate:"oneof=certbot lego"`
	LiveDir string `yaml:"live_dir" validate:"required"`
}

// DefaultSite returns settings for a PostgreSQL-backed app behind nginx on
// Ubuntu 22.04.
func DefaultSite() Site {
	return Site{
		Database: DatabaseSite{
			KeyURL:        "https://www.postgresql.org/media/keys/ACCC4CF8.asc",
			KeyPath:       "/etc/apt/keyrings/postgresql.gpg",
			SourceLine:    "deb [signed-by=/etc/apt/keyrings/postgresql.gpg] https://apt.postgresql.org/pub/repos/apt jammy-pgdg main",
			SourcePath:    "/etc/apt/sources.list.d/pgdg.list",
			Packages:      []string{"postgresql-16"},
			Service:       "postgresql",
			ReadyAttempts: 10,
		},
		App: AppSite{
			Name: "analyzer",
			Port: 8000,
		},
		Job: JobSite{
			Schedule: "hourly",
		},
		Firewall: FirewallSite{
			Rules: []string{"OpenSSH", "80/tcp", "443/tcp"},
		},
		Proxy: ProxySite{
			Package:        "nginx",
			Service:        "nginx",
			SitesAvailable: "/etc/nginx/sites-available",
			SitesEnabled:   "/etc/nginx/sites-enabled",
			ACMEWebroot:    "/var/www/letsencrypt",
			DisableDefault: true,
		},
		Certificate: CertificateSite{
			Issuer:  "certbot",
			LiveDir: "/etc/letsencrypt/live",
		},
	}
}

// resolve fills settings derived from other settings.
func (s *Site) resolve() {
	if s.App.Dir == "" {
		s.App.Dir = filepath.Join("/opt", s.App.Name)
	}
	if s.App.User == "" {
		s.App.User = s.App.Name
	}
	if s.App.ExecStart == "" {
		s.App.ExecStart = filepath.Join(s.App.Dir, "bin", "server")
	}
	if s.Job.Name == "" {
		s.Job.Name = s.App.Name + "-analyze"
	}
	if s.Job.Command == "" {
		s.Job.Command = filepath.Join(s.App.Dir, "bin", "analyze")
	}
}
