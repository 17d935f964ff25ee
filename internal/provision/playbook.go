package provision

import (
	"fmt"
	"path"
	"time"

	"github.com/edvin/hostprov/internal/host"
	"github.com/edvin/hostprov/internal/inventory"
)

// UnitDir is where unit files are installed.
const UnitDir = "/etc/systemd/system"

// NewIssuer returns the issuer named in the site settings. staging points
// certbot at the CA's test environment; the native issuer follows
// acmeDirectory.
func NewIssuer(name, acmeDirectory string, staging bool) (Issuer, error) {
	switch name {
	case "", "certbot":
		return Certbot{Staging: staging}, nil
	case "lego":
		return Lego{DirectoryURL: acmeDirectory}, nil
	default:
		return nil, fmt.Errorf("unknown certificate issuer %q", name)
	}
}

// SitePaths are the proxy file locations for one domain.
type SitePaths struct {
	Available string
	Enabled   string
}

// ProxySitePaths returns where the site config for domain is written and
// enabled.
func ProxySitePaths(p inventory.ProxySite, domain string) SitePaths {
	return SitePaths{
		Available: path.Join(p.SitesAvailable, domain),
		Enabled:   path.Join(p.SitesEnabled, domain),
	}
}

// BuildPlaybook assembles the full provisioning sequence for one host. The
// returned bootstrap is the certificate phase, for reading its state after
// the run.
func BuildPlaybook(site inventory.Site, target inventory.HostTarget, issuer Issuer) (Playbook, *CertificateBootstrap) {
	app := site.App
	db := site.Database
	proxy := site.Proxy

	restartApp := RestartAppHandlerName(app.Name)

	database := []Item{
		EnsurePackage{Packages: []string{"curl", "gnupg", "ca-certificates"}},
		EnsureKeyTrusted{URL: db.KeyURL, Dest: db.KeyPath},
		EnsureLine{Path: db.SourcePath, Line: db.SourceLine, Mode: 0o644},
		EnsurePackage{Packages: db.Packages, UpdateCache: true},
		EnsureService{Unit: db.Service},
	}
	if db.DSN != "" {
		database = append(database, EnsureDatabaseReady{DSN: db.DSN, Attempts: db.ReadyAttempts, Interval: 3 * time.Second})
	}

	application := []Item{
		EnsurePackage{Packages: []string{"git"}},
		EnsureUser{User: app.User, Home: app.Dir},
		Notify(EnsureCheckout{RepoURL: app.RepoURL, Dest: app.Dir, Revision: app.Revision}, restartApp),
	}
	if app.BootstrapCommand != "" {
		application = append(application, Notify(EnsureBootstrap{Marker: app.BootstrapMarker, Pipeline: app.BootstrapCommand, Dir: app.Dir}, restartApp))
	}

	envFile := path.Join("/etc", app.Name, app.Name+".env")
	env := map[string]string{"PORT": fmt.Sprint(app.Port)}
	for k, v := range app.Environment {
		env[k] = v
	}
	service := []Item{
		Notify(Template(envFile, appEnvTmpl, appEnvData{Vars: sortedEnv(env)}, 0o640), restartApp),
		Notify(Template(path.Join(UnitDir, app.Name+".service"), appServiceTmpl, appServiceData{
			Name:      app.Name,
			User:      app.User,
			Dir:       app.Dir,
			EnvFile:   envFile,
			ExecStart: app.ExecStart,
			After:     db.Service + ".service",
		}, 0o644), HandlerDaemonReload, restartApp),
		EnsureService{Unit: app.Name},
	}

	job := []Item{
		EnsurePeriodicJob{UnitDir: UnitDir, Job: PeriodicJob{
			Name:       site.Job.Name,
			Command:    site.Job.Command,
			Schedule:   site.Job.Schedule,
			User:       app.User,
			WorkingDir: app.Dir,
		}},
	}

	firewall := []Item{EnsurePackage{Packages: []string{"ufw"}}}
	for _, rule := range site.Firewall.Rules {
		firewall = append(firewall, EnsureFirewallRule{Rule: rule})
	}
	firewall = append(firewall, EnsureFirewallEnabled{})

	proxyItems := []Item{
		EnsurePackage{Packages: []string{proxy.Package}},
		EnsureService{Unit: proxy.Service},
		EnsureDirectory{Path: proxy.ACMEWebroot, Mode: 0o755},
	}
	if proxy.DisableDefault {
		proxyItems = append(proxyItems, Notify(EnsureAbsent{Path: path.Join(proxy.SitesEnabled, "default")}, HandlerRestartProxy))
	}

	paths := ProxySitePaths(proxy, target.Name)
	liveDir := site.Certificate.LiveDir
	data := siteData{
		Domain:   target.Name,
		Webroot:  proxy.ACMEWebroot,
		Port:     app.Port,
		CertPath: CertPath(liveDir, target.Name),
		KeyPath:  KeyPath(liveDir, target.Name),
	}
	bootstrap := &CertificateBootstrap{
		Domain:     target.Name,
		Email:      target.AdminEmail,
		Webroot:    proxy.ACMEWebroot,
		LiveDir:    liveDir,
		Issuer:     issuer,
		HTTPSite:   Template(paths.Available, httpSiteTmpl, data, 0o644),
		HTTPSSite:  Template(paths.Available, httpsSiteTmpl, data, 0o644),
		EnableSite: EnsureSymlink{Target: paths.Available, Link: paths.Enabled},
	}

	nginxTest := proxyCheckCommand(proxy.Service)
	pb := Playbook{
		Phases: []Phase{
			{ID: PhaseDatabase, Items: database},
			{ID: PhaseApplication, Items: application},
			{ID: PhaseService, Items: service},
			{ID: PhaseJob, Items: job},
			{ID: PhaseFirewall, Items: firewall},
			{ID: PhaseProxy, Items: proxyItems},
			{ID: PhaseCertificate, Items: []Item{bootstrap}},
		},
		Handlers: []Handler{
			DaemonReloadHandler(),
			RestartHandler(restartApp, app.Name, nil),
			RestartHandler(HandlerRestartProxy, proxy.Service, nginxTest),
		},
	}
	return pb, bootstrap
}

func proxyCheckCommand(service string) *host.Command {
	if service != "nginx" {
		return nil
	}
	c := host.Cmd("nginx", "-t")
	return &c
}
