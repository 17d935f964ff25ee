package provision

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/edvin/hostprov/internal/host"
	"github.com/edvin/hostprov/internal/inventory"
)

// Proxy site variants.
const (
	SiteNone  = "none"
	SiteHTTP  = "http"
	SiteHTTPS = "https"
)

// HostFacts is a point-in-time snapshot of a host, for reporting. Steps never
// read it; they query the host themselves.
type HostFacts struct {
	Host           string          `json:"host"`
	OS             string          `json:"os"`
	Packages       map[string]bool `json:"packages"`
	Services       map[string]bool `json:"services"`
	CertState      CertState       `json:"cert_state"`
	ProxySite      string          `json:"proxy_site"`
	FirewallActive bool            `json:"firewall_active"`
	GatheredAt     time.Time       `json:"gathered_at"`
}

// GatherFacts queries h for the state the site settings care about.
func GatherFacts(ctx context.Context, h host.Host, site inventory.Site, target inventory.HostTarget) (*HostFacts, error) {
	f := &HostFacts{
		Host:       h.Name(),
		Packages:   make(map[string]bool),
		Services:   make(map[string]bool),
		GatheredAt: time.Now().UTC(),
	}

	osRelease, err := h.ReadFile(ctx, "/etc/os-release")
	switch {
	case err == nil:
		f.OS = parseOSRelease(string(osRelease))
	case errors.Is(err, fs.ErrNotExist):
		f.OS = "unknown"
	default:
		return nil, err
	}

	pkgs := append([]string{"git", "ufw", site.Proxy.Package}, site.Database.Packages...)
	for _, p := range pkgs {
		ok, err := packageInstalled(ctx, h, p)
		if err != nil {
			ok = false
		}
		f.Packages[p] = ok
	}

	mgr := systemd(ctx, h)
	for _, unit := range []string{site.Database.Service, site.App.Name, site.Proxy.Service, site.Job.Name + ".timer"} {
		active, err := mgr.IsActive(ctx, unit)
		if err != nil {
			return nil, err
		}
		f.Services[unit] = active
	}

	if f.CertState, err = QueryCertState(ctx, h, site.Certificate.LiveDir, target.Name); err != nil {
		return nil, err
	}

	conf, err := h.ReadFile(ctx, ProxySitePaths(site.Proxy, target.Name).Available)
	switch {
	case err == nil:
		f.ProxySite = siteVariant(string(conf))
	case errors.Is(err, fs.ErrNotExist):
		f.ProxySite = SiteNone
	default:
		return nil, err
	}

	// ufw missing or failing is reported as inactive.
	f.FirewallActive, _ = firewallActive(ctx, h)
	return f, nil
}

func parseOSRelease(content string) string {
	for _, line := range strings.Split(content, "\n") {
		if v, ok := strings.CutPrefix(line, "PRETTY_NAME="); ok {
			return strings.Trim(v, `"`)
		}
	}
	return "unknown"
}

func siteVariant(conf string) string {
	if strings.Contains(conf, "listen 443") {
		return SiteHTTPS
	}
	return SiteHTTP
}
