package provision

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/edvin/hostprov/internal/host"
)

func systemd(ctx context.Context, h host.Host) *host.SystemdManager {
	return host.NewSystemdManager(*zerolog.Ctx(ctx), h)
}

// EnsureService makes sure a unit is enabled and running.
type EnsureService struct {
	Unit string
}

func (s EnsureService) Name() string { return "service " + s.Unit }

func (s EnsureService) Satisfied(ctx context.Context, h host.Host) (bool, error) {
	mgr := systemd(ctx, h)
	active, err := mgr.IsActive(ctx, s.Unit)
	if err != nil || !active {
		return false, err
	}
	return mgr.IsEnabled(ctx, s.Unit)
}

func (s EnsureService) Apply(ctx context.Context, h host.Host) (Outcome, error) {
	mgr := systemd(ctx, h)
	// Picks up unit files written earlier in this run.
	if err := mgr.DaemonReload(ctx); err != nil {
		return Unchanged, fmt.Errorf("%w: %w", ErrCommand, err)
	}
	if err := mgr.Start(ctx, s.Unit); err != nil {
		return Unchanged, fmt.Errorf("%w: %w", ErrCommand, err)
	}
	return Changed, nil
}

// Handler names shared by the playbook.
const (
	HandlerDaemonReload = "reload systemd"
	HandlerRestartProxy = "restart proxy"
)

// RestartAppHandlerName is the restart handler name for an application unit.
func RestartAppHandlerName(unit string) string { return "restart " + unit }

// DaemonReloadHandler re-reads unit files.
func DaemonReloadHandler() Handler {
	return Handler{
		Name: HandlerDaemonReload,
		Run: func(ctx context.Context, h host.Host) error {
			if err := systemd(ctx, h).DaemonReload(ctx); err != nil {
				return fmt.Errorf("%w: %w", ErrCommand, err)
			}
			return nil
		},
	}
}

// RestartHandler restarts unit. When precheck is set it must succeed first,
// so a broken configuration never takes the running service down.
func RestartHandler(name, unit string, precheck *host.Command) Handler {
	return Handler{
		Name: name,
		Run: func(ctx context.Context, h host.Host) error {
			if precheck != nil {
				if out, err := h.Run(ctx, *precheck); err != nil {
					return runErr(ErrCommand, *precheck, out, err)
				}
			}
			if err := systemd(ctx, h).Restart(ctx, unit); err != nil {
				return fmt.Errorf("%w: %w", ErrCommand, err)
			}
			return nil
		},
	}
}
