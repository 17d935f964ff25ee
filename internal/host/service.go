package host

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// SystemdManager drives systemctl on a Host.
type SystemdManager struct {
	logger zerolog.Logger
	host   Host
}

// NewSystemdManager creates a service manager for h.
func NewSystemdManager(logger zerolog.Logger, h Host) *SystemdManager {
	return &SystemdManager{
		logger: logger.With().Str("svc_mgr", "systemd").Str("host", h.Name()).Logger(),
		host:   h,
	}
}

func (s *SystemdManager) DaemonReload(ctx context.Context) error {
	return s.systemctl(ctx, "daemon-reload")
}

// Start enables and starts a unit.
func (s *SystemdManager) Start(ctx context.Context, unit string) error {
	return s.systemctl(ctx, "enable", "--now", unit)
}

func (s *SystemdManager) Restart(ctx context.Context, unit string) error {
	s.logger.Info().Str("unit", unit).Msg("restarting")
	return s.systemctl(ctx, "restart", unit)
}

func (s *SystemdManager) Reload(ctx context.Context, unit string) error {
	return s.systemctl(ctx, "reload", unit)
}

// IsActive reports whether the unit is running. A non-zero exit from
// `systemctl is-active` means inactive, not failure.
func (s *SystemdManager) IsActive(ctx context.Context, unit string) (bool, error) {
	return s.query(ctx, "is-active", unit, "active")
}

// IsEnabled reports whether the unit starts at boot.
func (s *SystemdManager) IsEnabled(ctx context.Context, unit string) (bool, error) {
	return s.query(ctx, "is-enabled", unit, "enabled")
}

func (s *SystemdManager) query(ctx context.Context, verb, unit, want string) (bool, error) {
	out, err := s.host.Run(ctx, Cmd("systemctl", verb, unit))
	state := strings.TrimSpace(string(out))
	if err != nil {
		if ExitCode(err) > 0 {
			return false, nil
		}
		return false, fmt.Errorf("systemctl %s %s: %w", verb, unit, err)
	}
	return state == want, nil
}

func (s *SystemdManager) systemctl(ctx context.Context, args ...string) error {
	if output, err := s.host.Run(ctx, Cmd("systemctl", args...)); err != nil {
		return fmt.Errorf("systemctl %v: %s: %w", args, string(output), err)
	}
	return nil
}
