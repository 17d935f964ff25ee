package provision

import (
	"context"
	"fmt"
	"path/filepath"
	"text/template"

	"github.com/edvin/hostprov/internal/host"
	"github.com/edvin/hostprov/internal/inventory"
)

// PeriodicJob is a command run on a fixed schedule by a systemd timer.
type PeriodicJob struct {
	Name       string
	Command    string
	Schedule   string
	User       string
	WorkingDir string
}

// EnsurePeriodicJob registers a job as a .service/.timer pair. Registering
// the same job again is a no-op.
type EnsurePeriodicJob struct {
	Job     PeriodicJob
	UnitDir string
}

func (s EnsurePeriodicJob) Name() string { return "periodic job " + s.Job.Name }

func (s EnsurePeriodicJob) unitDir() string {
	if s.UnitDir == "" {
		return "/etc/systemd/system"
	}
	return s.UnitDir
}

func (s EnsurePeriodicJob) servicePath() string {
	return filepath.Join(s.unitDir(), s.Job.Name+".service")
}

func (s EnsurePeriodicJob) timerPath() string {
	return filepath.Join(s.unitDir(), s.Job.Name+".timer")
}

func (s EnsurePeriodicJob) files() ([]DeployFile, error) {
	calendar, err := inventory.Calendar(s.Job.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", s.Job.Schedule, err)
	}
	return []DeployFile{
		Template(s.servicePath(), jobServiceTmpl, s.Job, 0o644),
		Template(s.timerPath(), jobTimerTmpl, jobTimerData{PeriodicJob: s.Job, Calendar: calendar}, 0o644),
	}, nil
}

func (s EnsurePeriodicJob) Satisfied(ctx context.Context, h host.Host) (bool, error) {
	files, err := s.files()
	if err != nil {
		return false, err
	}
	for _, f := range files {
		ok, err := f.Satisfied(ctx, h)
		if err != nil || !ok {
			return false, err
		}
	}
	return EnsureService{Unit: s.Job.Name + ".timer"}.Satisfied(ctx, h)
}

func (s EnsurePeriodicJob) Apply(ctx context.Context, h host.Host) (Outcome, error) {
	files, err := s.files()
	if err != nil {
		return Unchanged, err
	}
	for _, f := range files {
		ok, err := f.Satisfied(ctx, h)
		if err != nil {
			return Unchanged, err
		}
		if ok {
			continue
		}
		if _, err := f.Apply(ctx, h); err != nil {
			return Unchanged, err
		}
	}
	// EnsureService reloads systemd before enabling.
	return EnsureService{Unit: s.Job.Name + ".timer"}.Apply(ctx, h)
}

var jobServiceTmpl = template.Must(template.New("job-service").Parse(`[Unit]
Description=Periodic job: {{ .Name }}
After=network.target

[Service]
Type=oneshot
{{- if .User }}
User={{ .User }}
{{- end }}
{{- if .WorkingDir }}
WorkingDirectory={{ .WorkingDir }}
{{- end }}
ExecStart={{ .Command }}
StandardOutput=journal
StandardError=journal
SyslogIdentifier={{ .Name }}
`))

var jobTimerTmpl = template.Must(template.New("job-timer").Parse(`[Unit]
Description=Timer for periodic job: {{ .Name }}

[Timer]
OnCalendar={{ .Calendar }}
Persistent=true
RandomizedDelaySec=15

[Install]
WantedBy=timers.target
`))

type jobTimerData struct {
	PeriodicJob
	Calendar string
}
