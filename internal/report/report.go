// Package report turns fleet results into run reports and stores them.
package report

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/edvin/hostprov/internal/fleet"
	"github.com/edvin/hostprov/internal/provision"
)

// RunReport describes one invocation of the provisioner.
type RunReport struct {
	RunID      string       `json:"run_id"`
	Check      bool         `json:"check"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Hosts      []HostReport `json:"hosts"`
}

// HostReport is the outcome for one host.
type HostReport struct {
	Host         string                 `json:"host"`
	InitialState provision.CertState    `json:"initial_cert_state"`
	FinalState   provision.CertState    `json:"final_cert_state"`
	Changed      int                    `json:"changed"`
	Failed       bool                   `json:"failed"`
	FailedPhase  provision.PhaseID      `json:"failed_phase,omitempty"`
	FailedStep   string                 `json:"failed_step,omitempty"`
	Error        string                 `json:"error,omitempty"`
	Output       string                 `json:"output,omitempty"`
	Duration     time.Duration          `json:"duration_ns"`
	Facts        *provision.HostFacts   `json:"facts,omitempty"`
	Steps        []provision.StepRecord `json:"steps"`
	Handlers     []string               `json:"handlers"`
}

// New builds a report from fleet results.
func New(runID string, check bool, started time.Time, results []*fleet.HostResult) *RunReport {
	r := &RunReport{
		RunID:      runID,
		Check:      check,
		StartedAt:  started.UTC(),
		FinishedAt: time.Now().UTC(),
	}
	for _, res := range results {
		r.Hosts = append(r.Hosts, hostReport(res))
	}
	return r
}

func hostReport(res *fleet.HostResult) HostReport {
	hr := HostReport{
		Host:         res.Target.Name,
		InitialState: res.InitialState,
		FinalState:   res.FinalState,
		Failed:       res.Failed(),
		Duration:     res.Duration,
		Facts:        res.Facts,
	}
	if res.Result != nil {
		hr.Changed = res.Result.Changed()
		hr.Steps = res.Result.Steps
		hr.Handlers = res.Result.Handlers
	}
	if res.Err != nil {
		hr.Error = res.Err.Error()
		var se *provision.StepError
		if errors.As(res.Err, &se) {
			hr.FailedPhase = se.Phase
			hr.FailedStep = se.Step
			hr.Output = se.Output
		}
	}
	return hr
}

// Failed counts hosts that did not converge.
func (r *RunReport) Failed() int {
	n := 0
	for _, h := range r.Hosts {
		if h.Failed {
			n++
		}
	}
	return n
}

// Key is the object name the report is stored under.
func (r *RunReport) Key() string {
	return fmt.Sprintf("%s/%s.json", r.StartedAt.Format("2006-01-02"), r.RunID)
}

// WriteSummary prints one line per host, followed by the failing step and
// the external tool's output for every failed host.
func (r *RunReport) WriteSummary(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "HOST\tRESULT\tCHANGED\tCERT\tDURATION")
	for _, h := range r.Hosts {
		result := "ok"
		if h.Failed {
			result = "FAILED"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s -> %s\t%s\n", h.Host, result, h.Changed, h.InitialState, h.FinalState, h.Duration.Round(time.Millisecond))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, h := range r.Hosts {
		if !h.Failed {
			continue
		}
		fmt.Fprintf(w, "\n%s: failed at %s / %s\n%s\n", h.Host, h.FailedPhase, h.FailedStep, h.Error)
		if h.Output != "" {
			fmt.Fprintf(w, "--- output ---\n%s\n", h.Output)
		}
	}
	return nil
}
