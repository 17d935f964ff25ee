package provision

import (
	"errors"
	"fmt"
	"strings"

	"github.com/edvin/hostprov/internal/host"
)

// Failure categories. Steps wrap the underlying error with one of these so
// callers can match with errors.Is.
var (
	ErrPackageManager = errors.New("package manager error")
	ErrNetworkFetch   = errors.New("network fetch error")
	ErrValidation     = errors.New("validation error")
	ErrCommand        = errors.New("command error")
)

// StepError reports which step failed on which host. Output carries the
// external tool's output verbatim.
type StepError struct {
	Host   string
	Phase  PhaseID
	Step   string
	Output string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("host %s: %s: %s: %v", e.Host, e.Phase, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Category returns the failure category sentinel, or nil when the error is
// not categorized.
func Category(err error) error {
	for _, c := range []error{ErrPackageManager, ErrNetworkFetch, ErrValidation, ErrCommand} {
		if errors.Is(err, c) {
			return c
		}
	}
	return nil
}

func newStepError(hostName string, phase PhaseID, step string, err error) *StepError {
	se := &StepError{Host: hostName, Phase: phase, Step: step, Err: err}
	var exitErr *host.ExitError
	if errors.As(err, &exitErr) {
		se.Output = exitErr.Output
	}
	return se
}

// runErr wraps a failed command with a category and its output.
func runErr(category error, c host.Command, out []byte, err error) error {
	return fmt.Errorf("%w: %s: %s: %w", category, c.String(), strings.TrimSpace(string(out)), err)
}
