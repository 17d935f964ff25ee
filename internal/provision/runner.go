package provision

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/hostprov/internal/host"
)

// StepRecord is the outcome of one executed step.
type StepRecord struct {
	Phase    PhaseID       `json:"phase"`
	Step     string        `json:"step"`
	Outcome  string        `json:"outcome"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`
	Output   string        `json:"output,omitempty"`
}

// Result collects everything that happened on one host during a run.
type Result struct {
	Host     string       `json:"host"`
	Steps    []StepRecord `json:"steps"`
	Handlers []string     `json:"handlers"`
}

// Changed counts steps that reported Changed (or WouldChange in check mode).
func (r *Result) Changed() int {
	n := 0
	for _, s := range r.Steps {
		if s.Outcome == Changed.String() || s.Outcome == WouldChange.String() {
			n++
		}
	}
	return n
}

// Observer receives step and handler events, e.g. for metrics.
type Observer interface {
	StepFinished(hostName string, rec StepRecord)
	HandlerFired(hostName, handler string)
}

type nopObserver struct{}

func (nopObserver) StepFinished(string, StepRecord) {}
func (nopObserver) HandlerFired(string, string)     {}

// Runner is the single driver loop that applies a Playbook to one host,
// strictly in order.
type Runner struct {
	logger   zerolog.Logger
	observer Observer
	check    bool
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithObserver attaches an observer.
func WithObserver(o Observer) RunnerOption {
	return func(r *Runner) { r.observer = o }
}

// WithCheckMode evaluates predicates only: nothing is applied and no
// handlers run.
func WithCheckMode(check bool) RunnerOption {
	return func(r *Runner) { r.check = check }
}

// NewRunner creates a Runner.
func NewRunner(logger zerolog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		logger:   logger.With().Str("component", "runner").Logger(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// pending is the set of queued handlers, kept in handler registration order.
type pending struct {
	order  []Handler
	queued map[string]bool
}

func newPending(handlers []Handler) *pending {
	return &pending{order: handlers, queued: make(map[string]bool)}
}

func (p *pending) queue(names []string) {
	for _, n := range names {
		p.queued[n] = true
	}
}

// Run applies pb to h. The first failing step aborts the rest of the
// sequence; queued handlers are not run after a failure.
func (r *Runner) Run(ctx context.Context, h host.Host, pb Playbook) (*Result, error) {
	logger := r.logger.With().Str("host", h.Name()).Logger()
	ctx = logger.WithContext(ctx)

	known := make(map[string]bool, len(pb.Handlers))
	for _, hd := range pb.Handlers {
		known[hd.Name] = true
	}

	res := &Result{Host: h.Name()}
	queue := newPending(pb.Handlers)

	for _, phase := range pb.Phases {
		logger.Info().Str("phase", string(phase.ID)).Msg("phase started")
		for _, item := range phase.Items {
			steps, err := r.resolve(ctx, h, item)
			if err != nil {
				return res, r.fail(res, h, phase.ID, item.Name(), 0, err)
			}
			for _, s := range steps {
				if n, ok := s.(notifier); ok {
					for _, name := range n.Notifies() {
						if !known[name] {
							return res, r.fail(res, h, phase.ID, s.Name(), 0, fmt.Errorf("notifies unknown handler %q", name))
						}
					}
				}
				if err := r.runStep(ctx, h, phase.ID, s, queue, res); err != nil {
					return res, err
				}
			}
		}
	}

	if err := r.runHandlers(ctx, h, PhaseID("handlers"), queue, res); err != nil {
		return res, err
	}

	logger.Info().Int("changed", res.Changed()).Int("steps", len(res.Steps)).Msg("host finished")
	return res, nil
}

func (r *Runner) resolve(ctx context.Context, h host.Host, item Item) ([]Step, error) {
	switch it := item.(type) {
	case Step:
		return []Step{it}, nil
	case Expander:
		return it.Expand(ctx, h)
	default:
		return nil, fmt.Errorf("unsupported item %T", item)
	}
}

func (r *Runner) runStep(ctx context.Context, h host.Host, phase PhaseID, s Step, queue *pending, res *Result) error {
	if _, ok := s.(flushHandlers); ok {
		return r.runHandlers(ctx, h, phase, queue, res)
	}

	start := time.Now()
	logger := zerolog.Ctx(ctx).With().Str("phase", string(phase)).Str("step", s.Name()).Logger()

	ok, err := s.Satisfied(ctx, h)
	if err != nil {
		return r.fail(res, h, phase, s.Name(), time.Since(start), err)
	}

	outcome := Unchanged
	switch {
	case ok:
	case r.check:
		outcome = WouldChange
	default:
		outcome, err = s.Apply(ctx, h)
		if err != nil {
			return r.fail(res, h, phase, s.Name(), time.Since(start), err)
		}
	}

	if outcome == Changed {
		if n, ok := s.(notifier); ok {
			queue.queue(n.Notifies())
		}
	}

	rec := StepRecord{Phase: phase, Step: s.Name(), Outcome: outcome.String(), Duration: time.Since(start)}
	res.Steps = append(res.Steps, rec)
	r.observer.StepFinished(h.Name(), rec)
	logger.Info().Str("outcome", rec.Outcome).Dur("duration", rec.Duration).Msg("step finished")
	return nil
}

// runHandlers executes every queued handler once, in registration order, and
// clears the queue.
func (r *Runner) runHandlers(ctx context.Context, h host.Host, phase PhaseID, queue *pending, res *Result) error {
	if r.check {
		return nil
	}
	for _, hd := range queue.order {
		if !queue.queued[hd.Name] {
			continue
		}
		delete(queue.queued, hd.Name)

		zerolog.Ctx(ctx).Info().Str("handler", hd.Name).Msg("running handler")
		if err := hd.Run(ctx, h); err != nil {
			return r.fail(res, h, phase, "handler: "+hd.Name, 0, err)
		}
		res.Handlers = append(res.Handlers, hd.Name)
		r.observer.HandlerFired(h.Name(), hd.Name)
	}
	return nil
}

func (r *Runner) fail(res *Result, h host.Host, phase PhaseID, step string, d time.Duration, err error) error {
	se := newStepError(h.Name(), phase, step, err)
	rec := StepRecord{
		Phase:    phase,
		Step:     step,
		Outcome:  "failed",
		Duration: d,
		Error:    err.Error(),
		Output:   se.Output,
	}
	res.Steps = append(res.Steps, rec)
	r.observer.StepFinished(h.Name(), rec)
	r.logger.Error().Err(err).
		Str("host", h.Name()).
		Str("phase", string(phase)).
		Str("step", step).
		Str("output", se.Output).
		Msg("step failed")
	return se
}
