package provision

import (
	"context"

	"github.com/edvin/hostprov/internal/host"
)

// Outcome is the result of running one step.
type Outcome int

const (
	Unchanged Outcome = iota
	Changed
	// WouldChange is only produced in check mode.
	WouldChange
)

func (o Outcome) String() string {
	switch o {
	case Changed:
		return "changed"
	case WouldChange:
		return "would_change"
	default:
		return "unchanged"
	}
}

// Item is anything a phase can contain: a Step or an Expander.
type Item interface {
	Name() string
}

// Step is one idempotent unit of work. Satisfied is the "already done"
// predicate and is evaluated against the live host every time; Apply is only
// called when it returns false.
type Step interface {
	Item
	Satisfied(ctx context.Context, h host.Host) (bool, error)
	Apply(ctx context.Context, h host.Host) (Outcome, error)
}

// Expander is resolved into steps when the driver reaches it, so it can read
// host state at that point of the run rather than at build time.
type Expander interface {
	Item
	Expand(ctx context.Context, h host.Host) ([]Step, error)
}

// Handler is a deferred action queued by changed steps and run at most once
// per queueing, after all steps or at an explicit flush.
type Handler struct {
	Name string
	Run  func(ctx context.Context, h host.Host) error
}

type notifier interface {
	Notifies() []string
}

type notifying struct {
	Step
	handlers []string
}

func (n notifying) Notifies() []string { return n.handlers }

// Notify queues the named handlers whenever s reports Changed.
func Notify(s Step, handlers ...string) Step {
	return notifying{Step: s, handlers: handlers}
}

type flushHandlers struct{}

func (flushHandlers) Name() string { return "flush handlers" }

func (flushHandlers) Satisfied(context.Context, host.Host) (bool, error) { return false, nil }

func (flushHandlers) Apply(context.Context, host.Host) (Outcome, error) { return Unchanged, nil }

// Flush runs every pending handler at this point of the sequence.
func Flush() Step { return flushHandlers{} }

// PhaseID identifies a provisioning phase.
type PhaseID string

const (
	PhaseDatabase    PhaseID = "database"
	PhaseApplication PhaseID = "application"
	PhaseService     PhaseID = "service"
	PhaseJob         PhaseID = "periodic_job"
	PhaseFirewall    PhaseID = "firewall"
	PhaseProxy       PhaseID = "proxy"
	PhaseCertificate PhaseID = "certificate"
)

// PhaseDef describes a phase for listings.
type PhaseDef struct {
	ID    PhaseID `json:"id"`
	Label string  `json:"label"`
}

// AllPhases returns the phases in execution order.
func AllPhases() []PhaseDef {
	return []PhaseDef{
		{PhaseDatabase, "Install database engine"},
		{PhaseApplication, "Check out and bootstrap application"},
		{PhaseService, "Deploy application service"},
		{PhaseJob, "Register periodic analysis job"},
		{PhaseFirewall, "Configure firewall"},
		{PhaseProxy, "Install reverse proxy"},
		{PhaseCertificate, "Bootstrap TLS certificate"},
	}
}

// Phase is an ordered group of items.
type Phase struct {
	ID    PhaseID
	Items []Item
}

// Playbook is everything the runner executes for one host.
type Playbook struct {
	Phases   []Phase
	Handlers []Handler
}
