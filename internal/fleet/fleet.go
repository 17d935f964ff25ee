// Package fleet provisions every host of an inventory concurrently.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/hostprov/internal/host"
	"github.com/edvin/hostprov/internal/inventory"
	"github.com/edvin/hostprov/internal/provision"
)

// Dialer opens the transport to a target.
type Dialer func(ctx context.Context, t inventory.HostTarget) (host.Host, error)

// NewDialer returns a Dialer that opens a local host or an SSH connection
// depending on the target's connection type. Key and host key settings come
// from sshCfg; address, port and user from the target.
func NewDialer(logger zerolog.Logger, sshCfg host.SSHConfig) Dialer {
	return func(ctx context.Context, t inventory.HostTarget) (host.Host, error) {
		if t.Connection == "local" {
			return host.NewLocal(logger, t.Name), nil
		}
		cfg := sshCfg
		cfg.Address, cfg.Port, cfg.User = t.Address, t.Port, t.User
		h, err := host.DialSSH(ctx, logger, t.Name, cfg)
		if err != nil {
			return nil, err
		}
		return h, nil
	}
}

// HostResult is the outcome for one host.
type HostResult struct {
	Target       inventory.HostTarget
	Facts        *provision.HostFacts
	Result       *provision.Result
	InitialState provision.CertState
	FinalState   provision.CertState
	Duration     time.Duration
	Err          error
}

// Failed reports whether the host did not reach the configured state.
func (r *HostResult) Failed() bool { return r.Err != nil }

// RunObserver is told when each host finishes.
type RunObserver interface {
	HostFinished(r *HostResult)
}

// Fleet applies the site playbook to many hosts.
type Fleet struct {
	logger      zerolog.Logger
	dial        Dialer
	issuer      provision.Issuer
	parallelism int
	check       bool
	observer    provision.Observer
	runObserver RunObserver
}

// Option configures a Fleet.
type Option func(*Fleet)

// WithParallelism caps how many hosts are provisioned at once.
func WithParallelism(n int) Option { return func(f *Fleet) { f.parallelism = n } }

// WithCheckMode makes every host run in check mode.
func WithCheckMode(check bool) Option { return func(f *Fleet) { f.check = check } }

// WithObserver forwards step events, e.g. to metrics.
func WithObserver(o provision.Observer) Option { return func(f *Fleet) { f.observer = o } }

// WithRunObserver is notified per finished host.
func WithRunObserver(o RunObserver) Option { return func(f *Fleet) { f.runObserver = o } }

// New creates a Fleet.
func New(logger zerolog.Logger, dial Dialer, issuer provision.Issuer, opts ...Option) *Fleet {
	f := &Fleet{
		logger:      logger.With().Str("component", "fleet").Logger(),
		dial:        dial,
		issuer:      issuer,
		parallelism: 5,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Provision runs the playbook on every target. Hosts are independent: a
// failure on one never stops the others. The returned error joins every
// host failure.
func (f *Fleet) Provision(ctx context.Context, site inventory.Site, targets []inventory.HostTarget) ([]*HostResult, error) {
	results := make([]*HostResult, len(targets))

	var g errgroup.Group
	g.SetLimit(max(f.parallelism, 1))
	for i, t := range targets {
		g.Go(func() error {
			results[i] = f.provisionHost(ctx, site, t)
			if f.runObserver != nil {
				f.runObserver.HostFinished(results[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return results, errors.Join(errs...)
}

func (f *Fleet) provisionHost(ctx context.Context, site inventory.Site, t inventory.HostTarget) *HostResult {
	start := time.Now()
	res := &HostResult{Target: t}
	logger := f.logger.With().Str("host", t.Name).Logger()

	h, err := f.dial(ctx, t)
	if err != nil {
		res.Err = fmt.Errorf("host %s: connect: %w", t.Name, err)
		res.Duration = time.Since(start)
		logger.Error().Err(err).Msg("failed to connect")
		return res
	}
	defer h.Close()

	if res.Facts, err = provision.GatherFacts(ctx, h, site, t); err != nil {
		logger.Warn().Err(err).Msg("failed to gather facts")
	}

	pb, bootstrap := provision.BuildPlaybook(site, t, f.issuer)
	opts := []provision.RunnerOption{provision.WithCheckMode(f.check)}
	if f.observer != nil {
		opts = append(opts, provision.WithObserver(f.observer))
	}
	runner := provision.NewRunner(logger, opts...)

	res.Result, res.Err = runner.Run(ctx, h, pb)

	initial, reached := bootstrap.Initial()
	if !reached {
		// The run stopped before the certificate phase.
		initial, _ = provision.QueryCertState(ctx, h, site.Certificate.LiveDir, t.Name)
	}
	res.InitialState = initial

	final, err := provision.QueryCertState(ctx, h, site.Certificate.LiveDir, t.Name)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to query final certificate state")
		final = bootstrap.State()
	}
	res.FinalState = final
	res.Duration = time.Since(start)

	logger.Info().
		Str("initial_state", res.InitialState.String()).
		Str("final_state", res.FinalState.String()).
		Bool("failed", res.Failed()).
		Dur("duration", res.Duration).
		Msg("host provisioned")
	return res
}
