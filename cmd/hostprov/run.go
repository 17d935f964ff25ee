package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/edvin/hostprov/internal/config"
	"github.com/edvin/hostprov/internal/fleet"
	"github.com/edvin/hostprov/internal/host"
	"github.com/edvin/hostprov/internal/inventory"
	"github.com/edvin/hostprov/internal/logging"
	"github.com/edvin/hostprov/internal/metrics"
	"github.com/edvin/hostprov/internal/provision"
	"github.com/edvin/hostprov/internal/report"
)

type targetFlags struct {
	inventory string
	limit     string
}

func (f *targetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.inventory, "inventory", "i", "inventory.yaml", "inventory file")
	cmd.Flags().StringVarP(&f.limit, "limit", "l", "", "only hosts matching this glob")
}

// load reads config and inventory and selects the targets.
func (f *targetFlags) load() (*config.Config, *inventory.Inventory, []inventory.HostTarget, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	inv, err := inventory.Load(f.inventory)
	if err != nil {
		return nil, nil, nil, err
	}
	targets, err := inventory.Limit(inv.Targets(), f.limit)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, inv, targets, nil
}

func runCmd() *cobra.Command {
	var (
		flags targetFlags
		check bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Provision every selected host",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, inv, targets, err := flags.load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return provisionFleet(ctx, cmd, cfg, inv, targets, check)
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&check, "check", false, "report what would change without changing anything")
	return cmd
}

func provisionFleet(ctx context.Context, cmd *cobra.Command, cfg *config.Config, inv *inventory.Inventory, targets []inventory.HostTarget, check bool) error {
	started := time.Now()
	runID := uuid.NewString()
	logger := logging.NewLogger(cfg, runID)

	issuer, err := provision.NewIssuer(inv.Site.Certificate.Issuer, cfg.ACMEDirectoryURL, cfg.ACMEStaging)
	if err != nil {
		return err
	}

	rec := metrics.NewRecorder()
	if cfg.MetricsListenAddr != "" {
		srv := metrics.NewServer(cfg.MetricsListenAddr, rec.Gatherer())
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info().
		Int("hosts", len(targets)).
		Bool("check", check).
		Str("issuer", issuer.Name()).
		Msg("starting run")

	f := fleet.New(logger,
		fleet.NewDialer(logger, sshConfig(cfg)),
		issuer,
		fleet.WithParallelism(cfg.MaxParallelHosts),
		fleet.WithCheckMode(check),
		fleet.WithObserver(rec),
		fleet.WithRunObserver(rec),
	)
	results, runErr := f.Provision(ctx, inv.Site, targets)

	rep := report.New(runID, check, started, results)
	if err := rep.WriteSummary(cmd.OutOrStdout()); err != nil {
		return err
	}
	saveReport(ctx, logger, cfg, rep)

	if cfg.MetricsTextfile != "" {
		if err := rec.WriteTextfile(cfg.MetricsTextfile); err != nil {
			logger.Error().Err(err).Msg("failed to write metrics")
		}
	}

	if runErr != nil {
		return fmt.Errorf("%d of %d hosts failed", rep.Failed(), len(rep.Hosts))
	}
	return nil
}

func sshConfig(cfg *config.Config) host.SSHConfig {
	return host.SSHConfig{
		KeyPath:               cfg.SSHKeyPath,
		KnownHostsPath:        cfg.SSHKnownHostsPath,
		InsecureIgnoreHostKey: cfg.SSHInsecureIgnoreHostKey,
	}
}

func saveReport(ctx context.Context, logger zerolog.Logger, cfg *config.Config, rep *report.RunReport) {
	var stores report.MultiStore
	if cfg.ReportDir != "" {
		stores = append(stores, report.DirStore{Dir: cfg.ReportDir})
	}
	if cfg.ReportS3Bucket != "" {
		stores = append(stores, report.NewS3Store(logger, report.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.ReportS3Bucket,
			Prefix:    cfg.ServiceName,
		}))
	}
	if len(stores) == 0 {
		return
	}
	if err := stores.Save(ctx, rep); err != nil {
		logger.Error().Err(err).Str("run_id", rep.RunID).Msg("failed to save report")
	}
}
