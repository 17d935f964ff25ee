package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/edvin/hostprov/internal/fleet"
	"github.com/edvin/hostprov/internal/logging"
	"github.com/edvin/hostprov/internal/provision"
)

func factsCmd() *cobra.Command {
	var flags targetFlags
	cmd := &cobra.Command{
		Use:   "facts",
		Short: "Print a snapshot of each host's current state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, inv, targets, err := flags.load()
			if err != nil {
				return err
			}
			logger := logging.NewLogger(cfg, uuid.NewString())
			dial := fleet.NewDialer(logger, sshConfig(cfg))

			var all []*provision.HostFacts
			var errs []error
			for _, t := range targets {
				h, err := dial(cmd.Context(), t)
				if err != nil {
					errs = append(errs, fmt.Errorf("host %s: %w", t.Name, err))
					continue
				}
				f, err := provision.GatherFacts(cmd.Context(), h, inv.Site, t)
				h.Close()
				if err != nil {
					errs = append(errs, fmt.Errorf("host %s: %w", t.Name, err))
					continue
				}
				all = append(all, f)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(all); err != nil {
				return err
			}
			return errors.Join(errs...)
		},
	}
	flags.register(cmd)
	return cmd
}
