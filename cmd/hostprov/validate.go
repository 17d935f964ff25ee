package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/edvin/hostprov/internal/inventory"
	"github.com/edvin/hostprov/internal/provision"
)

func validateCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the inventory file without contacting any host",
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := inventory.Load(path)
			if err != nil {
				return err
			}
			if _, err := provision.NewIssuer(inv.Site.Certificate.Issuer, "", false); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "HOST\tCONNECTION\tADDRESS\tADMIN EMAIL")
			for _, t := range inv.Targets() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Name, t.Connection, t.Address, t.AdminEmail)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&path, "inventory", "i", "inventory.yaml", "inventory file")
	return cmd
}

func phasesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "phases",
		Short: "List the provisioning phases in execution order",
		Run: func(cmd *cobra.Command, args []string) {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for i, p := range provision.AllPhases() {
				fmt.Fprintf(w, "%d\t%s\t%s\n", i+1, p.ID, p.Label)
			}
			w.Flush()
		},
	}
}
