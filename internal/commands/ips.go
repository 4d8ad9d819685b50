package commands

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jbweber/homelab/placer/internal/domain"
)

func (a *app) ipsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ips",
		Short: "Inspect and release reserved IP addresses",
	}

	var network string
	list := &cobra.Command{
		Use:   "list",
		Short: "List reserved addresses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, db, err := a.openDeployer()
			if err != nil {
				return err
			}
			defer db.Close()

			rows, err := d.IPAddresses(cmd.Context(), network)
			if err != nil {
				return err
			}
			return printIPs(cmd.OutOrStdout(), rows)
		},
	}
	list.Flags().StringVar(&network, "network", "", "only list addresses on this network")

	lookup := &cobra.Command{
		Use:   "lookup <address>",
		Short: "Show who holds an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, db, err := a.openDeployer()
			if err != nil {
				return err
			}
			defer db.Close()

			rows, err := d.LookupIP(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printIPs(cmd.OutOrStdout(), rows)
		},
	}

	release := &cobra.Command{
		Use:   "release <address>",
		Short: "Release an address on every network",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, db, err := a.openDeployer()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := d.ReleaseIP(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Released %s\n", args[0])
			return err
		},
	}

	cmd.AddCommand(list, lookup, release)
	return cmd
}

func printIPs(out io.Writer, rows []domain.IPAddress) error {
	for _, row := range rows {
		owner := "-"
		switch {
		case row.InstanceID != nil:
			owner = "instance:" + strconv.FormatInt(*row.InstanceID, 10)
		case row.OrphanedVMID != nil:
			owner = "orphan:" + strconv.FormatInt(*row.OrphanedVMID, 10)
		}
		kind := "dynamic"
		if row.Static {
			kind = "static"
		}
		if _, err := fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", row.Address, row.NetworkName, kind, owner); err != nil {
			return err
		}
	}
	return nil
}
