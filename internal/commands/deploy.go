package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jbweber/homelab/placer/internal/manifest"
)

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := a.cfg.InitializeDatabase()
			if err != nil {
				return err
			}
			defer db.Close()
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "Database schema is up to date")
			return err
		},
	}
}

func (a *app) deployCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "deploy <manifest>",
		Short: "Plan a deployment manifest and reserve its IP addresses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manifest.Load(args[0])
			if err != nil {
				return err
			}
			if dryRun {
				if _, err := m.Build(); err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Manifest '%s' is valid\n", m.Name)
				return err
			}

			d, db, err := a.openDeployer()
			if err != nil {
				return err
			}
			defer db.Close()

			result, err := d.Deploy(cmd.Context(), m)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"deployment": result.Deployment.Name,
				"task_id":    result.TaskID,
				"plans":      result.Summaries(),
				"deleted":    result.Deleted,
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "validate", false, "only check the manifest")
	return cmd
}

func (a *app) instancesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "instances <deployment>",
		Short: "List the instances of a deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, db, err := a.openDeployer()
			if err != nil {
				return err
			}
			defer db.Close()

			instances, err := d.Instances(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, inst := range instances {
				az := inst.AvailabilityZone
				if az == "" {
					az = "-"
				}
				addresses := make([]string, 0, len(inst.IPAddresses))
				for _, ip := range inst.IPAddresses {
					addresses = append(addresses, ip.NetworkName+"="+ip.Address)
				}
				if _, err := fmt.Fprintf(out, "%s\t%s\t%s\t%v\n", inst.Name(), inst.UUID, az, addresses); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func (a *app) orphanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "orphan <instance-id>",
		Short: "Detach an instance and keep its addresses on an orphaned VM",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid instance ID '%s'", args[0])
			}

			d, db, err := a.openDeployer()
			if err != nil {
				return err
			}
			defer db.Close()

			vm, err := d.Orphan(cmd.Context(), id)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Orphaned %s from %s as %s\n", vm.InstanceName, vm.DeploymentName, vm.CID)
			return err
		},
	}
}
