// Package commands implements the placer command line.
package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jbweber/homelab/placer/internal/config"
	"github.com/jbweber/homelab/placer/internal/deployer"
	"github.com/jbweber/homelab/placer/internal/placement"
)

// app carries the state shared by every subcommand
type app struct {
	cfgFile   string
	logLevel  string
	logFormat string
	cfg       *config.Config
}

// NewRootCmd builds the full command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "placer",
		Short: "Plan instance placement and manage IP reservations",
		Long: `Placer plans where the instances of a deployment run across
availability zones and keeps track of the IP addresses they hold.

Run "placer deploy manifest.yml" for a one-shot plan or "placer serve"
to expose the same operations over HTTP.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.loadConfig,
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default: ./placer.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format (json, text)")

	root.AddCommand(
		a.serveCmd(),
		a.migrateCmd(),
		a.deployCmd(),
		a.instancesCmd(),
		a.orphanCmd(),
		a.ipsCmd(),
	)
	return root
}

// Execute runs the command line against os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

func (a *app) loadConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Logging.Format = a.logFormat
	}
	if err := cfg.ConfigureLogger(log.StandardLogger(), os.Stderr); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	a.cfg = cfg
	return nil
}

// openDeployer opens and migrates the configured database.
func (a *app) openDeployer() (*deployer.Deployer, *sqlx.DB, error) {
	db, err := a.cfg.InitializeDatabase()
	if err != nil {
		return nil, nil, err
	}

	opts := []deployer.Option{
		deployer.WithAddAttempts(a.cfg.Placement.AddRetryAttempts),
		deployer.WithLogger(log.StandardLogger()),
	}
	if a.cfg.Placement.RandomizeAZPlacement {
		opts = append(opts, deployer.WithTieStrategy(placement.NewRandomWins(time.Now().UnixNano())))
	}
	return deployer.New(db, opts...), db, nil
}
