package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jbweber/homelab/placer/internal/api"
)

const shutdownTimeout = 10 * time.Second

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, db, err := a.openDeployer()
			if err != nil {
				return err
			}
			defer db.Close()

			server := &http.Server{
				Addr:              a.cfg.Address(),
				Handler:           api.NewRouter(api.NewAPI(d, log.StandardLogger())),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errChan := make(chan error, 1)
			go func() {
				log.WithField("address", server.Addr).Info("Starting placer service")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errChan <- err
				}
				close(errChan)
			}()

			select {
			case <-ctx.Done():
				log.Info("Shutdown signal received")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					return fmt.Errorf("server shutdown error: %w", err)
				}
				return nil
			case err, ok := <-errChan:
				if !ok {
					return nil
				}
				return fmt.Errorf("server error: %w", err)
			}
		},
	}
}
