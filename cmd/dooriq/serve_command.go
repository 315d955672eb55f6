package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"dooriq/internal/config"
	"dooriq/internal/daemon"
	"dooriq/internal/logging"
	"dooriq/internal/queue"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the grading daemon in the foreground",
		Long: `Serve starts the worker pool, the HTTP API, and the maintenance loops, then
blocks until SIGINT or SIGTERM. Only one daemon may run per log directory; a
second instance fails to acquire the lock file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				logger, err := logging.NewFromConfig(cfg)
				if err != nil {
					return fmt.Errorf("init logger: %w", err)
				}

				d, err := daemon.New(cfg, store, logger)
				if err != nil {
					return err
				}
				defer d.Close()

				if err := d.Start(runCtx); err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if addr := d.APIAddr(); addr != "" {
					fmt.Fprintf(out, "dooriq daemon listening on %s\n", addr)
				}
				fmt.Fprintf(out, "sessions database: %s\n", cfg.QueueDBPath())

				<-runCtx.Done()
				logger.Info("dooriq daemon shutting down")
				d.Stop()
				return nil
			})
		},
	}
}
