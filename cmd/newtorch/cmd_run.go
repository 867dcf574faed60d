package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/newtron-network/newtorch/pkg/engine"
	"github.com/newtron-network/newtorch/pkg/util"
	"github.com/newtron-network/newtorch/pkg/version"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Reconcile the switch until interrupted",
	Long: `Run the reconciler against the switch databases.

The engine bootstraps the switch objects, subscribes every enabled domain
to its intent tables and programs ASIC_DB until interrupted. When
metrics.listen is set, Prometheus metrics are served on /metrics, the
health report on /healthz and the driver queues on /stats.

An exhausted hardware resource stops the daemon with a non-zero exit so
that the supervisor restarts it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureSSHPassword(); err != nil {
			return err
		}
		e, err := engine.New(cfg)
		if err != nil {
			return err
		}
		defer e.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		util.WithField("version", version.String()).Infof("newtorch starting on %s", cfg.Redis.Addr)
		err = e.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		util.Infof("newtorch stopped")
		return nil
	},
}
