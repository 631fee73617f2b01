package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"rover/internal/bootstrap"
	"rover/internal/sweepers"
	"rover/pkg/clock"
	"rover/pkg/config"
	mongotx "rover/pkg/db/mongo"
	"syscall"

	"github.com/spf13/cobra"
)

const ServiceName = "sweepers"

type env struct {
	cfg       *config.Config
	outputs   *bootstrap.Outputs
	scheduler *sweepers.Scheduler
}

func setup() (*env, error) {
	cfg := config.Load(ServiceName)
	cfg.SetMongo()

	outputs, err := bootstrap.NewOutputs(cfg, ServiceName)
	if err != nil {
		cfg.GracefulShutdown()
		return nil, err
	}

	services := bootstrap.NewServices(
		cfg,
		bootstrap.NewMongoRepositories(cfg),
		mongotx.NewTransactionManager(cfg.Client.Mongo),
		clock.Real(),
		outputs,
	)
	return &env{
		cfg:       cfg,
		outputs:   outputs,
		scheduler: sweepers.NewScheduler(clock.Real(), cfg.Log.Component("scheduler"), services.Sweepers()...),
	}, nil
}

func (e *env) close() {
	e.outputs.Close(e.cfg)
	e.cfg.GracefulShutdown()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sweepers",
		Short:         "Periodic rental maintenance jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newOnceCmd(), newListCmd())
	return root
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run every sweeper on its interval until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return e.scheduler.Run(ctx)
		},
	}
}

func newOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once [sweeper...]",
		Short: "Run the named sweepers once, or all of them",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()

			results, err := e.scheduler.RunOnce(cmd.Context(), args...)
			for _, res := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s affected=%d notified=%d failures=%d\n",
					res.Sweeper, res.Affected, res.Notified, res.Failures)
			}
			if errors.Is(err, sweepers.ErrUnknownSweeper) {
				return fmt.Errorf("%w (known: reservation, extension, end-of-term, overuse)", err)
			}
			return err
		},
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the sweepers",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, name := range []string{sweepers.Reservation, sweepers.Extension, sweepers.EndOfTerm, sweepers.Overuse} {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	}
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
