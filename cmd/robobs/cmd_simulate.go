package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/friendsincode/robobs/internal/eventbus"
	"github.com/friendsincode/robobs/internal/executor"
	"github.com/friendsincode/robobs/internal/logging"
)

var (
	simPace        float64
	simFailureRate float64
)

var simulateCmd = &cobra.Command{
	Use:   "sequencer-sim",
	Short: "Serve a simulated instrument sequencer on the observatory bus",
	Long: `Answer executor requests on ROBOBS_EXECUTOR_SUBJECT with an in-process
sequencer, so a controller running with the nats executor backend can be
exercised without hardware.

Examples:
  robobs sequencer-sim --pace 0.01
  robobs sequencer-sim --failure-rate 0.1
`,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().Float64Var(&simPace, "pace", 1, "Exposure time multiplier (0 runs instantly)")
	simulateCmd.Flags().Float64Var(&simFailureRate, "failure-rate", 0, "Fraction of programs that complete with ERROR")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if simFailureRate < 0 || simFailureRate > 1 {
		return fmt.Errorf("--failure-rate must be within [0, 1]")
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	natsCfg := eventbus.DefaultNATSConfig()
	natsCfg.URL = cfg.NATSURL
	natsCfg.Token = cfg.NATSToken
	natsCfg.Name = "robobs-sequencer-sim"
	nc, err := eventbus.Connect(natsCfg, logger)
	if err != nil {
		return fmt.Errorf("connect observatory bus: %w", err)
	}
	defer nc.Drain()

	opts := []executor.LocalOption{executor.WithPace(simPace)}
	if simFailureRate > 0 {
		opts = append(opts, executor.WithOutcome(func(p executor.Program) (executor.Status, string) {
			if p.Name != executor.SafetyProgram && rand.Float64() < simFailureRate {
				return executor.StatusError, "simulated failure"
			}
			return executor.StatusOK, ""
		}))
	}
	sim := executor.NewLocal(logger, opts...)

	errCh := make(chan error, 1)
	go func() { errCh <- sim.Run(ctx) }()

	simLog := logging.Component(logger, "sequencer-sim")
	simLog.Info().Str("subject", cfg.ExecutorSubject).Float64("pace", simPace).Msg("sequencer simulator serving")
	if err := executor.Serve(ctx, nc, cfg.ExecutorSubject, sim, logger); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
