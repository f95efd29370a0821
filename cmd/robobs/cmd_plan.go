package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/robobs/internal/db"
	"github.com/friendsincode/robobs/internal/eventbus"
	"github.com/friendsincode/robobs/internal/feasibility"
	"github.com/friendsincode/robobs/internal/scheduler"
	"github.com/friendsincode/robobs/internal/site"
	"github.com/friendsincode/robobs/internal/store"
	"github.com/friendsincode/robobs/internal/strategy"
)

var planAt string

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show which program would be selected, without touching the store",
	Long: `Run a selection at --at (default: the site's current time) and print the
program the controller would dispatch. Start times are not advanced.

Examples:
  robobs plan
  robobs plan --at 2026-03-01T03:00:00Z
`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVar(&planAt, "at", "", "Instant to plan for (RFC3339)")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	ctx := cmd.Context()

	database, err := initDatabase()
	if err != nil {
		return err
	}
	defer db.Close(database)
	programs := store.New(database, logger)

	natsCfg := eventbus.DefaultNATSConfig()
	natsCfg.URL = cfg.NATSURL
	natsCfg.Token = cfg.NATSToken
	natsCfg.Name = "robobs-plan"
	nc, err := eventbus.Connect(natsCfg, logger)
	if err != nil {
		return fmt.Errorf("connect observatory bus: %w", err)
	}
	defer nc.Close()

	observatory := site.NewRemote(nc, cfg.SiteSubject, cfg.BusTimeout, logger)
	var opts []feasibility.Option
	if cfg.SeeingSubject != "" {
		opts = append(opts, feasibility.WithSeeing(site.NewRemoteSeeing(nc, cfg.SeeingSubject, cfg.BusTimeout)))
	}
	strategies := strategy.Builtin(strategy.Deps{
		Site:       observatory,
		History:    programs,
		TimedGrace: cfg.TimedGrace,
		Logger:     logger,
	})
	planner := scheduler.New(programs, strategies, feasibility.New(observatory, logger, opts...), cfg.ProbeSamples, logger)

	var at time.Time
	if planAt != "" {
		if at, err = time.Parse(time.RFC3339, planAt); err != nil {
			return fmt.Errorf("--at: %w", err)
		}
	} else if at, err = observatory.Now(ctx); err != nil {
		return fmt.Errorf("site time: %w", err)
	}

	selected, err := planner.Preview(ctx, at)
	if err != nil {
		return err
	}
	if selected == nil {
		fmt.Printf("%s: nothing observable, the telescope would park\n", at.UTC().Format(time.RFC3339))
		return nil
	}

	p := selected.Program
	start := "now"
	if p.HasSlewAt() {
		start = p.SlewAt.UTC().Format(time.RFC3339)
	}
	fmt.Printf("%s: %s (tier %d, %s)\n", at.UTC().Format(time.RFC3339), p.Name, p.Priority, selected.Strategy())
	fmt.Printf("  target   %s  ra=%.4f dec=%.4f\n", p.Target.Name, p.Target.RA, p.Target.Dec)
	fmt.Printf("  start    %s\n", start)
	fmt.Printf("  duration %s\n", selected.Duration)
	return nil
}
