package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rowjay/docmigrate/internal/app"
	"github.com/rowjay/docmigrate/internal/scheduler"
)

func newJobsCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and run configured migration jobs",
	}

	var recent int
	list := &cobra.Command{
		Use:   "list",
		Short: "List jobs with their schedule, dependencies and latest run",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := setup(root, overrides)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx, cancel := operationContext(a.Cfg.Global.OperationTimeout)
			defer cancel()
			s, err := a.Scheduler(ctx)
			if err != nil {
				return err
			}
			defer s.History().Close()
			now := time.Now()
			for _, j := range s.Jobs() {
				latest := "never"
				if run, ok, err := s.History().Latest(ctx, j.ID); err == nil && ok {
					latest = fmt.Sprintf("%s at %s", run.Status, run.ScheduledAt.Format(time.RFC3339))
				}
				next := "manual"
				if t := j.Next(now); !t.IsZero() {
					next = t.Format(time.RFC3339)
				}
				deps := "-"
				if len(j.Dependencies) > 0 {
					deps = strings.Join(j.Dependencies, ",") + " (" + string(j.Strategy) + ")"
				}
				fmt.Printf("%s\t%s -> %s\tnext %s\tdeps %s\tlast %s\n", j.ID, j.Options.Source, j.Options.Target, next, deps, latest)
				if recent <= 0 {
					continue
				}
				runs, err := s.History().Recent(ctx, j.ID, recent)
				if err != nil {
					return err
				}
				for _, r := range runs {
					line := fmt.Sprintf("\t%s\t%s\t%s", r.ScheduledAt.Format(time.RFC3339), r.Trigger, r.Status)
					if r.Error != "" {
						line += "\t" + r.Error
					}
					fmt.Println(line)
				}
			}
			return nil
		},
	}
	list.Flags().IntVar(&recent, "recent", 0, "Also show the last N runs of every job")

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Check job definitions, schedules and the dependency graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root, overrides)
			if err != nil {
				return err
			}
			jobs, err := scheduler.BuildJobs(cfg.Scheduler, cfg.Migration)
			if err != nil {
				return err
			}
			fmt.Printf("%d jobs valid\n", len(jobs))
			return nil
		},
	}

	run := &cobra.Command{
		Use:   "run [job-id...]",
		Short: "Trigger jobs now (all jobs when none are named)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := setup(root, overrides)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx, cancel := operationContext(a.Cfg.Global.OperationTimeout)
			defer cancel()
			s, err := a.Scheduler(ctx)
			if err != nil {
				return err
			}
			defer s.History().Close()
			runs, err := s.RunAll(ctx, args)
			for _, r := range runs {
				if r.Job == "" {
					continue
				}
				line := fmt.Sprintf("%s\t%s", r.Job, r.Status)
				if r.Documents > 0 || r.FailedDocuments > 0 {
					line += fmt.Sprintf("\t%d migrated, %d failed", r.Documents, r.FailedDocuments)
				}
				if r.Error != "" {
					line += "\t" + r.Error
				}
				fmt.Println(line)
			}
			if err != nil {
				return err
			}
			return app.JobsFailed(runs)
		},
	}

	cmd.AddCommand(list, validate, run)
	return cmd
}

func newScheduleCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run scheduled jobs until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := setup(root, overrides)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			s, err := a.Scheduler(ctx)
			if err != nil {
				return err
			}
			defer s.History().Close()
			for _, u := range s.Upcoming(time.Now()) {
				logger.Info().Str("job", u.Job).Time("at", u.At).Msg("next trigger")
			}
			return s.Start(ctx)
		},
	}
}
