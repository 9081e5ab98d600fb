package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"listingbot/internal/app"
	"listingbot/internal/config"
	"listingbot/internal/holiday"
	"listingbot/internal/task/scheduler"
	logx "listingbot/pkg/logx"
)

type rootOptions struct {
	configPath string
	getenv     func(string) string
}

func newRootCmd(getenv func(string) string) *cobra.Command {
	opts := &rootOptions{getenv: getenv}
	root := &cobra.Command{
		Use:           "listingbot",
		Short:         "Telegram bot that announces new rental listings",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "./config.yaml",
		"config file (JSON or YAML); a missing file means environment only")

	run := newRunCmd(opts)
	root.RunE = run.RunE
	root.Flags().AddFlagSet(run.Flags())
	root.AddCommand(run, newCheckCmd(opts), newHolidaysCmd(opts))
	return root
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		watch bool
		grace time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bot until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(opts.configPath, app.Options{Getenv: opts.getenv, Watch: watch})
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				return err
			}

			reason := app.StopSignal
			select {
			case <-ctx.Done():
			case <-a.Done():
				reason = app.StopFatalError
			}
			stopCtx, cancel := context.WithTimeout(context.Background(), grace)
			defer cancel()
			if err := a.Stop(stopCtx, reason); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "stop:", err)
			}
			if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", true, "reload the config file when it changes")
	cmd.Flags().DurationVar(&grace, "shutdown-timeout", 15*time.Second, "upper bound for graceful shutdown")
	return cmd
}

func newCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config and preview the schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath, opts.getenv)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config ok: %d authorized user(s)\n", len(cfg.Telegram.AuthorizedUserIDs))
			if !cfg.Scheduler.IsEnabled() {
				fmt.Fprintln(out, "scheduler disabled")
				return nil
			}
			sched, err := scheduler.New(scheduler.Config{Timezone: cfg.Scheduler.Timezone}, logx.Nop())
			if err != nil {
				return err
			}
			now := time.Now().In(sched.Location())
			for _, job := range []struct{ name, spec string }{
				{"poll", cfg.Scheduler.Poll},
				{"reset", cfg.Scheduler.Reset},
				{"holiday_notice", cfg.Scheduler.HolidayNotice},
			} {
				spec := config.Schedule(job.spec)
				if spec == "" {
					fmt.Fprintf(out, "%s: off\n", job.name)
					continue
				}
				runs, err := sched.NextRuns(spec, now, 3)
				if err != nil {
					return fmt.Errorf("%s: %w", job.name, err)
				}
				fmt.Fprintf(out, "%s (%s):\n", job.name, spec)
				for _, r := range runs {
					fmt.Fprintf(out, "  %s\n", r.Format("Mon 2006-01-02 15:04:05 MST"))
				}
			}
			return nil
		},
	}
}

func newHolidaysCmd(opts *rootOptions) *cobra.Command {
	var country string
	cmd := &cobra.Command{
		Use:   "holidays [year]",
		Short: "List the public holidays the scheduler skips",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			year := time.Now().Year()
			if len(args) == 1 {
				y, err := strconv.Atoi(args[0])
				if err != nil || y < 1900 {
					return fmt.Errorf("invalid year %q", args[0])
				}
				year = y
			}
			cfg, err := config.ReadFile(opts.configPath)
			if err != nil {
				return err
			}
			cfg.ApplyDefaults()
			if country != "" {
				cfg.Holidays.Country = country
			}
			loc, err := scheduler.LoadLocation(cfg.Scheduler.Timezone)
			if err != nil {
				return err
			}
			table, err := holiday.New(holiday.Config{Country: cfg.Holidays.Country, Extra: cfg.Holidays.Extra}, loc)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, d := range table.Year(year) {
				fmt.Fprintf(out, "%s %s\n", d.Date.Format("2006-01-02 Mon"), d.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&country, "country", "", "override holidays.country (se, no, dk, fi, none)")
	return cmd
}
