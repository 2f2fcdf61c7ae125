package main

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
	"go.temporal.io/sdk/client"

	"github.com/brojonat/ledgerswap/service/temporal"
)

// dialScheduler connects the schedule commands to Temporal. Tests replace it.
var dialScheduler = func(c *cli.Context) (temporal.Scheduler, func(), error) {
	tc, err := getTemporalClient(c)
	if err != nil {
		return nil, nil, err
	}
	return tc, tc.Close, nil
}

func describeScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "describe",
		Usage: "Describe the reconcile schedule",
		Action: func(c *cli.Context) error {
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			handle := tc.SDKClient().ScheduleClient().GetHandle(c.Context, temporal.ReconcileScheduleID)
			desc, err := handle.Describe(c.Context)
			if err != nil {
				return fmt.Errorf("failed to describe schedule: %w", err)
			}

			if jsonOutput(c) {
				return printJSON(c, desc)
			}

			fmt.Printf("Schedule ID:    %s\n", temporal.ReconcileScheduleID)
			fmt.Printf("Paused:         %v\n", desc.Schedule.State.Paused)
			if desc.Schedule.State.Note != "" {
				fmt.Printf("State Note:     %s\n", desc.Schedule.State.Note)
			}

			if wa, ok := desc.Schedule.Action.(*client.ScheduleWorkflowAction); ok {
				fmt.Printf("\nWorkflow:\n")
				fmt.Printf("  Workflow:     %v\n", wa.Workflow)
				fmt.Printf("  Task Queue:   %s\n", wa.TaskQueue)
			}

			if desc.Schedule.Spec != nil {
				for i, interval := range desc.Schedule.Spec.Intervals {
					fmt.Printf("  Interval %d:   every %v (offset %v)\n", i+1, interval.Every, interval.Offset)
				}
			}

			fmt.Printf("\nRunning:        %d\n", len(desc.Info.RunningWorkflows))
			fmt.Printf("Recent Actions: %d\n", len(desc.Info.RecentActions))
			if n := len(desc.Info.RecentActions); n > 0 {
				fmt.Printf("Last Action:    %s\n", desc.Info.RecentActions[n-1].ActualTime.Format(time.RFC3339))
			}
			if len(desc.Info.NextActionTimes) > 0 {
				fmt.Printf("Next Action:    %s\n", desc.Info.NextActionTimes[0].Format(time.RFC3339))
			}
			return nil
		},
	}
}

func triggerReconcileCommand() *cli.Command {
	return &cli.Command{
		Name:  "trigger",
		Usage: "Run a reconcile pass now (skipped if one is running)",
		Action: func(c *cli.Context) error {
			s, closer, err := dialScheduler(c)
			if err != nil {
				return err
			}
			defer closer()

			if err := s.TriggerReconcile(c.Context); err != nil {
				return err
			}
			fmt.Printf("%s Reconcile triggered: %s\n", color.GreenString("✓"), temporal.ReconcileScheduleID)
			return nil
		},
	}
}

func upsertScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "upsert",
		Usage: "Create the reconcile schedule or change its period",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "period",
				Usage: "Time between reconcile passes",
				Value: 60 * time.Second,
			},
			&cli.DurationFlag{
				Name:  "initial-delay",
				Usage: "Delay before the first pass",
				Value: 10 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			period := c.Duration("period")
			if period <= 0 {
				return fmt.Errorf("period must be positive")
			}
			if c.Duration("initial-delay") < 0 {
				return fmt.Errorf("initial-delay must not be negative")
			}

			s, closer, err := dialScheduler(c)
			if err != nil {
				return err
			}
			defer closer()

			if err := s.UpsertReconcileSchedule(c.Context, period, c.Duration("initial-delay")); err != nil {
				return err
			}
			fmt.Printf("%s Schedule ready: %s (every %s)\n", color.GreenString("✓"), temporal.ReconcileScheduleID, period)
			return nil
		},
	}
}

func deleteScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "delete",
		Usage: "Delete the reconcile schedule (swaps stop being paid until it is recreated)",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Skip confirmation prompt",
			},
		},
		Action: func(c *cli.Context) error {
			if !c.Bool("force") {
				fmt.Fprintf(c.App.Writer, "Are you sure you want to delete schedule %s? (yes/no): ", temporal.ReconcileScheduleID)
				var response string
				fmt.Fscanln(c.App.Reader, &response)
				if response != "yes" {
					fmt.Fprintln(c.App.Writer, "Cancelled")
					return nil
				}
			}

			s, closer, err := dialScheduler(c)
			if err != nil {
				return err
			}
			defer closer()

			if err := s.DeleteReconcileSchedule(c.Context); err != nil {
				return err
			}
			fmt.Printf("%s Schedule deleted: %s\n", color.GreenString("✓"), temporal.ReconcileScheduleID)
			return nil
		},
	}
}

// getTemporalClient creates a Temporal client from CLI context.
func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tc, err := temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("temporal-task-queue"),
		logger,
	)
	if err != nil {
		return nil, err
	}
	return tc, nil
}
