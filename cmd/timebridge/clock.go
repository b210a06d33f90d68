package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/timebridge/timebridge/internal/model"
	"github.com/timebridge/timebridge/internal/scheduler"
)

func clockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clock <employee-id>",
		Short: "Clock an employee in or out",
		Long: `Register a clock event for the employee. The direction is chosen
automatically: a clocked-in employee clocks out, everyone else clocks in.
The record is saved, validated and the updated figures are printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			id := a.sched.StartClockAction(args[0])
			result, err := waitTask(ctx, a.sched, id)
			if err != nil {
				return fmt.Errorf("clock action failed: %w", err)
			}

			report, ok := result.(scheduler.ClockReport)
			if !ok {
				return fmt.Errorf("unexpected task result %T", result)
			}
			printClockReport(report)
			return nil
		},
	}
}

func printClockReport(r scheduler.ClockReport) {
	fmt.Printf("%s: %s on %s\n", r.Employee, r.Event, model.FormatDate(r.Date))
	fmt.Printf("  worked today:       %s\n", r.DayWorked)
	fmt.Printf("  balance today:      %s\n", formatBalance(r.DayBalance))
	fmt.Printf("  balance this year:  %s\n", formatBalance(r.YearBalance))
	fmt.Printf("  vacation remaining: %.1f days\n", r.RemainingVacation)
	if r.Status != model.StatusNone {
		fmt.Printf("  attendance %s: %s\n", r.Status, r.Worst)
	}
}
