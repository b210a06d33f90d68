package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/timebridge/timebridge/internal/model"
	"github.com/timebridge/timebridge/internal/scheduler"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <employee-id>",
		Short: "Show an employee's attendance figures",
		Long: `Open the employee's record read-only and print the current balances,
vacation figures and clocked-in state. Nothing is modified and no lock
is taken, so the command works while the employee's record is in use.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			id := a.sched.StartConsultation(args[0])
			result, err := waitTask(ctx, a.sched, id)
			if err != nil {
				return fmt.Errorf("consultation failed: %w", err)
			}

			report, ok := result.(scheduler.ConsultReport)
			if !ok {
				return fmt.Errorf("unexpected task result %T", result)
			}
			printConsultReport(report)
			return nil
		},
	}
}

func printConsultReport(r scheduler.ConsultReport) {
	state := "clocked out"
	if r.ClockedIn {
		state = "clocked in"
	}
	fmt.Printf("%s: %s\n", r.Employee, state)
	fmt.Printf("  worked today:       %s\n", r.DayWorked)
	fmt.Printf("  balance today:      %s\n", formatBalance(r.DayBalance))
	fmt.Printf("  balance this year:  %s\n", formatBalance(r.YearBalance))
	fmt.Printf("  vacation planned:   %.1f days\n", r.YearVacation)
	fmt.Printf("  vacation remaining: %.1f days\n", r.RemainingVacation)
	if r.Status != model.StatusNone {
		fmt.Printf("  attendance status:  %s\n", r.Status)
	}
}
