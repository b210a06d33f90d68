package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/timebridge/timebridge/internal/scheduler"
)

func employeesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "employees",
		Short: "List the employees registered in the repository",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			ids, err := a.factory.ListEmployeeIDs(ctx)
			if err != nil {
				return fmt.Errorf("failed to list employees: %w", err)
			}
			if len(ids) == 0 {
				fmt.Println("No employee records found.")
				return nil
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	}
}

func attendanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attendance",
		Short: "Show who is currently clocked in",
		Long: `Snapshot the clocked-in state of every employee using read-only
record copies, so nobody's record is locked while the list is built.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			id := a.sched.StartAttendanceList()
			result, err := waitTask(ctx, a.sched, id)
			if err != nil {
				return fmt.Errorf("attendance list failed: %w", err)
			}

			list, ok := result.(scheduler.AttendanceList)
			if !ok {
				return fmt.Errorf("unexpected task result %T", result)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			defer func() {
				_ = w.Flush()
			}()
			fmt.Fprintln(w, "EMPLOYEE\tPRESENT")
			for _, entry := range list.Entries {
				present := "no"
				switch {
				case entry.Err != nil:
					present = "unreadable"
				case entry.ClockedIn:
					present = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\n", entry.EmployeeID, present)
			}
			return nil
		},
	}
}
