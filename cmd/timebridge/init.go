package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/timebridge/timebridge/internal/config"
	"github.com/timebridge/timebridge/internal/model"
	"github.com/timebridge/timebridge/internal/tracker"
)

func initRecordCmd() *cobra.Command {
	var (
		first    string
		last     string
		year     int
		schedule time.Duration
		balance  time.Duration
		vacation float64
		maxClock int
	)

	cmd := &cobra.Command{
		Use:   "init <employee-id>",
		Short: "Provision a new employee record",
		Long: `Create a fresh record file for an employee in the shared repository
directory. The id must be three digits; the file covers one calendar
year and starts with the given opening balance and vacation days.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			employeeID := args[0]
			if len(employeeID) != 3 {
				return fmt.Errorf("employee id must be three digits, got %q", employeeID)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			name := fmt.Sprintf("%s-%s_%s.db", employeeID, last, first)
			path := filepath.Join(cfg.Repository.RemoteDir, name)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("record %q already exists", path)
			}

			info := model.EmployeeInfo{ID: employeeID, FirstName: first, LastName: last}
			opts := tracker.CreateOptions{
				DaySchedule:         schedule,
				OpeningBalance:      balance,
				OpeningVacationDays: vacation,
				MaxClocksPerDay:     maxClock,
			}
			if err := tracker.CreateRecordFile(path, info, year, opts); err != nil {
				return fmt.Errorf("failed to create record: %w", err)
			}

			fmt.Printf("Created %s for %s (%d)\n", path, info, year)
			return nil
		},
	}

	cmd.Flags().StringVar(&first, "first", "", "employee first name")
	cmd.Flags().StringVar(&last, "last", "", "employee last name")
	cmd.Flags().IntVar(&year, "year", time.Now().Year(), "tracked calendar year")
	cmd.Flags().DurationVar(&schedule, "schedule", 0, "daily scheduled working time (default 8h24m)")
	cmd.Flags().DurationVar(&balance, "balance", 0, "opening time balance")
	cmd.Flags().Float64Var(&vacation, "vacation", 0, "opening vacation days")
	cmd.Flags().IntVar(&maxClock, "max-clocks", 0, "maximum clock events per day (default 8)")
	_ = cmd.MarkFlagRequired("first")
	_ = cmd.MarkFlagRequired("last")
	return cmd
}
