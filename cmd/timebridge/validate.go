package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/timebridge/timebridge/internal/model"
	"github.com/timebridge/timebridge/internal/service"
	"github.com/timebridge/timebridge/internal/validate"
)

func validateCmd() *cobra.Command {
	var all bool
	var concurrency int

	cmd := &cobra.Command{
		Use:   "validate [employee-id]",
		Short: "Validate attendance records",
		Long: `Run an incremental validation pass over an employee's record, or over
every record with --all. Newly found errors are written back and the
validation anchor advances past the days that came out clean.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if !all && len(args) == 0 {
				return fmt.Errorf("provide an employee id or --all")
			}
			if all && len(args) > 0 {
				return fmt.Errorf("--all takes no employee id")
			}

			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if !all {
				outcome, err := validateOne(ctx, a, args[0])
				if err != nil {
					return err
				}
				printValidation(args[0], outcome)
				return nil
			}
			return validateAll(ctx, a, concurrency)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "validate every employee record")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "records validated in parallel with --all")
	return cmd
}

func validateOne(ctx context.Context, a *app, employeeID string) (validate.Result, error) {
	now := time.Now()
	var outcome validate.Result
	err := a.pool.With(ctx, employeeID, now.Year(), func(t service.TrackerAnalyzer) error {
		r, err := a.validator.Validate(ctx, t, now)
		if err != nil {
			return err
		}
		outcome = r
		return nil
	})
	if err != nil {
		return outcome, fmt.Errorf("validation of %q failed: %w", employeeID, err)
	}
	return outcome, nil
}

func validateAll(ctx context.Context, a *app, concurrency int) error {
	if !a.repo.CheckAvailable(ctx) {
		return fmt.Errorf("record repository is not reachable")
	}

	ids, err := a.factory.ListEmployeeIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list employees: %w", err)
	}
	if len(ids) == 0 {
		fmt.Println("No employee records found.")
		return nil
	}

	bar := progressbar.NewOptions(len(ids),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("Validating records..."),
	)

	var mu sync.Mutex
	outcomes := make(map[string]validate.Result)
	failures := make(map[string]error)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			outcome, err := validateOne(gctx, a, id)
			mu.Lock()
			if err != nil {
				failures[id] = err
			} else {
				outcomes[id] = outcome
			}
			mu.Unlock()
			_ = bar.Add(1)
			// Individual failures are reported at the end rather than
			// aborting the remaining records.
			return nil
		})
	}
	_ = g.Wait()
	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)

	sort.Strings(ids)
	for _, id := range ids {
		if err, failed := failures[id]; failed {
			fmt.Printf("%s: FAILED: %v\n", id, err)
			continue
		}
		printValidation(id, outcomes[id])
	}
	if len(failures) > 0 {
		return fmt.Errorf("%d of %d records failed validation", len(failures), len(ids))
	}
	return nil
}

func printValidation(employeeID string, outcome validate.Result) {
	if outcome.Status == model.StatusNone {
		fmt.Printf("%s: ok\n", employeeID)
		return
	}
	fmt.Printf("%s: %s (worst %s, %d faulty days)\n",
		employeeID, outcome.Status, outcome.Worst, len(outcome.ByDate))

	days := make([]model.Date, 0, len(outcome.ByDate))
	for day := range outcome.ByDate {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	for _, day := range days {
		fmt.Printf("  %s: %s\n", model.FormatDate(day), outcome.ByDate[day])
	}
}
