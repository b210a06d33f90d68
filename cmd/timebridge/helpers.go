package main

import (
	"context"
	"fmt"
	"time"

	"github.com/timebridge/timebridge/internal/config"
	"github.com/timebridge/timebridge/internal/pool"
	"github.com/timebridge/timebridge/internal/repository"
	"github.com/timebridge/timebridge/internal/scheduler"
	"github.com/timebridge/timebridge/internal/tracker"
	"github.com/timebridge/timebridge/internal/validate"
)

// app bundles the wired components behind every command.
type app struct {
	cfg       *config.Config
	repo      *repository.Repository
	factory   *tracker.Factory
	pool      *pool.Pool
	validator *validate.Validator
	sched     *scheduler.Scheduler
}

// initApp wires the full component stack from configuration. Close
// must be called on every exit path.
func initApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	repo, err := repository.New(ctx, cfg.Repository)
	if err != nil {
		return nil, fmt.Errorf("failed to reach record repository: %w", err)
	}

	evaluator := tracker.NewCommandEvaluator(cfg.Engine.Program)
	if cfg.Engine.OutDir != "" {
		evaluator.OutDir = cfg.Engine.OutDir
	}
	if cfg.Engine.Timeout > 0 {
		evaluator.Timeout = cfg.Engine.Timeout
	}

	factory := tracker.NewFactory(repo, evaluator)
	p := pool.New(factory, cfg.Pool.IdleTTL)
	validator := validate.New(
		validate.ContinuousWorkChecker{Max: cfg.Validator.MaxContinuousWork},
		validate.ClockSequenceChecker{},
		validate.MissingClockChecker{},
	)
	sched := scheduler.New(p, factory, validator, cfg.Scheduler.Workers)

	return &app{
		cfg:       cfg,
		repo:      repo,
		factory:   factory,
		pool:      p,
		validator: validator,
		sched:     sched,
	}, nil
}

func (a *app) Close() {
	a.sched.Close()
	a.pool.Close()
}

// waitTask polls the scheduler until the task completes or the context
// is canceled.
func waitTask(ctx context.Context, sched *scheduler.Scheduler, id scheduler.TaskID) (any, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		result, done, err := sched.Result(id)
		if err != nil {
			return nil, err
		}
		if done {
			return result, nil
		}
		select {
		case <-ctx.Done():
			sched.Drop(id)
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// formatBalance renders a signed duration as hours and minutes.
func formatBalance(d time.Duration) string {
	sign := "+"
	if d < 0 {
		sign = "-"
		d = -d
	}
	return fmt.Sprintf("%s%dh%02dm", sign, int(d.Hours()), int(d.Minutes())%60)
}
