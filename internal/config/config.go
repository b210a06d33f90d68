package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"

	"github.com/timebridge/timebridge/internal/repository"
)

// Config carries every tunable the application reads at startup.
type Config struct {
	Repository repository.Config

	// Engine is the external evaluation engine.
	Engine struct {
		Program string
		OutDir  string
		Timeout time.Duration
	}

	// Pool controls tracker caching.
	Pool struct {
		IdleTTL time.Duration
	}

	// Validator tunables.
	Validator struct {
		MaxContinuousWork time.Duration
	}

	// Scheduler controls the background action workers.
	Scheduler struct {
		Workers int
	}
}

// Load reads the configuration from Viper. It follows this precedence:
// 1. Viper configuration (from config file or TIMEBRIDGE_ env vars)
// 2. Default values
func Load() (*Config, error) {
	viper.SetDefault("engine.outdir", ".tmp_eval")
	viper.SetDefault("engine.timeout", 10*time.Second)
	viper.SetDefault("pool.idle_ttl", 20*time.Second)
	viper.SetDefault("validator.max_continuous_work", 6*time.Hour)
	viper.SetDefault("scheduler.workers", 4)

	var cfg Config
	cfg.Repository = repository.Config{
		RemoteDir:     ExpandPath(viper.GetString("repository.remote_dir")),
		CacheDir:      ExpandPath(viper.GetString("repository.cache_dir")),
		RemoteTimeout: viper.GetDuration("repository.remote_timeout"),
		RemoteDelay:   viper.GetDuration("repository.remote_delay"),
		LockTimeout:   viper.GetDuration("repository.lock_timeout"),
		LockDelay:     viper.GetDuration("repository.lock_delay"),
		SaveTimeout:   viper.GetDuration("repository.save_timeout"),
		SaveDelay:     viper.GetDuration("repository.save_delay"),
	}
	cfg.Engine.Program = ExpandPath(viper.GetString("engine.program"))
	cfg.Engine.OutDir = ExpandPath(viper.GetString("engine.outdir"))
	cfg.Engine.Timeout = viper.GetDuration("engine.timeout")
	cfg.Pool.IdleTTL = viper.GetDuration("pool.idle_ttl")
	cfg.Validator.MaxContinuousWork = viper.GetDuration("validator.max_continuous_work")
	cfg.Scheduler.Workers = viper.GetInt("scheduler.workers")

	if cfg.Repository.RemoteDir == "" {
		return nil, errors.New("repository.remote_dir is required; set it in the config file or with TIMEBRIDGE_REPOSITORY_REMOTE_DIR")
	}
	return &cfg, nil
}
