package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sprinklerd/internal/config"
	"sprinklerd/internal/housekeeping"
	"sprinklerd/internal/program"
	"sprinklerd/internal/runlog"
	"sprinklerd/internal/storage"
	logx "sprinklerd/pkg/logx"
)

// Validate checks everything a config must satisfy before it is applied:
// field ranges, job specs and every seed program.
func Validate(cfg *Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	var errs []error
	if _, _, err := mapStorageConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := housekeeping.ParseSpec(cfg.Scheduler.Prune()); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.prune_spec: %w", err))
	}
	if _, err := housekeeping.ParseSpec(cfg.Scheduler.Weather()); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.weather_spec: %w", err))
	}

	count := cfg.Stations.OutputCount
	bc := program.BuildContext{
		Ctx:      context.Background(),
		Now:      time.Now(),
		Forecast: program.StaticForecast{EToMM: cfg.Weather.EToMM, RainMM: cfg.Weather.RainMM},
	}
	for i, r := range cfg.Programs {
		if _, err := program.FromRecord(r, bc); err != nil {
			errs = append(errs, fmt.Errorf("programs[%d] (%s): %w", i, r.Name, err))
			continue
		}
		for _, st := range r.Stations {
			if st < 0 || st >= count {
				errs = append(errs, fmt.Errorf("programs[%d] (%s): station %d out of range", i, r.Name, st))
			}
		}
	}
	return errors.Join(errs...)
}

// Preview computes the schedule for the next window from the config and
// stored state without driving any output or writing to storage.
func Preview(ctx context.Context, cfgPath string, window time.Duration, log logx.Logger) ([]runlog.Record, error) {
	cfg, err := NewConfigManager(cfgPath).Load()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	var st storage.Store
	if enabled {
		if st, err = storage.Open(sc, log); err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		defer st.Close()
	}
	a, err := build(cfg, st, log, time.Now)
	if err != nil {
		return nil, err
	}
	if err := a.restore(ctx, cfg); err != nil {
		return nil, err
	}
	return a.Schedule(window), nil
}
