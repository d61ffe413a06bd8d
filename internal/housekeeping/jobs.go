package housekeeping

import (
	"context"
	"errors"
	"fmt"

	"sprinklerd/internal/program"
	"sprinklerd/internal/telemetry"
	logx "sprinklerd/pkg/logx"
)

const (
	JobPersist = "persist"
	JobPrune   = "prune"
	JobWeather = "weather"
)

type Programs interface {
	Commit(ctx context.Context, st program.Store) error
	RefreshWeather(ctx context.Context) error
}

type Runs interface {
	Checkout() (rows [][]byte, ok bool, err error)
	MarkDirty()
	ClearRuns(all bool) int
}

// Store is where Persist writes.
type Store interface {
	program.Store
	ReplaceRuns(ctx context.Context, rows [][]byte) error
}

// Persist flushes dirty program slots and, when it changed, the run log.
// A failed run log write keeps the log dirty for the next attempt.
func Persist(programs Programs, runs Runs, st Store) JobFunc {
	return func(ctx context.Context) error {
		if st == nil {
			return nil
		}
		var errs []error
		if err := programs.Commit(ctx, st); err != nil {
			telemetry.PersistErrorsTotal.WithLabelValues("programs").Inc()
			errs = append(errs, err)
		}
		rows, ok, err := runs.Checkout()
		switch {
		case err != nil:
			telemetry.PersistErrorsTotal.WithLabelValues("runs").Inc()
			errs = append(errs, err)
		case ok:
			if err := st.ReplaceRuns(ctx, rows); err != nil {
				runs.MarkDirty()
				telemetry.PersistErrorsTotal.WithLabelValues("runs").Inc()
				errs = append(errs, fmt.Errorf("save runs: %w", err))
			}
		}
		return errors.Join(errs...)
	}
}

// Prune drops run log history that no longer matters.
func Prune(runs Runs, log logx.Logger) JobFunc {
	return func(context.Context) error {
		if n := runs.ClearRuns(false); n > 0 {
			log.Debug("run log pruned", logx.Int("removed", n))
		}
		return nil
	}
}

// Weather rebuilds weather-driven programs from the forecast.
func Weather(programs Programs) JobFunc {
	return func(ctx context.Context) error { return programs.RefreshWeather(ctx) }
}
