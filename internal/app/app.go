package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"sprinklerd/internal/eventbus"
	"sprinklerd/internal/housekeeping"
	"sprinklerd/internal/observability/httpd"
	"sprinklerd/internal/options"
	"sprinklerd/internal/program"
	"sprinklerd/internal/runlog"
	"sprinklerd/internal/scheduler"
	"sprinklerd/internal/station"
	"sprinklerd/internal/storage"
	logx "sprinklerd/pkg/logx"
)

// App owns every long-lived component of the daemon.
type App struct {
	cfgm *ConfigManager
	logs *logx.Service
	log  logx.Logger
	bus  eventbus.Bus
	st   storage.Store
	loc  *time.Location
	now  func() time.Time

	weather  *weatherFeed
	rain     atomic.Bool
	programs *program.Set
	runOnce  *program.RunOnce
	runs     *runlog.Log
	stations *station.Set
	opts     *options.Store
	engine   *scheduler.Engine
	jobs     *housekeeping.Service
	http     *httpd.Service
	notify   *notifier

	tick time.Duration
	sup  *Supervisor

	stopOnce sync.Once
	stopErr  error
}

// NewApp loads the config at cfgPath, opens storage and restores the
// persisted programs and run log.
func NewApp(cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	logs, log := logx.New(cfg.Logging.Logx())

	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	var st storage.Store
	if enabled {
		st, err = storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			_ = logs.Close()
			return nil, fmt.Errorf("open storage: %w", err)
		}
	} else {
		log.Warn("storage disabled; programs and run log live in memory only")
	}

	a, err := build(cfg, st, log, time.Now)
	if err != nil {
		if st != nil {
			_ = st.Close()
		}
		_ = logs.Close()
		return nil, err
	}
	a.cfgm = cfgm
	a.logs = logs
	a.notify = newNotifier(cfg.Systemd.Notify, log.With(logx.String("comp", "systemd")))
	if err := a.restore(context.Background(), cfg); err != nil {
		_ = a.close()
		return nil, err
	}
	log.Info("sprinklerd initialized",
		logx.String("config", cfgPath),
		logx.Int("stations", a.stations.Count()),
		logx.Int("programs", a.programs.Len()),
		logx.Bool("storage", st != nil),
	)
	return a, nil
}

// build wires the in-memory components. Nothing is started and nothing is
// read from storage.
func build(cfg *Config, st storage.Store, log logx.Logger, now func() time.Time) (*App, error) {
	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return nil, err
	}
	tick, err := cfg.Scheduler.TickInterval()
	if err != nil {
		return nil, err
	}
	values, err := cfg.Options.Values()
	if err != nil {
		return nil, err
	}
	sts, err := cfg.Stations.Stations()
	if err != nil {
		return nil, err
	}

	a := &App{
		log:     log,
		bus:     eventbus.New(),
		st:      st,
		loc:     loc,
		now:     now,
		weather: newWeatherFeed(cfg.Weather),
		tick:    tick,
	}

	a.opts = options.NewStore(values,
		options.WithBus(a.bus),
		options.WithRainInput(options.RainFunc(a.rain.Load)),
	)
	a.programs = program.NewSet(
		program.WithForecast(a.weather),
		program.WithClock(now),
		program.WithLogger(log.With(logx.String("comp", "programs"))),
	)
	a.runOnce = program.NewRunOnce(now)
	a.runs = runlog.New(
		runlog.WithClock(now),
		runlog.WithLogger(log.With(logx.String("comp", "runlog"))),
		runlog.WithPolicy(a.runPolicy),
	)

	a.stations = station.NewSet(len(sts),
		station.WithOutputs(station.NewLogOutputs(log.With(logx.String("comp", "outputs")))),
		station.WithLogger(log.With(logx.String("comp", "stations"))),
	)
	if err := a.configureStations(cfg, sts); err != nil {
		return nil, err
	}

	a.engine = scheduler.New(a.programs, a.runOnce, a.stations, a.runs, a.opts,
		scheduler.WithClock(now),
		scheduler.WithLocation(loc),
		scheduler.WithBus(a.bus),
		scheduler.WithLogger(log.With(logx.String("comp", "scheduler"))),
		scheduler.WithTickHook(a.afterTick),
	)

	a.jobs = housekeeping.New(loc, log.With(logx.String("comp", "housekeeping")))
	if err := a.addJobs(cfg); err != nil {
		return nil, err
	}

	hc, err := mapHTTPConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.http = httpd.New(hc, a.health, log.With(logx.String("comp", "httpd")))
	return a, nil
}

func (a *App) runPolicy() runlog.Policy {
	v := a.opts.Values()
	return runlog.Policy{
		Enabled:        v.RunLog,
		Entries:        v.RunEntries,
		StationDelay:   v.StationDelay,
		MasterOffDelay: v.MasterOffDelay,
	}
}

func (a *App) configureStations(cfg *Config, sts []station.Station) error {
	if err := a.stations.Resize(len(sts)); err != nil {
		return err
	}
	for _, s := range sts {
		if err := a.stations.Configure(s); err != nil {
			return err
		}
	}
	return a.stations.SetMaster(cfg.Stations.MasterIndex())
}

func (a *App) addJobs(cfg *Config) error {
	persist, err := cfg.Scheduler.PersistInterval()
	if err != nil {
		return err
	}
	var st housekeeping.Store
	if a.st != nil {
		st = a.st
	}
	return errors.Join(
		a.jobs.AddJob(housekeeping.JobPersist, "@every "+persist.String(), housekeeping.Persist(a.programs, a.runs, st)),
		a.jobs.AddJob(housekeeping.JobPrune, cfg.Scheduler.Prune(), housekeeping.Prune(a.runs, a.log)),
		a.jobs.AddJob(housekeeping.JobWeather, cfg.Scheduler.Weather(), housekeeping.Weather(a.programs)),
	)
}

// restore loads programs and the run log from storage. An empty program
// store is seeded from the config file.
func (a *App) restore(ctx context.Context, cfg *Config) error {
	if a.st == nil {
		return a.seedPrograms(ctx, cfg.Programs)
	}
	rows, err := a.st.Programs(ctx)
	if err != nil {
		return fmt.Errorf("load programs: %w", err)
	}
	if len(rows) == 0 {
		if err := a.seedPrograms(ctx, cfg.Programs); err != nil {
			return err
		}
	} else {
		records := make([]program.Record, 0, len(rows))
		for _, row := range rows {
			var r program.Record
			if err := json.Unmarshal(row.Data, &r); err != nil {
				a.log.Warn("skipping unreadable program slot", logx.Int("slot", row.Index), logx.Err(err))
				continue
			}
			records = append(records, r)
		}
		if err := a.programs.Load(ctx, records); err != nil {
			a.log.Warn("some programs could not be rebuilt", logx.Err(err))
		}
	}

	runs, err := a.st.Runs(ctx)
	if err != nil {
		return fmt.Errorf("load runs: %w", err)
	}
	if err := a.runs.Load(runs); err != nil {
		return fmt.Errorf("load runs: %w", err)
	}
	if n := a.programs.PruneStations(a.stations.Count()); n > 0 {
		a.log.Info("dropped stations missing from config", logx.Int("programs", n))
	}
	return nil
}

// seedPrograms appends the config programs. Added programs are dirty and
// reach storage on the next persist.
func (a *App) seedPrograms(ctx context.Context, records []program.Record) error {
	bc := a.programs.BuildContext(ctx)
	var errs []error
	for i, r := range records {
		p, err := program.FromRecord(r, bc)
		if err != nil {
			errs = append(errs, fmt.Errorf("programs[%d] (%s): %w", i, r.Name, err))
			continue
		}
		a.programs.Add(p)
	}
	return errors.Join(errs...)
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Done is closed when the supervisor context ends.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		return nil
	}
	return a.sup.Context().Done()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(func(_ context.Context, cfg *Config) error { return Validate(cfg) })
	}

	if err := a.engine.Restore(); err != nil {
		a.log.Warn("restoring active runs failed", logx.Err(err))
	}
	a.jobs.Start()
	a.http.Start(a.sup.Context())

	a.sup.GoRestart("scheduler.tick", func(c context.Context) error {
		return a.engine.Run(c, a.tick)
	}, WithRestartBackoff(time.Second, 30*time.Second))

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.audit", func(c context.Context) error {
		defer unsub()
		a.auditLoop(c, events)
		return nil
	})

	if a.cfgm != nil {
		a.sup.GoRestart("config.watch", a.cfgm.Watch, WithRestartBackoff(time.Second, time.Minute))
		sub := a.cfgm.Subscribe(8)
		a.sup.Go("config.reload", func(c context.Context) error {
			defer a.cfgm.Unsubscribe(sub)
			a.reloadLoop(c, sub)
			return nil
		})
	}

	a.notify.ready()
	a.log.Info("sprinklerd started", logx.Duration("tick", a.tick), logx.String("tz", a.loc.String()))
	return nil
}

// Stop shuts the daemon down. Outputs are switched off but active runs stay
// in the run log so the next start can resume them.
func (a *App) Stop(ctx context.Context, reason string) error {
	a.stopOnce.Do(func() {
		a.notify.stopping()
		a.log.Info("stopping", logx.String("reason", reason))

		var errs []error
		if a.sup != nil {
			if err := a.sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errs = append(errs, err)
			}
		}
		a.http.Stop(ctx)
		a.jobs.Stop(ctx)

		if err := a.stations.Clear(); err != nil {
			errs = append(errs, fmt.Errorf("switch outputs off: %w", err))
		}
		if err := a.stations.SetRelay(false); err != nil {
			errs = append(errs, fmt.Errorf("switch relay off: %w", err))
		}
		if err := a.jobs.Run(ctx, housekeeping.JobPersist); err != nil {
			errs = append(errs, fmt.Errorf("final persist: %w", err))
		}
		if err := a.close(); err != nil {
			errs = append(errs, err)
		}
		a.stopErr = errors.Join(errs...)
	})
	return a.stopErr
}

func (a *App) close() error {
	var errs []error
	if a.st != nil {
		errs = append(errs, a.st.Close())
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
	}
	return errors.Join(errs...)
}

// afterTick pings the systemd watchdog.
func (a *App) afterTick(error) {
	a.notify.watchdog(a.now())
}

// weatherFeed is a forecast whose figures follow config reloads.
type weatherFeed struct {
	v atomic.Pointer[program.StaticForecast]
}

func newWeatherFeed(cfg WeatherConfig) *weatherFeed {
	w := &weatherFeed{}
	w.set(cfg)
	return w
}

func (w *weatherFeed) set(cfg WeatherConfig) {
	w.v.Store(&program.StaticForecast{EToMM: cfg.EToMM, RainMM: cfg.RainMM})
}

func (w *weatherFeed) Day(ctx context.Context, day time.Time) (float64, float64, error) {
	return w.v.Load().Day(ctx, day)
}
