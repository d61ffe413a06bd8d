package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sprinklerd/internal/eventbus"
	"sprinklerd/internal/options"
	"sprinklerd/internal/program"
	"sprinklerd/internal/runlog"
	"sprinklerd/internal/station"
	"sprinklerd/internal/telemetry"
	logx "sprinklerd/pkg/logx"
)

// Blocking reasons recorded in runlog.Record.Blocked.
const (
	BlockedDisabled   = "disabled scheduler"
	BlockedRainDelay  = "rain delay"
	BlockedRainSensor = "rain sensor"
	BlockedCutOff     = "cut-off"
	BlockedError      = "scheduler error"
)

const (
	runOnceName   = "Run-Once"
	runNowSuffix  = " (Run-Now)"
	lookaround    = 24 * time.Hour
	usageEpsilon  = 1e-9
	warnEvery     = time.Minute
	uidTimeLayout = "2006-01-02 15:04:05.999999"
)

// Programs is the program collection as seen by the scheduler. Get returns
// programs in index order.
type Programs interface {
	Get() []*program.Program
	RunNowProgram() *program.Program
	ClearRunNow()
}

// Overrides are the run-once durations.
type Overrides interface {
	ActiveIntervals(windowStart, windowEnd time.Time, station int) []program.Interval
	Clear()
}

// Stations is the output boundary.
type Stations interface {
	Count() int
	Get(i int) (station.Station, bool)
	EnabledStations() []station.Station
	Master() (int, bool)
	Activate(idx ...int) error
	Deactivate(idx ...int) error
	Active(i int) bool
	Clear() error
	SetRelay(on bool) error
	Relay() bool
}

// RunLog is the subset of *runlog.Log the scheduler needs.
type RunLog interface {
	StartRun(rec runlog.Record) runlog.Record
	FinishRun(uid string) bool
	FinishAll() int
	Snapshot() (finished, active []runlog.Record)
}

type Options interface {
	Snapshot() options.Snapshot
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }
func WithLogger(l logx.Logger) Option       { return func(e *Engine) { e.log = l } }
func WithBus(b eventbus.Bus) Option         { return func(e *Engine) { e.bus = b } }

// WithLocation sets the location uids are rendered in.
func WithLocation(loc *time.Location) Option { return func(e *Engine) { e.loc = loc } }

// WithTickHook registers a function called after every tick of Run.
func WithTickHook(fn func(err error)) Option { return func(e *Engine) { e.afterTick = fn } }

// Engine is the scheduler. Tick, StopAll and Restore are serialized; the
// read-only schedule queries may run concurrently with them.
type Engine struct {
	mu sync.Mutex

	programs  Programs
	overrides Overrides
	stations  Stations
	runs      RunLog
	opts      Options

	bus       eventbus.Bus
	now       func() time.Time
	loc       *time.Location
	log       logx.Logger
	warn      *logx.Throttle
	afterTick func(err error)

	prev    options.Snapshot
	hasPrev bool
}

func New(programs Programs, overrides Overrides, stations Stations, runs RunLog, opts Options, o ...Option) *Engine {
	e := &Engine{
		programs:  programs,
		overrides: overrides,
		stations:  stations,
		runs:      runs,
		opts:      opts,
		bus:       eventbus.Nop(),
		now:       time.Now,
		loc:       time.Local,
		log:       logx.Nop(),
		warn:      logx.NewThrottle(warnEvery),
	}
	for _, fn := range o {
		if fn != nil {
			fn(e)
		}
	}
	return e
}

// Run ticks every interval until ctx is done.
func (e *Engine) Run(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		every = time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		e.runTick(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (e *Engine) runTick(ctx context.Context) {
	started := time.Now()
	err := e.Tick(ctx)
	telemetry.TickDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		telemetry.TickErrorsTotal.Add(float64(countErrors(err)))
		if e.warn.Allow("tick") {
			e.log.Warn("tick finished with errors", logx.Err(err))
		}
	}
	if e.afterTick != nil {
		e.afterTick(err)
	}
}

// StopAll drops the run-now program and run-once durations, finishes every
// active run and switches all outputs off.
func (e *Engine) StopAll(reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.flushLocked(reason)
	if rerr := e.stations.SetRelay(false); rerr != nil {
		err = errors.Join(err, fmt.Errorf("relay: %w", rerr))
	}
	telemetry.SetMasterOn(false)
	e.bus.Publish(eventbus.Event{Type: eventbus.StoppedAll, Data: reason})
	return err
}

func (e *Engine) flushLocked(reason string) error {
	e.programs.ClearRunNow()
	e.overrides.Clear()
	n := e.runs.FinishAll()
	if n > 0 {
		telemetry.RunsFinishedTotal.WithLabelValues("stopped").Add(float64(n))
	}
	e.log.Info("stopped all runs", logx.String("reason", reason), logx.Int("finished", n))
	err := e.stations.Clear()
	for i := 0; i < e.stations.Count(); i++ {
		telemetry.SetStationActive(i, false)
	}
	return err
}

// Restore re-activates outputs for runs that were active when the process
// stopped. In manual mode stale runs are finished instead.
func (e *Engine) Restore() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	snap := e.opts.Snapshot()
	e.prev, e.hasPrev = snap, true

	if snap.ManualMode {
		if n := e.runs.FinishAll(); n > 0 {
			e.log.Info("finished stale runs", logx.Int("count", n))
		}
		return nil
	}

	rain := rainGate(snap, now)
	_, active := e.runs.Snapshot()
	var errs []error
	for _, rec := range active {
		st, ok := e.stations.Get(rec.Station)
		if !ok || rec.IsBlocked() || !rec.End.After(now) || (rain && !st.IgnoreRain) {
			continue
		}
		if err := e.stations.Activate(rec.Station); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", rec.UID, err))
			continue
		}
		telemetry.SetStationActive(rec.Station, true)
		e.log.Info("restored run", logx.String("uid", rec.UID), logx.Int("station", rec.Station), logx.Time("end", rec.End))
	}
	return errors.Join(errs...)
}

// guard runs one independent unit of work. A panic is converted into an
// error so the remaining units still run.
func guard(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", name, r)
		}
	}()
	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func countErrors(err error) int {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		n := 0
		for _, e := range j.Unwrap() {
			n += countErrors(e)
		}
		return n
	}
	if err == nil {
		return 0
	}
	return 1
}

func rainGate(snap options.Snapshot, now time.Time) bool {
	return !snap.ManualMode && (snap.RainBlockEnd.After(now) || snap.RainSensed)
}
