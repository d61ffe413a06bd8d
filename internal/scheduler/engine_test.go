package scheduler

import (
	"context"
	"testing"
	"time"

	"sprinklerd/internal/options"
	"sprinklerd/internal/program"
	"sprinklerd/internal/runlog"
	"sprinklerd/internal/station"
	logx "sprinklerd/pkg/logx"
)

var day0 = time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) set(t time.Time)         { c.t = t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

// harness wires the engine to the real collaborators.
type harness struct {
	clock    *clock
	programs *program.Set
	once     *program.RunOnce
	outputs  *station.LogOutputs
	stations *station.Set
	runs     *runlog.Log
	opts     *options.Store
	engine   *Engine
}

func newHarness(t *testing.T, stations int) *harness {
	t.Helper()
	h := &harness{clock: &clock{t: day0}}
	h.programs = program.NewSet(program.WithClock(h.clock.now))
	h.once = program.NewRunOnce(h.clock.now)
	h.outputs = station.NewLogOutputs(logx.Nop())
	h.stations = station.NewSet(stations, station.WithOutputs(h.outputs))
	h.opts = options.NewStore(options.Defaults())
	h.runs = runlog.New(runlog.WithClock(h.clock.now), runlog.WithPolicy(func() runlog.Policy {
		v := h.opts.Values()
		return runlog.Policy{Enabled: v.RunLog, Entries: v.RunEntries, StationDelay: v.StationDelay, MasterOffDelay: v.MasterOffDelay}
	}))
	h.engine = New(h.programs, h.once, h.stations, h.runs, h.opts, WithClock(h.clock.now), WithLocation(time.UTC))
	return h
}

// daily adds a program repeating every day from day0 with the given spans.
func (h *harness) daily(t *testing.T, name string, stations []int, spans ...program.Span) *program.Program {
	t.Helper()
	p, err := program.New(name, program.Custom{Schedule: spans, Modulo: 1440, Start: day0}, program.BuildContext{Now: day0})
	if err != nil {
		t.Fatalf("program.New(%s): %v", name, err)
	}
	p.Stations = stations
	h.programs.Add(p)
	return p
}

func (h *harness) update(t *testing.T, fn func(*options.Values)) {
	t.Helper()
	if _, err := h.opts.Update(fn); err != nil {
		t.Fatalf("options.Update() error: %v", err)
	}
}

func (h *harness) configure(t *testing.T, st station.Station) {
	t.Helper()
	if err := h.stations.Configure(st); err != nil {
		t.Fatalf("Configure(%d): %v", st.Index, err)
	}
}

func (h *harness) tick(t *testing.T) {
	t.Helper()
	if err := h.engine.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error: %v", err)
	}
}

func at(hhmm string) time.Time {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		panic(err)
	}
	return day0.Add(time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute)
}

func span(records []runlog.Record) [][2]string {
	out := make([][2]string, len(records))
	for i, r := range records {
		out[i] = [2]string{r.Start.Format("15:04:05"), r.End.Format("15:04:05")}
	}
	return out
}

func TestGuardRecoversPanics(t *testing.T) {
	t.Parallel()
	err := guard("unit", func() error { panic("boom") })
	if err == nil || err.Error() != "unit: panic: boom" {
		t.Fatalf("guard() = %v", err)
	}
	if err := guard("unit", func() error { return nil }); err != nil {
		t.Fatalf("guard() = %v, want nil", err)
	}
}

func TestUIDIsDeterministic(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 1)
	got := h.engine.uid(at("06:00"), "3", 0)
	if want := "2024-01-03 06:00:00-3-0"; got != want {
		t.Fatalf("uid = %q, want %q", got, want)
	}
}

func TestTimelineAdmitFailsWithoutRelease(t *testing.T) {
	t.Parallel()
	tl := newTimeline()
	tl.delta[at("05:00").UnixNano()] = 1
	iv := runlog.Record{Start: at("06:00"), End: at("06:30"), Usage: 1}
	if tl.admit(&iv, 1, 0) {
		t.Fatalf("admit() = true with the capacity never released")
	}
}
