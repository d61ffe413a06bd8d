package scheduler

import (
	"math/rand"
	"reflect"
	"testing"
	"time"

	"sprinklerd/internal/options"
	"sprinklerd/internal/program"
	"sprinklerd/internal/runlog"
	"sprinklerd/internal/station"
)

func TestPredictedSingleProgram(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 1)
	h.daily(t, "Lawn", []int{0}, program.Span{Start: 360, End: 390})

	got := h.engine.PredictedSchedule(day0, day0.Add(24*time.Hour))
	if len(got) != 1 {
		t.Fatalf("PredictedSchedule() = %d intervals, want 1: %+v", len(got), got)
	}
	r := got[0]
	if !r.Start.Equal(at("06:00")) || !r.End.Equal(at("06:30")) || r.Station != 0 || r.IsBlocked() {
		t.Fatalf("interval = %+v, want 06:00-06:30 on station 0 unblocked", r)
	}
	if r.Program != 0 || r.ProgramName != "Lawn" || r.Adjustment != 1.0 || r.UID != "2024-01-03 06:00:00-0-0" {
		t.Fatalf("interval metadata = %+v", r)
	}
}

func TestPredictedOverlappingProgramsOnOneStation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		delay time.Duration
		want  [][2]string
	}{
		{"no delay", 0, [][2]string{{"06:00:00", "06:30:00"}, {"06:30:00", "07:00:00"}}},
		{"station delay", 2 * time.Minute, [][2]string{{"06:00:00", "06:30:00"}, {"06:32:00", "07:02:00"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, 1)
			h.update(t, func(v *options.Values) { v.StationDelay = tt.delay })
			h.daily(t, "A", []int{0}, program.Span{Start: 360, End: 390})
			h.daily(t, "B", []int{0}, program.Span{Start: 375, End: 405})

			got := h.engine.PredictedSchedule(day0, day0.Add(24*time.Hour))
			if !reflect.DeepEqual(span(got), tt.want) {
				t.Fatalf("PredictedSchedule() = %v, want %v", span(got), tt.want)
			}
			if got[0].ProgramName != "A" || got[1].ProgramName != "B" {
				t.Fatalf("order = %s, %s", got[0].ProgramName, got[1].ProgramName)
			}
			if !got[1].OriginalStart.Equal(at("06:15")) {
				t.Fatalf("OriginalStart = %v, want the unshifted 06:15", got[1].OriginalStart)
			}
		})
	}
}

func TestPredictedManualFirst(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 2)
	h.clock.set(at("06:00"))
	h.daily(t, "Lawn", []int{0}, program.Span{Start: 360, End: 390})
	h.once.Set(map[int]time.Duration{1: 30 * time.Minute})

	got := h.engine.PredictedSchedule(day0, day0.Add(24*time.Hour))
	if len(got) != 2 {
		t.Fatalf("PredictedSchedule() = %+v", got)
	}
	manual, lawn := got[0], got[1]
	if !manual.Manual || manual.ProgramName != "Run-Once" || manual.Station != 1 || !manual.Start.Equal(at("06:00")) {
		t.Fatalf("run-once interval = %+v", manual)
	}
	if lawn.IsBlocked() || !lawn.Start.Equal(at("06:30")) || !lawn.End.Equal(at("07:00")) {
		t.Fatalf("program interval = %+v, want shifted to 06:30-07:00", lawn)
	}
}

func TestPredictedRecomputeStable(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 3)
	h.clock.set(at("05:00"))
	h.update(t, func(v *options.Values) { v.StationDelay = time.Minute })
	h.daily(t, "A", []int{0, 1}, program.Span{Start: 360, End: 400})
	h.daily(t, "B", []int{1, 2}, program.Span{Start: 370, End: 420})
	h.once.Set(map[int]time.Duration{2: 90 * time.Minute})

	first := h.engine.PredictedSchedule(day0.Add(-24*time.Hour), day0.Add(24*time.Hour))
	second := h.engine.PredictedSchedule(day0.Add(-24*time.Hour), day0.Add(24*time.Hour))
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("PredictedSchedule() not stable:\n%+v\n%+v", first, second)
	}
}

func TestPredictedCapacityRespected(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 25; round++ {
		h := newHarness(t, 4)
		for i, u := range []float64{1, 0.5, 0.5, 1} {
			st := station.Default(i)
			st.Usage = u
			h.configure(t, st)
		}
		h.update(t, func(v *options.Values) {
			v.MaxUsage = 1.5
			v.StationDelay = time.Duration(rng.Intn(3)) * time.Minute
		})
		for p := 0; p < 5; p++ {
			s := rng.Intn(1200)
			var stations []int
			for st := 0; st < 4; st++ {
				if rng.Intn(2) == 0 {
					stations = append(stations, st)
				}
			}
			h.daily(t, "p", stations, program.Span{Start: s, End: s + 10 + rng.Intn(110)})
		}

		got := h.engine.PredictedSchedule(day0, day0.Add(24*time.Hour))
		for _, cand := range got {
			if cand.IsBlocked() {
				continue
			}
			used := 0.0
			for _, r := range got {
				if !r.IsBlocked() && r.Contains(cand.Start) {
					used += r.Usage
				}
			}
			if used > 1.5+1e-9 {
				t.Fatalf("round %d: usage %.2f at %s exceeds 1.5", round, used, cand.Start.Format("15:04"))
			}
		}
	}
}

func TestPredictedStationAboveMaxUsage(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 2)
	st := station.Default(0)
	st.Usage = 2
	h.configure(t, st)
	h.daily(t, "A", []int{0, 1}, program.Span{Start: 360, End: 390})

	got := h.engine.PredictedSchedule(day0, day0.Add(24*time.Hour))
	if len(got) != 1 || got[0].Station != 1 {
		t.Fatalf("PredictedSchedule() = %+v, want only station 1", got)
	}

	h.update(t, func(v *options.Values) { v.MaxUsage = 0 })
	if got := h.engine.PredictedSchedule(day0, day0.Add(24*time.Hour)); len(got) != 2 {
		t.Fatalf("unlimited usage: %d intervals, want 2", len(got))
	}
}

func TestPredictedRainSensor(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 2)
	h.opts = options.NewStore(options.Defaults(), options.WithRainInput(options.RainFunc(func() bool { return true })))
	h.engine = New(h.programs, h.once, h.stations, h.runs, h.opts, WithClock(h.clock.now), WithLocation(time.UTC))
	h.update(t, func(v *options.Values) { v.RainSensorEnabled = true; v.MaxUsage = 0 })
	ignoring := station.Default(1)
	ignoring.IgnoreRain = true
	h.configure(t, ignoring)

	h.clock.set(at("12:00"))
	h.daily(t, "A", []int{0, 1}, program.Span{Start: 360, End: 390})
	h.once.Set(map[int]time.Duration{0: 10 * time.Minute})

	got := h.engine.PredictedSchedule(day0, day0.Add(24*time.Hour))
	reasons := map[string]string{}
	for _, r := range got {
		reasons[r.ProgramName+"/"+string(rune('0'+r.Station))] = r.Blocked
	}
	want := map[string]string{
		"A/0":        BlockedRainSensor,
		"A/1":        "",
		"Run-Once/0": "",
	}
	if !reflect.DeepEqual(reasons, want) {
		t.Fatalf("blocked reasons = %v, want %v", reasons, want)
	}
}

func TestPredictedRainDelayStartsNow(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 1)
	h.clock.set(at("06:10"))
	h.update(t, func(v *options.Values) { v.RainBlock = at("09:00"); v.MaxUsage = 0 })
	h.daily(t, "A", []int{0}, program.Span{Start: 360, End: 390}, program.Span{Start: 480, End: 490}, program.Span{Start: 600, End: 610})

	got := h.engine.PredictedSchedule(day0, day0.Add(24*time.Hour))
	var blocked []string
	for _, r := range got {
		blocked = append(blocked, r.Blocked)
	}
	// 06:00 is still running at 06:10 and 08:00 starts inside the block.
	if want := []string{BlockedRainDelay, BlockedRainDelay, ""}; !reflect.DeepEqual(blocked, want) {
		t.Fatalf("blocked = %q, want %q", blocked, want)
	}
}

func TestPredictedDisabledAndCutOff(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 3)
	h.update(t, func(v *options.Values) { v.LevelAdjustment = 0.5; v.MaxUsage = 0 })
	cut := h.daily(t, "cut", []int{0}, program.Span{Start: 360, End: 390})
	cut.CutOff = 0.6
	fixed := h.daily(t, "fixed", []int{1}, program.Span{Start: 360, End: 390})
	fixed.Fixed = true
	fixed.CutOff = 0.6
	h.daily(t, "scaled", []int{2}, program.Span{Start: 360, End: 390})
	// The set keeps copies, so the edits above must be stored back.
	_ = h.programs.Replace(0, cut)
	_ = h.programs.Replace(1, fixed)

	got := h.engine.PredictedSchedule(day0, day0.Add(24*time.Hour))
	byName := map[string]runlog.Record{}
	for _, r := range got {
		byName[r.ProgramName] = r
	}
	if r := byName["cut"]; r.Blocked != BlockedCutOff {
		t.Fatalf("cut = %+v, want cut-off", r)
	}
	if r := byName["fixed"]; r.IsBlocked() || r.Adjustment != 1.0 || !r.End.Equal(at("06:30")) {
		t.Fatalf("fixed = %+v, want unscaled and unblocked", r)
	}
	if r := byName["scaled"]; r.IsBlocked() || r.Adjustment != 0.5 || !r.End.Equal(at("06:15")) {
		t.Fatalf("scaled = %+v, want 06:00-06:15", r)
	}

	h.update(t, func(v *options.Values) { v.SchedulerEnabled = false })
	h.once.Set(map[int]time.Duration{2: time.Minute})
	for _, r := range h.engine.PredictedSchedule(day0, day0.Add(24*time.Hour)) {
		want := BlockedDisabled
		if r.Manual {
			want = ""
		}
		if r.Blocked != want {
			t.Fatalf("%s blocked = %q, want %q", r.ProgramName, r.Blocked, want)
		}
	}
}

func TestPredictedSkipsMissingStations(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 2)
	_ = h.stations.SetMaster(1)
	h.daily(t, "A", []int{0, 1, 7}, program.Span{Start: 360, End: 390})

	got := h.engine.PredictedSchedule(day0, day0.Add(24*time.Hour))
	if len(got) != 1 || got[0].Station != 0 {
		t.Fatalf("PredictedSchedule() = %+v, want station 0 only", got)
	}
}

func TestPredictedRunNow(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 2)
	h.clock.set(at("14:00"))
	p, err := program.New("Beds", program.DaysSimple{StartMin: 360, DurationMin: 20, Days: []int{0}}, program.BuildContext{Now: at("14:00")})
	if err != nil {
		t.Fatal(err)
	}
	p.Stations = []int{0, 1}
	h.programs.Add(p)
	if err := h.programs.RunNow(0); err != nil {
		t.Fatalf("RunNow() error: %v", err)
	}

	got := h.engine.PredictedSchedule(at("12:00"), at("18:00"))
	if want := [][2]string{{"14:00:00", "14:20:00"}, {"14:20:00", "14:40:00"}}; !reflect.DeepEqual(span(got), want) {
		t.Fatalf("PredictedSchedule() = %v, want %v", span(got), want)
	}
	for _, r := range got {
		if r.ProgramName != "Beds (Run-Now)" || !r.Manual || r.Program != -1 {
			t.Fatalf("run-now interval = %+v", r)
		}
	}
}

func TestCombinedSchedule(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 1)
	h.update(t, func(v *options.Values) { v.RunLog = true })
	h.daily(t, "A", []int{0}, program.Span{Start: 360, End: 390}, program.Span{Start: 720, End: 730})

	h.clock.set(at("06:00"))
	h.tick(t)
	h.clock.set(at("06:30"))
	h.tick(t)
	h.clock.set(at("09:00"))

	past := h.engine.CombinedSchedule(at("05:00"), at("08:00"))
	if len(past) != 1 || past[0].Active || !past[0].Start.Equal(at("06:00")) {
		t.Fatalf("past window = %+v, want the finished 06:00 run", past)
	}

	future := h.engine.CombinedSchedule(at("10:00"), at("23:00"))
	if want := [][2]string{{"12:00:00", "12:10:00"}}; !reflect.DeepEqual(span(future), want) {
		t.Fatalf("future window = %v, want %v", span(future), want)
	}

	current := h.engine.CombinedSchedule(at("00:00"), at("23:59"))
	if want := [][2]string{{"06:00:00", "06:30:00"}, {"12:00:00", "12:10:00"}}; !reflect.DeepEqual(span(current), want) {
		t.Fatalf("current window = %v, want %v", span(current), want)
	}
}
