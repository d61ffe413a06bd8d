package program

import (
	"errors"
	"reflect"
	"testing"
	"time"
	_ "time/tzdata"
)

func at(s string) time.Time {
	t, err := time.ParseInLocation("2006-01-02 15:04", s, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

// Wednesday.
var buildNow = BuildContext{Now: at("2024-01-03 12:00")}

func mustNew(t *testing.T, params Params) *Program {
	t.Helper()
	p, err := New("test", params, buildNow)
	if err != nil {
		t.Fatalf("New(%T) error: %v", params, err)
	}
	return p
}

func TestDaysSimpleBuildsWeekSchedule(t *testing.T) {
	t.Parallel()
	p := mustNew(t, DaysSimple{StartMin: 360, DurationMin: 30, PauseMin: 15, RepeatTimes: 1, Days: []int{0, 2}})

	want := Schedule{{360, 390}, {405, 435}, {3240, 3270}, {3285, 3315}}
	if got := p.Schedule(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Schedule() = %v, want %v", got, want)
	}
	if p.Modulo() != weekMinutes {
		t.Fatalf("Modulo() = %d, want %d", p.Modulo(), weekMinutes)
	}
	if !p.Start().Equal(at("2024-01-01 00:00")) {
		t.Fatalf("Start() = %v, want Monday 00:00", p.Start())
	}

	for _, tc := range []struct {
		t    time.Time
		want bool
	}{
		{at("2024-01-03 06:10"), true},
		{at("2024-01-03 06:35"), false},
		{at("2024-01-03 06:50"), true},
		{at("2024-01-02 06:10"), false},
		{at("2024-01-08 06:10"), true}, // next Monday
	} {
		if got := p.IsActive(tc.t, 0); got != tc.want {
			t.Fatalf("IsActive(%v) = %v, want %v", tc.t, got, tc.want)
		}
	}

	got := p.ActiveIntervals(at("2024-01-03 00:00"), at("2024-01-04 00:00"), 0)
	wantIv := []Interval{
		{at("2024-01-03 06:00"), at("2024-01-03 06:30")},
		{at("2024-01-03 06:45"), at("2024-01-03 07:15")},
	}
	if !reflect.DeepEqual(got, wantIv) {
		t.Fatalf("ActiveIntervals() = %v, want %v", got, wantIv)
	}
}

func TestDaysAdvanced(t *testing.T) {
	t.Parallel()
	p := mustNew(t, DaysAdvanced{Schedule: []Span{{360, 390}, {1200, 1230}}, Days: []int{1}})
	want := Schedule{{1800, 1830}, {2640, 2670}}
	if got := p.Schedule(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Schedule() = %v, want %v", got, want)
	}
}

func TestRepeatSimpleEveryOtherDay(t *testing.T) {
	t.Parallel()
	p := mustNew(t, RepeatSimple{StartMin: 360, DurationMin: 30, RepeatDays: 2, StartDate: "2024-01-01"})
	if p.Modulo() != 2*dayMinutes {
		t.Fatalf("Modulo() = %d", p.Modulo())
	}
	if !p.IsActive(at("2024-01-03 06:10"), 0) {
		t.Fatalf("expected active on Jan 3")
	}
	if p.IsActive(at("2024-01-02 06:10"), 0) {
		t.Fatalf("expected inactive on Jan 2")
	}
	// Window before the anchor still aligns to the period.
	got := p.ActiveIntervals(at("2023-12-30 00:00"), at("2023-12-31 00:00"), 0)
	want := []Interval{{at("2023-12-30 06:00"), at("2023-12-30 06:30")}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ActiveIntervals() = %v, want %v", got, want)
	}
}

func TestCustomWrapAroundIntervals(t *testing.T) {
	t.Parallel()
	p := mustNew(t, Custom{Schedule: []Span{{1430, 10}}, Modulo: dayMinutes, Start: at("2024-01-01 00:00")})

	got := p.ActiveIntervals(at("2024-01-02 00:00"), at("2024-01-03 00:00"), 0)
	want := []Interval{
		{at("2024-01-02 00:00"), at("2024-01-02 00:10")},
		{at("2024-01-02 23:50"), at("2024-01-03 00:00")},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ActiveIntervals() = %v, want %v", got, want)
	}
	if !p.IsActive(at("2024-01-05 23:55"), 0) || !p.IsActive(at("2024-01-05 00:05"), 0) {
		t.Fatalf("expected wrap-around entries to be active")
	}
}

func TestActiveIntervalsIncludesRunningOccurrence(t *testing.T) {
	t.Parallel()
	p := mustNew(t, Custom{Schedule: []Span{{360, 390}}, Modulo: dayMinutes, Start: at("2024-01-01 00:00")})
	got := p.ActiveIntervals(at("2024-01-02 06:10"), at("2024-01-02 07:00"), 0)
	want := []Interval{{at("2024-01-02 06:00"), at("2024-01-02 06:30")}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ActiveIntervals() = %v, want %v", got, want)
	}
	if got := p.ActiveIntervals(at("2024-01-02 06:30"), at("2024-01-02 07:00"), 0); len(got) != 0 {
		t.Fatalf("interval ending at window start must be skipped, got %v", got)
	}
}

func TestManualProgramExpiresAfterOnePeriod(t *testing.T) {
	t.Parallel()
	start := at("2024-01-02 08:00")
	p := mustNew(t, Custom{Schedule: []Span{{0, 30}}, Modulo: dayMinutes, Start: start, Manual: true})
	if !p.Manual() {
		t.Fatalf("Manual() = false")
	}
	if !p.IsActive(start.Add(10*time.Minute), 0) {
		t.Fatalf("expected active inside the first period")
	}
	if p.IsActive(start.Add(24*time.Hour+10*time.Minute), 0) {
		t.Fatalf("manual program must not repeat")
	}
	if p.IsActive(start.Add(-24*time.Hour+10*time.Minute), 0) {
		t.Fatalf("manual program must not be active before its anchor")
	}
	got := p.ActiveIntervals(start.Add(-time.Hour), start.Add(72*time.Hour), 0)
	if len(got) != 1 {
		t.Fatalf("ActiveIntervals() = %v, want one interval", got)
	}
}

func TestInvalidParams(t *testing.T) {
	t.Parallel()
	cases := []Params{
		DaysSimple{StartMin: 360, DurationMin: 30, Days: []int{7}},
		DaysSimple{StartMin: 360, DurationMin: 0, Days: []int{1}},
		RepeatSimple{StartMin: 360, DurationMin: 30, RepeatDays: 0},
		RepeatSimple{StartMin: 360, DurationMin: 30, RepeatDays: 1, StartDate: "yesterday"},
		RepeatAdvanced{Schedule: []Span{{10, 10}}, RepeatDays: 1},
		Custom{Schedule: []Span{{0, 10}}},
		WeeklyWeather{PEMs: []PEM{{Minute: weekMinutes}}},
	}
	for _, params := range cases {
		if _, err := New("bad", params, buildNow); !errors.Is(err, ErrInvalidParams) {
			t.Fatalf("New(%#v) error = %v, want ErrInvalidParams", params, err)
		}
	}
}

func TestRecordRebuildsSchedule(t *testing.T) {
	t.Parallel()
	src := mustNew(t, DaysSimple{StartMin: 300, DurationMin: 20, Days: []int{4}})
	src.Stations = []int{1, 3}
	src.CutOff = 0.5

	rec, err := ToRecord(src)
	if err != nil {
		t.Fatalf("ToRecord() error: %v", err)
	}
	if rec.Type != "DAYS_SIMPLE" {
		t.Fatalf("Type = %q", rec.Type)
	}
	got, err := FromRecord(rec, buildNow)
	if err != nil {
		t.Fatalf("FromRecord() error: %v", err)
	}
	if !reflect.DeepEqual(got.Schedule(), src.Schedule()) || !reflect.DeepEqual(got.Stations, src.Stations) {
		t.Fatalf("rebuilt program differs: %v %v", got.Schedule(), got.Stations)
	}

	rec.TypeData = []byte(`{"start_min":300,"duration_min":20,"weekday":4}`)
	if _, err := FromRecord(rec, buildNow); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("unknown type_data field error = %v, want ErrInvalidParams", err)
	}
	rec.Type = "HOURLY"
	if _, err := FromRecord(rec, buildNow); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("unknown type error = %v, want ErrInvalidParams", err)
	}
}

func TestDaySchedulesKeepWallClockAcrossDST(t *testing.T) {
	t.Parallel()
	ams, err := time.LoadLocation("Europe/Amsterdam")
	if err != nil {
		t.Fatalf("LoadLocation() error: %v", err)
	}
	bc := BuildContext{Now: time.Date(2024, 3, 27, 12, 0, 0, 0, ams)}
	daily := DaysSimple{StartMin: 360, DurationMin: 30, Days: []int{0, 1, 2, 3, 4, 5, 6}}
	every2 := RepeatSimple{StartMin: 360, DurationMin: 30, RepeatDays: 2, StartDate: "2024-03-27"}

	for name, params := range map[string]Params{"days": daily, "repeat": every2} {
		p, err := New(name, params, bc)
		if err != nil {
			t.Fatalf("New(%s) error: %v", name, err)
		}
		// Clocks go forward on 2024-03-31.
		day := time.Date(2024, 4, 2, 0, 0, 0, 0, ams)
		got := p.ActiveIntervals(day, day.AddDate(0, 0, 1), 0)
		want := []Interval{{Start: time.Date(2024, 4, 2, 6, 0, 0, 0, ams), End: time.Date(2024, 4, 2, 6, 30, 0, 0, ams)}}
		if len(got) != 1 || !got[0].Start.Equal(want[0].Start) || !got[0].End.Equal(want[0].End) {
			t.Fatalf("%s: ActiveIntervals() = %v, want %v", name, got, want)
		}
		if !p.IsActive(time.Date(2024, 4, 2, 6, 10, 0, 0, ams), 0) {
			t.Fatalf("%s: IsActive(06:10 CEST) = false, want true", name)
		}
		if p.IsActive(time.Date(2024, 4, 2, 6, 40, 0, 0, ams), 0) {
			t.Fatalf("%s: IsActive(06:40 CEST) = true, want false", name)
		}
	}
}

func TestDayScheduleAcrossFallBack(t *testing.T) {
	t.Parallel()
	ams, err := time.LoadLocation("Europe/Amsterdam")
	if err != nil {
		t.Fatalf("LoadLocation() error: %v", err)
	}
	p, err := New("late", DaysSimple{StartMin: 22 * 60, DurationMin: 60, Days: []int{0, 1, 2, 3, 4, 5, 6}},
		BuildContext{Now: time.Date(2024, 10, 23, 12, 0, 0, 0, ams)})
	if err != nil {
		t.Fatal(err)
	}
	// Clocks go back on 2024-10-27; the window spans the change.
	from := time.Date(2024, 10, 26, 12, 0, 0, 0, ams)
	got := p.ActiveIntervals(from, from.Add(49*time.Hour), 0)
	if len(got) != 2 {
		t.Fatalf("ActiveIntervals() = %v, want two runs", got)
	}
	for _, iv := range got {
		if h := iv.Start.In(ams).Hour(); h != 22 {
			t.Fatalf("run starts at %v, want 22:00 local", iv.Start.In(ams))
		}
		if d := iv.End.Sub(iv.Start); d != time.Hour {
			t.Fatalf("run lasts %v, want 1h", d)
		}
	}
}
