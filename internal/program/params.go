package program

import (
	"fmt"
	"strings"
	"time"
)

// DaysSimple waters on selected weekdays (0 = Monday): RepeatTimes+1 runs
// of DurationMin separated by PauseMin, the first starting at StartMin.
type DaysSimple struct {
	StartMin    int   `json:"start_min"`
	DurationMin int   `json:"duration_min"`
	PauseMin    int   `json:"pause_min"`
	RepeatTimes int   `json:"repeat_times"`
	Days        []int `json:"days"`
}

// DaysAdvanced applies the same day-relative spans to every selected weekday.
type DaysAdvanced struct {
	Schedule []Span `json:"schedule"`
	Days     []int  `json:"days"`
}

// RepeatSimple is DaysSimple's run pattern repeated every RepeatDays days
// counted from StartDate (YYYY-MM-DD).
type RepeatSimple struct {
	StartMin    int    `json:"start_min"`
	DurationMin int    `json:"duration_min"`
	PauseMin    int    `json:"pause_min"`
	RepeatTimes int    `json:"repeat_times"`
	RepeatDays  int    `json:"repeat_days"`
	StartDate   string `json:"start_date"`
}

// RepeatAdvanced repeats explicit spans every RepeatDays days from StartDate.
type RepeatAdvanced struct {
	Schedule   []Span `json:"schedule"`
	RepeatDays int    `json:"repeat_days"`
	StartDate  string `json:"start_date"`
}

// WeeklyAdvanced holds explicit spans over a whole week starting Monday 00:00.
type WeeklyAdvanced struct {
	Schedule []Span `json:"schedule"`
}

// Custom has an explicit period and anchor. A Manual custom program runs
// one period and then expires.
type Custom struct {
	Schedule []Span    `json:"schedule"`
	Modulo   int       `json:"modulo"`
	Start    time.Time `json:"start"`
	Manual   bool      `json:"manual,omitempty"`
}

func (DaysSimple) Kind() Kind     { return KindDaysSimple }
func (DaysAdvanced) Kind() Kind   { return KindDaysAdvanced }
func (RepeatSimple) Kind() Kind   { return KindRepeatSimple }
func (RepeatAdvanced) Kind() Kind { return KindRepeatAdvanced }
func (WeeklyAdvanced) Kind() Kind { return KindWeeklyAdvanced }
func (Custom) Kind() Kind         { return KindCustom }

func (p DaysSimple) build(bc BuildContext) (layout, error) {
	if err := checkRuns(p.StartMin, p.DurationMin, p.PauseMin, p.RepeatTimes); err != nil {
		return layout{}, err
	}
	if err := checkDays(p.Days); err != nil {
		return layout{}, err
	}
	var s Schedule
	for _, day := range p.Days {
		s = insertRuns(s, weekMinutes, p.StartMin+day*dayMinutes, p.DurationMin, p.PauseMin, p.RepeatTimes)
	}
	return layout{schedule: s, modulo: weekMinutes, start: weekStart(bc.Now)}, nil
}

func (p DaysAdvanced) build(bc BuildContext) (layout, error) {
	if err := checkSpans(p.Schedule, dayMinutes); err != nil {
		return layout{}, err
	}
	if err := checkDays(p.Days); err != nil {
		return layout{}, err
	}
	var s Schedule
	for _, day := range p.Days {
		off := day * dayMinutes
		for _, sp := range p.Schedule {
			s = UpdateSchedule(s, weekMinutes, sp.Start+off, sp.End+off)
		}
	}
	return layout{schedule: s, modulo: weekMinutes, start: weekStart(bc.Now)}, nil
}

func (p RepeatSimple) build(bc BuildContext) (layout, error) {
	if err := checkRuns(p.StartMin, p.DurationMin, p.PauseMin, p.RepeatTimes); err != nil {
		return layout{}, err
	}
	if p.RepeatDays < 1 {
		return layout{}, fmt.Errorf("%w: repeat_days must be >= 1", ErrInvalidParams)
	}
	start, err := parseDate(p.StartDate, bc.Now)
	if err != nil {
		return layout{}, err
	}
	modulo := p.RepeatDays * dayMinutes
	s := insertRuns(nil, modulo, p.StartMin, p.DurationMin, p.PauseMin, p.RepeatTimes)
	return layout{schedule: s, modulo: modulo, start: start}, nil
}

func (p RepeatAdvanced) build(bc BuildContext) (layout, error) {
	if p.RepeatDays < 1 {
		return layout{}, fmt.Errorf("%w: repeat_days must be >= 1", ErrInvalidParams)
	}
	modulo := p.RepeatDays * dayMinutes
	if err := checkSpans(p.Schedule, modulo); err != nil {
		return layout{}, err
	}
	start, err := parseDate(p.StartDate, bc.Now)
	if err != nil {
		return layout{}, err
	}
	return layout{schedule: spansToSchedule(p.Schedule, modulo), modulo: modulo, start: start}, nil
}

func (p WeeklyAdvanced) build(bc BuildContext) (layout, error) {
	if err := checkSpans(p.Schedule, weekMinutes); err != nil {
		return layout{}, err
	}
	return layout{schedule: spansToSchedule(p.Schedule, weekMinutes), modulo: weekMinutes, start: weekStart(bc.Now)}, nil
}

func (p Custom) build(bc BuildContext) (layout, error) {
	if p.Modulo <= 0 {
		return layout{}, fmt.Errorf("%w: modulo must be > 0", ErrInvalidParams)
	}
	if err := checkSpans(p.Schedule, p.Modulo); err != nil {
		return layout{}, err
	}
	start := p.Start
	if start.IsZero() {
		start = midnight(bc.Now)
	} else {
		start = start.In(bc.Now.Location())
	}
	return layout{schedule: spansToSchedule(p.Schedule, p.Modulo), modulo: p.Modulo, start: start, manual: p.Manual}, nil
}

// firstDay returns the spans a run-now copy should execute, relative to
// the moment it is started. Only the day-based kinds support it.
func firstDay(params Params) (Schedule, bool) {
	switch p := params.(type) {
	case DaysSimple:
		return linearRuns(p.StartMin, p.DurationMin, p.PauseMin, p.RepeatTimes), true
	case RepeatSimple:
		return linearRuns(p.StartMin, p.DurationMin, p.PauseMin, p.RepeatTimes), true
	case DaysAdvanced:
		return withinDay(p.Schedule), true
	case RepeatAdvanced:
		return withinDay(p.Schedule), true
	default:
		return nil, false
	}
}

func linearRuns(startMin, duration, pause, repeat int) Schedule {
	var s Schedule
	for i := 0; i <= repeat; i++ {
		s = append(s, Span{Start: startMin, End: startMin + duration})
		startMin += duration + pause
	}
	return s
}

func withinDay(spans []Span) Schedule {
	var s Schedule
	for _, sp := range spans {
		if sp.Start < sp.End && sp.End <= dayMinutes {
			s = UpdateSchedule(s, 2*dayMinutes, sp.Start, sp.End)
		}
	}
	return s
}

func insertRuns(s Schedule, modulo, startMin, duration, pause, repeat int) Schedule {
	for i := 0; i <= repeat; i++ {
		s = UpdateSchedule(s, modulo, startMin, startMin+duration)
		startMin += duration + pause
	}
	return s
}

func spansToSchedule(spans []Span, modulo int) Schedule {
	var s Schedule
	for _, sp := range spans {
		s = UpdateSchedule(s, modulo, sp.Start, sp.End)
	}
	return s
}

func checkRuns(startMin, duration, pause, repeat int) error {
	switch {
	case startMin < 0 || startMin >= dayMinutes:
		return fmt.Errorf("%w: start_min %d outside the day", ErrInvalidParams, startMin)
	case duration <= 0:
		return fmt.Errorf("%w: duration_min must be > 0", ErrInvalidParams)
	case pause < 0:
		return fmt.Errorf("%w: pause_min must be >= 0", ErrInvalidParams)
	case repeat < 0:
		return fmt.Errorf("%w: repeat_times must be >= 0", ErrInvalidParams)
	}
	return nil
}

func checkDays(days []int) error {
	for _, d := range days {
		if d < 0 || d > 6 {
			return fmt.Errorf("%w: weekday %d out of range 0..6", ErrInvalidParams, d)
		}
	}
	return nil
}

// Spans may wrap (End < Start) but must stay within two periods.
func checkSpans(spans []Span, modulo int) error {
	for _, sp := range spans {
		if sp.Start < 0 || sp.End < 0 || sp.Start > 2*modulo || sp.End > 2*modulo {
			return fmt.Errorf("%w: span [%d,%d) outside period %d", ErrInvalidParams, sp.Start, sp.End, modulo)
		}
		if sp.Start == sp.End {
			return fmt.Errorf("%w: empty span at %d", ErrInvalidParams, sp.Start)
		}
	}
	return nil
}

func parseDate(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return midnight(now), nil
	}
	d, err := time.ParseInLocation("2006-01-02", s, now.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: start_date %q: %v", ErrInvalidParams, s, err)
	}
	return d, nil
}
