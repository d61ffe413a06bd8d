package program

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind tags the parameter variant a program was built from.
type Kind int

const (
	KindDaysSimple Kind = iota
	KindDaysAdvanced
	KindRepeatSimple
	KindRepeatAdvanced
	KindWeeklyAdvanced
	KindCustom
	KindWeeklyWeather
)

var kindNames = map[Kind]string{
	KindDaysSimple:     "DAYS_SIMPLE",
	KindDaysAdvanced:   "DAYS_ADVANCED",
	KindRepeatSimple:   "REPEAT_SIMPLE",
	KindRepeatAdvanced: "REPEAT_ADVANCED",
	KindWeeklyAdvanced: "WEEKLY_ADVANCED",
	KindCustom:         "CUSTOM",
	KindWeeklyWeather:  "WEEKLY_WEATHER",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind maps a persisted type name back to its Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown program type %q", ErrInvalidParams, s)
}

const (
	dayMinutes  = 1440
	weekMinutes = 7 * dayMinutes
)

var (
	ErrInvalidParams       = errors.New("invalid program parameters")
	ErrRunNowUnsupported   = errors.New("program type cannot be started now")
	ErrIndexOutOfRange     = errors.New("program index out of range")
	ErrForecastUnavailable = errors.New("weather forecast unavailable")
)

// BuildContext carries what a Params variant needs to lay out its schedule.
// The location of Now decides where days and weeks begin.
type BuildContext struct {
	Ctx      context.Context
	Now      time.Time
	Forecast Forecast
}

type layout struct {
	schedule   Schedule
	modulo     int
	start      time.Time
	manual     bool
	perStation map[int]Schedule
}

// Params is the closed set of program parameter variants. Each variant
// rebuilds its own schedule; see the types in params.go.
type Params interface {
	Kind() Kind
	build(bc BuildContext) (layout, error)
}

// Program is a named, recurring or one-shot schedule over a set of stations.
// Schedule, Modulo, Start and Manual are derived from Params and only change
// through SetParams/Rebuild.
type Program struct {
	Name     string
	Enabled  bool
	Stations []int
	Fixed    bool
	// CutOff is the minimum weather adjustment (fraction) below which
	// intervals of this program are blocked.
	CutOff float64

	params     Params
	schedule   Schedule
	modulo     int
	start      time.Time
	manual     bool
	perStation map[int]Schedule
}

// New builds an enabled program from params.
func New(name string, params Params, bc BuildContext) (*Program, error) {
	p := &Program{Name: name, Enabled: true}
	if err := p.SetParams(params, bc); err != nil {
		return nil, err
	}
	return p, nil
}

// SetParams replaces the parameters and rebuilds the schedule. On error the
// program keeps its previous state.
func (p *Program) SetParams(params Params, bc BuildContext) error {
	if params == nil {
		return fmt.Errorf("%w: nil params", ErrInvalidParams)
	}
	if bc.Ctx == nil {
		bc.Ctx = context.Background()
	}
	if bc.Now.IsZero() {
		bc.Now = time.Now()
	}
	l, err := params.build(bc)
	if err != nil {
		return fmt.Errorf("%s: %w", params.Kind(), err)
	}
	if l.modulo <= 0 {
		return fmt.Errorf("%s: %w: modulo must be > 0", params.Kind(), ErrInvalidParams)
	}
	p.params = params
	p.schedule = l.schedule
	p.modulo = l.modulo
	p.start = l.start
	p.manual = l.manual
	p.perStation = l.perStation
	return nil
}

// Rebuild lays the schedule out again from the current params.
func (p *Program) Rebuild(bc BuildContext) error {
	return p.SetParams(p.params, bc)
}

func (p *Program) Kind() Kind         { return p.params.Kind() }
func (p *Program) Params() Params     { return p.params }
func (p *Program) Schedule() Schedule { return p.schedule.Clone() }
func (p *Program) Modulo() int        { return p.modulo }
func (p *Program) Start() time.Time   { return p.start }
func (p *Program) Manual() bool       { return p.manual }

// StationSchedule returns the schedule used for station. Weather programs
// keep one schedule per station; everything else shares Schedule().
func (p *Program) StationSchedule(station int) Schedule {
	return p.scheduleFor(station).Clone()
}

func (p *Program) scheduleFor(station int) Schedule {
	if p.perStation != nil {
		if s, ok := p.perStation[station]; ok {
			return s
		}
	}
	return p.schedule
}

// HasStation reports whether the program drives station.
func (p *Program) HasStation(station int) bool {
	for _, s := range p.Stations {
		if s == station {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (p *Program) Clone() *Program {
	cp := *p
	cp.Stations = append([]int(nil), p.Stations...)
	cp.schedule = p.schedule.Clone()
	if p.perStation != nil {
		cp.perStation = make(map[int]Schedule, len(p.perStation))
		for k, v := range p.perStation {
			cp.perStation[k] = v.Clone()
		}
	}
	return &cp
}

// IsActive reports whether t falls into one of the program's spans for station.
func (p *Program) IsActive(t time.Time, station int) bool {
	if p.modulo <= 0 {
		return false
	}
	var delta int
	if p.calendar() {
		loc := p.start.Location()
		delta = floorMinutes(wall(t, loc).Sub(wall(p.start, loc)))
	} else {
		delta = floorMinutes(t.Sub(p.start))
	}
	if p.manual && (delta >= p.modulo || delta < 0) {
		return false
	}
	return p.scheduleFor(station).Contains(mod(delta, p.modulo), p.modulo)
}

// ActiveIntervals returns every absolute occurrence of the station's spans
// that overlaps [windowStart, windowEnd), in chronological order.
func (p *Program) ActiveIntervals(windowStart, windowEnd time.Time, station int) []Interval {
	if p.modulo <= 0 || !windowStart.Before(windowEnd) {
		return nil
	}
	sched := p.scheduleFor(station)
	if len(sched) == 0 {
		return nil
	}
	period := time.Duration(p.modulo) * time.Minute

	// Day based programs are laid out on the wall clock of their location
	// and mapped back, so a daylight saving change keeps the time of day.
	// The wall window is one hour wider to cover the offset jump.
	loc := p.start.Location()
	cal := p.calendar()
	origin, from, to := p.start, windowStart, windowEnd
	if cal {
		origin = wall(p.start, loc)
		from = wall(windowStart, loc).Add(-time.Hour)
		to = wall(windowEnd, loc).Add(time.Hour)
	}

	var current time.Time
	if p.manual {
		current = origin
	} else {
		// Period-aligned instant at or before from.
		d := from.Sub(origin)
		k := d / period
		if d%period < 0 {
			k--
		}
		current = origin.Add(k * period)
	}

	var out []Interval
	for current.Before(to) {
		for _, e := range sched {
			start := current.Add(time.Duration(e.Start) * time.Minute)
			end := current.Add(time.Duration(e.End) * time.Minute)
			if !end.After(from) {
				continue
			}
			if !start.Before(to) {
				break
			}
			if cal {
				start, end = unwall(start, loc), unwall(end, loc)
				if !end.After(windowStart) || !start.Before(windowEnd) {
					continue
				}
			}
			out = append(out, Interval{Start: start, End: end})
		}
		if p.manual {
			break
		}
		current = current.Add(period)
	}
	return out
}

// calendar reports whether the period is a whole number of days. Such
// programs follow the wall clock instead of elapsed time.
func (p *Program) calendar() bool {
	return !p.manual && p.modulo%dayMinutes == 0
}

// wall returns the wall clock reading of t in loc as a UTC instant.
func wall(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	y, mo, d := t.Date()
	h, mi, s := t.Clock()
	return time.Date(y, mo, d, h, mi, s, t.Nanosecond(), time.UTC)
}

// unwall is the inverse of wall. Readings inside a spring-forward gap are
// normalized past it.
func unwall(w time.Time, loc *time.Location) time.Time {
	y, mo, d := w.Date()
	h, mi, s := w.Clock()
	return time.Date(y, mo, d, h, mi, s, w.Nanosecond(), loc)
}

// weekStart returns Monday 00:00 of the week containing t, in t's location.
func weekStart(t time.Time) time.Time {
	d := midnight(t)
	wd := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -wd)
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
