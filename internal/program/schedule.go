package program

import (
	"sort"
	"time"
)

// Span is one [Start, End) entry of a schedule, in minutes from the
// beginning of the program period.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Schedule is a sorted list of pairwise disjoint spans inside [0, modulo).
type Schedule []Span

// Interval is an absolute half-open time range.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (iv Interval) Contains(t time.Time) bool {
	return !t.Before(iv.Start) && t.Before(iv.End)
}

// Clone returns an independent copy.
func (s Schedule) Clone() Schedule {
	if s == nil {
		return nil
	}
	return append(Schedule(nil), s...)
}

// UpdateSchedule inserts [startMinute, endMinute) into schedule, wrapping at
// modulo. Entries already present win: the new span is clipped around them
// and may be split into several pieces. Inserting the same span twice is a
// no-op the second time.
func UpdateSchedule(schedule Schedule, modulo, startMinute, endMinute int) Schedule {
	out := schedule.Clone()
	if modulo <= 0 {
		return out
	}

	start := mod(startMinute, modulo)
	end := mod(endMinute, modulo)
	if end < start {
		end += modulo
	}

	var pending []Span
	if end > modulo {
		pending = []Span{{0, end % modulo}, {start, modulo}}
	} else {
		pending = []Span{{start, end}}
	}

	for len(pending) > 0 {
		entry := pending[0]
		pending = pending[1:]

		for _, existing := range out {
			if existing.Start <= entry.Start && entry.Start < existing.End {
				entry.Start = existing.End
			}
			if existing.Start < entry.End && entry.End <= existing.End {
				entry.End = existing.Start
			}
			if entry.Start < existing.Start && existing.Start <= existing.End && existing.End < entry.End {
				pending = append(pending, Span{existing.End, entry.End})
				entry.End = existing.Start
			}
			if entry.End <= entry.Start {
				break
			}
		}

		if entry.End > entry.Start {
			out = append(out, entry)
			sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
		}
	}
	return out
}

// Contains reports whether minute (already reduced into [0, modulo)) falls
// inside one of the spans.
func (s Schedule) Contains(minute, modulo int) bool {
	for _, e := range s {
		if (e.Start <= minute && minute < e.End) || (e.Start <= minute+modulo && minute+modulo < e.End) {
			return true
		}
		if e.Start > minute {
			break
		}
	}
	return false
}

// mod is the non-negative remainder.
func mod(a, m int) int {
	r := a % m
	if r < 0 {
		r += m
	}
	return r
}

// floorMinutes returns d in whole minutes, rounding towards negative infinity.
func floorMinutes(d time.Duration) int {
	m := d / time.Minute
	if d%time.Minute < 0 {
		m--
	}
	return int(m)
}
