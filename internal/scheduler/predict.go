package scheduler

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"sprinklerd/internal/options"
	"sprinklerd/internal/runlog"
	"sprinklerd/internal/station"
	logx "sprinklerd/pkg/logx"
)

// PredictedSchedule returns every interval that should run in [start, end),
// admitted or blocked, sorted by start time. Calling it twice without a run
// log change yields the same result.
func (e *Engine) PredictedSchedule(start, end time.Time) []runlog.Record {
	snap := e.opts.Snapshot()
	finished, active := e.runs.Snapshot()
	out, err := e.predict(start, end, e.now(), snap, finished, active)
	e.report("predicted schedule", err)
	return out
}

// CombinedSchedule merges history with prediction: a window entirely in the
// future is predicted, one entirely in the past comes from the finished
// runs, and a window around now has history followed by the predicted
// intervals that have not started yet.
func (e *Engine) CombinedSchedule(start, end time.Time) []runlog.Record {
	snap := e.opts.Snapshot()
	finished, active := e.runs.Snapshot()
	out, err := e.combined(start, end, e.now(), snap, finished, active)
	e.report("combined schedule", err)
	return out
}

func (e *Engine) combined(start, end, now time.Time, snap options.Snapshot, finished, active []runlog.Record) ([]runlog.Record, error) {
	switch {
	case now.Before(start):
		return e.predict(start, end, now, snap, finished, active)
	case now.After(end):
		var out []runlog.Record
		for _, r := range finished {
			if within(r.Start, start, end) || within(r.End, start, end) {
				out = append(out, r)
			}
		}
		return out, nil
	default:
		out := make([]runlog.Record, 0, len(finished)+len(active))
		out = append(out, finished...)
		out = append(out, active...)
		predicted, err := e.predict(start, end, now, snap, finished, active)
		for _, r := range predicted {
			if !r.Start.Before(now) && !r.Start.After(end) {
				out = append(out, r)
			}
		}
		return out, err
	}
}

func (e *Engine) predict(start, end, now time.Time, snap options.Snapshot, finished, active []runlog.Record) ([]runlog.Record, error) {
	var errs []error
	delay := snap.StationDelay

	history := make([]runlog.Record, 0, len(finished)+len(active))
	history = append(history, finished...)
	history = append(history, active...)
	tl := newTimeline()
	var lastDecided *runlog.Record
	for i := range history {
		if history[i].IsBlocked() {
			continue
		}
		tl.register(history[i].Start, history[i].End, history[i].Usage)
		lastDecided = &history[i]
	}

	enabled := map[int]station.Station{}
	for _, st := range e.stations.EnabledStations() {
		enabled[st.Index] = st
	}
	count := e.stations.Count()
	perStation := map[int][]runlog.Record{}

	for _, st := range sortedStations(enabled) {
		for _, iv := range e.overrides.ActiveIntervals(start, end, st.Index) {
			perStation[st.Index] = append(perStation[st.Index], runlog.Record{
				UID:           e.uid(iv.Start, runOnceName, st.Index),
				Start:         iv.Start,
				End:           iv.End,
				OriginalStart: iv.Start,
				Station:       st.Index,
				Program:       -1,
				ProgramName:   runOnceName,
				Manual:        true,
				Fixed:         true,
				Usage:         st.Usage,
			})
		}
	}

	if rn := e.programs.RunNowProgram(); rn != nil {
		name := rn.Name + runNowSuffix
		errs = append(errs, guard("run-now "+rn.Name, func() error {
			for _, idx := range uniqueSorted(rn.Stations) {
				st, ok := enabled[idx]
				if !ok {
					continue
				}
				for _, iv := range rn.ActiveIntervals(start, end, idx) {
					perStation[idx] = append(perStation[idx], runlog.Record{
						UID:           e.uid(iv.Start, name, idx),
						Start:         iv.Start,
						End:           iv.End,
						OriginalStart: iv.Start,
						Station:       idx,
						Program:       -1,
						ProgramName:   name,
						Manual:        true,
						Fixed:         true,
						Usage:         st.Usage,
					})
				}
			}
			return nil
		}))
	}

	for pi, p := range e.programs.Get() {
		if !p.Enabled {
			continue
		}
		errs = append(errs, guard(fmt.Sprintf("program %d (%s)", pi, p.Name), func() error {
			for _, idx := range uniqueSorted(p.Stations) {
				st, ok := enabled[idx]
				if !ok {
					if idx < 0 || idx >= count {
						e.warnOnce(fmt.Sprintf("range:%d:%d", pi, idx), "program references a missing station",
							logx.Int("program", pi), logx.String("name", p.Name), logx.Int("station", idx))
					}
					continue
				}
				for _, iv := range p.ActiveIntervals(start, end, idx) {
					if lastDecided != nil && lastDecided.OriginalStart.After(iv.Start) {
						continue
					}
					perStation[idx] = append(perStation[idx], runlog.Record{
						UID:           e.uid(iv.Start, strconv.Itoa(pi), idx),
						Start:         iv.Start,
						End:           iv.End,
						OriginalStart: iv.Start,
						Station:       idx,
						Program:       pi,
						ProgramName:   p.Name,
						Manual:        p.Manual(),
						Fixed:         p.Fixed,
						CutOff:        p.CutOff,
						Usage:         st.Usage,
					})
				}
			}
			return nil
		}))
	}

	all := e.resolveStations(perStation, enabled, snap, delay)
	all = skipDecided(all, history)

	// Manual work is considered first.
	sort.SliceStable(all, func(i, j int) bool { return all[i].Manual && !all[j].Manual })

	for i := range all {
		iv := &all[i]
		if reason := blockReason(iv, enabled[iv.Station], snap, now); reason != "" {
			iv.Blocked = reason
			continue
		}
		if snap.MaxUsage > 0 && !tl.admit(iv, snap.MaxUsage, delay) {
			iv.Blocked = BlockedError
			e.warnOnce("admit:"+iv.UID, "could not schedule interval", logx.String("uid", iv.UID))
		}
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Start.Before(all[j].Start) })
	return all, errors.Join(errs...)
}

// resolveStations applies the per-station rules: stations that can never
// fit under the usage limit are dropped, durations are scaled by the
// weather adjustment and overlapping intervals of one station are pushed
// back to back. The result is sorted by start time.
func (e *Engine) resolveStations(perStation map[int][]runlog.Record, enabled map[int]station.Station, snap options.Snapshot, delay time.Duration) []runlog.Record {
	var all []runlog.Record
	for _, idx := range sortedKeys(perStation) {
		list := perStation[idx]
		if snap.MaxUsage > 0 && enabled[idx].Usage > snap.MaxUsage+usageEpsilon {
			e.warnOnce(fmt.Sprintf("usage:%d", idx), "station usage exceeds max usage, never scheduled",
				logx.Int("station", idx), logx.Float64("usage", enabled[idx].Usage), logx.Float64("max_usage", snap.MaxUsage))
			continue
		}
		sort.SliceStable(list, func(i, j int) bool { return list[i].Start.Before(list[j].Start) })

		var lastEnd time.Time
		for i := range list {
			iv := &list[i]
			iv.Adjustment = 1.0
			if !iv.Fixed && !iv.Manual {
				iv.Adjustment = snap.Adjustment
				secs := math.Floor(iv.End.Sub(iv.Start).Seconds())
				iv.End = iv.Start.Add(time.Duration(math.Floor(secs*snap.Adjustment)) * time.Second)
			}
			if !lastEnd.IsZero() && lastEnd.After(iv.Start) {
				shift := lastEnd.Add(delay).Sub(iv.Start)
				iv.Start = iv.Start.Add(shift)
				iv.End = iv.End.Add(shift)
			}
			lastEnd = iv.End
		}
		all = append(all, list...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Start.Before(all[j].Start) })
	return all
}

// skipDecided removes what the run log already covers: for every logged
// record, candidates originally planned before it are dropped, as is the
// first candidate carrying the same uid.
func skipDecided(all, history []runlog.Record) []runlog.Record {
	for _, done := range history {
		i := 0
		for i < len(all) {
			if all[i].OriginalStart.Before(done.OriginalStart) {
				all = append(all[:i], all[i+1:]...)
				continue
			}
			if all[i].UID == done.UID {
				all = append(all[:i], all[i+1:]...)
				break
			}
			i++
		}
	}
	return all
}

// blockReason applies the blocking rules in order. Manual intervals are
// never blocked. A rain delay covers every interval that has not ended yet
// and starts before the block ends.
func blockReason(iv *runlog.Record, st station.Station, snap options.Snapshot, now time.Time) string {
	if iv.Manual {
		return ""
	}
	switch {
	case !snap.SchedulerEnabled:
		return BlockedDisabled
	case !st.IgnoreRain && iv.End.After(now) && iv.Start.Before(snap.RainBlockEnd):
		return BlockedRainDelay
	case !st.IgnoreRain && snap.RainSensed:
		return BlockedRainSensor
	case !iv.Fixed && iv.Adjustment < iv.CutOff:
		return BlockedCutOff
	}
	return ""
}

func (e *Engine) uid(start time.Time, ident string, station int) string {
	return fmt.Sprintf("%s-%s-%d", start.In(e.loc).Format(uidTimeLayout), ident, station)
}

func (e *Engine) warnOnce(key, msg string, fields ...logx.Field) {
	if e.warn.Allow(key) {
		e.log.Warn(msg, fields...)
	}
}

func (e *Engine) report(what string, err error) {
	if err != nil && e.warn.Allow(what) {
		e.log.Warn(what+" incomplete", logx.Err(err))
	}
}

func within(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}

func sortedStations(m map[int]station.Station) []station.Station {
	out := make([]station.Station, 0, len(m))
	for _, st := range m {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func sortedKeys(m map[int][]runlog.Record) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func uniqueSorted(in []int) []int {
	out := append([]int(nil), in...)
	sort.Ints(out)
	n := 0
	for i, v := range out {
		if i > 0 && v == out[n-1] {
			continue
		}
		out[n] = v
		n++
	}
	return out[:n]
}
