package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sprinklerd/internal/eventbus"
	"sprinklerd/internal/options"
	"sprinklerd/internal/runlog"
	"sprinklerd/internal/telemetry"
	logx "sprinklerd/pkg/logx"
)

// Tick runs one scheduling pass at the engine's current time. Every run log
// entry is handled on its own; failures are collected and returned together
// after the whole pass completed.
func (e *Engine) Tick(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	snap := e.opts.Snapshot()
	var errs []error

	errs = append(errs, e.applyTransitions(snap))

	rain := rainGate(snap, now)
	_, active := e.runs.Snapshot()
	for _, rec := range active {
		errs = append(errs, guard("finish "+rec.UID, func() error {
			return e.finishIfDue(rec, now, rain)
		}))
	}

	if !snap.ManualMode && ctx.Err() == nil {
		finished, current := e.runs.Snapshot()
		sched, err := e.predict(now.Add(-lookaround), now.Add(lookaround), now, snap, finished, current)
		errs = append(errs, err)
		for _, rec := range sched {
			if rec.Start.After(now) || !rec.End.After(now) {
				continue
			}
			errs = append(errs, guard("start "+rec.UID, func() error {
				return e.start(rec)
			}))
		}
	}

	errs = append(errs, guard("master", func() error {
		return e.driveMaster(now, snap, active)
	}))
	return errors.Join(errs...)
}

// applyTransitions compares snap with the previous tick's options. Toggling
// manual mode or disabling the scheduler flushes every run, even when the
// switch was undone before this tick. Turning the master relay option off
// releases the relay.
func (e *Engine) applyTransitions(snap options.Snapshot) error {
	prev, had := e.prev, e.hasPrev
	e.prev, e.hasPrev = snap, true
	if !had {
		return nil
	}
	var errs []error
	switch {
	case prev.ModeChanges != snap.ModeChanges || prev.ManualMode != snap.ManualMode:
		errs = append(errs, e.flushLocked("manual mode changed"))
	case prev.Disables != snap.Disables || (prev.SchedulerEnabled && !snap.SchedulerEnabled):
		errs = append(errs, e.flushLocked("scheduler disabled"))
	}
	if prev.MasterRelay && !snap.MasterRelay && e.stations.Relay() {
		if err := e.stations.SetRelay(false); err != nil {
			errs = append(errs, fmt.Errorf("relay: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) finishIfDue(rec runlog.Record, now time.Time, rain bool) error {
	st, _ := e.stations.Get(rec.Station)
	reason := ""
	switch {
	case !rec.End.After(now):
		reason = "ended"
	case rain && !st.IgnoreRain && !rec.IsBlocked() && !rec.Manual:
		reason = "rain"
	default:
		return nil
	}
	e.runs.FinishRun(rec.UID)
	telemetry.RunsFinishedTotal.WithLabelValues(reason).Inc()
	e.bus.Publish(eventbus.Event{Type: eventbus.RunFinished, Data: rec})
	e.log.Debug("run finished", logx.String("uid", rec.UID), logx.Int("station", rec.Station), logx.String("reason", reason))
	if err := e.stations.Deactivate(rec.Station); err != nil {
		return err
	}
	telemetry.SetStationActive(rec.Station, false)
	return nil
}

func (e *Engine) start(rec runlog.Record) error {
	logged := e.runs.StartRun(rec)
	telemetry.RunsStartedTotal.WithLabelValues(source(rec), fmt.Sprint(rec.IsBlocked())).Inc()
	e.bus.Publish(eventbus.Event{Type: eventbus.RunStarted, Data: logged})
	if rec.IsBlocked() {
		telemetry.IntervalsBlockedTotal.WithLabelValues(rec.Blocked).Inc()
		e.log.Info("interval blocked",
			logx.String("uid", rec.UID),
			logx.String("program", rec.ProgramName),
			logx.Int("station", rec.Station),
			logx.String("reason", rec.Blocked),
		)
		return nil
	}
	e.log.Info("run started",
		logx.String("uid", rec.UID),
		logx.String("program", rec.ProgramName),
		logx.Int("station", rec.Station),
		logx.Time("end", rec.End),
	)
	if err := e.stations.Activate(rec.Station); err != nil {
		return err
	}
	telemetry.SetStationActive(rec.Station, true)
	return nil
}

// driveMaster switches the master station and relay. Without delays the
// decision uses the runs that were active when the tick began; with delays
// every known interval is tested against its delayed window.
func (e *Engine) driveMaster(now time.Time, snap options.Snapshot, active []runlog.Record) error {
	master, hasMaster := e.stations.Master()
	if !hasMaster && !snap.MasterRelay {
		return nil
	}

	entries := active
	if snap.MasterOnDelay != 0 || snap.MasterOffDelay != 0 {
		finished, current := e.runs.Snapshot()
		if snap.ManualMode {
			entries = append(finished, active...)
		} else {
			var err error
			entries, err = e.combined(now.Add(-lookaround), now.Add(lookaround), now, snap, finished, current)
			if err != nil {
				e.report("master schedule", err)
			}
		}
	}

	on := false
	for _, rec := range entries {
		if rec.IsBlocked() {
			continue
		}
		st, ok := e.stations.Get(rec.Station)
		if !ok || !st.ActivateMaster {
			continue
		}
		if snap.MasterOnDelay == 0 && snap.MasterOffDelay == 0 {
			on = true
			break
		}
		if !now.Before(rec.Start.Add(snap.MasterOnDelay)) && now.Before(rec.End.Add(snap.MasterOffDelay)) {
			on = true
			break
		}
	}

	var errs []error
	if hasMaster && on != e.stations.Active(master) {
		var err error
		if on {
			err = e.stations.Activate(master)
		} else {
			err = e.stations.Deactivate(master)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("master station: %w", err))
		} else {
			telemetry.SetStationActive(master, on)
			e.log.Debug("master station", logx.Int("station", master), logx.Bool("on", on))
		}
	}
	if snap.MasterRelay && on != e.stations.Relay() {
		if err := e.stations.SetRelay(on); err != nil {
			errs = append(errs, fmt.Errorf("relay: %w", err))
		}
	}
	telemetry.SetMasterOn(on)
	return errors.Join(errs...)
}

func source(rec runlog.Record) string {
	switch {
	case rec.Program >= 0:
		return "program"
	case rec.ProgramName == runOnceName:
		return "run_once"
	default:
		return "run_now"
	}
}
