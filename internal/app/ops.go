package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"sprinklerd/internal/eventbus"
	"sprinklerd/internal/options"
	"sprinklerd/internal/runlog"
	"sprinklerd/internal/runtime/supervisor"
	"sprinklerd/internal/storage"
	logx "sprinklerd/pkg/logx"
)

const operatorActor = "operator"

// StopAll cancels run-now and run-once, finishes every active run and
// switches all outputs off.
func (a *App) StopAll(reason string) error {
	return a.engine.StopAll(reason)
}

// RunNow starts the program at index immediately.
func (a *App) RunNow(ctx context.Context, index int) error {
	err := a.programs.RunNow(index)
	e := storage.NewAuditEntry("run_now", fmt.Sprintf("program %d", index))
	a.appendAudit(ctx, e, err)
	return err
}

// RunOnce waters each station for its duration, starting now.
func (a *App) RunOnce(ctx context.Context, durations map[int]time.Duration) error {
	count := a.stations.Count()
	stations := make([]int, 0, len(durations))
	for st, d := range durations {
		if st < 0 || st >= count {
			return fmt.Errorf("run-once: station %d out of range", st)
		}
		if d < 0 {
			return fmt.Errorf("run-once: station %d: negative duration %v", st, d)
		}
		stations = append(stations, st)
	}
	sort.Ints(stations)
	a.runOnce.Set(durations)

	parts := make([]string, 0, len(stations))
	for _, st := range stations {
		parts = append(parts, fmt.Sprintf("%d=%v", st, durations[st]))
	}
	e := storage.NewAuditEntry("run_once", "")
	e.Detail = strings.Join(parts, ",")
	a.appendAudit(ctx, e, nil)
	return nil
}

// SetManualMode switches between scheduled and manual operation.
func (a *App) SetManualMode(on bool) error {
	_, err := a.opts.Update(func(v *options.Values) { v.ManualMode = on })
	return err
}

// SetRainInput records the raw rain sensor input.
func (a *App) SetRainInput(closed bool) { a.rain.Store(closed) }

// Schedule returns history, active runs and the prediction for the next
// window.
func (a *App) Schedule(window time.Duration) []runlog.Record {
	now := a.now()
	return a.engine.CombinedSchedule(now, now.Add(window))
}

func (a *App) appendAudit(ctx context.Context, e storage.AuditEntry, err error) {
	if e.Actor == "" {
		e.Actor = operatorActor
	}
	if err != nil {
		e.Error = err.Error()
	}
	if a.st == nil {
		return
	}
	if werr := a.st.AppendAudit(ctx, e); werr != nil {
		a.log.Warn("audit write failed", logx.String("action", e.Action), logx.Err(werr))
	}
}

// auditLoop turns bus events into audit entries.
func (a *App) auditLoop(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			// Keep this debug-level to avoid noise from run start/finish.
			a.log.Debug("event", logx.String("type", ev.Type), logx.Time("time", ev.Time))

			switch ev.Type {
			case eventbus.StoppedAll:
				e := storage.NewAuditEntry("stop_all", "")
				e.Detail, _ = ev.Data.(string)
				a.appendAudit(ctx, e, nil)
			case eventbus.OptionsChanged:
				ch, ok := ev.Data.(options.Change)
				if !ok {
					continue
				}
				e := storage.NewAuditEntry("options", strings.Join(ch.Keys, ","))
				e.Actor = "system"
				if ch.Old.ManualMode != ch.New.ManualMode {
					e.Action = "mode"
					e.Detail = fmt.Sprintf("manual_mode=%v", ch.New.ManualMode)
				}
				a.appendAudit(ctx, e, nil)
			}
		}
	}
}

type healthReport struct {
	Status   string                 `json:"status"`
	Manual   bool                   `json:"manual_mode"`
	Enabled  bool                   `json:"scheduler_enabled"`
	Stations []bool                 `json:"stations"`
	Relay    bool                   `json:"relay"`
	Active   int                    `json:"active_runs"`
	Programs int                    `json:"programs"`
	Loops    []supervisor.LoopStats `json:"loops,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

func (a *App) health() (any, bool) {
	v := a.opts.Values()
	_, active := a.runs.Snapshot()
	r := healthReport{
		Status:   "ok",
		Manual:   v.ManualMode,
		Enabled:  v.SchedulerEnabled,
		Stations: a.stations.States(),
		Relay:    a.stations.Relay(),
		Active:   len(active),
		Programs: a.programs.Len(),
	}
	if a.sup != nil {
		r.Loops = a.sup.Loops()
	}
	if err := a.Err(); err != nil {
		r.Status = "failed"
		r.Error = err.Error()
		return r, false
	}
	return r, true
}
