// Package runlog keeps the record of station runs: what ran, what is
// running, and what the scheduler already decided about.
package runlog

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	logx "sprinklerd/pkg/logx"
)

// Record is one interval of a station run. Program is -1 for run-once and
// run-now entries. Blocked holds the reason an interval was not executed,
// or "" when it ran.
type Record struct {
	UID           string    `json:"uid"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	OriginalStart time.Time `json:"original_start"`
	Station       int       `json:"station"`
	Program       int       `json:"program"`
	ProgramName   string    `json:"program_name"`
	Manual        bool      `json:"manual"`
	Fixed         bool      `json:"fixed"`
	CutOff        float64   `json:"cut_off"`
	Blocked       string    `json:"blocked,omitempty"`
	Usage         float64   `json:"usage"`
	Adjustment    float64   `json:"adjustment"`
	Active        bool      `json:"active"`
}

func (r Record) IsBlocked() bool { return r.Blocked != "" }

// Contains reports whether t lies in [Start, End).
func (r Record) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Policy is the retention configuration, read on every prune.
type Policy struct {
	Enabled        bool // keep history beyond what scheduling needs
	Entries        int  // history length to keep; 0 keeps everything
	StationDelay   time.Duration
	MasterOffDelay time.Duration
}

// relevance is how far back finished runs still influence scheduling.
func (p Policy) relevance() time.Duration {
	d := time.Minute
	if p.StationDelay > d {
		d = p.StationDelay
	}
	if p.MasterOffDelay > d {
		d = p.MasterOffDelay
	}
	return d
}

type Option func(*Log)

func WithClock(now func() time.Time) Option { return func(l *Log) { l.now = now } }
func WithLogger(lg logx.Logger) Option      { return func(l *Log) { l.log = lg } }

// WithPolicy sets the function consulted for retention settings.
func WithPolicy(fn func() Policy) Option { return func(l *Log) { l.policy = fn } }

// Log is the run log. All methods are safe for concurrent use.
type Log struct {
	mu     sync.Mutex
	runs   []Record
	dirty  bool
	now    func() time.Time
	policy func() Policy
	log    logx.Logger
}

func New(opts ...Option) *Log {
	l := &Log{
		now:    time.Now,
		policy: func() Policy { return Policy{} },
		log:    logx.Nop(),
	}
	for _, o := range opts {
		if o != nil {
			o(l)
		}
	}
	return l
}

// StartRun appends a copy of rec that starts now and is active.
func (l *Log) StartRun(rec Record) Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec.Start = l.now()
	rec.Active = true
	l.runs = append(l.runs, rec)
	l.dirty = true
	l.log.Debug("run started",
		logx.String("uid", rec.UID),
		logx.Int("program", rec.Program),
		logx.Int("station", rec.Station),
		logx.Time("end", rec.End),
		logx.String("blocked", rec.Blocked),
	)
	l.pruneLocked(false)
	return rec
}

// FinishRun ends the first active record with uid. It reports whether a
// record matched.
func (l *Log) FinishRun(uid string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	found := false
	for i := range l.runs {
		if l.runs[i].Active && l.runs[i].UID == uid {
			l.finishLocked(i)
			found = true
			break
		}
	}
	l.pruneLocked(false)
	return found
}

// FinishAll ends every active record and returns how many were ended.
func (l *Log) FinishAll() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for i := range l.runs {
		if l.runs[i].Active {
			l.finishLocked(i)
			n++
		}
	}
	l.pruneLocked(false)
	return n
}

func (l *Log) finishLocked(i int) {
	r := &l.runs[i]
	r.End = l.now()
	r.Active = false
	l.dirty = true
	l.log.Debug("run finished",
		logx.String("uid", r.UID),
		logx.Int("program", r.Program),
		logx.Int("station", r.Station),
		logx.Time("start", r.Start),
	)
}

// ActiveRuns returns copies of all active records, oldest first.
func (l *Log) ActiveRuns() []Record {
	_, active := l.Snapshot()
	return active
}

// FinishedRuns returns copies of all finished records, oldest first.
func (l *Log) FinishedRuns() []Record {
	finished, _ := l.Snapshot()
	return finished
}

// Snapshot returns finished and active records taken under one lock.
func (l *Log) Snapshot() (finished, active []Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.runs {
		if r.Active {
			active = append(active, r)
		} else {
			finished = append(finished, r)
		}
	}
	return finished, active
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.runs)
}

// ClearRuns prunes history. With all set (or history disabled) nothing is
// kept for its own sake, but runs recent enough to matter for scheduling
// always survive.
func (l *Log) ClearRuns(all bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pruneLocked(all)
}

func (l *Log) pruneLocked(all bool) int {
	p := l.policy()
	minimum := 0
	if !all && p.Enabled {
		if p.Entries <= 0 {
			return 0
		}
		minimum = p.Entries
	}

	firstStart := l.now()
	for _, r := range l.runs {
		if r.Active && r.Start.Before(firstStart) {
			firstStart = r.Start
		}
	}
	keep := p.relevance()

	removed := 0
	for i := len(l.runs) - minimum - 1; i >= 0; i-- {
		if firstStart.Sub(l.runs[i].End) > keep {
			l.runs = append(l.runs[:i], l.runs[i+1:]...)
			removed++
		}
	}
	if removed > 0 {
		l.dirty = true
	}
	return removed
}

// Rows returns the encoded records to persist. With history enabled that is
// the newest Entries records (all when Entries is 0). Without it the log is
// already pruned down to what scheduling still needs, and all of it is kept
// so active runs survive a restart.
func (l *Log) Rows() ([][]byte, error) {
	p := l.policy()
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rowsLocked(p)
}

// Checkout returns the rows to persist and clears the dirty flag in one
// step. ok is false when nothing changed since the last checkout. Callers
// that fail to store the rows call MarkDirty.
func (l *Log) Checkout() (rows [][]byte, ok bool, err error) {
	p := l.policy()
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.dirty {
		return nil, false, nil
	}
	rows, err = l.rowsLocked(p)
	if err != nil {
		return nil, false, err
	}
	l.dirty = false
	return rows, true, nil
}

func (l *Log) rowsLocked(p Policy) ([][]byte, error) {
	runs := l.runs
	if p.Enabled && p.Entries > 0 && len(runs) > p.Entries {
		runs = runs[len(runs)-p.Entries:]
	}
	out := make([][]byte, 0, len(runs))
	for _, r := range runs {
		b, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("encode run %s: %w", r.UID, err)
		}
		out = append(out, b)
	}
	return out, nil
}

// Load replaces the log with persisted rows and prunes it.
func (l *Log) Load(rows []json.RawMessage) error {
	runs := make([]Record, 0, len(rows))
	for i, row := range rows {
		var r Record
		if err := json.Unmarshal(row, &r); err != nil {
			return fmt.Errorf("decode run %d: %w", i, err)
		}
		runs = append(runs, r)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runs = runs
	l.dirty = false
	l.pruneLocked(false)
	return nil
}

// Dirty reports whether records changed since the last Checkout.
func (l *Log) Dirty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dirty
}

func (l *Log) MarkDirty() {
	l.mu.Lock()
	l.dirty = true
	l.mu.Unlock()
}
