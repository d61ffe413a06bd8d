// Package housekeeping runs the periodic jobs around the scheduler:
// flushing programs and the run log to storage, pruning the run log and
// rebuilding weather-driven programs.
package housekeeping

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"sprinklerd/internal/telemetry"
	logx "sprinklerd/pkg/logx"
)

var ErrUnknownJob = errors.New("housekeeping: unknown job")

const defaultJobTimeout = 30 * time.Second

// JobFunc is one unit of periodic work.
type JobFunc func(ctx context.Context) error

type job struct {
	name  string
	spec  string
	sched cron.Schedule
	fn    JobFunc
	id    cron.EntryID
}

type Service struct {
	mu   sync.Mutex
	c    *cron.Cron
	loc  *time.Location
	log  logx.Logger
	jobs map[string]*job

	// runMu serializes job bodies so a manual Run never overlaps a
	// scheduled one.
	runMu sync.Mutex
}

func New(loc *time.Location, log logx.Logger) *Service {
	if loc == nil {
		loc = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{loc: loc, log: log, jobs: map[string]*job{}}
}

// AddJob registers or replaces a named job. Jobs added while running are
// scheduled immediately.
func (s *Service) AddJob(name, spec string, fn JobFunc) error {
	if fn == nil {
		return fmt.Errorf("job %s: nil func", name)
	}
	sched, err := ParseSpec(spec)
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old := s.jobs[name]; old != nil && s.c != nil {
		s.c.Remove(old.id)
	}
	j := &job{name: name, spec: spec, sched: sched, fn: fn}
	s.jobs[name] = j
	if s.c != nil {
		j.id = s.c.Schedule(j.sched, s.wrap(j))
	}
	return nil
}

// Jobs returns the registered job names, sorted.
func (s *Service) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	for _, j := range s.jobs {
		j.id = s.c.Schedule(j.sched, s.wrap(j))
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.jobs)))
}

// Stop stops triggering and waits for running jobs until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("service stopped")
}

// Run executes a job now, outside its schedule.
func (s *Service) Run(ctx context.Context, name string) error {
	s.mu.Lock()
	j := s.jobs[name]
	s.mu.Unlock()
	if j == nil {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.exec(ctx, j)
}

func (s *Service) wrap(j *job) cron.Job {
	return cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultJobTimeout)
		defer cancel()
		_ = s.exec(ctx, j)
	})
}

func (s *Service) exec(ctx context.Context, j *job) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	start := time.Now()
	err := j.fn(ctx)
	result := "ok"
	if err != nil {
		result = "error"
		s.log.Warn("job failed", logx.String("job", j.name), logx.Duration("took", time.Since(start)), logx.Err(err))
	} else {
		s.log.Trace("job done", logx.String("job", j.name), logx.Duration("took", time.Since(start)))
	}
	telemetry.JobRunsTotal.WithLabelValues(j.name, result).Inc()
	return err
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
