package program

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	logx "sprinklerd/pkg/logx"
)

// Store persists programs in numbered slots matching their list position.
type Store interface {
	PutProgram(ctx context.Context, index int, data []byte) error
	DeleteProgram(ctx context.Context, index int) error
}

// Set is the ordered program collection. A program's identity is its index.
//
// Mutations only mark slots dirty; nothing is written until Commit.
type Set struct {
	mu       sync.RWMutex
	programs []*Program
	runNow   *Program

	dirty map[int]struct{}
	stale map[int]struct{} // slots to erase

	forecast Forecast
	now      func() time.Time
	log      logx.Logger
}

type SetOption func(*Set)

func WithForecast(f Forecast) SetOption        { return func(s *Set) { s.forecast = f } }
func WithClock(now func() time.Time) SetOption { return func(s *Set) { s.now = now } }
func WithLogger(l logx.Logger) SetOption       { return func(s *Set) { s.log = l } }

func NewSet(opts ...SetOption) *Set {
	s := &Set{
		dirty: map[int]struct{}{},
		stale: map[int]struct{}{},
		now:   time.Now,
		log:   logx.Nop(),
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	return s
}

// BuildContext returns the context programs of this set are built with.
func (s *Set) BuildContext(ctx context.Context) BuildContext {
	return BuildContext{Ctx: ctx, Now: s.now(), Forecast: s.forecast}
}

// Load replaces the collection from persisted records. Records that fail to
// rebuild are skipped and reported; the remaining programs keep their order.
func (s *Set) Load(ctx context.Context, records []Record) error {
	bc := s.BuildContext(ctx)
	var errs []error
	progs := make([]*Program, 0, len(records))
	for i, r := range records {
		p, err := FromRecord(r, bc)
		if err != nil {
			errs = append(errs, fmt.Errorf("program %d (%s): %w", i, r.Name, err))
			continue
		}
		progs = append(progs, p)
	}

	s.mu.Lock()
	old := len(s.programs)
	s.programs = progs
	s.dirty = map[int]struct{}{}
	s.stale = map[int]struct{}{}
	// A skipped record shifts the slots after it.
	if len(progs) != len(records) {
		for i := range progs {
			s.dirty[i] = struct{}{}
		}
		for i := len(progs); i < len(records); i++ {
			s.stale[i] = struct{}{}
		}
	}
	for i := len(progs); i < old; i++ {
		s.stale[i] = struct{}{}
	}
	s.mu.Unlock()
	return errors.Join(errs...)
}

// Get returns copies of all programs in order.
func (s *Set) Get() []*Program {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Program, len(s.programs))
	for i, p := range s.programs {
		out[i] = p.Clone()
	}
	return out
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.programs)
}

// At returns a copy of the program at index.
func (s *Set) At(index int) (*Program, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.programs) {
		return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	return s.programs[index].Clone(), nil
}

// Add appends p and returns its index.
func (s *Set) Add(p *Program) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.programs = append(s.programs, p.Clone())
	idx := len(s.programs) - 1
	s.markLocked(idx)
	return idx
}

// Replace swaps the program at index.
func (s *Set) Replace(index int, p *Program) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.programs) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	s.programs[index] = p.Clone()
	s.markLocked(index)
	return nil
}

// Remove deletes the program at index. Later programs move down one slot.
func (s *Set) Remove(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.programs) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	s.programs = append(s.programs[:index], s.programs[index+1:]...)
	for i := index; i < len(s.programs); i++ {
		s.markLocked(i)
	}
	tail := len(s.programs)
	delete(s.dirty, tail)
	s.stale[tail] = struct{}{}
	return nil
}

func (s *Set) markLocked(i int) {
	s.dirty[i] = struct{}{}
	delete(s.stale, i)
}

// PruneStations drops references to station indexes >= count.
func (s *Set) PruneStations(count int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := 0
	for i, p := range s.programs {
		kept := p.Stations[:0]
		for _, st := range p.Stations {
			if st >= 0 && st < count {
				kept = append(kept, st)
			}
		}
		if len(kept) != len(p.Stations) {
			p.Stations = kept
			s.markLocked(i)
			changed++
		}
	}
	if s.runNow != nil {
		kept := s.runNow.Stations[:0]
		for _, st := range s.runNow.Stations {
			if st >= 0 && st < count {
				kept = append(kept, st)
			}
		}
		s.runNow.Stations = kept
	}
	return changed
}

// RunNow starts a one-shot copy of the program at index so that its first
// day's runs begin immediately. It replaces any earlier run-now program.
func (s *Set) RunNow(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.programs) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	src := s.programs[index]
	if len(src.schedule) == 0 {
		return fmt.Errorf("%w: %q has an empty schedule", ErrRunNowUnsupported, src.Name)
	}
	pattern, ok := firstDay(src.params)
	if !ok || len(pattern) == 0 {
		return fmt.Errorf("%w: %s", ErrRunNowUnsupported, src.Kind())
	}

	cp := src.Clone()
	cp.Fixed = true
	cp.manual = true
	cp.perStation = nil
	cp.schedule = pattern
	cp.start = s.now().Add(-time.Duration(pattern[0].Start) * time.Minute)
	s.runNow = cp

	s.log.Info("program started now", logx.Int("program", index), logx.String("name", src.Name))
	return nil
}

// RunNowProgram returns the current run-now copy, or nil.
func (s *Set) RunNowProgram() *Program {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.runNow == nil {
		return nil
	}
	return s.runNow.Clone()
}

func (s *Set) ClearRunNow() {
	s.mu.Lock()
	s.runNow = nil
	s.mu.Unlock()
}

// RefreshWeather rebuilds every weather-driven program against the current
// forecast. Programs that fail keep their previous schedule.
func (s *Set) RefreshWeather(ctx context.Context) error {
	bc := s.BuildContext(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	n := 0
	for i, p := range s.programs {
		if p.Kind() != KindWeeklyWeather {
			continue
		}
		if err := p.Rebuild(bc); err != nil {
			errs = append(errs, fmt.Errorf("program %d (%s): %w", i, p.Name, err))
			continue
		}
		n++
	}
	if n > 0 {
		s.log.Debug("weather programs rebuilt", logx.Int("count", n))
	}
	return errors.Join(errs...)
}

// Dirty reports whether Commit has anything to write.
func (s *Set) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.dirty) > 0 || len(s.stale) > 0
}

// Commit writes dirty slots and erases stale ones. Slots that fail stay
// pending for the next Commit.
func (s *Set) Commit(ctx context.Context, st Store) error {
	if st == nil {
		return nil
	}

	type write struct {
		idx  int
		data []byte
	}
	s.mu.Lock()
	writes := make([]write, 0, len(s.dirty))
	var encErrs []error
	for idx := range s.dirty {
		if idx >= len(s.programs) {
			delete(s.dirty, idx)
			continue
		}
		rec, err := ToRecord(s.programs[idx])
		if err == nil {
			var data []byte
			data, err = json.Marshal(rec)
			if err == nil {
				writes = append(writes, write{idx: idx, data: data})
				continue
			}
		}
		encErrs = append(encErrs, fmt.Errorf("program %d: %w", idx, err))
	}
	erase := make([]int, 0, len(s.stale))
	for idx := range s.stale {
		erase = append(erase, idx)
	}
	s.dirty = map[int]struct{}{}
	s.stale = map[int]struct{}{}
	s.mu.Unlock()

	sort.Slice(writes, func(i, j int) bool { return writes[i].idx < writes[j].idx })
	sort.Ints(erase)

	errs := encErrs
	for _, w := range writes {
		if err := st.PutProgram(ctx, w.idx, w.data); err != nil {
			errs = append(errs, fmt.Errorf("save program %d: %w", w.idx, err))
			s.mu.Lock()
			s.markLocked(w.idx)
			s.mu.Unlock()
		}
	}
	for _, idx := range erase {
		if err := st.DeleteProgram(ctx, idx); err != nil {
			errs = append(errs, fmt.Errorf("erase program %d: %w", idx, err))
			s.mu.Lock()
			if _, again := s.dirty[idx]; !again {
				s.stale[idx] = struct{}{}
			}
			s.mu.Unlock()
		}
	}
	if len(writes) > 0 || len(erase) > 0 {
		s.log.Debug("programs committed", logx.Int("saved", len(writes)), logx.Int("erased", len(erase)))
	}
	return errors.Join(errs...)
}
