// Package options holds the system-wide controller settings together with
// the runtime inputs that modify them: weather level adjustments, named
// rain blocks and the rain sensor.
//
// The scheduler reads one immutable Snapshot per tick and detects changes
// by comparing it with the previous one.
package options

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"sprinklerd/internal/eventbus"
)

var ErrInvalid = errors.New("options: invalid value")

const (
	maxStationDelay = time.Hour
	maxMasterDelay  = 30 * time.Minute
	maxAdjustment   = 5.0
)

// Values are the settable options.
type Values struct {
	SchedulerEnabled  bool          `json:"scheduler_enabled"`
	ManualMode        bool          `json:"manual_mode"`
	MaxUsage          float64       `json:"max_usage"` // 0 means unlimited
	StationDelay      time.Duration `json:"station_delay"`
	MasterOnDelay     time.Duration `json:"master_on_delay"`
	MasterOffDelay    time.Duration `json:"master_off_delay"`
	MasterRelay       bool          `json:"master_relay"`
	RainSensorEnabled bool          `json:"rain_sensor_enabled"`
	RainSensorNO      bool          `json:"rain_sensor_no"`
	RainBlock         time.Time     `json:"rain_block"`
	LevelAdjustment   float64       `json:"level_adjustment"`
	RunLog            bool          `json:"run_log"`
	RunEntries        int           `json:"run_entries"`
}

// Defaults returns the options of a freshly installed controller.
func Defaults() Values {
	return Values{
		SchedulerEnabled: true,
		MaxUsage:         1.0,
		RainSensorNO:     true,
		LevelAdjustment:  1.0,
		RunEntries:       100,
	}
}

// Validate checks ranges.
func (v Values) Validate() error {
	var errs []error
	if v.MaxUsage < 0 || math.IsNaN(v.MaxUsage) {
		errs = append(errs, fmt.Errorf("%w: max_usage %v < 0", ErrInvalid, v.MaxUsage))
	}
	if v.StationDelay < 0 || v.StationDelay > maxStationDelay {
		errs = append(errs, fmt.Errorf("%w: station_delay %s outside 0..%s", ErrInvalid, v.StationDelay, maxStationDelay))
	}
	for name, d := range map[string]time.Duration{"master_on_delay": v.MasterOnDelay, "master_off_delay": v.MasterOffDelay} {
		if d < -maxMasterDelay || d > maxMasterDelay {
			errs = append(errs, fmt.Errorf("%w: %s %s outside ±%s", ErrInvalid, name, d, maxMasterDelay))
		}
	}
	if v.LevelAdjustment < 0 || math.IsNaN(v.LevelAdjustment) {
		errs = append(errs, fmt.Errorf("%w: level_adjustment %v < 0", ErrInvalid, v.LevelAdjustment))
	}
	if v.RunEntries < 0 {
		errs = append(errs, fmt.Errorf("%w: run_entries %d < 0", ErrInvalid, v.RunEntries))
	}
	return errors.Join(errs...)
}

// Snapshot is Values plus everything derived from the runtime inputs at
// the moment it was taken.
type Snapshot struct {
	Values

	// Adjustment is the product of LevelAdjustment and every named level
	// adjustment, clamped to 0..5.
	Adjustment float64
	// RainBlockEnd is the latest of RainBlock and every named rain block.
	RainBlockEnd time.Time
	// RainSensed is the interpreted rain sensor state.
	RainSensed bool
	// ModeChanges counts manual mode toggles and Disables counts scheduler
	// enabled to disabled switches since the store was created. They let a
	// reader notice switches that were undone before it looked again.
	ModeChanges uint64
	Disables    uint64
}

// RainInput reads the raw rain sensor contact.
type RainInput interface {
	RainInput() bool
}

// RainFunc adapts a function to RainInput.
type RainFunc func() bool

func (f RainFunc) RainInput() bool { return f() }

// Change is the payload of eventbus.OptionsChanged.
type Change struct {
	Keys []string
	Old  Values
	New  Values
}

type Option func(*Store)

func WithRainInput(r RainInput) Option { return func(s *Store) { s.rain = r } }
func WithBus(b eventbus.Bus) Option    { return func(s *Store) { s.bus = b } }

// Store is the options holder. It is safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	vals        Values
	adjustments map[string]float64
	rainBlocks  map[string]time.Time
	rain        RainInput
	bus         eventbus.Bus
	modeChanges uint64
	disables    uint64
}

func NewStore(v Values, opts ...Option) *Store {
	s := &Store{
		vals:        v,
		adjustments: map[string]float64{},
		rainBlocks:  map[string]time.Time{},
		rain:        RainFunc(func() bool { return false }),
		bus:         eventbus.Nop(),
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	return s
}

func (s *Store) Values() Values {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vals
}

// Snapshot returns the current options with derived fields filled in.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{Values: s.vals, ModeChanges: s.modeChanges, Disables: s.disables}

	adj := s.vals.LevelAdjustment
	for _, name := range sortedKeys(s.adjustments) {
		adj *= s.adjustments[name]
	}
	snap.Adjustment = math.Max(0, math.Min(maxAdjustment, adj))

	snap.RainBlockEnd = s.vals.RainBlock
	for _, until := range s.rainBlocks {
		if until.After(snap.RainBlockEnd) {
			snap.RainBlockEnd = until
		}
	}
	snap.RainSensed = s.vals.RainSensorEnabled && s.vals.RainSensorNO == s.rain.RainInput()
	return snap
}

// Update applies fn to a copy of the values, validates the result and
// stores it. Listeners are told which keys changed.
func (s *Store) Update(fn func(*Values)) (Values, error) {
	s.mu.Lock()
	old := s.vals
	next := old
	fn(&next)
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return old, err
	}
	s.vals = next
	if old.ManualMode != next.ManualMode {
		s.modeChanges++
	}
	if old.SchedulerEnabled && !next.SchedulerEnabled {
		s.disables++
	}
	s.mu.Unlock()

	if keys := Diff(old, next); len(keys) > 0 {
		s.bus.Publish(eventbus.Event{Type: eventbus.OptionsChanged, Data: Change{Keys: keys, Old: old, New: next}})
	}
	return next, nil
}

// Replace stores v as a whole.
func (s *Store) Replace(v Values) error {
	_, err := s.Update(func(cur *Values) { *cur = v })
	return err
}

// SetAdjustment registers a named level adjustment factor. A negative
// factor removes it.
func (s *Store) SetAdjustment(name string, factor float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if factor < 0 {
		delete(s.adjustments, name)
		return
	}
	s.adjustments[name] = factor
}

// SetRainBlock registers a named rain block lasting until the given time.
// A zero time removes it.
func (s *Store) SetRainBlock(name string, until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if until.IsZero() {
		delete(s.rainBlocks, name)
		return
	}
	s.rainBlocks[name] = until
}

// Diff lists the JSON names of the fields that differ between a and b.
func Diff(a, b Values) []string {
	var keys []string
	add := func(changed bool, key string) {
		if changed {
			keys = append(keys, key)
		}
	}
	add(a.SchedulerEnabled != b.SchedulerEnabled, "scheduler_enabled")
	add(a.ManualMode != b.ManualMode, "manual_mode")
	add(a.MaxUsage != b.MaxUsage, "max_usage")
	add(a.StationDelay != b.StationDelay, "station_delay")
	add(a.MasterOnDelay != b.MasterOnDelay, "master_on_delay")
	add(a.MasterOffDelay != b.MasterOffDelay, "master_off_delay")
	add(a.MasterRelay != b.MasterRelay, "master_relay")
	add(a.RainSensorEnabled != b.RainSensorEnabled, "rain_sensor_enabled")
	add(a.RainSensorNO != b.RainSensorNO, "rain_sensor_no")
	add(!a.RainBlock.Equal(b.RainBlock), "rain_block")
	add(a.LevelAdjustment != b.LevelAdjustment, "level_adjustment")
	add(a.RunLog != b.RunLog, "run_log")
	add(a.RunEntries != b.RunEntries, "run_entries")
	return keys
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
