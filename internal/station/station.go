// Package station holds the controller's outputs: the ordered station list,
// the master valve assignment, the master relay and the activation state
// that is pushed to hardware.
package station

import (
	"errors"
	"fmt"
	"sync"

	logx "sprinklerd/pkg/logx"
)

var ErrNoStation = errors.New("station: index out of range")

// Station is the configuration of one output. Whether it is the master is a
// property of the Set, not of the station.
type Station struct {
	Index          int     `json:"index"`
	Name           string  `json:"name"`
	Enabled        bool    `json:"enabled"`
	IgnoreRain     bool    `json:"ignore_rain"`
	ActivateMaster bool    `json:"activate_master"`
	Usage          float64 `json:"usage"`
}

// Default returns the configuration a fresh output starts with.
func Default(index int) Station {
	return Station{
		Index:   index,
		Name:    fmt.Sprintf("Station %02d", index+1),
		Enabled: true,
		Usage:   1.0,
	}
}

// Outputs is the hardware boundary. SetStations receives the full state
// vector, index i being station i.
type Outputs interface {
	SetStations(states []bool) error
	SetRelay(on bool) error
}

type Option func(*Set)

func WithOutputs(o Outputs) Option    { return func(s *Set) { s.out = o } }
func WithLogger(l logx.Logger) Option { return func(s *Set) { s.log = l } }

// Set is the ordered station collection. All methods are safe for
// concurrent use; outputs are written only when the state vector changes.
type Set struct {
	mu       sync.Mutex
	stations []Station
	state    []bool
	written  []bool
	master   int
	relay    bool
	out      Outputs
	log      logx.Logger
}

func NewSet(count int, opts ...Option) *Set {
	s := &Set{master: -1, log: logx.Nop()}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	if s.out == nil {
		s.out = NewLogOutputs(s.log)
	}
	s.resizeLocked(count)
	return s
}

func (s *Set) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stations)
}

// Get returns station i. ok is false when i is out of range.
func (s *Set) Get(i int) (Station, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.stations) {
		return Station{}, false
	}
	return s.stations[i], true
}

func (s *Set) All() []Station {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Station(nil), s.stations...)
}

// EnabledStations returns the enabled stations other than the master.
func (s *Set) EnabledStations() []Station {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Station, 0, len(s.stations))
	for _, st := range s.stations {
		if st.Enabled && st.Index != s.master {
			out = append(out, st)
		}
	}
	return out
}

// Configure replaces the settings of station st.Index.
func (s *Set) Configure(st Station) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.Index < 0 || st.Index >= len(s.stations) {
		return fmt.Errorf("%w: %d", ErrNoStation, st.Index)
	}
	if st.Usage < 0 {
		st.Usage = 0
	}
	s.stations[st.Index] = st
	return nil
}

// Master returns the master station index.
func (s *Set) Master() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.master, s.master >= 0
}

// SetMaster assigns the master station; a negative index clears it.
func (s *Set) SetMaster(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i >= len(s.stations) {
		return fmt.Errorf("%w: master %d", ErrNoStation, i)
	}
	if i < 0 {
		i = -1
	}
	s.master = i
	return nil
}

func (s *Set) IsMaster(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return i >= 0 && i == s.master
}

// Activate switches the given stations on. Out of range indexes are ignored.
func (s *Set) Activate(idx ...int) error { return s.set(true, idx) }

// Deactivate switches the given stations off.
func (s *Set) Deactivate(idx ...int) error { return s.set(false, idx) }

func (s *Set) set(on bool, idx []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, i := range idx {
		if i < 0 || i >= len(s.state) {
			continue
		}
		s.state[i] = on
	}
	return s.flushLocked()
}

// Active reports the activation state of station i.
func (s *Set) Active(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return i >= 0 && i < len(s.state) && s.state[i]
}

// States returns a copy of the full state vector.
func (s *Set) States() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.state...)
}

// Clear switches every station off.
func (s *Set) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.state {
		s.state[i] = false
	}
	s.log.Debug("cleared all outputs")
	return s.flushLocked()
}

// Resize grows or shrinks the station list. Removed outputs are switched off
// before they become unreachable, and a master beyond the new count is
// dropped.
func (s *Set) Resize(count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if count < len(s.stations) {
		for i := count; i < len(s.state); i++ {
			s.state[i] = false
		}
		err = s.flushLocked()
	}
	s.resizeLocked(count)
	if ferr := s.flushLocked(); ferr != nil && err == nil {
		err = ferr
	}
	return err
}

func (s *Set) resizeLocked(count int) {
	if count < 0 {
		count = 0
	}
	for len(s.stations) < count {
		s.stations = append(s.stations, Default(len(s.stations)))
		s.state = append(s.state, false)
	}
	if count < len(s.stations) {
		s.stations = s.stations[:count]
		s.state = s.state[:count]
		if s.master >= count {
			s.master = -1
		}
	}
	s.log.Debug("resized outputs", logx.Int("count", count))
}

// SetRelay drives the master relay. Nothing is written when the relay is
// already in the requested state; a failed write leaves the state unchanged
// so the next call retries it.
func (s *Set) SetRelay(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.relay == on {
		return nil
	}
	if err := s.out.SetRelay(on); err != nil {
		return fmt.Errorf("write relay: %w", err)
	}
	s.relay = on
	return nil
}

func (s *Set) Relay() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.relay
}

func (s *Set) flushLocked() error {
	if s.written != nil && equalStates(s.written, s.state) {
		return nil
	}
	next := append([]bool(nil), s.state...)
	if err := s.out.SetStations(next); err != nil {
		return fmt.Errorf("write outputs: %w", err)
	}
	s.written = next
	return nil
}

func equalStates(a, b []bool) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
