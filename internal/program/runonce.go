package program

import (
	"sync"
	"time"
)

// RunOnce holds ad-hoc per-station durations anchored at the moment they
// were set. It is never persisted.
type RunOnce struct {
	mu      sync.RWMutex
	start   time.Time
	seconds map[int]time.Duration
	now     func() time.Time
}

func NewRunOnce(now func() time.Time) *RunOnce {
	if now == nil {
		now = time.Now
	}
	return &RunOnce{now: now, start: now(), seconds: map[int]time.Duration{}}
}

// Set replaces all durations, anchored at now.
func (r *RunOnce) Set(durations map[int]time.Duration) {
	cp := make(map[int]time.Duration, len(durations))
	for st, d := range durations {
		cp[st] = d
	}
	r.mu.Lock()
	r.start = r.now()
	r.seconds = cp
	r.mu.Unlock()
}

// Clear zeroes every duration.
func (r *RunOnce) Clear() {
	r.mu.Lock()
	for st := range r.seconds {
		r.seconds[st] = 0
	}
	r.mu.Unlock()
}

func (r *RunOnce) IsActive(t time.Time, station int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	elapsed := t.Sub(r.start)
	return elapsed >= 0 && r.seconds[station] > elapsed
}

// ActiveIntervals returns the station's single run when it overlaps
// [windowStart, windowEnd).
func (r *RunOnce) ActiveIntervals(windowStart, windowEnd time.Time, station int) []Interval {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d := r.seconds[station]
	if d <= 0 {
		return nil
	}
	iv := Interval{Start: r.start, End: r.start.Add(d)}
	if iv.End.After(windowStart) && iv.Start.Before(windowEnd) {
		return []Interval{iv}
	}
	return nil
}
