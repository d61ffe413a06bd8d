package program

import (
	"reflect"
	"testing"
	"time"
)

func TestRunOnce(t *testing.T) {
	t.Parallel()
	now := at("2024-01-03 10:00")
	r := NewRunOnce(func() time.Time { return now })
	r.Set(map[int]time.Duration{0: 10 * time.Minute, 1: 0})

	got := r.ActiveIntervals(now.Add(-time.Hour), now.Add(time.Hour), 0)
	want := []Interval{{now, now.Add(10 * time.Minute)}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ActiveIntervals(0) = %v, want %v", got, want)
	}
	if got := r.ActiveIntervals(now.Add(-time.Hour), now.Add(time.Hour), 1); got != nil {
		t.Fatalf("zero duration station got %v", got)
	}
	if got := r.ActiveIntervals(now.Add(10*time.Minute), now.Add(time.Hour), 0); got != nil {
		t.Fatalf("window after the run got %v", got)
	}
	if !r.IsActive(now.Add(5*time.Minute), 0) || r.IsActive(now.Add(10*time.Minute), 0) || r.IsActive(now.Add(-time.Second), 0) {
		t.Fatalf("IsActive boundaries wrong")
	}

	r.Clear()
	if got := r.ActiveIntervals(now.Add(-time.Hour), now.Add(time.Hour), 0); got != nil {
		t.Fatalf("after Clear() got %v", got)
	}
}
