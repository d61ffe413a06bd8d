package scheduler

import (
	"sort"
	"time"

	"sprinklerd/internal/runlog"
)

// timeline maps instants to usage changes: +usage where an interval starts
// and -usage where it ends.
type timeline struct {
	delta map[int64]float64
}

func newTimeline() *timeline { return &timeline{delta: map[int64]float64{}} }

func (tl *timeline) register(start, end time.Time, usage float64) {
	tl.delta[start.UnixNano()] += usage
	tl.delta[end.UnixNano()] -= usage
}

func (tl *timeline) keys() []int64 {
	keys := make([]int64, 0, len(tl.delta))
	for k := range tl.delta {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// admit registers iv at the first position where its usage fits under
// maxUsage. When it does not fit the interval is moved to the next instant
// where usage drops, plus delay, and tried again. It returns false when no
// such instant is left.
func (tl *timeline) admit(iv *runlog.Record, maxUsage float64, delay time.Duration) bool {
	keys := tl.keys()
	startUsage := 0.0
	startIdx := -1
	start := iv.Start.UnixNano()
	for i, k := range keys {
		if k > start {
			break
		}
		startIdx = i
		startUsage += tl.delta[k]
	}

	for {
		end := iv.End.UnixNano()
		peak, current := 0.0, 0.0
		for i := startIdx + 1; i < len(keys); i++ {
			if keys[i] >= end {
				break
			}
			current += tl.delta[keys[i]]
			if current > peak {
				peak = current
			}
		}
		if startUsage+peak+iv.Usage <= maxUsage+usageEpsilon {
			tl.register(iv.Start, iv.End, iv.Usage)
			return true
		}

		// Shift to the next point where usage decreases.
		for {
			startIdx++
			if startIdx >= len(keys) {
				return false
			}
			next := keys[startIdx]
			change := tl.delta[next]
			startUsage += change
			if change < 0 {
				shift := time.Unix(0, next).Add(delay).Sub(iv.Start)
				iv.Start = iv.Start.Add(shift)
				iv.End = iv.End.Add(shift)
				break
			}
		}
	}
}
