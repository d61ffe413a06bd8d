package program

import (
	"math/rand"
	"reflect"
	"testing"
)

func TestUpdateSchedule(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		existing   Schedule
		modulo     int
		start, end int
		want       Schedule
	}{
		{
			name:   "empty",
			modulo: 1440, start: 360, end: 390,
			want: Schedule{{360, 390}},
		},
		{
			name:   "wraps past midnight",
			modulo: 1440, start: 1430, end: 10,
			want: Schedule{{0, 10}, {1430, 1440}},
		},
		{
			name:   "negative start normalizes",
			modulo: 1440, start: -10, end: 20,
			want: Schedule{{0, 20}, {1430, 1440}},
		},
		{
			name:     "existing clips start",
			existing: Schedule{{100, 200}},
			modulo:   1440, start: 150, end: 250,
			want: Schedule{{100, 200}, {200, 250}},
		},
		{
			name:     "existing clips end",
			existing: Schedule{{100, 200}},
			modulo:   1440, start: 50, end: 150,
			want: Schedule{{50, 100}, {100, 200}},
		},
		{
			name:     "candidate contains existing",
			existing: Schedule{{100, 200}},
			modulo:   1440, start: 50, end: 300,
			want: Schedule{{50, 100}, {100, 200}, {200, 300}},
		},
		{
			name:     "candidate fully covered",
			existing: Schedule{{100, 200}},
			modulo:   1440, start: 120, end: 180,
			want: Schedule{{100, 200}},
		},
		{
			name:     "gap between two entries",
			existing: Schedule{{100, 200}, {300, 400}},
			modulo:   1440, start: 150, end: 350,
			want: Schedule{{100, 200}, {200, 300}, {300, 400}},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := UpdateSchedule(tc.existing, tc.modulo, tc.start, tc.end)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("UpdateSchedule() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestUpdateScheduleDoesNotMutateInput(t *testing.T) {
	t.Parallel()
	in := Schedule{{100, 200}}
	_ = UpdateSchedule(in, 1440, 300, 400)
	if len(in) != 1 {
		t.Fatalf("input mutated: %v", in)
	}
}

func TestUpdateScheduleIdempotent(t *testing.T) {
	t.Parallel()
	once := UpdateSchedule(nil, 1440, 1430, 10)
	twice := UpdateSchedule(once, 1440, 1430, 10)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("second insert changed schedule: %v -> %v", once, twice)
	}
}

func TestUpdateScheduleRandomInvariants(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 200; round++ {
		modulo := []int{60, 1440, 7 * 1440}[rng.Intn(3)]
		var s Schedule
		var inserted [][2]int
		for i := 0; i < 1+rng.Intn(12); i++ {
			start := rng.Intn(2*modulo) - modulo/2
			end := start + 1 + rng.Intn(modulo)
			s = UpdateSchedule(s, modulo, start, end)
			inserted = append(inserted, [2]int{start, end})
		}

		for i, e := range s {
			if e.Start < 0 || e.End > modulo || e.Start >= e.End {
				t.Fatalf("round %d: entry %v outside [0,%d) or empty: %v", round, e, modulo, s)
			}
			if i > 0 && s[i-1].End > e.Start {
				t.Fatalf("round %d: entries overlap or unsorted: %v", round, s)
			}
		}

		again := s
		for _, iv := range inserted {
			again = UpdateSchedule(again, modulo, iv[0], iv[1])
		}
		if !reflect.DeepEqual(s, again) {
			t.Fatalf("round %d: re-inserting changed schedule:\n%v\n%v", round, s, again)
		}
	}
}

func TestScheduleContains(t *testing.T) {
	t.Parallel()
	s := Schedule{{0, 10}, {360, 390}, {1430, 1440}}
	for _, tc := range []struct {
		minute int
		want   bool
	}{
		{0, true}, {9, true}, {10, false}, {359, false}, {360, true}, {389, true}, {390, false}, {1435, true},
	} {
		if got := s.Contains(tc.minute, 1440); got != tc.want {
			t.Fatalf("Contains(%d) = %v, want %v", tc.minute, got, tc.want)
		}
	}
}
