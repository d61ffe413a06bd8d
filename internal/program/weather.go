package program

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"
)

// Forecast supplies daily reference evapotranspiration and rainfall, both
// in millimetres.
type Forecast interface {
	Day(ctx context.Context, date time.Time) (eto, rain float64, err error)
}

// StaticForecast returns the same values for every day.
type StaticForecast struct {
	EToMM  float64
	RainMM float64
}

func (f StaticForecast) Day(context.Context, time.Time) (float64, float64, error) {
	return f.EToMM, f.RainMM, nil
}

// PEM is a potential event minute: a moment of the week at which watering
// may start. Higher Priority is preferred.
type PEM struct {
	Minute   int `json:"minute"`
	Priority int `json:"priority"`
}

// WaterProfile describes one station's soil and emitter.
type WaterProfile struct {
	CapacityMM    float64 `json:"capacity_mm"`
	RateMMPerHour float64 `json:"rate_mm_per_hour"`
	MaxRunMin     int     `json:"max_run_min"`
	PauseMin      int     `json:"pause_min"`
	MinAmountMM   float64 `json:"min_amount_mm"`
}

// WeeklyWeather plans a separate weekly schedule per station from the
// forecast water balance. Stations without a profile get no runs.
type WeeklyWeather struct {
	PEMs     []PEM                `json:"pems"`
	Profiles map[int]WaterProfile `json:"profiles"`
}

func (WeeklyWeather) Kind() Kind { return KindWeeklyWeather }

func (p WeeklyWeather) build(bc BuildContext) (layout, error) {
	for _, pem := range p.PEMs {
		if pem.Minute < 0 || pem.Minute >= weekMinutes {
			return layout{}, fmt.Errorf("%w: pem minute %d outside the week", ErrInvalidParams, pem.Minute)
		}
	}
	for st, prof := range p.Profiles {
		if prof.CapacityMM <= 0 || prof.RateMMPerHour <= 0 {
			return layout{}, fmt.Errorf("%w: station %d needs capacity_mm and rate_mm_per_hour > 0", ErrInvalidParams, st)
		}
		if prof.MaxRunMin < 0 || prof.PauseMin < 0 || prof.MinAmountMM < 0 {
			return layout{}, fmt.Errorf("%w: station %d has a negative limit", ErrInvalidParams, st)
		}
	}

	start := weekStart(bc.Now)
	var loss [7]float64
	if bc.Forecast != nil {
		for d := 0; d < 7; d++ {
			eto, rain, err := bc.Forecast.Day(bc.Ctx, start.AddDate(0, 0, d))
			if err != nil {
				return layout{}, fmt.Errorf("%w: %v", ErrForecastUnavailable, err)
			}
			loss[d] = eto - rain
		}
	}

	pems := append([]PEM(nil), p.PEMs...)
	sort.SliceStable(pems, func(i, j int) bool { return pems[i].Minute < pems[j].Minute })

	per := make(map[int]Schedule, len(p.Profiles))
	for st, prof := range p.Profiles {
		per[st] = planStation(prof, pems, loss)
	}
	return layout{schedule: nil, modulo: weekMinutes, start: start, perStation: per}, nil
}

// planStation walks the candidate moments in order and waters only when
// the soil would otherwise run dry before the next candidate that is at
// least as good. Each watering refills up to capacity and is split into
// runs of at most MaxRunMin.
func planStation(prof WaterProfile, pems []PEM, loss [7]float64) Schedule {
	var s Schedule
	balance := prof.CapacityMM
	pos := 0
	for i, pem := range pems {
		balance -= drain(loss, pos, pem.Minute)
		pos = pem.Minute
		balance = math.Min(balance, prof.CapacityMM)

		next := weekMinutes
		for _, later := range pems[i+1:] {
			if later.Priority >= pem.Priority {
				next = later.Minute
				break
			}
		}
		remaining := balance - drain(loss, pem.Minute, next)
		if remaining > 0 {
			continue
		}

		amount := prof.CapacityMM - balance
		if amount < prof.MinAmountMM {
			amount = prof.MinAmountMM
		}
		if amount <= 0 {
			continue
		}
		minutes := int(math.Ceil(amount * 60 / prof.RateMMPerHour))
		cursor := pem.Minute
		for minutes > 0 {
			run := minutes
			if prof.MaxRunMin > 0 && run > prof.MaxRunMin {
				run = prof.MaxRunMin
			}
			s = UpdateSchedule(s, weekMinutes, cursor, cursor+run)
			cursor += run + prof.PauseMin
			minutes -= run
		}
		balance += amount
	}
	return s
}

// drain returns the net water loss between two minutes of the week.
func drain(loss [7]float64, from, to int) float64 {
	total := 0.0
	for m := from; m < to; {
		day := m / dayMinutes
		end := min((day+1)*dayMinutes, to)
		total += loss[day%7] * float64(end-m) / dayMinutes
		m = end
	}
	return total
}
