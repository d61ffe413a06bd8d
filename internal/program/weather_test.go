package program

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

type failingForecast struct{}

func (failingForecast) Day(context.Context, time.Time) (float64, float64, error) {
	return 0, 0, errors.New("offline")
}

func TestWeeklyWeatherPlansPerStation(t *testing.T) {
	t.Parallel()
	params := WeeklyWeather{
		PEMs: []PEM{{Minute: 360, Priority: 1}},
		Profiles: map[int]WaterProfile{
			0: {CapacityMM: 10, RateMMPerHour: 10, MaxRunMin: 30, PauseMin: 10},
		},
	}
	bc := buildNow
	bc.Forecast = StaticForecast{EToMM: 5}
	p, err := New("weather", params, bc)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	// 1.25mm lost by 06:00 Monday, refilled at 10mm/h -> 7.5 -> 8 minutes.
	if got, want := p.StationSchedule(0), (Schedule{{360, 368}}); !reflect.DeepEqual(got, want) {
		t.Fatalf("StationSchedule(0) = %v, want %v", got, want)
	}
	if got := p.StationSchedule(5); len(got) != 0 {
		t.Fatalf("station without profile got %v", got)
	}
	if !p.IsActive(at("2024-01-01 06:05"), 0) || p.IsActive(at("2024-01-01 06:05"), 5) {
		t.Fatalf("per-station schedule not consulted by IsActive")
	}
	if iv := p.ActiveIntervals(at("2024-01-01 00:00"), at("2024-01-02 00:00"), 5); len(iv) != 0 {
		t.Fatalf("ActiveIntervals for station 5 = %v", iv)
	}
}

func TestWeeklyWeatherSplitsLongRuns(t *testing.T) {
	t.Parallel()
	params := WeeklyWeather{
		PEMs: []PEM{{Minute: 720, Priority: 1}},
		Profiles: map[int]WaterProfile{
			2: {CapacityMM: 100, RateMMPerHour: 48, MaxRunMin: 20, PauseMin: 5},
		},
	}
	bc := buildNow
	bc.Forecast = StaticForecast{EToMM: 48}
	p, err := New("weather", params, bc)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	// 24mm deficit at noon, 30 minutes of watering in 20+10.
	want := Schedule{{720, 740}, {745, 755}}
	if got := p.StationSchedule(2); !reflect.DeepEqual(got, want) {
		t.Fatalf("StationSchedule(2) = %v, want %v", got, want)
	}
}

func TestWeeklyWeatherSkipsWhenRainCovers(t *testing.T) {
	t.Parallel()
	params := WeeklyWeather{
		PEMs:     []PEM{{Minute: 360, Priority: 1}, {Minute: 1800, Priority: 1}},
		Profiles: map[int]WaterProfile{0: {CapacityMM: 10, RateMMPerHour: 10}},
	}
	bc := buildNow
	bc.Forecast = StaticForecast{EToMM: 2, RainMM: 6}
	p, err := New("weather", params, bc)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if got := p.StationSchedule(0); len(got) != 0 {
		t.Fatalf("StationSchedule(0) = %v, want no runs", got)
	}
}

func TestWeeklyWeatherForecastError(t *testing.T) {
	t.Parallel()
	bc := buildNow
	bc.Forecast = failingForecast{}
	_, err := New("weather", WeeklyWeather{Profiles: map[int]WaterProfile{0: {CapacityMM: 1, RateMMPerHour: 1}}}, bc)
	if !errors.Is(err, ErrForecastUnavailable) {
		t.Fatalf("New() error = %v, want ErrForecastUnavailable", err)
	}
}

func TestRefreshWeatherRebuilds(t *testing.T) {
	t.Parallel()
	fc := &switchForecast{eto: 0}
	s := NewSet(WithForecast(fc), WithClock(func() time.Time { return buildNow.Now }))
	p, err := New("weather", WeeklyWeather{
		PEMs:     []PEM{{Minute: 360, Priority: 1}},
		Profiles: map[int]WaterProfile{0: {CapacityMM: 10, RateMMPerHour: 10}},
	}, s.BuildContext(context.Background()))
	if err != nil {
		t.Fatal(err)
	}
	s.Add(p)
	if got, _ := s.At(0); len(got.StationSchedule(0)) != 0 {
		t.Fatalf("no deficit should mean no runs")
	}

	fc.eto = 5
	if err := s.RefreshWeather(context.Background()); err != nil {
		t.Fatalf("RefreshWeather() error: %v", err)
	}
	if got, _ := s.At(0); len(got.StationSchedule(0)) == 0 {
		t.Fatalf("RefreshWeather() did not pick up the new forecast")
	}
}

type switchForecast struct{ eto float64 }

func (f *switchForecast) Day(context.Context, time.Time) (float64, float64, error) {
	return f.eto, 0, nil
}
