package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging: {level: debug, console: true}
scheduler:
  tick: 2s
  timezone: UTC
  prune_spec: "@every 30s"
options:
  sequential: true
  station_delay: 30s
  master_off_delay: -10s
  rain_block: 2024-05-01T12:00:00Z
stations:
  output_count: 3
  master: 2
  items:
    - {name: Lawn, usage: 0.5}
    - {name: Roses, enabled: false, ignore_rain: true}
programs:
  - name: Morning
    enabled: true
    stations: [0, 1]
    type: DAYS_SIMPLE
    type_data: {start_min: 360, duration_min: 20, pause_min: 0, repeat_times: 0, days: [0, 2, 4]}
storage: {driver: file, path: ./store}
`

func TestParseYAML(t *testing.T) {
	t.Parallel()
	cfg, err := ParseBytes("config.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("ParseBytes() error: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}

	tick, _ := cfg.Scheduler.TickInterval()
	if tick != 2*time.Second {
		t.Fatalf("tick = %v, want 2s", tick)
	}
	if got := cfg.Scheduler.Prune(); got != "@every 30s" {
		t.Fatalf("prune spec = %q", got)
	}
	if got := cfg.Scheduler.Weather(); got != DefaultWeatherSpec {
		t.Fatalf("weather spec = %q, want default", got)
	}

	v, err := cfg.Options.Values()
	if err != nil {
		t.Fatalf("Values() error: %v", err)
	}
	if v.MaxUsage != 1 || v.StationDelay != 30*time.Second || v.MasterOffDelay != -10*time.Second {
		t.Fatalf("options = %+v", v)
	}
	if !v.SchedulerEnabled || !v.RainSensorNO || v.LevelAdjustment != 1 || v.RunEntries != 100 {
		t.Fatalf("defaults not applied: %+v", v)
	}
	if want := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC); !v.RainBlock.Equal(want) {
		t.Fatalf("rain block = %v, want %v", v.RainBlock, want)
	}

	sts, err := cfg.Stations.Stations()
	if err != nil {
		t.Fatalf("Stations() error: %v", err)
	}
	if len(sts) != 3 || sts[0].Name != "Lawn" || sts[0].Usage != 0.5 || sts[1].Enabled || !sts[1].IgnoreRain {
		t.Fatalf("stations = %+v", sts)
	}
	if sts[2].Name != "Station 03" || sts[2].Usage != 1 {
		t.Fatalf("default station = %+v", sts[2])
	}
	if cfg.Stations.MasterIndex() != 2 {
		t.Fatalf("master = %d, want 2", cfg.Stations.MasterIndex())
	}
	if len(cfg.Programs) != 1 || cfg.Programs[0].Type != "DAYS_SIMPLE" || len(cfg.Programs[0].TypeData) == 0 {
		t.Fatalf("programs = %+v", cfg.Programs)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		name string
		file string
		body string
	}{
		{"yaml", "c.yaml", "scheduler: {tick: 1s, workers: 4}\n"},
		{"json", "c.json", `{"stations": {"output_count": 2, "relay": true}}`},
		{"trailing", "c.json", `{} {}`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseBytes(tc.file, []byte(tc.body)); err == nil {
				t.Fatalf("ParseBytes(%s) = nil error", tc.body)
			}
		})
	}
}

func TestValidateRanges(t *testing.T) {
	t.Parallel()
	neg := -1.0
	master := 4
	tests := []struct {
		name string
		mod  func(*Config)
	}{
		{"station delay", func(c *Config) { c.Options.StationDelay = "2h" }},
		{"master delay", func(c *Config) { c.Options.MasterOnDelay = "-31m" }},
		{"max usage", func(c *Config) { c.Options.MaxUsage = &neg }},
		{"sequential conflict", func(c *Config) { two := 2.0; c.Options.MaxUsage = &two; c.Options.Sequential = true }},
		{"master index", func(c *Config) { c.Stations.Master = &master }},
		{"output count", func(c *Config) { c.Stations.OutputCount = -1 }},
		{"timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }},
		{"tick", func(c *Config) { c.Scheduler.Tick = "soon" }},
		{"storage driver", func(c *Config) { c.Storage = &StorageConfig{Driver: "redis"} }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{Stations: StationsConfig{OutputCount: 4}}
			tc.mod(cfg)
			if err := Validate(cfg); err == nil {
				t.Fatalf("Validate() = nil, want error")
			}
		})
	}
	if err := Validate(&Config{Stations: StationsConfig{OutputCount: 4}}); err != nil {
		t.Fatalf("Validate(minimal) = %v", err)
	}
}

func TestMaxUsageZeroIsUnlimited(t *testing.T) {
	t.Parallel()
	zero := 0.0
	v, err := OptionsConfig{MaxUsage: &zero}.Values()
	if err != nil || v.MaxUsage != 0 {
		t.Fatalf("Values() = %v, %v", v.MaxUsage, err)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	a := &Config{HTTP: HTTPConfig{Token: "one"}, Stations: StationsConfig{OutputCount: 2}}
	b := &Config{HTTP: HTTPConfig{Token: "two"}, Stations: StationsConfig{OutputCount: 4}}
	changed, _ := SummarizeConfigChange(a, b)
	if strings.Join(changed, ",") != "stations" {
		t.Fatalf("changed = %v, want [stations]", changed)
	}

	b.HTTP.Token = ""
	b.Logging.Level = "debug"
	changed, _ = SummarizeConfigChange(a, b)
	if strings.Join(changed, ",") != "http,logging,stations" {
		t.Fatalf("changed = %v", changed)
	}
}

func TestWatchPublishesChanges(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"stations": {"output_count": 2}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if cfg.Stations.OutputCount == 3 {
			return errors.New("three is not allowed")
		}
		return nil
	})
	sub := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte(`{"stations": {"output_count": 3}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(600 * time.Millisecond)
	if err := os.WriteFile(path, []byte(`{"stations": {"output_count": 6}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-sub:
		if cfg.Stations.OutputCount != 6 {
			t.Fatalf("published output_count = %d, want 6", cfg.Stations.OutputCount)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no config published")
	}
	if got := m.Get().Stations.OutputCount; got != 6 {
		t.Fatalf("Get() output_count = %d", got)
	}
	cancel()
	<-done
}
