package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"sprinklerd/internal/options"
	"sprinklerd/internal/station"
	logx "sprinklerd/pkg/logx"
)

const (
	DefaultTick         = time.Second
	DefaultPersistEvery = 5 * time.Second
	DefaultPruneSpec    = "@every 1m"
	DefaultWeatherSpec  = "0 3 * * *"
	DefaultHTTPAddr     = "127.0.0.1:9107"
)

var ErrInvalid = errors.New("config: invalid")

func (c LoggingConfig) Logx() logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
	}
}

func (c SchedulerConfig) TickInterval() (time.Duration, error) {
	return ParseDurationOrDefault("scheduler.tick", c.Tick, DefaultTick)
}

func (c SchedulerConfig) PersistInterval() (time.Duration, error) {
	return ParseDurationOrDefault("scheduler.persist_every", c.PersistEvery, DefaultPersistEvery)
}

// Location resolves the controller timezone. Empty or "Local" is the host zone.
func (c SchedulerConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" || strings.EqualFold(tz, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return loc, nil
}

func (c SchedulerConfig) Prune() string   { return orDefault(c.PruneSpec, DefaultPruneSpec) }
func (c SchedulerConfig) Weather() string { return orDefault(c.WeatherSpec, DefaultWeatherSpec) }

// Values converts the section into option values, filling defaults and
// validating ranges.
func (c OptionsConfig) Values() (options.Values, error) {
	v := options.Defaults()
	var errs []error

	if c.SchedulerEnabled != nil {
		v.SchedulerEnabled = *c.SchedulerEnabled
	}
	v.ManualMode = c.ManualMode
	switch {
	case c.MaxUsage != nil:
		v.MaxUsage = *c.MaxUsage
	case c.Sequential:
		v.MaxUsage = 1
	}
	if c.Sequential && c.MaxUsage != nil && *c.MaxUsage != 1 {
		errs = append(errs, fmt.Errorf("%w: options.sequential conflicts with max_usage %v", ErrInvalid, *c.MaxUsage))
	}

	var err error
	if v.StationDelay, err = ParseDurationField("options.station_delay", c.StationDelay); err != nil {
		errs = append(errs, err)
	}
	if v.MasterOnDelay, err = ParseSignedDurationField("options.master_on_delay", c.MasterOnDelay); err != nil {
		errs = append(errs, err)
	}
	if v.MasterOffDelay, err = ParseSignedDurationField("options.master_off_delay", c.MasterOffDelay); err != nil {
		errs = append(errs, err)
	}

	v.MasterRelay = c.MasterRelay
	v.RainSensorEnabled = c.RainSensorEnabled
	if c.RainSensorNO != nil {
		v.RainSensorNO = *c.RainSensorNO
	}
	if s := strings.TrimSpace(c.RainBlock); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			errs = append(errs, fmt.Errorf("options.rain_block: %w", err))
		}
		v.RainBlock = t
	}
	if c.LevelAdjustment != nil {
		v.LevelAdjustment = *c.LevelAdjustment
	}
	v.RunLog = c.RunLog
	if c.RunEntries != nil {
		v.RunEntries = *c.RunEntries
	}

	if len(errs) == 0 {
		if err := v.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return v, errors.Join(errs...)
}

// MasterIndex returns the configured master station or -1.
func (c StationsConfig) MasterIndex() int {
	if c.Master == nil || *c.Master < 0 {
		return -1
	}
	return *c.Master
}

// Stations returns the definition of every output, defaults included.
func (c StationsConfig) Stations() ([]station.Station, error) {
	var errs []error
	if c.OutputCount < 0 {
		return nil, fmt.Errorf("%w: stations.output_count %d < 0", ErrInvalid, c.OutputCount)
	}
	if len(c.Items) > c.OutputCount {
		errs = append(errs, fmt.Errorf("%w: %d station items for %d outputs", ErrInvalid, len(c.Items), c.OutputCount))
	}
	if m := c.MasterIndex(); m >= c.OutputCount {
		errs = append(errs, fmt.Errorf("%w: stations.master %d >= output_count %d", ErrInvalid, m, c.OutputCount))
	}

	out := make([]station.Station, c.OutputCount)
	for i := range out {
		st := station.Default(i)
		if i < len(c.Items) {
			it := c.Items[i]
			if name := strings.TrimSpace(it.Name); name != "" {
				st.Name = name
			}
			if it.Enabled != nil {
				st.Enabled = *it.Enabled
			}
			st.IgnoreRain = it.IgnoreRain
			st.ActivateMaster = it.ActivateMaster
			if it.Usage != nil {
				if *it.Usage < 0 {
					errs = append(errs, fmt.Errorf("%w: stations.items[%d].usage < 0", ErrInvalid, i))
				}
				st.Usage = *it.Usage
			}
		}
		out[i] = st
	}
	return out, errors.Join(errs...)
}

func (c HTTPConfig) Address() string { return orDefault(c.Addr, DefaultHTTPAddr) }

// Validate checks every section that can be checked without side effects.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalid)
	}
	var errs []error
	if _, err := cfg.Scheduler.TickInterval(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.Scheduler.PersistInterval(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.Scheduler.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.Options.Values(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.Stations.Stations(); err != nil {
		errs = append(errs, err)
	}
	if cfg.Weather.EToMM < 0 || cfg.Weather.RainMM < 0 {
		errs = append(errs, fmt.Errorf("%w: weather values must be >= 0", ErrInvalid))
	}
	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "file", "sqlite":
		default:
			errs = append(errs, fmt.Errorf("%w: storage.driver %q", ErrInvalid, s.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := ParseDurationField("http.read_timeout", cfg.HTTP.ReadTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("http.idle_timeout", cfg.HTTP.IdleTimeout); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}
