package config

import (
	"sprinklerd/internal/program"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Options   OptionsConfig   `json:"options"`
	Stations  StationsConfig  `json:"stations"`

	// Programs seed storage when it holds none. Once persisted, programs
	// are owned by storage and edits here are ignored.
	Programs []program.Record `json:"programs,omitempty"`

	Weather WeatherConfig  `json:"weather"`
	Storage *StorageConfig `json:"storage,omitempty"`
	HTTP    HTTPConfig     `json:"http"`
	Systemd SystemdConfig  `json:"systemd"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the tick loop and the housekeeping jobs.
//
// Durations are Go duration strings. Cron specs accept an optional seconds
// field and descriptors such as "@every 1m".
//
// Defaults (when fields are omitted/zero):
//   - tick: "1s"
//   - timezone: Local
//   - persist_every: "5s"
//   - prune_spec: "@every 1m"
//   - weather_spec: "0 3 * * *"
type SchedulerConfig struct {
	Tick         string `json:"tick,omitempty"`
	Timezone     string `json:"timezone,omitempty"`
	PersistEvery string `json:"persist_every,omitempty"`
	PruneSpec    string `json:"prune_spec,omitempty"`
	WeatherSpec  string `json:"weather_spec,omitempty"`
}

// OptionsConfig is the initial value of the controller options. Pointer
// fields distinguish "omitted" (use the default) from an explicit zero.
//
// Delays are Go duration strings; master delays may be negative.
// rain_block is an RFC 3339 time or empty.
type OptionsConfig struct {
	SchedulerEnabled  *bool    `json:"scheduler_enabled,omitempty"`
	ManualMode        bool     `json:"manual_mode,omitempty"`
	MaxUsage          *float64 `json:"max_usage,omitempty"`
	Sequential        bool     `json:"sequential,omitempty"` // shorthand for max_usage 1
	StationDelay      string   `json:"station_delay,omitempty"`
	MasterOnDelay     string   `json:"master_on_delay,omitempty"`
	MasterOffDelay    string   `json:"master_off_delay,omitempty"`
	MasterRelay       bool     `json:"master_relay,omitempty"`
	RainSensorEnabled bool     `json:"rain_sensor_enabled,omitempty"`
	RainSensorNO      *bool    `json:"rain_sensor_no,omitempty"`
	RainBlock         string   `json:"rain_block,omitempty"`
	LevelAdjustment   *float64 `json:"level_adjustment,omitempty"`
	RunLog            bool     `json:"run_log,omitempty"`
	RunEntries        *int     `json:"run_entries,omitempty"`
}

// StationsConfig sizes the station set. Items configure stations by
// position; stations beyond the list keep their defaults.
type StationsConfig struct {
	OutputCount int             `json:"output_count"`
	Master      *int            `json:"master,omitempty"` // omitted or negative: no master
	Items       []StationConfig `json:"items,omitempty"`
}

type StationConfig struct {
	Name           string   `json:"name,omitempty"`
	Enabled        *bool    `json:"enabled,omitempty"`
	IgnoreRain     bool     `json:"ignore_rain,omitempty"`
	ActivateMaster bool     `json:"activate_master,omitempty"`
	Usage          *float64 `json:"usage,omitempty"`
}

// WeatherConfig feeds the static forecast used by weather programs.
type WeatherConfig struct {
	EToMM  float64 `json:"eto_mm"`
	RainMM float64 `json:"rain_mm"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./sprinklerd_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// HTTPConfig controls the health, metrics and pprof endpoint.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9107").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:9107"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout string `json:"read_timeout,omitempty"`
	IdleTimeout string `json:"idle_timeout,omitempty"`
}

type SystemdConfig struct {
	Notify bool `json:"notify"`
}
