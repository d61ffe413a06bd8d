package app

import (
	"time"

	"sprinklerd/internal/config"
	"sprinklerd/internal/runtime/supervisor"
)

// ---- Config ----

type Config = config.Config

type ConfigManager = config.ConfigManager

var NewConfigManager = config.NewConfigManager

var SummarizeConfigChange = config.SummarizeConfigChange

func parseDurationField(path, raw string) (time.Duration, error) {
	return config.ParseDurationField(path, raw)
}

func parseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	return config.ParseDurationOrDefault(path, raw, def)
}

// ---- Supervisor ----

type Supervisor = supervisor.Supervisor

var (
	NewSupervisor      = supervisor.New
	WithLogger         = supervisor.WithLogger
	WithCancelOnError  = supervisor.WithCancelOnError
	WithRestartBackoff = supervisor.WithRestartBackoff
)

type WeatherConfig = config.WeatherConfig
