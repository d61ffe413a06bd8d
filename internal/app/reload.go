package app

import (
	"context"
	"slices"
	"strings"

	"sprinklerd/internal/eventbus"
	logx "sprinklerd/pkg/logx"
)

func (a *App) reloadLoop(ctx context.Context, sub <-chan *Config) {
	// Track last applied config to generate a safe diff summary for logx.
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			if newCfg == nil {
				continue
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig pushes the changed sections of next into the running
// components. Sections that need a restart are only reported.
func (a *App) applyConfig(ctx context.Context, prev, next *Config) {
	sections, attrs := SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	changed := func(s string) bool { return slices.Contains(sections, s) }

	if changed("logging") && a.logs != nil {
		a.logs.Apply(next.Logging.Logx())
	}

	if changed("scheduler") {
		if prev.Scheduler.Tick != next.Scheduler.Tick || prev.Scheduler.Timezone != next.Scheduler.Timezone {
			a.log.Warn("scheduler tick/timezone changed; restart required for changes to take effect")
		}
		if err := a.addJobs(next); err != nil {
			a.log.Error("housekeeping jobs not updated", logx.Err(err))
		}
	}

	if changed("options") {
		values, err := next.Options.Values()
		if err == nil {
			err = a.opts.Replace(values)
		}
		if err != nil {
			a.log.Error("options not applied", logx.Err(err))
		}
	}

	if changed("stations") {
		a.applyStations(next)
	}

	if changed("weather") {
		a.weather.set(next.Weather)
		if err := a.programs.RefreshWeather(ctx); err != nil {
			a.log.Warn("weather programs not rebuilt", logx.Err(err))
		}
	}

	if changed("programs") {
		if a.st == nil {
			if err := a.programs.Load(ctx, next.Programs); err != nil {
				a.log.Warn("some programs could not be rebuilt", logx.Err(err))
			}
			a.programs.PruneStations(a.stations.Count())
		} else {
			a.log.Info("config programs only seed an empty store; stored programs kept")
		}
	}

	if changed("storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}

	if changed("http") {
		hc, err := mapHTTPConfig(next)
		if err != nil {
			a.log.Error("http config not applied", logx.Err(err))
		} else {
			a.http.Reconfigure(ctx, hc)
		}
	}

	if changed("systemd") {
		a.log.Warn("systemd config changed; restart required for changes to take effect")
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: sections})
}

func (a *App) applyStations(next *Config) {
	sts, err := next.Stations.Stations()
	if err == nil {
		err = a.configureStations(next, sts)
	}
	if err != nil {
		a.log.Error("stations not applied", logx.Err(err))
		return
	}
	if n := a.programs.PruneStations(len(sts)); n > 0 {
		a.log.Info("dropped removed stations from programs", logx.Int("programs", n))
	}
}
