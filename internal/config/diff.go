package config

import (
	"encoding/json"
	"hash/fnv"
	"reflect"
	"sort"
	"strings"

	logx "sprinklerd/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes the http token).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.tick", strings.TrimSpace(newCfg.Scheduler.Tick)),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.prune_spec", newCfg.Scheduler.Prune()),
			logx.String("scheduler.weather_spec", newCfg.Scheduler.Weather()),
		)
	}

	if !reflect.DeepEqual(oldCfg.Options, newCfg.Options) {
		changed = append(changed, "options")
	}

	if !reflect.DeepEqual(oldCfg.Stations, newCfg.Stations) {
		changed = append(changed, "stations")
		attrs = append(attrs,
			logx.Int("stations.output_count", newCfg.Stations.OutputCount),
			logx.Int("stations.master", newCfg.Stations.MasterIndex()),
		)
	}

	if programsHash(oldCfg) != programsHash(newCfg) {
		changed = append(changed, "programs")
		attrs = append(attrs, logx.Int("programs.count", len(newCfg.Programs)))
	}

	if oldCfg.Weather != newCfg.Weather {
		changed = append(changed, "weather")
		attrs = append(attrs,
			logx.Float64("weather.eto_mm", newCfg.Weather.EToMM),
			logx.Float64("weather.rain_mm", newCfg.Weather.RainMM),
		)
	}

	// Nil means disabled.
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if s := oldCfg.Storage; s != nil {
		oDriver, oBusy, oPathSet = strings.TrimSpace(s.Driver), strings.TrimSpace(s.BusyTimeout), strings.TrimSpace(s.Path) != ""
	}
	if s := newCfg.Storage; s != nil {
		nDriver, nBusy, nPathSet = strings.TrimSpace(s.Driver), strings.TrimSpace(s.BusyTimeout), strings.TrimSpace(s.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
		)
	}

	// Compare without the token, then compare only whether one is set.
	oh, nh := oldCfg.HTTP, newCfg.HTTP
	oTok, nTok := strings.TrimSpace(oh.Token) != "", strings.TrimSpace(nh.Token) != ""
	oh.Token, nh.Token = "", ""
	if oh != nh || oTok != nTok {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", nh.Enabled),
			logx.String("http.addr", nh.Address()),
			logx.Bool("http.token_set", nTok),
			logx.Bool("http.pprof", nh.Pprof),
		)
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
	}

	sort.Strings(changed)
	return changed, attrs
}

func programsHash(cfg *Config) uint64 {
	if len(cfg.Programs) == 0 {
		return 0
	}
	b, err := json.Marshal(cfg.Programs)
	if err != nil {
		return 0
	}
	return canonicalHashJSON(b)
}

// hashBytes returns a stable 64-bit hash of bytes. Empty input returns 0.
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// canonicalHashJSON hashes JSON after canonicalizing it, so whitespace and
// key order do not matter. Invalid JSON is hashed as raw bytes.
func canonicalHashJSON(raw json.RawMessage) uint64 {
	if len(raw) == 0 {
		return 0
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return hashBytes(raw)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return hashBytes(raw)
	}
	return hashBytes(b)
}
