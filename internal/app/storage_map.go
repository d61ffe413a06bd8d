package app

import (
	"fmt"
	"strings"
	"time"

	"sprinklerd/internal/observability/httpd"
	"sprinklerd/internal/storage"
)

func mapStorageConfig(cfg *Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.TrimSpace(sc.Driver)
	if driver == "" || strings.EqualFold(driver, "none") {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	dl := strings.ToLower(driver)
	switch dl {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := parseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: dl, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", driver)
	}
}

func mapHTTPConfig(cfg *Config) (httpd.Config, error) {
	hc := cfg.HTTP
	read, err := parseDurationField("http.read_timeout", hc.ReadTimeout)
	if err != nil {
		return httpd.Config{}, err
	}
	idle, err := parseDurationField("http.idle_timeout", hc.IdleTimeout)
	if err != nil {
		return httpd.Config{}, err
	}
	return httpd.Config{
		Enabled:       hc.Enabled,
		Addr:          hc.Address(),
		Token:         strings.TrimSpace(hc.Token),
		AllowInsecure: hc.AllowInsecure,
		Pprof:         hc.Pprof,
		ReadTimeout:   read,
		IdleTimeout:   idle,
	}, nil
}
