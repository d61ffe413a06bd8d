// Package telemetry declares the prometheus collectors exported by
// sprinklerd.
package telemetry

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sprinklerd"

var (
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tick_duration_seconds",
		Help:      "Duration of one scheduler tick.",
		Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, 1},
	})

	TickErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tick_errors_total",
		Help:      "Per-entry failures recovered during scheduler ticks.",
	})

	RunsStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_started_total",
		Help:      "Intervals written to the run log, by source and whether they were blocked.",
	}, []string{"source", "blocked"})

	RunsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_finished_total",
		Help:      "Runs finished by the scheduler, by reason.",
	}, []string{"reason"})

	IntervalsBlockedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "intervals_blocked_total",
		Help:      "Blocked intervals started in the run log, by blocking reason.",
	}, []string{"reason"})

	StationActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "station_active",
		Help:      "1 while a station output is switched on.",
	}, []string{"station"})

	MasterOn = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "master_on",
		Help:      "1 while the master station or relay is on.",
	})

	PersistErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "persist_errors_total",
		Help:      "Failed writes to storage, by kind.",
	}, []string{"kind"})

	JobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "housekeeping_job_runs_total",
		Help:      "Housekeeping job executions, by job and result.",
	}, []string{"job", "result"})

	GoroutineRestartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "goroutine_restarts_total",
		Help:      "Supervised loops restarted after an error or panic.",
	}, []string{"name"})

	ConfigReloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "config_reloads_total",
		Help:      "Configuration reload attempts, by result.",
	}, []string{"result"})
)

// SetStationActive mirrors one station's output state.
func SetStationActive(station int, on bool) {
	StationActive.WithLabelValues(strconv.Itoa(station)).Set(boolValue(on))
}

func SetMasterOn(on bool) { MasterOn.Set(boolValue(on)) }

// Handler exposes the default registry.
func Handler() http.Handler { return promhttp.Handler() }

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
