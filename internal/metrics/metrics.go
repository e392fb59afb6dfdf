// Package metrics exports the outcome of a deployment run in the Prometheus
// text format, for the node exporter's textfile collector.
//
// A run is short-lived, so nothing is served over HTTP. Instead each run
// fills a private registry from its model.Report and writes it atomically to
// a .prom file that the node exporter picks up on its next scrape.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shinji-kodama/webdeploy/internal/model"
)

const namespace = "webdeploy"

// Recorder holds the gauges describing the most recent run.
type Recorder struct {
	registry *prometheus.Registry

	readinessOpen    *prometheus.GaugeVec
	readinessElapsed *prometheus.GaugeVec
	stageStatus      *prometheus.GaugeVec
	stageDuration    *prometheus.GaugeVec
	reapedProcesses  *prometheus.GaugeVec
	proxyReloaded    prometheus.Gauge
	lastRun          prometheus.Gauge
}

// NewRecorder creates a recorder with its own registry, so the default
// global registry's Go runtime collectors stay out of the textfile.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		readinessOpen: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "readiness_open",
				Help:      "Whether the service port opened within its readiness window (1) or timed out (0)",
			},
			[]string{"service", "port"},
		),
		readinessElapsed: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "readiness_elapsed_seconds",
				Help:      "Time spent waiting for the service port",
			},
			[]string{"service", "port"},
		),
		stageStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stage_status",
				Help:      "Outcome of each deployment stage; the series for the observed status is 1",
			},
			[]string{"stage", "status"},
		),
		stageDuration: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Wall-clock duration of each deployment stage",
			},
			[]string{"stage"},
		),
		reapedProcesses: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "reaped_processes",
				Help:      "Number of processes killed to free each managed port",
			},
			[]string{"port"},
		),
		proxyReloaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "proxy_reloaded",
			Help:      "Whether the reverse proxy was reloaded during the last run",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		}),
	}

	r.registry.MustRegister(
		r.readinessOpen,
		r.readinessElapsed,
		r.stageStatus,
		r.stageDuration,
		r.reapedProcesses,
		r.proxyReloaded,
		r.lastRun,
	)
	return r
}

// Registry exposes the underlying registry, mostly for tests.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Observe loads a report into the gauges.
func (r *Recorder) Observe(report *model.Report) {
	for _, res := range report.Readiness {
		port := strconv.Itoa(res.Port)
		r.readinessOpen.WithLabelValues(res.Service, port).Set(boolValue(res.Open))
		r.readinessElapsed.WithLabelValues(res.Service, port).Set(res.Elapsed.Seconds())
	}

	for _, st := range report.Stages {
		r.stageStatus.WithLabelValues(string(st.Stage), string(st.Status)).Set(1)
		r.stageDuration.WithLabelValues(string(st.Stage)).Set(st.Duration.Seconds())
	}

	for _, rp := range report.Reaped {
		r.reapedProcesses.WithLabelValues(strconv.Itoa(rp.Port)).Set(float64(len(rp.Killed)))
	}

	r.proxyReloaded.Set(boolValue(report.ProxyReloaded))
	if !report.FinishedAt.IsZero() {
		r.lastRun.Set(float64(report.FinishedAt.Unix()))
	}
}

// WriteTextfile writes the registry to path. prometheus.WriteToTextfile
// writes to a temporary file and renames it, so a concurrent scrape never
// sees a partial file.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
