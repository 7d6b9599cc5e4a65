// Package metrics records the outcome of a run for the node_exporter textfile
// collector.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder holds the gauges of a single run.
type Recorder struct {
	registry  *prometheus.Registry
	timestamp *prometheus.GaugeVec
	duration  *prometheus.GaugeVec
	success   *prometheus.GaugeVec
	problems  *prometheus.GaugeVec
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		timestamp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "repo_backup_last_run_timestamp_seconds",
			Help: "Unix time the last run finished.",
		}, []string{"mode"}),
		duration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "repo_backup_last_run_duration_seconds",
			Help: "Wall time of the last run.",
		}, []string{"mode"}),
		success: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "repo_backup_last_run_success",
			Help: "1 if the last run succeeded, 0 otherwise.",
		}, []string{"mode"}),
		problems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "repo_backup_last_run_problems",
			Help: "Problems reported by the repository during the last run.",
		}, []string{"mode"}),
	}
	r.registry.MustRegister(r.timestamp, r.duration, r.success, r.problems)
	return r
}

// Observe records a run of mode that started at start and ended at end.
func (r *Recorder) Observe(mode string, start, end time.Time, err error, problems int) {
	r.timestamp.WithLabelValues(mode).Set(float64(end.Unix()))
	r.duration.WithLabelValues(mode).Set(end.Sub(start).Seconds())
	ok := 0.0
	if err == nil {
		ok = 1
	}
	r.success.WithLabelValues(mode).Set(ok)
	r.problems.WithLabelValues(mode).Set(float64(problems))
}

// WriteTextfile atomically replaces path with the current values.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}

// Gatherer exposes the registry, mostly for tests.
func (r *Recorder) Gatherer() prometheus.Gatherer { return r.registry }
