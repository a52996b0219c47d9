// Package metrics exposes the Prometheus metrics the update client emits:
// deployment outcomes/duration, rollbacks, update-module invocations, and
// poll cycles. Adapted from the teacher's pkg/metrics, narrowed to this
// domain's operations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DeploymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "update_client_deployments_total",
			Help: "Total number of deployments processed, by final status",
		},
		[]string{"status"},
	)

	DeploymentDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "update_client_deployment_duration_seconds",
			Help:    "Deployment duration in seconds, from Download to EndOfDeployment",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	RolledBackDeploymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "update_client_deployments_rolled_back_total",
			Help: "Total number of deployments that triggered a rollback, by rollback outcome",
		},
		[]string{"outcome"},
	)

	ModuleInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "update_client_module_invocations_total",
			Help: "Total number of update-module sub-command invocations, by sub-command and result",
		},
		[]string{"sub_command", "result"},
	)

	DownloadBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "update_client_download_bytes_total",
			Help: "Total number of artifact payload bytes streamed to update modules",
		},
	)

	DownloadResumesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "update_client_download_resumes_total",
			Help: "Total number of times the resumable downloader reconnected after a disconnect",
		},
	)

	PollCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "update_client_poll_cycles_total",
			Help: "Total number of server poll cycles, by poll kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	StateLoopDetectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "update_client_state_loop_detected_total",
			Help: "Total number of times the state-data write-count loop detector tripped",
		},
	)
)

func init() {
	prometheus.MustRegister(DeploymentsTotal)
	prometheus.MustRegister(DeploymentDuration)
	prometheus.MustRegister(RolledBackDeploymentsTotal)
	prometheus.MustRegister(ModuleInvocationsTotal)
	prometheus.MustRegister(DownloadBytesTotal)
	prometheus.MustRegister(DownloadResumesTotal)
	prometheus.MustRegister(PollCyclesTotal)
	prometheus.MustRegister(StateLoopDetectedTotal)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times an operation and reports it to a histogram or a histogram
// vec's observer on completion.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
