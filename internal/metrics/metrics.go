// Package metrics exports the Tracker's daily aggregates and the
// Throttler's refusal counters as Prometheus gauges/counters,
// optionally pushed to a gateway — the concrete backing for spec §2's
// "durable metrics" invariant, mirroring the teacher's
// cli/observability_flags.go push-gateway pattern.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/shuttle-av/shuttle/internal/model"
)

// Registry bundles Shuttle's run metrics.
type Registry struct {
	reg *prometheus.Registry

	pendingCount    prometheus.Gauge
	successCount    prometheus.Gauge
	suspectCount    prometheus.Gauge
	failedCount     prometheus.Gauge
	pendingVolume   prometheus.Gauge
	successVolume   prometheus.Gauge
	suspectVolume   prometheus.Gauge
	failedVolume    prometheus.Gauge
	throttleRefusal *prometheus.CounterVec
}

// NewRegistry builds a fresh Registry with all gauges registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	g := func(name, help string) prometheus.Gauge {
		gauge := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "shuttle",
			Subsystem: "tracker",
			Name:      name,
			Help:      help,
		})
		reg.MustRegister(gauge)
		return gauge
	}

	throttleRefusal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shuttle",
		Subsystem: "throttle",
		Name:      "refusals_total",
		Help:      "Admission refusals by reason, this run.",
	}, []string{"reason"})
	reg.MustRegister(throttleRefusal)

	return &Registry{
		reg:             reg,
		pendingCount:    g("pending_files", "Files currently pending today."),
		successCount:    g("success_files_total", "Successful files today."),
		suspectCount:    g("suspect_files_total", "Suspect files today."),
		failedCount:     g("failed_files_total", "Failed files today."),
		pendingVolume:   g("pending_bytes", "Bytes currently pending today."),
		successVolume:   g("success_bytes_total", "Successful bytes today."),
		suspectVolume:   g("suspect_bytes_total", "Suspect bytes today."),
		failedVolume:    g("failed_bytes_total", "Failed bytes today."),
		throttleRefusal: throttleRefusal,
	}
}

// Observe updates the gauges from agg.
func (r *Registry) Observe(agg model.DailyAggregate) {
	r.pendingCount.Set(float64(agg.Pending.Count))
	r.successCount.Set(float64(agg.Successful.Count))
	r.suspectCount.Set(float64(agg.Suspect.Count))
	r.failedCount.Set(float64(agg.Failed.Count))
	r.pendingVolume.Set(float64(agg.Pending.VolumeBytes))
	r.successVolume.Set(float64(agg.Successful.VolumeBytes))
	r.suspectVolume.Set(float64(agg.Suspect.VolumeBytes))
	r.failedVolume.Set(float64(agg.Failed.VolumeBytes))
}

// CountRefusal increments the throttle-refusal counter for reason.
func (r *Registry) CountRefusal(reason string) {
	r.throttleRefusal.WithLabelValues(reason).Inc()
}

// Push sends the current metric values to gatewayAddr under job, if
// gatewayAddr is configured. Failures are swallowed: metrics export is
// best-effort and must never affect processing outcomes, the same
// contract as Notifier (spec §7).
func (r *Registry) Push(gatewayAddr, job string) {
	if gatewayAddr == "" {
		return
	}

	_ = push.New(gatewayAddr, job).Gatherer(r.reg).Push()
}
