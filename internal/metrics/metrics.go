// Package metrics exposes Prometheus counters for the build gateway.
package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder registers and updates the gateway's Prometheus metrics. A nil
// Recorder is a no-op, so callers never have to guard their calls.
type Recorder struct {
	registry        *prom.Registry
	submissions     prom.Counter
	quotaRejections *prom.CounterVec
	builds          *prom.CounterVec
	buildDuration   prom.Histogram
}

// NewRecorder constructs and registers the gateway metrics on reg.
func NewRecorder(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}

	r := &Recorder{registry: reg}
	r.submissions = prom.NewCounter(prom.CounterOpts{
		Namespace: "gateway",
		Name:      "submissions_total",
		Help:      "Accepted build submissions",
	})
	r.quotaRejections = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "gateway",
		Name:      "quota_rejections_total",
		Help:      "Submissions rejected by the quota ledger, by reason",
	}, []string{"reason"})
	r.builds = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "gateway",
		Name:      "builds_total",
		Help:      "Finished builds by terminal status",
	}, []string{"status"})
	r.buildDuration = prom.NewHistogram(prom.HistogramOpts{
		Namespace: "gateway",
		Name:      "build_duration_seconds",
		Help:      "Total build duration from claim to terminal state",
		Buckets:   prom.ExponentialBuckets(1, 2, 12),
	})
	reg.MustRegister(r.submissions, r.quotaRejections, r.builds, r.buildDuration)
	return r
}

// Handler returns the HTTP handler serving the registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil || r.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// RecordSubmission counts an accepted submission.
func (r *Recorder) RecordSubmission() {
	if r == nil || r.submissions == nil {
		return
	}
	r.submissions.Inc()
}

// RecordQuotaRejection counts a quota rejection by reason.
func (r *Recorder) RecordQuotaRejection(reason string) {
	if r == nil || r.quotaRejections == nil {
		return
	}
	r.quotaRejections.WithLabelValues(reason).Inc()
}

// RecordBuild counts a finished build and observes its duration.
func (r *Recorder) RecordBuild(status string, d time.Duration) {
	if r == nil || r.builds == nil {
		return
	}
	r.builds.WithLabelValues(status).Inc()
	r.buildDuration.Observe(d.Seconds())
}
