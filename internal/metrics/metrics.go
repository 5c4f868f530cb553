package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "weather_tracker"

// Recorder implements weather.Metrics on top of prometheus collectors.
type Recorder struct {
	records  prometheus.Gauge
	events   *prometheus.CounterVec
	failures *prometheus.CounterVec
}

// New registers the tracker collectors with reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		records: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "records",
			Help:      "Weather records currently held in the live list.",
		}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_applied_total",
			Help:      "Push events applied to the live list, by event name.",
		}, []string{"event"}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_failures_total",
			Help:      "Failed requests to the tracker API, by operation.",
		}, []string{"op"}),
	}
}

func (r *Recorder) EventApplied(event string) {
	r.events.WithLabelValues(event).Inc()
}

func (r *Recorder) RequestFailed(op string) {
	r.failures.WithLabelValues(op).Inc()
}

func (r *Recorder) RecordCount(n int) {
	r.records.Set(float64(n))
}
