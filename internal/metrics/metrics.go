package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	domain "github.com/oshokin/alarm-sink/internal/domain/alarm"
)

const namespace = "alarm_sink"

// Recorder implements the engine metrics hooks on top of Prometheus collectors.
type Recorder struct {
	events  *prometheus.CounterVec
	errors  *prometheus.CounterVec
	latency *prometheus.HistogramVec
	purged  prometheus.Counter
}

// NewRecorder creates the collectors and registers them.
// activeAlarms is read on every scrape to publish the alarm_sink_active_alarms gauge.
func NewRecorder(reg prometheus.Registerer, activeAlarms func() int) (*Recorder, error) {
	r := &Recorder{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Handled alarm events by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "event_errors_total",
				Help:      "Rejected or failed alarm events by reason.",
			},
			[]string{"reason"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "handle_seconds",
				Help:      "Time spent handling one alarm event.",
				Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 8),
			},
			[]string{"kind"},
		),
		purged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "purged_alarms_total",
				Help:      "Alarms removed by purge operations.",
			},
		),
	}

	collectors := []prometheus.Collector{r.events, r.errors, r.latency, r.purged}

	if activeAlarms != nil {
		collectors = append(collectors, prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_alarms",
				Help:      "Alarms that are not cleared.",
			},
			func() float64 { return float64(activeAlarms()) },
		))
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	return r, nil
}

// RecordEvent counts one handled event.
func (r *Recorder) RecordEvent(kind domain.Kind, outcome domain.Outcome, elapsed time.Duration) {
	r.events.WithLabelValues(kind.String(), outcome.String()).Inc()
	r.latency.WithLabelValues(kind.String()).Observe(elapsed.Seconds())
}

// RecordError counts one failed event.
func (r *Recorder) RecordError(reason string) {
	r.errors.WithLabelValues(reason).Inc()
}

// RecordPurge counts removed alarms.
func (r *Recorder) RecordPurge(count int) {
	r.purged.Add(float64(count))
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
