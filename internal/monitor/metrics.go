package monitor

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for reqscope.
type Metrics struct {
	eventsIngested      prometheus.Counter
	eventsDropped       *prometheus.CounterVec
	eventsEvicted       prometheus.Counter
	bufferedEvents      prometheus.Gauge
	aggregations        prometheus.Counter
	aggregationDuration prometheus.Histogram
	feedState           *prometheus.GaugeVec
	reconnectAttempts   prometheus.Counter
	persistFailures     *prometheus.CounterVec
	inspectorUp         prometheus.Gauge
	backendActive       prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *Metrics
)

// FeedStates lists the label values of the feed state gauge.
var FeedStates = []string{"connected", "disconnected", "reconnecting"}

// NewMetrics returns the process-wide metrics collector.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInst = &Metrics{
			eventsIngested: promauto.NewCounter(prometheus.CounterOpts{
				Name: "reqscope_events_ingested_total",
				Help: "Total number of feed events accepted into the buffer",
			}),
			eventsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "reqscope_events_dropped_total",
				Help: "Total number of feed messages dropped",
			}, []string{"reason"}),
			eventsEvicted: promauto.NewCounter(prometheus.CounterOpts{
				Name: "reqscope_events_evicted_total",
				Help: "Total number of buffered events evicted by the buffer cap",
			}),
			bufferedEvents: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "reqscope_buffered_events",
				Help: "Number of events currently buffered",
			}),
			aggregations: promauto.NewCounter(prometheus.CounterOpts{
				Name: "reqscope_aggregations_total",
				Help: "Total number of timeline aggregation passes",
			}),
			aggregationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "reqscope_aggregation_duration_seconds",
				Help:    "Timeline aggregation pass duration in seconds",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			}),
			feedState: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "reqscope_feed_state",
				Help: "Current feed connection state (1 for the active state)",
			}, []string{"state"}),
			reconnectAttempts: promauto.NewCounter(prometheus.CounterOpts{
				Name: "reqscope_feed_reconnect_attempts_total",
				Help: "Total number of feed reconnect attempts",
			}),
			persistFailures: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "reqscope_persist_failures_total",
				Help: "Total number of session persistence failures",
			}, []string{"op"}),
			inspectorUp: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "reqscope_inspector_up",
				Help: "Inspector status endpoint reachable (1 = up, 0 = down)",
			}),
			backendActive: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "reqscope_inspector_backend_active",
				Help: "Inspector reports its proxied backend as active (1 = active)",
			}),
		}
	})
	return metricsInst
}

// RecordIngested records an accepted event and the resulting buffer size.
func (m *Metrics) RecordIngested(buffered int, evicted bool) {
	if m == nil {
		return
	}
	m.eventsIngested.Inc()
	if evicted {
		m.eventsEvicted.Inc()
	}
	m.bufferedEvents.Set(float64(buffered))
}

// RecordDropped records a dropped feed message.
func (m *Metrics) RecordDropped(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.eventsDropped.WithLabelValues(reason).Inc()
}

// SetBuffered sets the buffered events gauge.
func (m *Metrics) SetBuffered(n int) {
	if m == nil {
		return
	}
	m.bufferedEvents.Set(float64(n))
}

// ObserveAggregation records one aggregation pass.
func (m *Metrics) ObserveAggregation(d time.Duration, events int) {
	if m == nil {
		return
	}
	m.aggregations.Inc()
	m.aggregationDuration.Observe(d.Seconds())
}

// SetFeedState marks state as the active feed state.
func (m *Metrics) SetFeedState(state string) {
	if m == nil {
		return
	}
	for _, s := range FeedStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.feedState.WithLabelValues(s).Set(v)
	}
}

// RecordReconnectAttempt records one reconnect dial.
func (m *Metrics) RecordReconnectAttempt() {
	if m == nil {
		return
	}
	m.reconnectAttempts.Inc()
}

// RecordPersistFailure records a failed load or save.
func (m *Metrics) RecordPersistFailure(op string) {
	if m == nil {
		return
	}
	m.persistFailures.WithLabelValues(op).Inc()
}

// UpdateInspector updates the inspector reachability gauges.
func (m *Metrics) UpdateInspector(up, backendActive bool) {
	if m == nil {
		return
	}
	m.inspectorUp.Set(boolGauge(up))
	m.backendActive.Set(boolGauge(backendActive))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
