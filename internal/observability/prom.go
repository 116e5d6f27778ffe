// Package observability exposes Prometheus collectors for the ingestion pipeline.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/and161185/netdata-proxy/model"
)

// Metrics groups the pipeline collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	samplesDecoded *prometheus.CounterVec
	decodeErrors   *prometheus.CounterVec
	rowsDropped    prometheus.Counter
	recordsSent    prometheus.Counter
	recordsFailed  prometheus.Counter
	events         *prometheus.CounterVec
	sinkLatency    *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		samplesDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proxy_samples_decoded_total",
			Help: "Raw samples successfully decoded from input.",
		}, []string{"transport"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proxy_decode_errors_total",
			Help: "Input lines or payloads skipped because they are not valid JSON.",
		}, []string{"transport"}),
		rowsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proxy_rows_dropped_total",
			Help: "Normalized rows dropped because their value is not a finite number.",
		}),
		recordsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proxy_records_sent_total",
			Help: "Rows accepted by the sink.",
		}),
		recordsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proxy_records_failed_total",
			Help: "Rows the sink did not accept.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proxy_events_total",
			Help: "Ingestion events by transport and outcome.",
		}, []string{"transport", "status"}),
		sinkLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "proxy_sink_latency_seconds",
			Help:    "Time spent delivering one ingestion event to the sink.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"sink"}),
	}
	reg.MustRegister(m.samplesDecoded, m.decodeErrors, m.rowsDropped, m.recordsSent,
		m.recordsFailed, m.events, m.sinkLatency)
	return m
}

// ObserveDecode records decoded samples and skipped lines for one read.
func (m *Metrics) ObserveDecode(transport string, decoded, failed int) {
	if m == nil {
		return
	}
	m.samplesDecoded.WithLabelValues(transport).Add(float64(decoded))
	m.decodeErrors.WithLabelValues(transport).Add(float64(failed))
}

// ObserveDropped records rows removed by validation.
func (m *Metrics) ObserveDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.rowsDropped.Add(float64(n))
}

// ObserveDelivery records one sink call.
func (m *Metrics) ObserveDelivery(sink string, s model.DeliverySummary, d time.Duration) {
	if m == nil {
		return
	}
	m.recordsSent.Add(float64(s.RecordsSent))
	m.recordsFailed.Add(float64(s.RecordsFailed))
	m.sinkLatency.WithLabelValues(sink).Observe(d.Seconds())
}

// ObserveEvent records the terminal status of one ingestion event.
func (m *Metrics) ObserveEvent(transport, status string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(transport, status).Inc()
}
