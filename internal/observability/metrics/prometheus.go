// Package metrics provides Prometheus metrics for the intake services.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	TemplatesSaved       *prometheus.CounterVec
	ResponsesSubmitted   *prometheus.CounterVec
	ValidationFailures   *prometheus.CounterVec
	AttachmentUploads    *prometheus.CounterVec
	UploadDuration       prometheus.Histogram
	ProfileMerges        *prometheus.CounterVec
	MergeDuration        prometheus.Histogram
	KafkaMessagesOut     *prometheus.CounterVec
	KafkaMessagesIn      *prometheus.CounterVec
	OutboxPending        prometheus.Gauge
	OutboxFailed         prometheus.Gauge
	ConsumerLag          *prometheus.GaugeVec
	CircuitBreakerState  *prometheus.GaugeVec
	HTTPRequestsDuration *prometheus.HistogramVec

	registry prometheus.Gatherer
}

// New creates all metrics and registers them on reg. A nil reg uses a fresh registry,
// so tests can build several instances without duplicate registration panics.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		TemplatesSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_templates_saved_total",
			Help: "Templates created, updated or patched",
		}, []string{"operation"}),
		ResponsesSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_responses_submitted_total",
			Help: "Form responses persisted, by initial status",
		}, []string{"status"}),
		ValidationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_validation_failures_total",
			Help: "Submissions rejected at the capture boundary",
		}, []string{"code"}),
		AttachmentUploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_attachment_uploads_total",
			Help: "File uploads by result",
		}, []string{"result"}),
		UploadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "intake_attachment_upload_duration_seconds",
			Help:    "Time to store one attachment",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		ProfileMerges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_profile_merges_total",
			Help: "Profile merge attempts by result",
		}, []string{"result"}),
		MergeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "intake_profile_merge_duration_seconds",
			Help:    "Extraction plus merge duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		KafkaMessagesOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_kafka_messages_produced_total",
			Help: "Kafka messages produced",
		}, []string{"topic"}),
		KafkaMessagesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_kafka_messages_consumed_total",
			Help: "Kafka messages consumed",
		}, []string{"topic"}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "intake_outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		OutboxFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "intake_outbox_failed_entries",
			Help: "Outbox entries past their retry budget",
		}),
		ConsumerLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "intake_consumer_group_lag",
			Help: "Records not yet committed by a consumer group, per partition",
		}, []string{"group", "topic", "partition"}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "intake_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		HTTPRequestsDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "intake_http_request_duration_seconds",
			Help:    "HTTP request duration by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		registry: reg,
	}

	reg.MustRegister(
		m.TemplatesSaved,
		m.ResponsesSubmitted,
		m.ValidationFailures,
		m.AttachmentUploads,
		m.UploadDuration,
		m.ProfileMerges,
		m.MergeDuration,
		m.KafkaMessagesOut,
		m.KafkaMessagesIn,
		m.OutboxPending,
		m.OutboxFailed,
		m.ConsumerLag,
		m.CircuitBreakerState,
		m.HTTPRequestsDuration,
	)

	return m
}

// Handler returns the Prometheus HTTP handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetOutbox records the outbox backlog
func (m *Metrics) SetOutbox(pending, failed int64) {
	m.OutboxPending.Set(float64(pending))
	m.OutboxFailed.Set(float64(failed))
}

// MessageSent counts a produced message
func (m *Metrics) MessageSent(topic string) {
	m.KafkaMessagesOut.WithLabelValues(topic).Inc()
}

// MessageConsumed counts a consumed message
func (m *Metrics) MessageConsumed(topic string) {
	m.KafkaMessagesIn.WithLabelValues(topic).Inc()
}

// BreakerState records a circuit breaker state; value comes from State.Gauge
func (m *Metrics) BreakerState(name string, value float64) {
	m.CircuitBreakerState.WithLabelValues(name).Set(value)
}

// SetConsumerLag records the per-partition lag of a consumer group, keyed topic then partition
func (m *Metrics) SetConsumerLag(group string, lag map[string]map[int32]int64) {
	for topic, partitions := range lag {
		for partition, n := range partitions {
			m.ConsumerLag.WithLabelValues(group, topic, strconv.Itoa(int(partition))).Set(float64(n))
		}
	}
}
