package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registration metrics
	RegisteredTopics = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fabric_registered_topics",
			Help: "Number of registered topic entries by direction",
		},
		[]string{"direction"},
	)

	RegisteredProcesses = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fabric_registered_processes",
			Help: "Number of registered processes in the monitoring snapshot",
		},
	)

	RegisteredServices = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fabric_registered_services",
			Help: "Number of registered service server/client instances",
		},
		[]string{"role"},
	)

	RegistrationSendsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fabric_registration_sends_total",
			Help: "Total number of registration announcements sent",
		},
	)

	RegistrationPurgesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabric_registration_purges_total",
			Help: "Total number of entities purged, by reason",
		},
		[]string{"reason"}, // "timeout" or "unregister"
	)

	// Data-plane metrics
	SamplesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabric_samples_sent_total",
			Help: "Total number of samples sent by transport",
		},
		[]string{"transport"},
	)

	SamplesReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabric_samples_received_total",
			Help: "Total number of samples delivered to a subscriber callback, by transport",
		},
		[]string{"transport"},
	)

	SamplesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabric_samples_dropped_total",
			Help: "Total number of samples dropped, by transport and reason",
		},
		[]string{"transport", "reason"},
	)

	SampleSendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fabric_sample_send_duration_seconds",
			Help:    "Time taken by Publisher.Send per transport",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"transport"},
	)

	// Service RPC metrics
	ServiceCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabric_service_calls_total",
			Help: "Total number of service method calls by method and ret_state",
		},
		[]string{"service", "method", "ret_state"},
	)

	ServiceCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fabric_service_call_duration_seconds",
			Help:    "Service method call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method"},
	)

	ServiceClientState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fabric_service_client_instances",
			Help: "Number of service client instances by state",
		},
		[]string{"service", "state"},
	)
)

func init() {
	prometheus.MustRegister(RegisteredTopics)
	prometheus.MustRegister(RegisteredProcesses)
	prometheus.MustRegister(RegisteredServices)
	prometheus.MustRegister(RegistrationSendsTotal)
	prometheus.MustRegister(RegistrationPurgesTotal)
	prometheus.MustRegister(SamplesSentTotal)
	prometheus.MustRegister(SamplesReceivedTotal)
	prometheus.MustRegister(SamplesDroppedTotal)
	prometheus.MustRegister(SampleSendDuration)
	prometheus.MustRegister(ServiceCallsTotal)
	prometheus.MustRegister(ServiceCallDuration)
	prometheus.MustRegister(ServiceClientState)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
