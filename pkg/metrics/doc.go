/*
Package metrics provides Prometheus metrics collection and exposition for
fabric, plus the liveness/readiness bookkeeping used by cmd/fabricd.

# Metrics Catalog

Registration:

	fabric_registered_topics{direction}      Gauge
	fabric_registered_processes              Gauge
	fabric_registered_services{role}         Gauge
	fabric_registration_sends_total          Counter
	fabric_registration_purges_total{reason} Counter

Data plane:

	fabric_samples_sent_total{transport}              Counter
	fabric_samples_received_total{transport}           Counter
	fabric_samples_dropped_total{transport,reason}     Counter
	fabric_sample_send_duration_seconds{transport}     Histogram

Service RPC:

	fabric_service_calls_total{service,method,ret_state}  Counter
	fabric_service_call_duration_seconds{service,method}  Histogram
	fabric_service_client_instances{service,state}        Gauge

# Collector

Collector polls a Source (anything producing a model.Snapshot; procctx
passes its registry.Registry) on a fixed interval and sets the
registration gauges from it, the same poll-and-set pattern as
pkg/registry's own expiry sweep:

	c := metrics.NewCollector(reg)
	c.Start(5 * time.Second)
	defer c.Stop()

# Health and readiness

HealthChecker tracks per-component up/down state (RegisterComponent,
UpdateComponent) independent of the registration layer's own process
table; GetReadiness treats "registration" and "monitoring" as the
critical components cmd/fabricd must have initialized before serving
/healthz/ready. HealthHandler, ReadyHandler, and LivenessHandler wrap these as
http.HandlerFunc for a plain net/http mux.

All metrics are registered at package init via prometheus.MustRegister
and exposed through Handler(), which wraps promhttp.Handler().
*/
package metrics
