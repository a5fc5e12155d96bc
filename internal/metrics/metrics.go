// Package metrics collects Prometheus metrics for the provisioning workflow, payments and the API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type MetricsCollector interface {
	RecordProvisioning(outcome string)
	RecordCompensation(result string)
	RecordWebhook(notificationType, result string)
	RecordPaymentStatus(provider, status string)
	RecordGateCheck(ownsToken bool)
	RecordHTTPRequest(method, route string, status int, duration time.Duration)
}

type Collector struct {
	provisioning  *prometheus.CounterVec
	compensations *prometheus.CounterVec
	webhooks      *prometheus.CounterVec
	payments      *prometheus.CounterVec
	gateChecks    *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		provisioning: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fanclub_provisioning_runs_total",
			Help: "Provisioning runs by final outcome",
		}, []string{"outcome"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fanclub_compensations_total",
			Help: "Compensating account deletions by result",
		}, []string{"result"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fanclub_webhooks_total",
			Help: "Payment notifications by type and handling result",
		}, []string{"type", "result"}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fanclub_payment_status_total",
			Help: "Observed payment status changes by provider",
		}, []string{"provider", "status"}),
		gateChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fanclub_gate_checks_total",
			Help: "Membership gate checks by result",
		}, []string{"owns_token"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fanclub_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(
		c.provisioning,
		c.compensations,
		c.webhooks,
		c.payments,
		c.gateChecks,
		c.httpLatency,
	)
	return c
}

func (c *Collector) RecordProvisioning(outcome string) {
	c.provisioning.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordCompensation(result string) {
	c.compensations.WithLabelValues(result).Inc()
}

func (c *Collector) RecordWebhook(notificationType, result string) {
	c.webhooks.WithLabelValues(notificationType, result).Inc()
}

func (c *Collector) RecordPaymentStatus(provider, status string) {
	c.payments.WithLabelValues(provider, status).Inc()
}

func (c *Collector) RecordGateCheck(ownsToken bool) {
	c.gateChecks.WithLabelValues(strconv.FormatBool(ownsToken)).Inc()
}

func (c *Collector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	c.httpLatency.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
}

// Handler serves the registry for Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordProvisioning(string) {}
func (Nop) RecordCompensation(string) {}
func (Nop) RecordWebhook(string, string) {}
func (Nop) RecordPaymentStatus(string, string) {}
func (Nop) RecordGateCheck(bool) {}
func (Nop) RecordHTTPRequest(string, string, int, time.Duration) {}
