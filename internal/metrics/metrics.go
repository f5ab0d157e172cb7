package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Metrics owns its registry so several servers can coexist in one process.
// All Observe methods are safe on a nil receiver.
type Metrics struct {
	registry         *prometheus.Registry
	Checkouts        *prometheus.CounterVec
	SalesAmount      prometheus.Counter
	Fulfillments     *prometheus.CounterVec
	WorkflowLatency  *prometheus.HistogramVec
	Requests         *prometheus.CounterVec
	RequestLatencyMS *prometheus.HistogramVec
}

func New() *Metrics {
	checkouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ahontrack",
		Subsystem: "pos",
		Name:      "checkouts_total",
		Help:      "Checkouts by outcome.",
	}, []string{"outcome"})
	salesAmount := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ahontrack",
		Subsystem: "pos",
		Name:      "sales_amount_total",
		Help:      "Sum of committed checkout totals.",
	})
	fulfillments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ahontrack",
		Subsystem: "inventory",
		Name:      "fulfillments_total",
		Help:      "Purchase-order fulfillments and reversals by outcome.",
	}, []string{"operation", "outcome"})
	workflowLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ahontrack",
		Name:      "workflow_duration_ms",
		Help:      "Transactional workflow latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"workflow"})
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ahontrack",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ahontrack",
		Subsystem: "http",
		Name:      "request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		checkouts, salesAmount, fulfillments, workflowLatency, requests, latency,
	)
	return &Metrics{
		registry:         registry,
		Checkouts:        checkouts,
		SalesAmount:      salesAmount,
		Fulfillments:     fulfillments,
		WorkflowLatency:  workflowLatency,
		Requests:         requests,
		RequestLatencyMS: latency,
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveCheckout(outcome string, total decimal.Decimal, took time.Duration) {
	if m == nil {
		return
	}
	m.Checkouts.WithLabelValues(outcome).Inc()
	if outcome == "committed" {
		m.SalesAmount.Add(total.InexactFloat64())
	}
	m.WorkflowLatency.WithLabelValues("checkout").Observe(float64(took.Milliseconds()))
}

func (m *Metrics) ObserveFulfillment(operation string, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.Fulfillments.WithLabelValues(operation, outcome).Inc()
	m.WorkflowLatency.WithLabelValues(operation).Observe(float64(took.Milliseconds()))
}

func (m *Metrics) ObserveRequest(handler string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(handler, strconv.Itoa(status)).Inc()
	m.RequestLatencyMS.WithLabelValues(handler).Observe(float64(took.Milliseconds()))
}
