package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deletion item outcomes.
const (
	DeletionOutcomeDeleted  = "deleted"
	DeletionOutcomeNotFound = "not_found"
	DeletionOutcomeError    = "error"
)

// MetricsService encapsulates Prometheus instrumentation.
type MetricsService struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestDuration  *prometheus.HistogramVec
	requestTotal     *prometheus.CounterVec
	ticketsIssued    prometheus.Counter
	ticketResamples  prometheus.Counter
	downloadDecision *prometheus.CounterVec
	deletionItems    *prometheus.CounterVec
	tasksDispatched  *prometheus.CounterVec
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	ticketsIssued := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "order_tickets_issued_total",
		Help: "Download tickets issued and persisted",
	})

	ticketResamples := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "order_ticket_resamples_total",
		Help: "Tickets discarded because they were not URL safe",
	})

	downloadDecision := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "order_download_decisions_total",
		Help: "Public download gate decisions",
	}, []string{"decision"})

	deletionItems := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "order_deletion_items_total",
		Help: "Orders processed by bulk deletion tasks",
	}, []string{"outcome"})

	tasksDispatched := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "order_tasks_dispatched_total",
		Help: "Asynchronous tasks dispatched",
	}, []string{"task"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, ticketsIssued, ticketResamples, downloadDecision, deletionItems, tasksDispatched, goroutines)

	return &MetricsService{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		ticketsIssued:    ticketsIssued,
		ticketResamples:  ticketResamples,
		downloadDecision: downloadDecision,
		deletionItems:    deletionItems,
		tasksDispatched:  tasksDispatched,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry exposes the underlying registry for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordTicketIssued counts one persisted ticket.
func (m *MetricsService) RecordTicketIssued() {
	if m == nil {
		return
	}
	m.ticketsIssued.Inc()
}

// RecordTicketResample counts one discarded ticket.
func (m *MetricsService) RecordTicketResample() {
	if m == nil {
		return
	}
	m.ticketResamples.Inc()
}

// RecordDownloadDecision counts a granted or denied download.
func (m *MetricsService) RecordDownloadDecision(granted bool) {
	if m == nil {
		return
	}
	decision := "denied"
	if granted {
		decision = "granted"
	}
	m.downloadDecision.WithLabelValues(decision).Inc()
}

// RecordDeletionItem counts one processed order of a deletion batch.
func (m *MetricsService) RecordDeletionItem(outcome string) {
	if m == nil {
		return
	}
	m.deletionItems.WithLabelValues(outcome).Inc()
}

// RecordTaskDispatched counts one dispatched task.
func (m *MetricsService) RecordTaskDispatched(task string) {
	if m == nil {
		return
	}
	m.tasksDispatched.WithLabelValues(task).Inc()
}
