package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the API.
type MetricsService struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestDuration  *prometheus.HistogramVec
	requestTotal     *prometheus.CounterVec
	redemptionTotal  *prometheus.CounterVec
	codeRegenerated  prometheus.Counter
	notificationsOut prometheus.Counter
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

	redemptionTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_redemptions_total",
		Help: "Code redemption attempts by outcome",
	}, []string{"outcome"})

	codeRegenerated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "attendance_codes_regenerated_total",
		Help: "Total attendance code regenerations",
	})

	notificationsOut := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifications_delivered_total",
		Help: "Total notifications fanned out to recipients",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, redemptionTotal, codeRegenerated, notificationsOut, goroutines)

	return &MetricsService{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		redemptionTotal:  redemptionTotal,
		codeRegenerated:  codeRegenerated,
		notificationsOut: notificationsOut,
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

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// ObserveRedemption counts one redemption attempt by outcome, e.g. "success",
// "invalid_code", "already_marked".
func (m *MetricsService) ObserveRedemption(outcome string) {
	if m == nil {
		return
	}
	m.redemptionTotal.WithLabelValues(outcome).Inc()
}

// ObserveCodeRegenerated counts one code regeneration.
func (m *MetricsService) ObserveCodeRegenerated() {
	if m == nil {
		return
	}
	m.codeRegenerated.Inc()
}

// ObserveNotifications counts notifications fanned out.
func (m *MetricsService) ObserveNotifications(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.notificationsOut.Add(float64(count))
}
