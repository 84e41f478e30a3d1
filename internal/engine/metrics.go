package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: сколько времени занял тик (включая опрос источника)
	TickDuration *prometheus.HistogramVec

	// Traffic: тики по исходу (ok, failed, panic)
	TicksTotal *prometheus.CounterVec

	// Saturation: тики, пропущенные из-за медленного предыдущего
	SkippedTicks *prometheus.CounterVec

	// Результаты: решения и проблемы
	DecisionsTotal *prometheus.CounterVec
	IssuesTotal    *prometheus.CounterVec

	// Degraded: 1 — последний тик монитора упал
	MonitorDegraded *prometheus.GaugeVec

	// Состояние Circuit Breaker (0 - закрыт, 1 - полуоткрыт, 2 - открыт)
	CircuitBreakerState *prometheus.GaugeVec

	// Notify: заполненность буфера (backpressure) и сброшенные уведомления
	NotifyBufferFill prometheus.Gauge
	NotifyDropped    prometheus.Counter
	NotifyBackendErr *prometheus.CounterVec

	// Webhook: входящие события по HTTP-статусу ответа
	WebhookTotal *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		TickDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dropwatch_tick_duration_seconds",
			Help:    "Histogram of monitor tick latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"domain", "status"}),

		TicksTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "dropwatch_ticks_total",
			Help: "Total number of monitor ticks by status.",
		}, []string{"domain", "status"}),

		SkippedTicks: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "dropwatch_ticks_skipped_total",
			Help: "Ticks skipped because the previous tick of the same domain was still running.",
		}, []string{"domain"}),

		DecisionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "dropwatch_decisions_total",
			Help: "Total number of decisions by action kind.",
		}, []string{"domain", "action"}),

		IssuesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "dropwatch_issues_total",
			Help: "Total number of issues by severity.",
		}, []string{"domain", "severity"}),

		MonitorDegraded: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "dropwatch_monitor_degraded",
			Help: "Whether the last tick of the monitor failed (0=ok, 1=degraded).",
		}, []string{"domain"}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "dropwatch_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=half-open, 2=open).",
		}, []string{"name"}),

		NotifyBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "dropwatch_notify_buffer_utilization",
			Help: "Current number of notifications in dispatcher buffer.",
		}),

		NotifyDropped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dropwatch_notify_dropped_total",
			Help: "Notifications dropped because the dispatcher buffer was full or stopped.",
		}),

		NotifyBackendErr: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "dropwatch_notify_backend_errors_total",
			Help: "Failed batch deliveries by backend.",
		}, []string{"backend"}),

		WebhookTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "dropwatch_webhook_requests_total",
			Help: "Inbound webhook requests by response code.",
		}, []string{"code"}),
	}
}
