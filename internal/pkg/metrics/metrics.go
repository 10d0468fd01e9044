package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics はアプリケーションのメトリクスを管理する
type Metrics struct {
	// HTTPリクエストの総数（method, path, status_code）
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTPリクエストのレイテンシ（method, path）
	HTTPRequestDuration *prometheus.HistogramVec

	// 予約作成の総数（result: created, idempotent_replay, slot_unavailable, error）
	BookingAttemptsTotal *prometheus.CounterVec

	// 予約の状態遷移の総数（transition: confirm, expire, cancel / result: applied, rejected）
	BookingTransitionsTotal *prometheus.CounterVec

	// Webhook配信の総数（result: applied, duplicate, invalid_signature, unknown_reference, error）
	WebhookDeliveriesTotal *prometheus.CounterVec

	// 外部チェックアウトAPI呼び出しのレイテンシ（status: success, failed）
	CheckoutRequestDuration *prometheus.HistogramVec

	// 支払い待ち予約の現在数
	PendingBookings prometheus.Gauge
}

// New は新しいMetricsインスタンスを作成し、デフォルトレジストリに登録する
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry は指定したレジストリにメトリクスを登録する
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		BookingAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booking_attempts_total",
				Help: "Total number of booking creation attempts",
			},
			[]string{"result"},
		),
		BookingTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booking_transitions_total",
				Help: "Total number of booking lifecycle transitions",
			},
			[]string{"transition", "result"},
		),
		WebhookDeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_deliveries_total",
				Help: "Total number of checkout webhook deliveries",
			},
			[]string{"result"},
		),
		CheckoutRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "checkout_request_duration_seconds",
				Help:    "Latency of checkout provider API calls",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"status"},
		),
		PendingBookings: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pending_bookings",
				Help: "Current number of bookings awaiting payment",
			},
		),
	}

	// レジストリに登録
	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.BookingAttemptsTotal,
		m.BookingTransitionsTotal,
		m.WebhookDeliveriesTotal,
		m.CheckoutRequestDuration,
		m.PendingBookings,
	)

	return m
}

// デフォルトのメトリクスインスタンス
var defaultMetrics *Metrics

// Init はデフォルトのメトリクスインスタンスを初期化する
func Init() *Metrics {
	defaultMetrics = New()
	return defaultMetrics
}

// Get はデフォルトのメトリクスインスタンスを返す
func Get() *Metrics {
	return defaultMetrics
}
