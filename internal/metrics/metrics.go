package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storefront"

// Checkout groups the collectors touched by the checkout workflow.
type Checkout struct {
	Requests      *prometheus.CounterVec
	Duration      prometheus.Histogram
	Compensations *prometheus.CounterVec
	Gateway       *prometheus.CounterVec
	GatewayTime   *prometheus.HistogramVec
}

func NewCheckout(reg prometheus.Registerer) *Checkout {
	m := &Checkout{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_requests_total",
			Help:      "Checkout attempts by payment method and outcome.",
		}, []string{"payment_method", "outcome"}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkout_duration_seconds",
			Help:      "End-to-end checkout latency in seconds.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30},
		}),
		Compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_compensations_total",
			Help:      "Stock restore attempts after a failed checkout.",
		}, []string{"outcome"}),
		Gateway: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_requests_total",
			Help:      "Payment gateway transaction calls.",
		}, []string{"method", "outcome"}),
		GatewayTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_duration_seconds",
			Help:      "Payment gateway call latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
	reg.MustRegister(m.Requests, m.Duration, m.Compensations, m.Gateway, m.GatewayTime)
	return m
}

// HTTP holds request metrics for the API router.
type HTTP struct {
	Requests *prometheus.CounterVec
	Latency  *prometheus.HistogramVec
}

func NewHTTP(reg prometheus.Registerer) *HTTP {
	m := &HTTP{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "status"}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	reg.MustRegister(m.Requests, m.Latency)
	return m
}

// Notifier counts e-mails handled by the notifier process.
type Notifier struct {
	Sent *prometheus.CounterVec
}

func NewNotifier(reg prometheus.Registerer) *Notifier {
	m := &Notifier{
		Sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      "Notification e-mails by kind and outcome.",
		}, []string{"kind", "outcome"}),
	}
	reg.MustRegister(m.Sent)
	return m
}

func Handler() http.Handler {
	return promhttp.Handler()
}
