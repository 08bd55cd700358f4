package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	OffersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lnurldevice_offers_total",
			Help: "LNURL offers built, by device kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	RedemptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lnurldevice_redemptions_total",
			Help: "LNURL callbacks handled, by device kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
)

func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		OffersTotal,
		RedemptionsTotal,
	)
}
