package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PointsPosted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fidelio",
		Name:      "points_posted_total",
		Help:      "Ledger activities committed, by kind.",
	}, []string{"kind"})

	TokensIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fidelio",
		Name:      "tokens_issued_total",
		Help:      "Redemption tokens issued, by type.",
	}, []string{"type"})

	// TokenConsumptions counts consume attempts by outcome
	// (ok, not_found, already_consumed, expired, error).
	TokenConsumptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fidelio",
		Name:      "token_consumptions_total",
		Help:      "Redemption token consume attempts, by outcome.",
	}, []string{"outcome"})

	OTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fidelio",
		Name:      "otp_requests_total",
		Help:      "OTP challenges issued, by delivery outcome.",
	}, []string{"outcome"})

	OTPVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fidelio",
		Name:      "otp_verifications_total",
		Help:      "OTP verification attempts, by result.",
	}, []string{"result"})

	Logins = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fidelio",
		Name:      "logins_total",
		Help:      "Identity resolutions, by factor and outcome.",
	}, []string{"factor", "outcome"})

	Swept = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fidelio",
		Name:      "swept_rows_total",
		Help:      "Expired rows removed by the sweeper, by table.",
	}, []string{"table"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fidelio",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency, by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// Handler returns an http.Handler for Prometheus scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
