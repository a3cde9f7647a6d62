package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Upstream calls by operation and resulting status code ("error" when no response)
	UpstreamRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "speechkit_upstream_requests_total",
		Help: "Outbound calls to the cloud APIs.",
	}, []string{"op", "status"})

	UpstreamDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "speechkit_upstream_duration_seconds",
		Help:    "Duration of outbound calls to the cloud APIs.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"op"})

	QuotaRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "speechkit_quota_rejections_total",
		Help: "Requests rejected because the quota pool could not cover them.",
	}, []string{"kind"})

	UnitsSpent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "speechkit_units_spent_total",
		Help: "Characters, audio blocks and tokens spent from user quotas.",
	}, []string{"kind"})

	CredentialRefresh = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "speechkit_credential_refresh_total",
		Help: "Bearer credential refresh attempts.",
	}, []string{"result"})

	Registrations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "speechkit_registrations_total",
		Help: "Accounts created at first contact.",
	}, []string{"banned"})
)

// ObserveUpstream records one outbound call. status 0 means no response.
func ObserveUpstream(op string, status int, elapsed time.Duration) {
	label := "error"
	if status != 0 {
		label = strconv.Itoa(status)
	}
	UpstreamRequests.WithLabelValues(op, label).Inc()
	UpstreamDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		UpstreamRequests,
		UpstreamDuration,
		QuotaRejections,
		UnitsSpent,
		CredentialRefresh,
		Registrations,
	)
}
