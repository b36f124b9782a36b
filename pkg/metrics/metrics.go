package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "kcgate", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "kcgate", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
	// AuthnRequests counts bearer-token authentications. reason is empty on success.
	AuthnRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "kcgate", Name: "authn_requests_total", Help: "Bearer token authentications by outcome and rejection reason."},
		[]string{"outcome", "reason"},
	)
	AuthzDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "kcgate", Name: "authz_decisions_total", Help: "Policy decisions by policy name and decision."},
		[]string{"policy", "decision"},
	)
	IdPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "kcgate", Name: "idp_request_duration_seconds", Help: "Latency of calls to the identity provider.", Buckets: prometheus.DefBuckets},
		[]string{"operation", "status"},
	)
	JWKSFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "kcgate", Name: "jwks_fetch_total", Help: "Signing key set fetches by result."},
		[]string{"result"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(AuthnRequests)
	reg.MustRegister(AuthzDecisions)
	reg.MustRegister(IdPRequestDuration)
	reg.MustRegister(JWKSFetches)
}
