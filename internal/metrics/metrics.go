// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xamila_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "xamila_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)

	OTPIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xamila_otp_issued_total",
			Help: "OTP codes issued",
		},
		[]string{"purpose"},
	)

	OTPValidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xamila_otp_validations_total",
			Help: "OTP validations by outcome",
		},
		[]string{"purpose", "outcome"},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xamila_notifications_total",
			Help: "Email and SMS dispatches by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xamila_login_attempts_total",
			Help: "Login attempts by outcome",
		},
		[]string{"outcome"},
	)

	KYCTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xamila_kyc_transitions_total",
			Help: "KYC profile status transitions",
		},
		[]string{"from", "to"},
	)

	VerificationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "xamila_kyc_verification_duration_seconds",
			Help:    "Provider verification latency including retries",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "kind", "outcome"},
	)

	CohortAccessChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xamila_cohort_access_checks_total",
			Help: "Challenge access checks by cache result and decision",
		},
		[]string{"cache", "authorized"},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency by route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// ObserveVerification records one provider call.
func ObserveVerification(provider, kind string, err error, started time.Time) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	VerificationDuration.WithLabelValues(provider, kind, outcome).Observe(time.Since(started).Seconds())
}
