// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result labels for authentication and sign-up metrics.
const (
	ResultSuccess  = "success"
	ResultDenied   = "denied"
	ResultError    = "error"
	ResultConflict = "conflict"
)

// AuthAttempts counts authentication attempts per authenticator.
// Use RegisterMetrics to register this with a Prometheus registry.
var AuthAttempts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "credgate_auth_attempts_total",
		Help: "Total number of authentication attempts by source and result",
	},
	[]string{"source", "result"},
)

// AuthDuration observes how long each authenticator took.
var AuthDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "credgate_auth_duration_seconds",
		Help:    "Authentication duration in seconds by source",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"source"},
)

// Signups counts sign-up attempts.
var Signups = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "credgate_signups_total",
		Help: "Total number of sign-up attempts by result",
	},
	[]string{"result"},
)

// RegisterMetrics registers auth package metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(AuthAttempts)
	reg.MustRegister(AuthDuration)
	reg.MustRegister(Signups)
}

func recordAttempt(source, result string, elapsed time.Duration) {
	AuthAttempts.WithLabelValues(source, result).Inc()
	AuthDuration.WithLabelValues(source).Observe(elapsed.Seconds())
}

func recordSignup(result string) {
	Signups.WithLabelValues(result).Inc()
}
