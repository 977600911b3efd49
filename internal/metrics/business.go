// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	responseCacheResult = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_response_cache_result_total",
		Help: "Gateway response cache lookups by tier and outcome",
	}, []string{"tier", "outcome"}) // tier=a|b, outcome=hit|miss|store|skip

	refreshDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "edge_refresh_duration_seconds",
		Help:    "Stations catalog refresh duration by outcome",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"}) // outcome=success|failure

	validationOutcome = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_stream_validation_total",
		Help: "Stream validation probe outcomes",
	}, []string{"outcome"}) // outcome=online|offline|blocked|cached

	proxyStatusCodes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_proxy_responses_total",
		Help: "Gateway proxy responses by upstream and status class",
	}, []string{"upstream", "class"}) // class=2xx|3xx|4xx|5xx

	sessionOutcome = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_session_total",
		Help: "Session issuance and validation outcomes",
	}, []string{"operation", "outcome"}) // operation=issue|validate
)

// RecordResponseCacheResult records a gateway response cache lookup.
func RecordResponseCacheResult(tier, outcome string) {
	responseCacheResult.WithLabelValues(tier, outcome).Inc()
}

// ObserveRefreshDuration records how long a stations catalog refresh took.
func ObserveRefreshDuration(outcome string, seconds float64) {
	refreshDuration.WithLabelValues(outcome).Observe(seconds)
}

// RecordValidationOutcome records a stream validation probe result.
func RecordValidationOutcome(outcome string) {
	validationOutcome.WithLabelValues(outcome).Inc()
}

// RecordProxyStatus records a gateway proxy response's status class for an upstream.
func RecordProxyStatus(upstream string, statusCode int) {
	class := "2xx"
	switch {
	case statusCode >= 500:
		class = "5xx"
	case statusCode >= 400:
		class = "4xx"
	case statusCode >= 300:
		class = "3xx"
	}
	proxyStatusCodes.WithLabelValues(upstream, class).Inc()
}

// RecordSessionOutcome records a session issuance or validation outcome.
func RecordSessionOutcome(operation, outcome string) {
	sessionOutcome.WithLabelValues(operation, outcome).Inc()
}
