// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gate_bot"

var (
	Updates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "updates_total",
		Help:      "Telegram updates routed by the dispatcher, by kind.",
	}, []string{"kind"})
	MembershipChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "membership_checks_total",
		Help:      "Membership verifications, by outcome.",
	}, []string{"outcome"})
	Lookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lookups_total",
		Help:      "Profile lookups, by outcome.",
	}, []string{"outcome"})
	LookupDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "lookup_duration_seconds",
		Help:      "Profile lookup request duration.",
		Buckets:   prometheus.DefBuckets,
	})
	HandlerErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "handler_errors_total",
		Help:      "Updates that ended in the generic error reply, by kind.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(Updates, MembershipChecks, Lookups, LookupDuration, HandlerErrors)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncUpdate counts a routed update.
func IncUpdate(kind string) { Updates.WithLabelValues(kind).Inc() }

// IncHandlerError counts an update that failed at the handler boundary.
func IncHandlerError(kind string) { HandlerErrors.WithLabelValues(kind).Inc() }

// IncMembershipCheck counts a verification outcome.
func IncMembershipCheck(outcome string) { MembershipChecks.WithLabelValues(outcome).Inc() }

// ObserveLookup records a lookup outcome and its duration.
func ObserveLookup(outcome string, start time.Time) {
	Lookups.WithLabelValues(outcome).Inc()
	LookupDuration.Observe(time.Since(start).Seconds())
}
