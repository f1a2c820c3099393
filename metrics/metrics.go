// Package metrics exposes the scheduler's operational counters. These are
// health signals for operators, not engagement analytics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DeliveriesTotal counts finalized delivery records by kind
	// (primary/secondary) and terminal outcome (delivered/failed/cancelled).
	DeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coursedrip",
		Name:      "deliveries_total",
		Help:      "Finalized delivery records by kind and outcome.",
	}, []string{"kind", "outcome"})

	// ClaimRacesTotal counts claims lost to another driver instance. Lost
	// races are expected under horizontal scaling, not errors.
	ClaimRacesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "coursedrip",
		Name:      "claim_races_total",
		Help:      "Delivery claims lost to a concurrent worker.",
	})

	// TransportRetriesTotal counts individual transport attempts beyond the
	// first.
	TransportRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "coursedrip",
		Name:      "transport_retries_total",
		Help:      "Transport send retries after a transient failure.",
	})

	// PersonalizationErrorsTotal counts renders aborted by a missing token.
	PersonalizationErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "coursedrip",
		Name:      "personalization_errors_total",
		Help:      "Template renders aborted by a missing subscriber token.",
	})

	// TickDuration observes how long one full driver tick takes.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "coursedrip",
		Name:      "tick_duration_seconds",
		Help:      "Duration of one scheduler driver tick.",
		Buckets:   prometheus.DefBuckets,
	})

	// TickErrorsTotal counts ticks aborted by store unavailability.
	TickErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "coursedrip",
		Name:      "tick_errors_total",
		Help:      "Driver ticks aborted before completing enumeration.",
	})
)
