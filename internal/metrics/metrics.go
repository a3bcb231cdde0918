package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BookingRequests counts reservation attempts.
	// Labels: outcome (created, slot_conflict, facility_unavailable, blocked, error)
	BookingRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pinabook",
		Subsystem: "reservations",
		Name:      "requests_total",
		Help:      "Total reservation requests by outcome",
	}, []string{"outcome"})

	BookingTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pinabook",
		Subsystem: "reservations",
		Name:      "transitions_total",
		Help:      "Total booking status transitions",
	}, []string{"from", "to"})

	SlotLockWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pinabook",
		Subsystem: "reservations",
		Name:      "slot_lock_wait_seconds",
		Help:      "Time spent waiting for a slot lock",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	SubscriptionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pinabook",
		Subsystem: "subscriptions",
		Name:      "transitions_total",
		Help:      "Total subscription status transitions",
	}, []string{"from", "to"})

	// CollaboratorCalls counts calls to external collaborators.
	// Labels: collaborator (billing, object_store, search, notifier), status (ok, error)
	CollaboratorCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pinabook",
		Subsystem: "collaborators",
		Name:      "calls_total",
		Help:      "Total calls to external collaborators",
	}, []string{"collaborator", "status"})

	ImageCleanupFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pinabook",
		Subsystem: "catalog",
		Name:      "image_cleanup_failures_total",
		Help:      "Orphaned images that could not be deleted",
	})

	CounterDrift = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pinabook",
		Subsystem: "projector",
		Name:      "drift_detected_total",
		Help:      "Affiliates whose stored counters differed from a fresh scan",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pinabook",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// ObserveCollaborator records the outcome of a collaborator call.
func ObserveCollaborator(collaborator string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	CollaboratorCalls.WithLabelValues(collaborator, status).Inc()
}
