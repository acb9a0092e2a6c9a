// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Delivery outcomes.
const (
	DeliverySuccess = "success"
	DeliveryFailure = "failure"
)

var (
	DeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_deliveries_total",
		Help: "Outbound calls made for delivered messages, by topic and outcome",
	}, []string{"topic", "outcome"}) // outcome=success|failure

	DeliveryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bridge_delivery_duration_seconds",
		Help:    "Latency of outbound calls made for delivered messages",
		Buckets: prometheus.DefBuckets,
	}, []string{"verb"})

	SubscriptionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_subscriptions_active",
		Help: "Number of broker topic subscriptions currently held by running subscriber jobs",
	})

	SubscriberTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_subscriber_transitions_total",
		Help: "Subscriber job state transitions, by target state",
	}, []string{"state"})

	JobsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_jobs_finished_total",
		Help: "Queue jobs that reached a terminal or retry state, by kind and status",
	}, []string{"kind", "status"})

	JobsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_jobs_lease_expired_total",
		Help: "Running queue jobs failed by the sweeper because their heartbeat expired",
	})
)

// ObserveDelivery records one outbound call.
func ObserveDelivery(topic, verb string, d time.Duration, err error) {
	outcome := DeliverySuccess
	if err != nil {
		outcome = DeliveryFailure
	}
	DeliveriesTotal.WithLabelValues(topic, outcome).Inc()
	DeliveryDuration.WithLabelValues(verb).Observe(d.Seconds())
}

// IncSubscriberTransition records a subscriber job entering state.
func IncSubscriberTransition(state string) {
	SubscriberTransitionsTotal.WithLabelValues(state).Inc()
}

// IncJobFinished records a job outcome.
func IncJobFinished(kind, status string) {
	JobsFinishedTotal.WithLabelValues(kind, status).Inc()
}
