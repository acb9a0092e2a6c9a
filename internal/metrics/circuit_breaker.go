// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bridge_circuit_breaker_state",
		Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
	}, []string{"breaker"})

	BreakerTripsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_circuit_breaker_trips_total",
		Help: "Transitions of a circuit breaker into the open state, by reason",
	}, []string{"breaker", "reason"})
)

var breakerStateValues = map[string]float64{
	"closed":    0,
	"half-open": 1,
	"open":      2,
}

// SetCircuitBreakerState publishes the state of breaker. Unknown states are ignored.
func SetCircuitBreakerState(breaker, state string) {
	if v, ok := breakerStateValues[state]; ok {
		BreakerState.WithLabelValues(breaker).Set(v)
	}
}

// RecordCircuitBreakerTrip counts breaker opening for reason.
func RecordCircuitBreakerTrip(breaker, reason string) {
	BreakerTripsTotal.WithLabelValues(breaker, reason).Inc()
}
