// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BrokerDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_broker_dropped_total",
		Help: "Total number of broker messages dropped before reaching a subscriber, by topic and reason",
	}, []string{"topic", "reason"})

	BrokerReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_broker_received_total",
		Help: "Total number of broker messages handed to subscribers, by backend",
	}, []string{"backend"})
)

// IncBrokerDrop records a dropped broker message with a concrete reason.
func IncBrokerDrop(topic, reason string) {
	if topic == "" {
		topic = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	BrokerDroppedTotal.WithLabelValues(topic, reason).Inc()
}

// IncBrokerReceived records a message delivered to a subscription channel.
func IncBrokerReceived(backend string) {
	BrokerReceivedTotal.WithLabelValues(backend).Inc()
}
