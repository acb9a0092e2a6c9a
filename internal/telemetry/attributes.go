// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by spans across the bridge.
const (
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPURLKey        = "http.url"

	TopicKey    = "messaging.destination"
	JobIDKey    = "bridge.job_id"
	EndpointKey = "bridge.endpoint"
	AttemptKey  = "bridge.attempt"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// DeliveryAttributes describes one outbound call made for a message.
func DeliveryAttributes(topic, jobID, method, endpoint string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(EndpointKey, endpoint),
	}
	if topic != "" {
		attrs = append(attrs, attribute.String(TopicKey, topic))
	}
	if jobID != "" {
		attrs = append(attrs, attribute.String(JobIDKey, jobID))
	}
	return attrs
}

// ErrorAttributes marks a span as failed with a coarse error class.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
