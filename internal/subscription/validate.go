// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package subscription

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Validate checks a raw decoded subscribe body (the result of json.Unmarshal
// into an `any`). The whole batch is rejected on the first violation.
func Validate(raw any) error {
	items, ok := raw.([]any)
	if !ok {
		return &ValidationError{Index: -1, Field: "body", Reason: "expected a JSON array of subscriptions"}
	}
	if len(items) == 0 {
		return &ValidationError{Index: -1, Field: "body", Reason: "at least one subscription is required"}
	}
	for i, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			return &ValidationError{Index: i, Field: "", Reason: "expected an object"}
		}
		if !nonEmptyString(entry["topic"]) {
			return &ValidationError{Index: i, Field: "topic", Reason: "must be a non-empty string"}
		}
		service, ok := entry["service"].(map[string]any)
		if !ok {
			return &ValidationError{Index: i, Field: "service", Reason: "must be an object"}
		}
		if !nonEmptyString(service["endpoint"]) {
			return &ValidationError{Index: i, Field: "service.endpoint", Reason: "must be a non-empty string"}
		}
		if v, present := service["verb"]; present && v != nil {
			s, ok := v.(string)
			if !ok {
				return &ValidationError{Index: i, Field: "service.verb", Reason: "must be a string"}
			}
			if _, err := ParseVerb(s); err != nil {
				return &ValidationError{Index: i, Field: "service.verb", Reason: err.Error()}
			}
		}
		for _, name := range []string{"header", "parameter", "payload"} {
			v, present := service[name]
			if !present || v == nil {
				continue
			}
			if _, ok := v.(map[string]any); !ok {
				return &ValidationError{Index: i, Field: "service." + name, Reason: "must be an object of name/value pairs"}
			}
		}
	}
	return nil
}

// ParseBatch validates raw and converts it into a typed Batch.
func ParseBatch(raw any) (Batch, error) {
	if err := Validate(raw); err != nil {
		return nil, err
	}
	items := raw.([]any)
	batch := make(Batch, 0, len(items))
	for _, item := range items {
		entry := item.(map[string]any)
		service := entry["service"].(map[string]any)
		verbStr, _ := service["verb"].(string)
		verb, _ := ParseVerb(verbStr)
		batch = append(batch, Request{
			Topic: strings.TrimSpace(entry["topic"].(string)),
			Service: Service{
				Endpoint:  strings.TrimSpace(service["endpoint"].(string)),
				Verb:      verb,
				Header:    asMap(service["header"]),
				Parameter: asMap(service["parameter"]),
				Payload:   asMap(service["payload"]),
			},
		})
	}
	return batch, nil
}

// DecodeBatch decodes and validates a JSON subscribe body.
func DecodeBatch(data []byte) (Batch, error) {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, &ValidationError{Index: -1, Field: "body", Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	return ParseBatch(raw)
}

func nonEmptyString(v any) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) != ""
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	if len(m) == 0 {
		return nil
	}
	return m
}
