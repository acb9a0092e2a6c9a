// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package subscription defines subscription requests, the batch validator and
// the error taxonomy shared by the registry, the subscriber job and the API.
package subscription

import (
	"fmt"
	"sort"
	"strings"
)

// Verb is the HTTP method used for the outbound call.
type Verb string

const (
	VerbGet    Verb = "GET"
	VerbPost   Verb = "POST"
	VerbPatch  Verb = "PATCH"
	VerbPut    Verb = "PUT"
	VerbDelete Verb = "DELETE"
)

// DefaultVerb applies when a request omits service.verb.
const DefaultVerb = VerbPost

// ParseVerb normalises s. An empty string yields DefaultVerb.
func ParseVerb(s string) (Verb, error) {
	v := Verb(strings.ToUpper(strings.TrimSpace(s)))
	switch v {
	case "":
		return DefaultVerb, nil
	case VerbGet, VerbPost, VerbPatch, VerbPut, VerbDelete:
		return v, nil
	default:
		return "", fmt.Errorf("unsupported verb %q (expected GET, POST, PATCH, PUT or DELETE)", s)
	}
}

// Service describes the internal API call made for each delivered message.
type Service struct {
	Endpoint  string         `json:"endpoint"`
	Verb      Verb           `json:"verb,omitempty"`
	Header    map[string]any `json:"header,omitempty"`
	Parameter map[string]any `json:"parameter,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// EffectiveVerb returns the configured verb or DefaultVerb.
func (s Service) EffectiveVerb() Verb {
	if s.Verb == "" {
		return DefaultVerb
	}
	return s.Verb
}

// Request is one entry of a subscribe call.
type Request struct {
	Topic   string  `json:"topic"`
	Service Service `json:"service"`
}

// Batch is an ordered, non-empty sequence of requests.
type Batch []Request

// Topics returns the distinct topics of the batch in first-seen order.
func (b Batch) Topics() []string {
	seen := make(map[string]struct{}, len(b))
	out := make([]string, 0, len(b))
	for _, r := range b {
		if _, ok := seen[r.Topic]; ok {
			continue
		}
		seen[r.Topic] = struct{}{}
		out = append(out, r.Topic)
	}
	return out
}

// ForTopic returns the first request subscribed to topic.
func (b Batch) ForTopic(topic string) (Request, bool) {
	for _, r := range b {
		if r.Topic == topic {
			return r, true
		}
	}
	return Request{}, false
}

// StringMap renders a name/value map as strings, e.g. for headers and query
// parameters. Keys are visited in sorted order so callers get stable output.
func StringMap(m map[string]any) map[string]string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]string, len(m))
	for _, k := range keys {
		if m[k] == nil {
			out[k] = ""
			continue
		}
		out[k] = fmt.Sprint(m[k])
	}
	return out
}
