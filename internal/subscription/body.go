// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package subscription

import (
	"bytes"
	"encoding/json"
)

// MessageKey holds a delivered message that is not a JSON object.
const MessageKey = "message"

// MergeBody builds the outbound call body from the service payload template
// and a delivered message. Keys of a JSON object message override template
// keys. Any other message (array, scalar, non-JSON bytes) is placed under
// MessageKey, again overriding a template key of that name.
func MergeBody(template map[string]any, message []byte) map[string]any {
	body := make(map[string]any, len(template)+1)
	for k, v := range template {
		body[k] = v
	}

	trimmed := bytes.TrimSpace(message)
	if len(trimmed) == 0 {
		return body
	}

	var decoded any
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil || dec.More() {
		body[MessageKey] = string(message)
		return body
	}

	obj, ok := decoded.(map[string]any)
	if !ok {
		body[MessageKey] = decoded
		return body
	}
	for k, v := range obj {
		body[k] = v
	}
	return body
}
