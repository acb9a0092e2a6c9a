// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package subscription

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeBody_MessageWinsOnConflict(t *testing.T) {
	template := map[string]any{"roleId": 1, "source": "bridge"}
	body := MergeBody(template, []byte(`{"roleId":5,"name":"admin"}`))

	assert.Equal(t, json.Number("5"), body["roleId"])
	assert.Equal(t, "admin", body["name"])
	assert.Equal(t, "bridge", body["source"])
	// template is not mutated
	assert.Equal(t, 1, template["roleId"])
}

func TestMergeBody_NonObjectMessages(t *testing.T) {
	template := map[string]any{"message": "template", "k": "v"}

	assert.Equal(t, []any{json.Number("1"), json.Number("2")}, MergeBody(template, []byte(`[1,2]`))[MessageKey])
	assert.Equal(t, "hello", MergeBody(template, []byte(`"hello"`))[MessageKey])
	assert.Equal(t, "plain text", MergeBody(template, []byte(`plain text`))[MessageKey])
	assert.Equal(t, "v", MergeBody(template, []byte(`plain text`))["k"])
}

func TestMergeBody_EmptyMessageKeepsTemplate(t *testing.T) {
	body := MergeBody(map[string]any{"a": "b"}, nil)
	assert.Equal(t, map[string]any{"a": "b"}, body)

	assert.Empty(t, MergeBody(nil, []byte("  ")))
}
