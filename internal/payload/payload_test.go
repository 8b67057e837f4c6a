package payload

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_Accepts(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	tests := []struct {
		name   string
		input  string
		action string
	}{
		{"init", `{"action":"init","milestone":"m7","roles":["pm","backend"]}`, "init"},
		{"open gate", `{"action":"open-gate","milestone":"m7","phase":"1","gate_id":"G1","allowed_role":"backend","target_commit":"abc1234","task":"build"}`, "open-gate"},
		{"heartbeat with eta", `{"action":"heartbeat","milestone":"m7","role":"backend","status":"working","eta_min":15}`, "heartbeat"},
		{"stale with pings", `{"action":"stale-detected","milestone":"m7","role":"backend","ping_count":0}`, "stale-detected"},
		{"audit", `{"action":"audit","milestone":"m7"}`, "audit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, err := v.Validate([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.action, action)
		})
	}
}

func TestValidator_Rejects(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", ``, "empty payload"},
		{"not json", `{"action":`, "not well-formed JSON"},
		{"array", `[1,2]`, "must be a JSON object"},
		{"no action", `{"milestone":"m7"}`, `missing "action"`},
		{"unknown action", `{"action":"reticulate","milestone":"m7"}`, "unknown action"},
		{"missing field", `{"action":"ack","milestone":"m7","role":"backend","command":"GATE_OPEN","gate_id":"G1"}`, "ack"},
		{"empty required", `{"action":"render","milestone":""}`, "render"},
		{"unknown field", `{"action":"render","milestone":"m7","extra":true}`, "render"},
		{"wrong type", `{"action":"heartbeat","milestone":"m7","role":"backend","status":"working","eta_min":"soon"}`, "heartbeat"},
		{"negative count", `{"action":"stale-detected","milestone":"m7","role":"backend","ping_count":-1}`, "stale-detected"},
		{"no roles", `{"action":"init","milestone":"m7","roles":[]}`, "init"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate([]byte(tt.input))
			require.Error(t, err)
			var perr *Error
			require.ErrorAs(t, err, &perr)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSchema(t *testing.T) {
	raw, ok := Schema("gate-close")
	require.True(t, ok)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, false, doc["additionalProperties"])
	assert.Contains(t, doc["required"], "report_path")

	_, ok = Schema("nope")
	assert.False(t, ok)
	assert.Len(t, Actions(), 15)
}
