// Package payload validates the structured JSON accepted by apply and
// the MCP adapter before it reaches the engine. Each action has a JSON
// Schema compiled once; unknown fields, missing required fields and
// wrongly typed values are rejected.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Field types used in action schemas.
const (
	typeString  = "string"
	typeInteger = "integer"
	typeRoles   = "roles"
)

type action struct {
	required []string
	optional []string
}

// actions maps each action to its fields. The "action" discriminator is
// implicit.
var actions = map[string]action{
	"init":                    {required: []string{"milestone", "roles"}, optional: []string{"run_date"}},
	"open-gate":               {required: []string{"milestone", "phase", "gate_id", "allowed_role", "target_commit"}, optional: []string{"task"}},
	"ack":                     {required: []string{"milestone", "role", "command", "gate_id", "commit"}, optional: []string{"phase", "task"}},
	"heartbeat":               {required: []string{"milestone", "role", "status"}, optional: []string{"phase", "task", "eta_min", "gate_id", "target_commit", "branch"}},
	"phase-complete":          {required: []string{"milestone", "role", "phase", "gate_id", "commit"}, optional: []string{"task", "branch"}},
	"recovery-check":          {required: []string{"milestone", "role"}, optional: []string{"last_seen_gate", "task"}},
	"state-sync-ok":           {required: []string{"milestone", "role", "gate_id", "target_commit"}, optional: []string{"task"}},
	"ping":                    {required: []string{"milestone", "role", "gate_id"}, optional: []string{"phase", "target_commit", "task"}},
	"unconfirmed-instruction": {required: []string{"milestone", "role", "command"}, optional: []string{"gate_id", "phase", "target_commit", "ping_count", "task"}},
	"log-pending":             {required: []string{"milestone"}, optional: []string{"phase", "gate_id", "target_commit", "task"}},
	"stale-detected":          {required: []string{"milestone", "role"}, optional: []string{"gate_id", "phase", "target_commit", "ping_count", "task"}},
	"gate-review":             {required: []string{"milestone", "role", "gate_id", "result", "report_commit", "report_path"}, optional: []string{"phase", "task"}},
	"gate-close":              {required: []string{"milestone", "gate_id", "result", "report_commit", "report_path"}, optional: []string{"phase", "task"}},
	"render":                  {required: []string{"milestone"}},
	"audit":                   {required: []string{"milestone"}},
}

var fieldTypes = map[string]string{
	"roles":      typeRoles,
	"eta_min":    typeInteger,
	"ping_count": typeInteger,
}

// Actions returns the accepted action names, sorted.
func Actions() []string {
	out := make([]string, 0, len(actions))
	for name := range actions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Error describes a payload that failed validation.
type Error struct {
	Action string
	Reason string
}

func (e *Error) Error() string {
	if e.Action == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Action, e.Reason)
}

// Validator checks payloads against the compiled action schemas.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// NewValidator compiles every action schema.
func NewValidator() (*Validator, error) {
	v := &Validator{schemas: make(map[string]*jsonschema.Schema, len(actions))}
	for name, a := range actions {
		sch, err := compile(name, a)
		if err != nil {
			return nil, fmt.Errorf("compiling %s schema: %w", name, err)
		}
		v.schemas[name] = sch
	}
	return v, nil
}

// Validate checks data and returns its action name.
func (v *Validator) Validate(data []byte) (string, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return "", &Error{Reason: "empty payload"}
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return "", &Error{Reason: fmt.Sprintf("not well-formed JSON: %v", err)}
	}
	obj, ok := inst.(map[string]any)
	if !ok {
		return "", &Error{Reason: "payload must be a JSON object"}
	}
	name, _ := obj["action"].(string)
	if name == "" {
		return "", &Error{Reason: `missing "action"`}
	}
	sch, ok := v.schemas[name]
	if !ok {
		return "", &Error{Reason: fmt.Sprintf("unknown action %q (want one of %s)", name, strings.Join(Actions(), ", "))}
	}
	if err := sch.Validate(inst); err != nil {
		return name, &Error{Action: name, Reason: err.Error()}
	}
	return name, nil
}

// Schema returns the JSON Schema document of action.
func Schema(name string) (json.RawMessage, bool) {
	a, ok := actions[name]
	if !ok {
		return nil, false
	}
	data, err := json.Marshal(schemaDoc(name, a))
	if err != nil {
		return nil, false
	}
	return data, true
}

func compile(name string, a action) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schemaDoc(name, a))
	if err != nil {
		return nil, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	url := name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

func schemaDoc(name string, a action) map[string]any {
	props := map[string]any{
		"action": map[string]any{"const": name},
	}
	for _, f := range a.required {
		props[f] = property(f, true)
	}
	for _, f := range a.optional {
		props[f] = property(f, false)
	}
	return map[string]any{
		"$schema":              "https://json-schema.org/draft/2020-12/schema",
		"type":                 "object",
		"required":             append([]string{"action"}, a.required...),
		"properties":           props,
		"additionalProperties": false,
	}
}

func property(field string, required bool) map[string]any {
	switch fieldTypes[field] {
	case typeInteger:
		return map[string]any{"type": "integer", "minimum": 0}
	case typeRoles:
		return map[string]any{
			"type":     "array",
			"minItems": 1,
			"items":    map[string]any{"type": "string", "minLength": 1},
		}
	}
	p := map[string]any{"type": "string"}
	if required {
		p["minLength"] = 1
	}
	return p
}
