// Package tools defines the catalogue of actions the model may invoke and the
// executor that maps them onto device capabilities.
package tools

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Param describes one tool parameter. The zero value of the optional fields
// omits them from the serialized schema.
type Param struct {
	Name        string
	Type        string
	Description string
	Enum        []string
	Minimum     *float64
	Maximum     *float64
}

// Tool is a provider-agnostic action definition. Both provider adapters
// translate the same Tool values into their wire formats, so the
// model-visible capability surface never drifts between providers.
type Tool struct {
	Name        string
	Description string
	Parameters  []Param // ordered
	Required    []string
}

// Schema returns the JSON-schema object for the tool's parameters:
// {type:"object", properties:{...}, required:[...]}.
func (t Tool) Schema() map[string]interface{} {
	properties := make(map[string]interface{}, len(t.Parameters))
	for _, p := range t.Parameters {
		prop := map[string]interface{}{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			enum := make([]interface{}, len(p.Enum))
			for i, v := range p.Enum {
				enum[i] = v
			}
			prop["enum"] = enum
		}
		if p.Minimum != nil {
			prop["minimum"] = *p.Minimum
		}
		if p.Maximum != nil {
			prop["maximum"] = *p.Maximum
		}
		properties[p.Name] = prop
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(t.Required) > 0 {
		required := make([]interface{}, len(t.Required))
		for i, v := range t.Required {
			required[i] = v
		}
		schema["required"] = required
	}
	return schema
}

// Registry manages available tools. Read-only after construction.
type Registry struct {
	order []string
	tools map[string]Tool

	validatorMu sync.Mutex
	validators  map[string]*jsonschema.Schema
}

// NewRegistry creates the registry with the builtin tool set.
func NewRegistry() *Registry {
	r := &Registry{
		tools:      make(map[string]Tool),
		validators: make(map[string]*jsonschema.Schema),
	}
	r.registerBuiltinTools()
	return r
}

// Register adds a tool. Names are unique; re-registering a name replaces the
// definition without changing its position.
func (r *Registry) Register(tool Tool) {
	if _, exists := r.tools[tool.Name]; !exists {
		r.order = append(r.order, tool.Name)
	}
	r.tools[tool.Name] = tool
}

// List returns all tools in registration order.
func (r *Registry) List() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// ValidateArgs checks model-supplied arguments against the tool's parameter
// schema (types, enum membership, numeric bounds, required fields). The
// provider adapters call this before dispatching to the executor.
func (r *Registry) ValidateArgs(name string, args map[string]interface{}) error {
	tool, ok := r.tools[name]
	if !ok {
		return fmt.Errorf("unknown tool: %s", name)
	}

	schema, err := r.validator(tool)
	if err != nil {
		return err
	}

	if args == nil {
		args = map[string]interface{}{}
	}
	return schema.Validate(normalizeJSON(args))
}

func (r *Registry) validator(tool Tool) (*jsonschema.Schema, error) {
	r.validatorMu.Lock()
	defer r.validatorMu.Unlock()

	if s, ok := r.validators[tool.Name]; ok {
		return s, nil
	}

	raw, err := json.Marshal(tool.Schema())
	if err != nil {
		return nil, err
	}
	schema, err := jsonschema.CompileString(tool.Name+".schema.json", string(raw))
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", tool.Name, err)
	}
	r.validators[tool.Name] = schema
	return schema, nil
}

// normalizeJSON round-trips a value through encoding/json so the validator
// sees canonical JSON types even when arguments were built in Go code.
func normalizeJSON(v interface{}) interface{} {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

func floatPtr(v float64) *float64 { return &v }

func (r *Registry) registerBuiltinTools() {
	r.Register(Tool{
		Name:        "lock_car",
		Description: "Lock the car doors.",
	})

	r.Register(Tool{
		Name:        "unlock_car",
		Description: "Unlock the car doors.",
	})

	r.Register(Tool{
		Name:        "start_car_climate",
		Description: "Start the car's climate control, optionally at a target temperature in Celsius.",
		Parameters: []Param{
			{
				Name:        "temperature",
				Type:        "number",
				Description: "Target cabin temperature in Celsius",
				Minimum:     floatPtr(16),
				Maximum:     floatPtr(28),
			},
		},
	})

	r.Register(Tool{
		Name:        "stop_car_climate",
		Description: "Stop the car's climate control.",
	})

	r.Register(Tool{
		Name:        "get_car_status",
		Description: "Get the car's current status (lock state, battery, range, climate).",
	})

	r.Register(Tool{
		Name:        "start_mopbot",
		Description: "Start the mopbot robot vacuum, optionally in a specific cleaning mode.",
		Parameters: []Param{
			{
				Name:        "mode",
				Type:        "string",
				Description: "Cleaning mode",
				Enum:        []string{"auto", "spot", "edge"},
			},
		},
	})

	r.Register(Tool{
		Name:        "stop_mopbot",
		Description: "Stop the mopbot robot vacuum.",
	})

	r.Register(Tool{
		Name:        "dock_mopbot",
		Description: "Send the mopbot robot vacuum back to its dock.",
	})

	r.Register(Tool{
		Name:        "get_mopbot_status",
		Description: "Get the mopbot's current status (activity, battery, bin).",
	})

	r.Register(Tool{
		Name:        "list_entities",
		Description: "List home entities, optionally filtered by entity-id prefix or domain (e.g. 'switch', 'light').",
		Parameters: []Param{
			{Name: "prefix", Type: "string", Description: "Optional entity-id prefix filter"},
			{Name: "domain", Type: "string", Description: "Optional domain filter (e.g. 'switch')"},
		},
	})

	r.Register(Tool{
		Name:        "get_entity_state",
		Description: "Get the current state of one home entity.",
		Parameters: []Param{
			{Name: "entity_id", Type: "string", Description: "Exact entity id from list_entities"},
		},
		Required: []string{"entity_id"},
	})

	r.Register(Tool{
		Name:        "turn_on_entity",
		Description: "Turn a home entity on.",
		Parameters: []Param{
			{Name: "entity_id", Type: "string", Description: "Exact entity id from list_entities"},
		},
		Required: []string{"entity_id"},
	})

	r.Register(Tool{
		Name:        "turn_off_entity",
		Description: "Turn a home entity off.",
		Parameters: []Param{
			{Name: "entity_id", Type: "string", Description: "Exact entity id from list_entities"},
		},
		Required: []string{"entity_id"},
	})
}
