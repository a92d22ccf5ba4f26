package httpapi

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// Schema and PropertySchema are a trimmed adaptation of the teacher's
// generic request validator: only the property types and formats the
// gateway's three request bodies (create_task, register_server,
// update_task) actually use.
type Schema struct {
	Required   []string
	Properties map[string]PropertySchema
	MaxSize    int
}

type PropertySchema struct {
	Type      string // string, number, integer, boolean, array, object
	MinLength int
	MaxLength int
	Min       float64
	Max       float64
	Enum      []string
	Required  bool
}

// Validator holds the schemas for the gateway's three validated request
// bodies. Grounded on api-gateway's request_validator.go, trimmed to the
// property kinds this gateway's bodies use.
type Validator struct {
	schemas map[string]*Schema
}

var identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

func NewValidator() *Validator {
	v := &Validator{schemas: make(map[string]*Schema)}

	v.schemas["create_task"] = &Schema{
		Required: []string{"type", "payload"},
		MaxSize:  1 << 20,
		Properties: map[string]PropertySchema{
			"type":     {Type: "string", MinLength: 1, MaxLength: 128, Required: true},
			"priority": {Type: "integer", Min: 0, Max: 10},
			"payload":  {Type: "object", Required: true},
			"async":    {Type: "boolean"},
		},
	}

	v.schemas["register_server"] = &Schema{
		Required: []string{"name", "endpoints", "maxConcurrency"},
		MaxSize:  1 << 16,
		Properties: map[string]PropertySchema{
			"name":           {Type: "string", MinLength: 1, MaxLength: 256, Required: true},
			"endpoints":      {Type: "object", Required: true},
			"maxConcurrency": {Type: "integer", Min: 1, Max: 10000, Required: true},
			"priority":       {Type: "integer", Min: 0, Max: 100},
		},
	}

	v.schemas["update_task"] = &Schema{
		Required: []string{"status"},
		MaxSize:  1 << 20,
		Properties: map[string]PropertySchema{
			"status":   {Type: "string", Enum: []string{"PROCESSING", "COMPLETED", "FAILED", "TIMEOUT"}, Required: true},
			"progress": {Type: "integer", Min: 0, Max: 100},
			"error":    {Type: "string", MaxLength: 4096},
		},
	}

	return v
}

// ValidateJSON parses body against schemaName and reports the first
// violation found.
func (v *Validator) ValidateJSON(schemaName string, body []byte) error {
	schema, ok := v.schemas[schemaName]
	if !ok {
		return fmt.Errorf("unknown schema %q", schemaName)
	}
	if schema.MaxSize > 0 && len(body) > schema.MaxSize {
		return fmt.Errorf("request body exceeds %d bytes", schema.MaxSize)
	}

	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return v.validate(schema, data)
}

func (v *Validator) validate(schema *Schema, data map[string]any) error {
	for _, field := range schema.Required {
		if _, ok := data[field]; !ok {
			return fmt.Errorf("field %q is required", field)
		}
	}
	for field, value := range data {
		ps, ok := schema.Properties[field]
		if !ok {
			continue // unknown fields are ignored, not rejected
		}
		if err := validateProperty(field, value, ps); err != nil {
			return err
		}
	}
	return nil
}

func validateProperty(field string, value any, ps PropertySchema) error {
	switch ps.Type {
	case "string":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("field %q must be a string", field)
		}
		if ps.MinLength > 0 && len(s) < ps.MinLength {
			return fmt.Errorf("field %q shorter than %d characters", field, ps.MinLength)
		}
		if ps.MaxLength > 0 && len(s) > ps.MaxLength {
			return fmt.Errorf("field %q longer than %d characters", field, ps.MaxLength)
		}
		if len(ps.Enum) > 0 && !contains(ps.Enum, s) {
			return fmt.Errorf("field %q must be one of %v", field, ps.Enum)
		}
	case "integer", "number":
		n, ok := value.(float64)
		if !ok {
			return fmt.Errorf("field %q must be a number", field)
		}
		if ps.Type == "integer" && n != float64(int64(n)) {
			return fmt.Errorf("field %q must be an integer", field)
		}
		if ps.Max > 0 && n > ps.Max {
			return fmt.Errorf("field %q exceeds maximum %v", field, ps.Max)
		}
		if n < ps.Min {
			return fmt.Errorf("field %q below minimum %v", field, ps.Min)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("field %q must be a boolean", field)
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return fmt.Errorf("field %q must be an object", field)
		}
	}
	return nil
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// SanitizeIdentifier mirrors the teacher's IsAlphanumeric guard: it reports
// whether s matches identifierPattern. No handler calls it; path-derived ids
// reach the actors and storage keys without this check.
func SanitizeIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}
