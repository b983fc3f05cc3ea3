// Package validation checks workflow definitions at load time, before any
// step runs. Shape checks go through an embedded JSON Schema; semantic checks
// cover the rules the schema cannot express (unique step names, kind-specific
// required fields, handler registration, expression compilation).
package validation

import (
	"encoding/json"

	"github.com/okonma/flowrail/internal/conditions"
	"github.com/okonma/flowrail/internal/handlers"
	"github.com/okonma/flowrail/pkg/schema"
)

// ValidateDefinition validates a workflow definition end to end. A nil
// registry or evaluator skips the corresponding semantic checks; callers
// without a configured engine can still reject structural problems early.
func ValidateDefinition(def *schema.WorkflowDefinition, reg *handlers.Registry, conds *conditions.Evaluator) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow definition is nil")
	}
	if err := validateShape(def); err != nil {
		return err
	}

	checker := &semanticChecker{
		handlers:   reg,
		conditions: conds,
		seen:       make(map[string]bool),
	}
	checker.checkSteps(def.Steps)
	return checker.err()
}

// LoadDefinition parses raw JSON into a WorkflowDefinition and validates it.
// The shape check runs against the raw document so unknown fields are
// rejected instead of silently dropped by unmarshaling.
func LoadDefinition(data []byte, reg *handlers.Registry, conds *conditions.Evaluator) (*schema.WorkflowDefinition, error) {
	if err := validateRawShape(data); err != nil {
		return nil, err
	}

	var def schema.WorkflowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow definition is not valid JSON").WithCause(err)
	}
	if err := ValidateDefinition(&def, reg, conds); err != nil {
		return nil, err
	}
	return &def, nil
}
