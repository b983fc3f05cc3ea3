package validation

import (
	"fmt"

	"github.com/okonma/flowrail/internal/conditions"
	"github.com/okonma/flowrail/internal/handlers"
	"github.com/okonma/flowrail/pkg/schema"
)

// semanticChecker walks the step tree enforcing the rules the JSON Schema
// cannot express: globally unique step names, kind-specific required fields,
// handler registration, and expression compilation.
type semanticChecker struct {
	handlers   *handlers.Registry
	conditions *conditions.Evaluator
	seen       map[string]bool
	violations []string
}

func (c *semanticChecker) checkSteps(steps []schema.StepDefinition) {
	for i := range steps {
		c.checkStep(&steps[i])
	}
}

func (c *semanticChecker) checkStep(step *schema.StepDefinition) {
	if c.seen[step.Name] {
		c.addf("duplicate step name %q", step.Name)
	}
	c.seen[step.Name] = true

	switch step.Kind {
	case schema.StepKindAgent:
		if step.Instruction == "" {
			c.addf("agent step %q has no instruction", step.Name)
		}
	case schema.StepKindCode:
		if step.Handler == "" {
			c.addf("code step %q has no handler", step.Name)
		} else if c.handlers != nil && !c.handlers.Has(step.Handler) {
			c.addf("code step %q references unregistered handler %q", step.Name, step.Handler)
		}
	case schema.StepKindParallel:
		if len(step.Steps) == 0 {
			c.addf("parallel step %q has no child steps", step.Name)
		}
	case schema.StepKindLoop:
		if step.Condition == "" {
			c.addf("loop step %q has no condition", step.Name)
		} else {
			c.checkExpression(step.Name, "condition", step.Condition)
		}
		if len(step.Steps) == 0 {
			c.addf("loop step %q has no child steps", step.Name)
		}
	case schema.StepKindPerTask:
		if step.Source == "" {
			c.addf("per-task step %q has no source", step.Name)
		}
		if len(step.Steps) == 0 {
			c.addf("per-task step %q has no child steps", step.Name)
		}
	default:
		c.addf("step %q has unknown kind %q", step.Name, step.Kind)
	}

	if step.FailWhen != "" {
		c.checkExpression(step.Name, "failWhen", step.FailWhen)
	}
	if len(step.Steps) > 0 && !step.IsContainer() {
		c.addf("step %q of kind %q cannot carry child steps", step.Name, step.Kind)
	}

	c.checkSteps(step.Steps)
}

func (c *semanticChecker) checkExpression(stepName, field, expression string) {
	if c.conditions == nil {
		return
	}
	if err := c.conditions.Validate(expression); err != nil {
		c.addf("step %q: %s expression %q does not compile: %s", stepName, field, expression, err.Error())
	}
}

func (c *semanticChecker) addf(format string, args ...any) {
	c.violations = append(c.violations, fmt.Sprintf(format, args...))
}

func (c *semanticChecker) err() error {
	switch len(c.violations) {
	case 0:
		return nil
	case 1:
		return schema.NewError(schema.ErrCodeValidation, c.violations[0]).
			WithDetails(map[string]any{"violations": c.violations})
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "validation failed with %d errors", len(c.violations)).
			WithDetails(map[string]any{"violations": c.violations})
	}
}
