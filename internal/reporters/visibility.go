package reporters

import "github.com/okonma/flowrail/pkg/schema"

// ResolveVisibility walks the step tree once and returns the flattened
// stepName -> visibility list in definition order. A silent ancestor forces
// every descendant silent regardless of its own declaration; summary and
// visible ancestors impose nothing. Duplicate names resolve last-write-wins
// (plain map insertion order); load-time validation rejects duplicates before
// a run ever gets here.
func ResolveVisibility(steps []schema.StepDefinition) []StepVisibility {
	var flat []StepVisibility
	index := map[string]int{}

	var walk func(steps []schema.StepDefinition, forcedSilent bool)
	walk = func(steps []schema.StepDefinition, forcedSilent bool) {
		for _, step := range steps {
			vis := step.DeclaredVisibility()
			if forcedSilent {
				vis = schema.VisibilitySilent
			}
			if i, seen := index[step.Name]; seen {
				flat[i].Visibility = vis
			} else {
				index[step.Name] = len(flat)
				flat = append(flat, StepVisibility{Name: step.Name, Visibility: vis})
			}
			walk(step.Steps, forcedSilent || step.DeclaredVisibility() == schema.VisibilitySilent)
		}
	}
	walk(steps, false)
	return flat
}

// VisibilityMap converts the flattened list to a lookup map.
func VisibilityMap(flat []StepVisibility) map[string]schema.Visibility {
	m := make(map[string]schema.Visibility, len(flat))
	for _, sv := range flat {
		m[sv.Name] = sv.Visibility
	}
	return m
}
