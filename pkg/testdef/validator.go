package testdef

import (
	"fmt"
	"strings"
)

// Validator accumulates warnings and errors while validating a TestDefinition.
type Validator struct {
	Warnings []string
	Errors   []string
}

// NewValidator creates a Validator.
func NewValidator() *Validator {
	return &Validator{Warnings: make([]string, 0), Errors: make([]string, 0)}
}

// Validate validates td, resetting prior accumulated state.
func (v *Validator) Validate(td *TestDefinition) error {
	v.Warnings = v.Warnings[:0]
	v.Errors = v.Errors[:0]

	v.validateID(td)
	v.validateCategory(td)
	v.validateMilestones(td)
	v.validateBudget(td)

	if len(v.Errors) > 0 {
		return fmt.Errorf("validation failed with %d errors", len(v.Errors))
	}
	return nil
}

func (v *Validator) HasWarnings() bool { return len(v.Warnings) > 0 }
func (v *Validator) HasErrors() bool   { return len(v.Errors) > 0 }

// GetReport returns a formatted validation report.
func (v *Validator) GetReport() string {
	var sb strings.Builder
	if len(v.Errors) > 0 {
		sb.WriteString("ERRORS:\n")
		for _, e := range v.Errors {
			sb.WriteString(fmt.Sprintf("  - %s\n", e))
		}
	}
	if len(v.Warnings) > 0 {
		sb.WriteString("\nWARNINGS:\n")
		for _, w := range v.Warnings {
			sb.WriteString(fmt.Sprintf("  - %s\n", w))
		}
	}
	if len(v.Errors) == 0 && len(v.Warnings) == 0 {
		sb.WriteString("Validation passed with no issues.\n")
	}
	return sb.String()
}

func (v *Validator) validateID(td *TestDefinition) {
	if td.ID == "" {
		v.Errors = append(v.Errors, "id is required")
	}
	if td.URL == "" {
		v.Errors = append(v.Errors, "url is required")
	}
}

func (v *Validator) validateCategory(td *TestDefinition) {
	switch td.Category {
	case CategoryRead, CategoryCreate, CategoryUpdate, CategoryDelete, CategoryFileManipulation, CategoryOther:
	case "":
		v.Errors = append(v.Errors, "category is required")
	default:
		v.Warnings = append(v.Warnings, fmt.Sprintf("category %q is not in the closed set; treat as 'other'", td.Category))
	}
}

func (v *Validator) validateMilestones(td *TestDefinition) {
	if len(td.Milestones) == 0 {
		v.Errors = append(v.Errors, "milestones must have at least one entry")
		return
	}

	seen := make(map[string]bool)
	for i, m := range td.Milestones {
		if m.ID == "" {
			v.Errors = append(v.Errors, fmt.Sprintf("milestones[%d].id is required", i))
		} else if seen[m.ID] {
			v.Errors = append(v.Errors, fmt.Sprintf("milestones[%d].id %q is duplicated", i, m.ID))
		}
		seen[m.ID] = true

		if m.Weight < 0 || m.Weight > 1 {
			v.Errors = append(v.Errors, fmt.Sprintf("milestones[%d].weight must be in [0, 1], got %v", i, m.Weight))
		}
	}

	sum := td.WeightSum()
	if sum > 1 {
		v.Errors = append(v.Errors, fmt.Sprintf("sum of milestone weights must be <= 1, got %v", sum))
	} else if sum < 1 {
		v.Warnings = append(v.Warnings, fmt.Sprintf("sum of milestone weights is %v (< 1); 'perfect' will never be attainable for this test", sum))
	}
}

func (v *Validator) validateBudget(td *TestDefinition) {
	if td.Budget.MaxSteps < 0 {
		v.Errors = append(v.Errors, "budget.maxSteps cannot be negative")
	}
	if td.Budget.MaxTimeMs < 0 {
		v.Errors = append(v.Errors, "budget.maxTimeMs cannot be negative")
	}
	if td.Budget.MaxSteps == 0 {
		v.Warnings = append(v.Warnings, "budget.maxSteps is 0; efficiency will be 1 only when stepsUsed is also 0")
	}
}
