// Package testdef models test definitions: the structured documents that
// name a test's id, target url, category, task prose, weighted milestones,
// and step/time budget.
package testdef

import "github.com/lotreace/skill-flywheel/pkg/verify"

// Category is the closed set of test categories from spec.md §6.
type Category string

const (
	CategoryRead             Category = "read"
	CategoryCreate           Category = "create"
	CategoryUpdate           Category = "update"
	CategoryDelete           Category = "delete"
	CategoryFileManipulation Category = "file_manipulation"
	CategoryOther            Category = "other"
)

// TestDefinition is one test's structured specification.
type TestDefinition struct {
	ID         string      `yaml:"id"`
	URL        string      `yaml:"url"`
	Category   Category    `yaml:"category"`
	Task       string      `yaml:"task"`
	Milestones []Milestone `yaml:"milestones"`
	Budget     Budget      `yaml:"budget"`
}

// Milestone is a weighted, verifiable checkpoint within a test.
type Milestone struct {
	ID     string      `yaml:"id"`
	Weight float64     `yaml:"weight"`
	Verify verify.Block `yaml:"verify"`
}

// Budget bounds a test's expected step count and wall-clock time.
type Budget struct {
	MaxSteps  int `yaml:"maxSteps"`
	MaxTimeMs int `yaml:"maxTimeMs"`
}

// WeightSum sums the milestone weights, used by the validator's
// weight-sum checks.
func (t *TestDefinition) WeightSum() float64 {
	var sum float64
	for _, m := range t.Milestones {
		sum += m.Weight
	}
	return sum
}
