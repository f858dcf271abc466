package validate_test

import (
	"testing"

	"github.com/lotreace/skill-flywheel/pkg/testdef"
	"github.com/lotreace/skill-flywheel/pkg/trace"
	"github.com/lotreace/skill-flywheel/pkg/validate"
	"github.com/lotreace/skill-flywheel/pkg/verify"
)

func strPtr(s string) *string { return &s }

func TestCompletionSumsAchievedMilestoneWeights(t *testing.T) {
	// Two milestones weighted 0.4/0.6; the trace records no outcome, and
	// only the second matches the snapshot URL -> completion == 0.6.
	td := testdef.TestDefinition{
		ID: "t1",
		Milestones: []testdef.Milestone{
			{ID: "m1", Weight: 0.4, Verify: verify.Block{UrlContains: strPtr("never-matches")}},
			{ID: "m2", Weight: 0.6, Verify: verify.Block{UrlContains: strPtr("ok")}},
		},
		Budget: testdef.Budget{MaxSteps: 10},
	}
	tr := &trace.Trace{
		TestID:           "t1",
		MilestoneResults: map[string]bool{},
		Snapshot:         map[string]interface{}{"url": "https://example.com/ok"},
		StepsUsed:        5,
	}

	res := validate.Validate(td, tr, verify.Unavailable, validate.Options{})
	if res.Completion != 0.6 {
		t.Fatalf("expected completion 0.6, got %v", res.Completion)
	}
}

func TestTraceRecordedOutcomeOverridesReevaluation(t *testing.T) {
	td := testdef.TestDefinition{
		ID: "t2",
		Milestones: []testdef.Milestone{
			{ID: "m1", Weight: 1.0, Verify: verify.Block{UrlContains: strPtr("never-matches")}},
		},
	}
	tr := &trace.Trace{
		TestID:           "t2",
		MilestoneResults: map[string]bool{"m1": true},
	}

	res := validate.Validate(td, tr, verify.Unavailable, validate.Options{})
	if res.Completion != 1.0 {
		t.Fatalf("expected recorded milestone result to override verify re-check, got completion %v", res.Completion)
	}
}

func TestEfficiencyWithinBudgetIsOne(t *testing.T) {
	td := testdef.TestDefinition{Budget: testdef.Budget{MaxSteps: 10}}
	tr := &trace.Trace{StepsUsed: 10, MilestoneResults: map[string]bool{}}
	res := validate.Validate(td, tr, verify.Unavailable, validate.Options{})
	if res.Efficiency != 1 {
		t.Fatalf("expected efficiency 1 at budget boundary, got %v", res.Efficiency)
	}
}

func TestEfficiencyOverBudgetDecays(t *testing.T) {
	td := testdef.TestDefinition{Budget: testdef.Budget{MaxSteps: 10}}
	tr := &trace.Trace{StepsUsed: 15, MilestoneResults: map[string]bool{}}
	res := validate.Validate(td, tr, verify.Unavailable, validate.Options{})
	if res.Efficiency != 0.5 {
		t.Fatalf("expected efficiency 0.5 for 5 over a 10 budget, got %v", res.Efficiency)
	}
}

func TestEfficiencyZeroBudgetZeroSteps(t *testing.T) {
	td := testdef.TestDefinition{Budget: testdef.Budget{MaxSteps: 0}}
	tr := &trace.Trace{StepsUsed: 0, MilestoneResults: map[string]bool{}}
	res := validate.Validate(td, tr, verify.Unavailable, validate.Options{})
	if res.Efficiency != 1 {
		t.Fatalf("expected efficiency 1 for zero-budget zero-step test, got %v", res.Efficiency)
	}
}

func TestResilienceNoErrorsIsOne(t *testing.T) {
	td := testdef.TestDefinition{}
	tr := &trace.Trace{Errors: 0, MilestoneResults: map[string]bool{}}
	res := validate.Validate(td, tr, verify.Unavailable, validate.Options{})
	if res.Resilience != 1 {
		t.Fatalf("expected resilience 1, got %v", res.Resilience)
	}
}

func TestResilienceWithRecoveredErrors(t *testing.T) {
	td := testdef.TestDefinition{}
	tr := &trace.Trace{Errors: 2, RecoveredErrors: 2, MilestoneResults: map[string]bool{}}
	res := validate.Validate(td, tr, verify.Unavailable, validate.Options{})
	if res.Resilience != 1 {
		t.Fatalf("expected full recovery to give resilience 1, got %v", res.Resilience)
	}
}

func TestResponseQualityDefaultsToOneWithNoChecks(t *testing.T) {
	td := testdef.TestDefinition{}
	tr := &trace.Trace{MilestoneResults: map[string]bool{}}
	res := validate.Validate(td, tr, verify.Unavailable, validate.Options{})
	if res.ResponseQuality != 1 {
		t.Fatalf("expected response quality 1 absent checks, got %v", res.ResponseQuality)
	}
}

func TestStatusPassAndPerfectOnFullCompletion(t *testing.T) {
	td := testdef.TestDefinition{
		Milestones: []testdef.Milestone{{ID: "m1", Weight: 1.0}},
		Budget:     testdef.Budget{MaxSteps: 10},
	}
	tr := &trace.Trace{MilestoneResults: map[string]bool{"m1": true}, StepsUsed: 10}
	res := validate.Validate(td, tr, verify.Unavailable, validate.Options{})
	if res.Status != validate.StatusPass {
		t.Fatalf("expected pass, got %s (composite %v)", res.Status, res.Composite)
	}
	if !res.IsPerfect() {
		t.Fatal("expected a fully-completed passing test to be perfect")
	}
}

func TestErrorResultForUnloadableTrace(t *testing.T) {
	res := validate.ErrorResult("missing-test")
	if res.Status != validate.StatusError {
		t.Fatalf("expected error status, got %s", res.Status)
	}
	if res.Composite != 0 {
		t.Fatalf("expected zero composite for error result, got %v", res.Composite)
	}
}
