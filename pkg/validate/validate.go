// Package validate implements C5: scoring a single test's trace against its
// definition's milestones, producing the four sub-scores and composite score
// spec.md §4.3 defines, using an offline snapshot with live-browser fallback
// for milestones a snapshot alone cannot verify.
package validate

import (
	"github.com/lotreace/skill-flywheel/pkg/testdef"
	"github.com/lotreace/skill-flywheel/pkg/trace"
	"github.com/lotreace/skill-flywheel/pkg/verify"
)

// Status is a per-test validation outcome.
type Status string

const (
	StatusPass    Status = "pass"
	StatusFail    Status = "fail"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// DefaultPassThreshold is the composite score a test must reach to pass,
// per spec.md §4.3, absent an operator override.
const DefaultPassThreshold = 0.5

// MilestoneOutcome records whether one milestone was achieved and anything
// that could not be verified while checking it.
type MilestoneOutcome struct {
	MilestoneID  string
	Weight       float64
	Achieved     bool
	Unverifiable []string
}

// Result is one test's full validation outcome.
type Result struct {
	TestID           string
	Status           Status
	MilestoneResults []MilestoneOutcome
	Completion       float64
	Efficiency       float64
	Resilience       float64
	ResponseQuality  float64
	Composite        float64
}

// Options overrides validation defaults.
type Options struct {
	PassThreshold float64
}

func (o Options) threshold() float64 {
	if o.PassThreshold > 0 {
		return o.PassThreshold
	}
	return DefaultPassThreshold
}

// Validate scores tr against td's milestones. liveCtx supplies live-browser
// fallback state for milestones a snapshot cannot answer; it may be
// verify.Unavailable when no live context was obtainable for this run.
func Validate(td testdef.TestDefinition, tr *trace.Trace, liveCtx verify.Context, opts Options) Result {
	res := Result{TestID: td.ID}

	snapshot := snapshotContextFrom(tr)
	ctx := verify.Fallback(snapshot, liveCtx)

	res.MilestoneResults = make([]MilestoneOutcome, 0, len(td.Milestones))
	for _, m := range td.Milestones {
		achieved, unverifiable := verify.Evaluate(m.Verify, ctx)

		// The trace's own milestoneResults flag, if the runner already
		// recorded an authoritative outcome, takes precedence over
		// re-evaluating the verify block — runners observe transient
		// in-browser state the snapshot/live fallback may have lost.
		if tr != nil {
			if recorded, ok := tr.MilestoneResults[m.ID]; ok {
				achieved = recorded
			}
		}

		outcome := MilestoneOutcome{MilestoneID: m.ID, Weight: m.Weight, Achieved: achieved}
		for _, u := range unverifiable {
			outcome.Unverifiable = append(outcome.Unverifiable, u.Primitive)
		}
		res.MilestoneResults = append(res.MilestoneResults, outcome)
	}

	res.Completion = completion(res.MilestoneResults)
	res.Efficiency = efficiency(tr, td.Budget.MaxSteps)
	res.Resilience = resilience(tr)
	res.ResponseQuality = responseQuality(tr)
	res.Composite = 0.60*res.Completion + 0.15*res.Efficiency + 0.10*res.Resilience + 0.15*res.ResponseQuality

	if res.Composite >= opts.threshold() {
		res.Status = StatusPass
	} else {
		res.Status = StatusFail
	}

	return res
}

// IsPerfect reports whether res represents a perfect run: full completion
// and a passing status.
func (r Result) IsPerfect() bool {
	return r.Status == StatusPass && r.Completion == 1
}

// ErrorResult builds the Result recorded for a test whose trace could not be
// loaded at all.
func ErrorResult(testID string) Result {
	return Result{TestID: testID, Status: StatusError}
}

// SkippedResult builds the Result recorded for a test deliberately not run.
func SkippedResult(testID string) Result {
	return Result{TestID: testID, Status: StatusSkipped}
}

func completion(outcomes []MilestoneOutcome) float64 {
	var sum float64
	for _, o := range outcomes {
		if o.Achieved {
			sum += o.Weight
		}
	}
	if sum > 1 {
		sum = 1
	}
	return sum
}

func efficiency(tr *trace.Trace, budget int) float64 {
	if tr == nil {
		return 0
	}
	if budget <= 0 {
		if tr.StepsUsed == 0 {
			return 1
		}
		return 0
	}
	over := tr.StepsUsed - budget
	if over < 0 {
		over = 0
	}
	e := 1 - float64(over)/float64(budget)
	if e < 0 {
		e = 0
	}
	return e
}

func resilience(tr *trace.Trace) float64 {
	if tr == nil || tr.Errors == 0 {
		return 1
	}
	r := 0.5 + 0.5*float64(tr.RecoveredErrors)/float64(tr.Errors)
	if r > 1 {
		r = 1
	}
	if r < 0 {
		r = 0
	}
	return r
}

func responseQuality(tr *trace.Trace) float64 {
	if tr == nil || tr.ResponseChecks == nil || tr.ResponseChecks.Total == 0 {
		return 1
	}
	return float64(tr.ResponseChecks.Passed) / float64(tr.ResponseChecks.Total)
}

// snapshotContextFrom adapts a trace's raw snapshot map into a
// verify.SnapshotContext. The snapshot is an opaque blob keyed by
// convention: "url" (string), "domExists" (map[string]bool), "domText"
// (map[string]string).
func snapshotContextFrom(tr *trace.Trace) verify.Context {
	if tr == nil || tr.Snapshot == nil {
		return verify.SnapshotContext{}
	}

	sc := verify.SnapshotContext{
		DomExistsValue: map[string]bool{},
		DomTextValue:   map[string]string{},
	}

	if u, ok := tr.Snapshot["url"].(string); ok {
		sc.URLValue = &u
	}
	if de, ok := tr.Snapshot["domExists"].(map[string]interface{}); ok {
		for k, v := range de {
			if b, ok := v.(bool); ok {
				sc.DomExistsValue[k] = b
			}
		}
	}
	if dt, ok := tr.Snapshot["domText"].(map[string]interface{}); ok {
		for k, v := range dt {
			if s, ok := v.(string); ok {
				sc.DomTextValue[k] = s
			}
		}
	}

	return sc
}
