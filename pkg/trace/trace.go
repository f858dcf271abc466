// Package trace models the artifact a runner emits per test: wall-clock
// duration, milestone results, and raw feedback entries, plus an optional
// verification snapshot for offline validation. Traces are read and written
// as single JSON files, one per test per crank.
package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FeedbackType is the accepted set of feedback kinds a runner may emit.
type FeedbackType string

const (
	FeedbackImprovement FeedbackType = "improvement"
	FeedbackBug         FeedbackType = "bug"
	FeedbackWorkaround  FeedbackType = "workaround"
	FeedbackObservation FeedbackType = "observation"
)

// RawFeedback is one feedback entry as written by a runner, before
// normalization by the extractor.
type RawFeedback struct {
	Type   FeedbackType `json:"type"`
	Area   string       `json:"area,omitempty"`
	Title  string       `json:"title,omitempty"`
	Detail string       `json:"detail,omitempty"`
	Files  []string     `json:"files,omitempty"`
}

// Trace is the document a runner writes for one test.
type Trace struct {
	TestID           string                 `json:"testId"`
	WallClockMs      int64                  `json:"wallClockMs"`
	MilestoneResults map[string]bool        `json:"milestoneResults"`
	Feedback         []RawFeedback          `json:"feedback"`
	StepsUsed        int                    `json:"stepsUsed,omitempty"`
	Errors           int                    `json:"errors,omitempty"`
	RecoveredErrors  int                    `json:"recoveredErrors,omitempty"`
	ResponseChecks   *ResponseChecks        `json:"responseChecks,omitempty"`
	Snapshot         map[string]interface{} `json:"snapshot,omitempty"`
}

// ResponseChecks tallies assistant-response quality checks performed by the runner.
type ResponseChecks struct {
	Passed int `json:"passed"`
	Total  int `json:"total"`
}

// shapeProbe reports whether the JSON document actually carried
// the milestoneResults key, distinguishing "absent" from "present but empty".
type shapeProbe struct {
	MilestoneResults *map[string]bool `json:"milestoneResults"`
}

// Load reads and shape-validates a trace file. A malformed trace (missing
// the required milestoneResults field) is returned with ok=false rather
// than an error — callers are expected to record status=error, composite 0,
// per spec.md §3/§8.4, not treat it as an infrastructural failure.
func Load(path string) (tr *Trace, ok bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}

	var probe shapeProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, false, nil
	}
	if probe.MilestoneResults == nil {
		return nil, false, nil
	}

	var t Trace
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, false, nil
	}

	return &t, true, nil
}

// Write atomically writes tr to path using the write-temp-then-rename
// discipline every filesystem-as-message-bus artifact in this system uses.
func Write(path string, tr *Trace) error {
	data, err := json.MarshalIndent(tr, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal trace: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create trace directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write trace: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to finalize trace: %w", err)
	}
	return nil
}

// PathFor returns the conventional trace path for testID within runDir.
func PathFor(runDir, testID string) string {
	return filepath.Join(runDir, testID+".trace.json")
}
