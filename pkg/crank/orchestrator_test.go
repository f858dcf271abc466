package crank_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/lotreace/skill-flywheel/pkg/backlog"
	"github.com/lotreace/skill-flywheel/pkg/config"
	"github.com/lotreace/skill-flywheel/pkg/crank"
	"github.com/lotreace/skill-flywheel/pkg/flyerr"
)

const fakeRunnerScript = `#!/bin/sh
test_path="$2"
run_dir="$4"
base=$(basename "$test_path" .yaml)
cat > "$run_dir/$base.trace.json" <<EOF
{"testId":"$base","wallClockMs":5,"milestoneResults":{"m1":true},"feedback":[]}
EOF
`

const fakeFixerAlwaysSucceeds = `#!/bin/sh
exit 0
`

const fakeFixerAlwaysFails = `#!/bin/sh
exit 1
`

const fakeMatcherNoDecisions = `#!/bin/sh
out=""
while [ "$#" -gt 0 ]; do
  if [ "$1" = "--decisions-out" ]; then
    out="$2"
  fi
  shift
done
cat > "$out" <<EOF
{"matchedAt":"2026-01-01T00:00:00Z","decisions":[]}
EOF
`

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake collaborator scripts are POSIX shell only")
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeTestDef(t *testing.T, dir, id string) {
	t.Helper()
	content := "id: " + id + "\nurl: https://example.test\ncategory: read\nmilestones:\n  - id: m1\n    weight: 1\n"
	if err := os.WriteFile(filepath.Join(dir, id+".yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func baseConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	bin := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Backlog.Path = filepath.Join(root, "backlog.json")
	cfg.History.Path = filepath.Join(root, "history.ndjson")
	cfg.Runner.TestsDir = filepath.Join(root, "tests")
	cfg.Runner.RunsDir = filepath.Join(root, "runs")
	cfg.Runner.RunnerBin = writeScript(t, bin, "runner.sh", fakeRunnerScript)
	cfg.Runner.MaxConcurrency = 2
	cfg.Fixer.Bin = writeScript(t, bin, "fixer.sh", fakeFixerAlwaysSucceeds)
	cfg.Matcher.Bin = writeScript(t, bin, "matcher.sh", fakeMatcherNoDecisions)
	cfg.Matcher.FeedbackPath = filepath.Join(root, "feedback.json")
	cfg.Matcher.DecisionsPath = filepath.Join(root, "decisions.json")
	cfg.Matcher.MaxWait = 5 * time.Second
	cfg.Matcher.PollInterval = 20 * time.Millisecond
	cfg.Scoring.BaselineDir = filepath.Join(root, "baseline")
	cfg.Scoring.TrendPath = filepath.Join(root, "trend.ndjson")
	cfg.Reporting.OutputDir = filepath.Join(root, "reports")
	cfg.Reporting.KeepLast = 10

	if err := os.MkdirAll(cfg.Runner.TestsDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeTestDef(t, cfg.Runner.TestsDir, "alpha")

	return cfg
}

func writeBacklog(t *testing.T, path string, issues ...backlog.Issue) {
	t.Helper()
	bl := backlog.New(path)
	for _, i := range issues {
		bl.AddIssue(i)
	}
	if err := bl.Save(); err != nil {
		t.Fatal(err)
	}
}

func TestRunMeasureOnlySkipsSelectAndFix(t *testing.T) {
	cfg := baseConfig(t)
	o := crank.New(cfg, nil, nil)

	summary, err := o.Run(context.Background(), crank.ModeMeasureOnly)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.FixIssueID != "" {
		t.Fatalf("expected no fix issue recorded in measure-only mode, got %q", summary.FixIssueID)
	}
	if summary.TotalTests != 1 || summary.PassedTests != 1 {
		t.Fatalf("expected 1/1 passing, got %+v", summary)
	}
}

func TestRunFullModeWithNoBacklogReturnsBacklogMissing(t *testing.T) {
	cfg := baseConfig(t)
	o := crank.New(cfg, nil, nil)

	summary, err := o.Run(context.Background(), crank.ModeFull)
	if !flyerr.Is(err, flyerr.CodeBacklogMissing) {
		t.Fatalf("expected BacklogMissing when backlog is absent in full mode, got: %v", err)
	}
	if summary.FixIssueID != "" {
		t.Fatalf("expected no fix attempted with no backlog, got %q", summary.FixIssueID)
	}
}

func TestRunFullModeAppliesTopRecommendationAndRecordsFixedOutcome(t *testing.T) {
	cfg := baseConfig(t)
	writeBacklog(t, cfg.Backlog.Path, backlog.Issue{ID: "1.1", Title: "slow click", Section: "actions", Votes: 5, Status: backlog.StatusOpen})

	o := crank.New(cfg, nil, nil)
	summary, err := o.Run(context.Background(), crank.ModeFull)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.FixIssueID != "1.1" {
		t.Fatalf("expected issue 1.1 to be selected and fixed, got %q", summary.FixIssueID)
	}
	if summary.FixOutcome != string(backlog.OutcomeFixed) {
		t.Fatalf("expected fixed outcome, got %q", summary.FixOutcome)
	}
	if !summary.GatePassed {
		t.Fatalf("expected gate to pass with no prior baseline, got reason %q", summary.GateReason)
	}

	bl, err := backlog.Load(cfg.Backlog.Path)
	if err != nil {
		t.Fatal(err)
	}
	issue, ok := bl.FindIssue("1.1")
	if !ok {
		t.Fatal("expected issue 1.1 still present in backlog")
	}
	if len(issue.FixAttempts) != 1 || issue.FixAttempts[0].Outcome != backlog.OutcomeFixed {
		t.Fatalf("expected one fixed attempt recorded, got %+v", issue.FixAttempts)
	}
}

func TestRunFixerFailureJumpsStraightToRecordWithNoMeasurement(t *testing.T) {
	cfg := baseConfig(t)
	bin := filepath.Dir(cfg.Fixer.Bin)
	cfg.Fixer.Bin = writeScript(t, bin, "fixer-fail.sh", fakeFixerAlwaysFails)
	writeBacklog(t, cfg.Backlog.Path, backlog.Issue{ID: "1.1", Title: "broken fix", Section: "actions", Votes: 3, Status: backlog.StatusOpen})

	o := crank.New(cfg, nil, nil)
	summary, err := o.Run(context.Background(), crank.ModeFull)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.FixOutcome != string(backlog.OutcomeFailed) {
		t.Fatalf("expected failed outcome, got %q", summary.FixOutcome)
	}
	if summary.TotalTests != 0 {
		t.Fatalf("expected no measurement to run after fixer failure, got TotalTests=%d", summary.TotalTests)
	}

	reportPath := filepath.Join(cfg.Reporting.OutputDir, "crank-00001.json")
	if _, err := os.Stat(reportPath); !os.IsNotExist(err) {
		t.Fatalf("expected no report saved for a fixer-failure-only crank, stat err: %v", err)
	}
}

func TestRunFixOnlyAppliesTopRecommendationWithoutMeasuring(t *testing.T) {
	cfg := baseConfig(t)
	writeBacklog(t, cfg.Backlog.Path, backlog.Issue{ID: "1.1", Title: "slow click", Section: "actions", Votes: 5, Status: backlog.StatusOpen})

	o := crank.New(cfg, nil, nil)
	summary, err := o.Run(context.Background(), crank.ModeFixOnly)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.FixOutcome != string(backlog.OutcomeFixed) {
		t.Fatalf("expected fixed outcome, got %q", summary.FixOutcome)
	}
	if summary.TotalTests != 0 {
		t.Fatalf("expected fix-only mode to skip measurement, got TotalTests=%d", summary.TotalTests)
	}
}

func TestRunFixOnlyWithNoRecommendationReturnsBacklogMissingError(t *testing.T) {
	cfg := baseConfig(t)
	o := crank.New(cfg, nil, nil)

	_, err := o.Run(context.Background(), crank.ModeFixOnly)
	if err == nil {
		t.Fatal("expected an error when fix-only mode has no backlog to select from")
	}
}

func TestRunSingleTestSkipsSelectFixAndRecord(t *testing.T) {
	cfg := baseConfig(t)
	o := crank.New(cfg, nil, nil)

	result, err := o.RunSingleTest(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TestID != "alpha" {
		t.Fatalf("expected result for alpha, got %q", result.TestID)
	}

	if _, err := os.Stat(cfg.History.Path); !os.IsNotExist(err) {
		t.Fatalf("expected single-test mode to write no history, stat err: %v", err)
	}
}

func TestRunGateFailureRevertsFixAndRecordsReverted(t *testing.T) {
	cfg := baseConfig(t)
	writeBacklog(t, cfg.Backlog.Path, backlog.Issue{ID: "1.1", Title: "regresses everything", Section: "actions", Votes: 5, Status: backlog.StatusOpen})

	baselinePath := filepath.Join(cfg.Scoring.BaselineDir, "latest.json")
	if err := os.MkdirAll(cfg.Scoring.BaselineDir, 0755); err != nil {
		t.Fatal(err)
	}
	baseline := map[string]interface{}{
		"version":    1,
		"timestamp":  "2026-01-01T00:00:00Z",
		"shs":        100.0,
		"testScores": map[string]float64{"alpha": 1.0},
	}
	data, err := json.Marshal(baseline)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(baselinePath, data, 0644); err != nil {
		t.Fatal(err)
	}

	revertTrack := filepath.Join(t.TempDir(), "revert-called")
	fixerScript := "#!/bin/sh\nfor a in \"$@\"; do\n  if [ \"$a\" = \"--revert\" ]; then\n    touch " + revertTrack + "\n  fi\ndone\nexit 0\n"
	cfg.Fixer.Bin = writeScript(t, filepath.Dir(cfg.Fixer.Bin), "fixer-revert.sh", fixerScript)

	// The fake runner always reports every milestone achieved, yielding a
	// perfect SHS. Force a gate failure by dropping the baseline far above
	// what any run could score.
	baseline["shs"] = 1000.0
	data, err = json.Marshal(baseline)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(baselinePath, data, 0644); err != nil {
		t.Fatal(err)
	}

	o := crank.New(cfg, nil, nil)
	summary, err := o.Run(context.Background(), crank.ModeFull)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.GatePassed {
		t.Fatal("expected the regression gate to fail against an unreachable baseline SHS")
	}
	if summary.FixOutcome != string(backlog.OutcomeReverted) {
		t.Fatalf("expected reverted outcome, got %q", summary.FixOutcome)
	}
	if _, err := os.Stat(revertTrack); err != nil {
		t.Fatalf("expected the fixer to be invoked with --revert, stat err: %v", err)
	}
}

func TestRunMatcherTimeoutStillRecordsCrankSummary(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Matcher.Bin = writeScript(t, filepath.Dir(cfg.Matcher.Bin), "matcher-hang.sh", "#!/bin/sh\nsleep 30\n")
	cfg.Matcher.MaxWait = 150 * time.Millisecond
	cfg.Matcher.PollInterval = 20 * time.Millisecond

	o := crank.New(cfg, nil, nil)
	summary, err := o.Run(context.Background(), crank.ModeMeasureOnly)
	if err != nil {
		t.Fatalf("expected MatcherTimeout to be absorbed into the summary, got error: %v", err)
	}
	found := false
	for _, p := range summary.FailurePatterns {
		if p == "matcher-timeout" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected matcher-timeout failure pattern, got %+v", summary.FailurePatterns)
	}
	if summary.TotalTests != 1 {
		t.Fatalf("expected the measurement results to still be recorded, got %+v", summary)
	}
}
