package crank

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/lotreace/skill-flywheel/pkg/backlog"
	"github.com/lotreace/skill-flywheel/pkg/config"
	"github.com/lotreace/skill-flywheel/pkg/decision"
	"github.com/lotreace/skill-flywheel/pkg/feedback"
	"github.com/lotreace/skill-flywheel/pkg/flyerr"
	"github.com/lotreace/skill-flywheel/pkg/history"
	"github.com/lotreace/skill-flywheel/pkg/matchwait"
	"github.com/lotreace/skill-flywheel/pkg/reporting"
	"github.com/lotreace/skill-flywheel/pkg/rundir"
	"github.com/lotreace/skill-flywheel/pkg/runnerpool"
	"github.com/lotreace/skill-flywheel/pkg/scoring"
	"github.com/lotreace/skill-flywheel/pkg/telemetry"
	"github.com/lotreace/skill-flywheel/pkg/testdef"
	"github.com/lotreace/skill-flywheel/pkg/trace"
	"github.com/lotreace/skill-flywheel/pkg/validate"
	"github.com/lotreace/skill-flywheel/pkg/verify"
)

// Orchestrator drives one crank end-to-end per spec.md §4.7, generalizing
// the teacher's Orchestrator/Execute state machine shape onto the flywheel
// domain's SELECT..DONE phases.
type Orchestrator struct {
	cfg     *config.Config
	logger  *reporting.Logger
	metrics *telemetry.Metrics

	phase Phase
}

// New creates an Orchestrator bound to cfg. metrics may be nil when
// telemetry is disabled.
func New(cfg *config.Config, logger *reporting.Logger, metrics *telemetry.Metrics) *Orchestrator {
	return &Orchestrator{cfg: cfg, logger: logger, metrics: metrics, phase: PhaseSelect}
}

func (o *Orchestrator) transition(p Phase) {
	if o.logger != nil {
		o.logger.Info("phase transition", "from", o.phase.String(), "to", p.String())
	}
	o.phase = p
}

// Phase returns the orchestrator's current phase.
func (o *Orchestrator) Phase() Phase { return o.phase }

// selection bundles the issue chosen in SELECT and whether one was chosen
// at all, threaded through FIX and RECORD.
type selection struct {
	issue     *backlog.Issue
	attempted bool
	fixed     bool
	details   string
	// runDir is the run directory the fixer was invoked in during FIX,
	// reused for the revert call so the fixer sees the same working state.
	runDir string
}

// Run drives one full crank in the given mode and returns its summary.
// mode == ModeMeasureOnly skips SELECT/FIX and appends no fix outcome.
// mode == ModeFixOnly applies the top recommendation without
// re-measurement: SELECT, FIX, RECORD only.
func (o *Orchestrator) Run(ctx context.Context, mode Mode) (reporting.CrankSummary, error) {
	bl, crankNumber, historyLog, err := o.openState()
	if err != nil {
		return reporting.CrankSummary{}, err
	}

	sel := selection{}

	if mode == ModeFull || mode == ModeFixOnly {
		o.transition(PhaseSelect)
		if err := o.runSelect(bl, crankNumber, &sel); err != nil {
			return reporting.CrankSummary{}, err
		}

		if sel.attempted {
			o.transition(PhaseFix)
			runDir, rdErr := o.allocateRunDir(crankNumber)
			if rdErr != nil {
				return reporting.CrankSummary{}, rdErr
			}
			sel.runDir = runDir
			if err := o.runFix(ctx, &sel); err != nil {
				return reporting.CrankSummary{}, err
			}
		}
	}

	if mode == ModeFixOnly {
		return o.recordFixOnly(bl, historyLog, crankNumber, sel)
	}

	if sel.attempted && !sel.fixed {
		// FIX → RECORD directly: fixer failed, no new measurement.
		return o.recordFixFailure(bl, historyLog, crankNumber, sel)
	}

	return o.runMeasureThroughRecord(ctx, bl, historyLog, crankNumber, sel)
}

// RunSingleTest runs and validates exactly one test with no SELECT, FIX, or
// RECORD phase, per spec.md §6's single-test CLI mode.
func (o *Orchestrator) RunSingleTest(ctx context.Context, testID string) (validate.Result, error) {
	parser := testdef.New(nil)
	td, err := parser.ParseFile(filepath.Join(o.cfg.Runner.TestsDir, testID+".yaml"))
	if err != nil {
		return validate.Result{}, fmt.Errorf("failed to load test definition: %w", err)
	}

	runDirs, err := rundir.New(o.cfg.Runner.RunsDir)
	if err != nil {
		return validate.Result{}, err
	}
	runDir, err := runDirs.Allocate("single-" + testID)
	if err != nil {
		return validate.Result{}, err
	}

	pool := runnerpool.New(runnerpool.Config{
		RunnerBin:      o.cfg.Runner.RunnerBin,
		MaxConcurrency: 1,
		PerTestTimeout: o.cfg.Runner.PerTestTimeout,
		ShutdownGrace:  o.cfg.Runner.ShutdownGrace,
	})
	results, err := pool.Run(ctx, []testdef.TestDefinition{*td}, o.cfg.Runner.TestsDir, runDir)
	if err != nil {
		return validate.Result{}, err
	}
	runDirs.Release(runDir, "single-test")

	r := results[0]
	if r.Status != "ok" {
		return validate.ErrorResult(testID), nil
	}

	opts := validate.Options{PassThreshold: o.cfg.Scoring.PassThreshold}
	return validate.Validate(*td, r.Trace, verify.Unavailable, opts), nil
}

// openState loads the backlog (if present) and history log shared by every
// mode, and determines the current crank number as one past the last
// recorded crank.
func (o *Orchestrator) openState() (*backlog.Backlog, int, *history.Log, error) {
	historyLog, err := history.Open(o.cfg.History.Path)
	if err != nil {
		return nil, 0, nil, flyerr.Wrap(flyerr.CodeHistoryWriteFailed, "failed to open history log", err)
	}

	_, cranks, err := history.ReadAll(o.cfg.History.Path)
	if err != nil {
		return nil, 0, nil, flyerr.Wrap(flyerr.CodeHistoryWriteFailed, "failed to read history log", err)
	}
	crankNumber := len(cranks) + 1

	var bl *backlog.Backlog
	if backlog.Exists(o.cfg.Backlog.Path) {
		bl, err = backlog.Load(o.cfg.Backlog.Path)
		if err != nil {
			return nil, 0, nil, flyerr.Wrap(flyerr.CodeBacklogCorrupt, "backlog failed schema check", err)
		}
	}

	return bl, crankNumber, historyLog, nil
}

func (o *Orchestrator) runSelect(bl *backlog.Backlog, crankNumber int, sel *selection) error {
	if bl == nil {
		return flyerr.New(flyerr.CodeBacklogMissing, "backlog is absent")
	}

	recs, err := decision.Rank(bl, o.cfg.History.Path, crankNumber)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		if o.logger != nil {
			o.logger.Info("no open issue recommended this crank; measuring only")
		}
		return nil
	}

	issue := recs[0].Issue
	sel.issue = &issue
	sel.attempted = true
	return nil
}

func (o *Orchestrator) allocateRunDir(crankNumber int) (string, error) {
	runDirs, err := rundir.New(o.cfg.Runner.RunsDir)
	if err != nil {
		return "", err
	}
	return runDirs.Allocate(fmt.Sprintf("crank-%d", crankNumber))
}

func (o *Orchestrator) runFix(ctx context.Context, sel *selection) error {
	fixCtx := ctx
	var cancel context.CancelFunc
	if o.cfg.Fixer.Timeout > 0 {
		fixCtx, cancel = context.WithTimeout(ctx, o.cfg.Fixer.Timeout)
		defer cancel()
	}

	err := runFixer(fixCtx, o.cfg.Fixer.Bin, sel.issue.ID, sel.runDir, false)
	sel.fixed = err == nil
	if err != nil {
		sel.details = err.Error()
	}
	return nil
}

// recordFixOnly handles the ModeFixOnly CLI mode: the fixer's exit code is
// the only signal recorded, with no measurement and no gate evaluation.
func (o *Orchestrator) recordFixOnly(bl *backlog.Backlog, historyLog *history.Log, crankNumber int, sel selection) (reporting.CrankSummary, error) {
	if !sel.attempted {
		return reporting.CrankSummary{}, flyerr.New(flyerr.CodeBacklogMissing, "no recommendation to apply")
	}

	outcome := backlog.OutcomeFailed
	if sel.fixed {
		outcome = backlog.OutcomeFixed
	}

	if err := o.appendFixAttempt(bl, historyLog, crankNumber, sel, outcome, 0); err != nil {
		return reporting.CrankSummary{}, err
	}

	summary := reporting.CrankSummary{
		CrankNumber: crankNumber,
		Timestamp:   time.Now().UTC(),
		FixIssueID:  sel.issue.ID,
		FixOutcome:  string(outcome),
		GatePassed:  true,
	}
	if err := o.appendCrankRecord(historyLog, summary, nil); err != nil {
		return reporting.CrankSummary{}, err
	}
	return summary, nil
}

// recordFixFailure handles FIX→RECORD when the fixer itself failed,
// skipping measurement entirely per spec.md §4.7.
func (o *Orchestrator) recordFixFailure(bl *backlog.Backlog, historyLog *history.Log, crankNumber int, sel selection) (reporting.CrankSummary, error) {
	if err := o.appendFixAttempt(bl, historyLog, crankNumber, sel, backlog.OutcomeFailed, 0); err != nil {
		return reporting.CrankSummary{}, err
	}

	summary := reporting.CrankSummary{
		CrankNumber: crankNumber,
		Timestamp:   time.Now().UTC(),
		FixIssueID:  sel.issue.ID,
		FixOutcome:  string(backlog.OutcomeFailed),
		GatePassed:  true,
	}
	if err := o.appendCrankRecord(historyLog, summary, nil); err != nil {
		return reporting.CrankSummary{}, err
	}
	return summary, nil
}

func (o *Orchestrator) appendFixAttempt(bl *backlog.Backlog, historyLog *history.Log, crankNumber int, sel selection, outcome backlog.Outcome, shsDelta float64) error {
	if bl == nil {
		return flyerr.New(flyerr.CodeBacklogMissing, "backlog is absent")
	}

	if err := bl.RecordAttempt(sel.issue.ID, backlog.FixAttempt{
		Date:        time.Now().UTC(),
		CrankNumber: crankNumber,
		Outcome:     outcome,
		Details:     sel.details,
		SHSDelta:    shsDelta,
	}); err != nil {
		return fmt.Errorf("failed to record fix attempt: %w", err)
	}
	if err := bl.Save(); err != nil {
		return flyerr.Wrap(flyerr.CodeBacklogCorrupt, "failed to save backlog", err)
	}

	if err := historyLog.AppendFixOutcome(history.FixOutcomeRecord{
		Timestamp:   time.Now().UTC(),
		CrankNumber: crankNumber,
		IssueID:     sel.issue.ID,
		Outcome:     string(outcome),
		SHSDelta:    shsDelta,
	}); err != nil {
		return flyerr.Wrap(flyerr.CodeHistoryWriteFailed, "failed to append fix outcome", err)
	}
	return nil
}

func (o *Orchestrator) appendCrankRecord(historyLog *history.Log, s reporting.CrankSummary, categories []reporting.CategoryCount) error {
	return wrapHistoryErr(historyLog.AppendCrank(history.CrankRecord{
		Timestamp:       s.Timestamp,
		CrankNumber:     s.CrankNumber,
		SHS:             s.SHS,
		SHSDelta:        s.SHSDelta,
		TotalTests:      s.TotalTests,
		PassedTests:     s.PassedTests,
		PerfectTests:    s.PerfectTests,
		FailurePatterns: s.FailurePatterns,
		FixIssueID:      s.FixIssueID,
		FixOutcome:      s.FixOutcome,
		GatePassed:      s.GatePassed,
	}))
}

func wrapHistoryErr(err error) error {
	if err == nil {
		return nil
	}
	return flyerr.Wrap(flyerr.CodeHistoryWriteFailed, "failed to append crank record", err)
}

// runMeasureThroughRecord runs MEASURE through RECORD: the shared tail of
// the full and measure-only modes.
func (o *Orchestrator) runMeasureThroughRecord(ctx context.Context, bl *backlog.Backlog, historyLog *history.Log, crankNumber int, sel selection) (reporting.CrankSummary, error) {
	o.transition(PhaseMeasure)
	results, traces, testsByID, _, err := o.runMeasure(ctx, crankNumber)
	if err != nil {
		return reporting.CrankSummary{}, err
	}

	o.transition(PhaseValidate)
	validated, categoryOf, allCategories := o.runValidate(results, testsByID)

	shsSummary := scoring.Compute(validated, categoryOf, allCategories)
	categories := categoryBreakdown(validated, categoryOf, allCategories)
	failurePatterns := failurePatternTags(results)

	baselinePath := filepath.Join(o.cfg.Scoring.BaselineDir, "latest.json")
	archiveDir := filepath.Join(o.cfg.Scoring.BaselineDir, "archive")
	baseline, hadBaseline, err := scoring.LoadBaseline(baselinePath)
	if err != nil {
		return reporting.CrankSummary{}, fmt.Errorf("failed to load baseline: %w", err)
	}

	newScores := map[string]float64{}
	for _, r := range validated {
		newScores[r.TestID] = r.Composite
	}

	var gate scoring.GateResult
	if shsSummary.Status == scoring.StatusEmpty {
		gate = scoring.GateResult{Passed: true, Reason: "empty suite"}
	} else {
		gate = scoring.EvaluateGate(baseline, shsSummary.SHS, newScores)
	}

	shsDelta := 0.0
	if hadBaseline {
		shsDelta = shsSummary.SHS - baseline.SHS
	}

	summary := reporting.CrankSummary{
		CrankNumber:     crankNumber,
		Timestamp:       time.Now().UTC(),
		SHS:             shsSummary.SHS,
		SHSDelta:        shsDelta,
		TotalTests:      shsSummary.Total,
		PassedTests:     shsSummary.Passed,
		PerfectTests:    shsSummary.Perfect,
		Categories:      categories,
		FailurePatterns: failurePatterns,
		GatePassed:      gate.Passed,
		GateReason:      gate.Reason,
		RegressedTests:  gate.RatchetViolated,
	}

	if o.metrics != nil {
		for _, tr := range traces {
			o.metrics.ObserveRunnerDuration(time.Duration(tr.WallClockMs) * time.Millisecond)
		}
	}

	if gate.Passed && shsSummary.Status == scoring.StatusScored {
		version := 1
		if hadBaseline {
			version = baseline.Version + 1
		}
		newBaseline := &scoring.Baseline{
			Version:    version,
			Timestamp:  time.Now().UTC(),
			SHS:        shsSummary.SHS,
			TestScores: newScores,
			Ratchet:    scoring.NextRatchetState(baseline, newScores),
		}
		if err := scoring.SaveBaseline(baselinePath, archiveDir, newBaseline); err != nil {
			return reporting.CrankSummary{}, fmt.Errorf("failed to save baseline: %w", err)
		}
	}

	if sel.attempted {
		outcome := backlog.OutcomeFixed
		if !gate.Passed {
			outcome = backlog.OutcomeReverted
			o.revertFix(ctx, &sel)
		}
		summary.FixIssueID = sel.issue.ID
		summary.FixOutcome = string(outcome)
		if err := o.appendFixAttempt(bl, historyLog, crankNumber, sel, outcome, shsDelta); err != nil {
			return reporting.CrankSummary{}, err
		}
	}

	o.transition(PhaseFeedbackExtract)
	fb := feedback.Extract(traces)
	if err := feedback.Save(o.cfg.Matcher.FeedbackPath, fb); err != nil {
		return reporting.CrankSummary{}, fmt.Errorf("failed to save extracted feedback: %w", err)
	}

	applySummary, matcherErr := o.runMatchCycle(ctx, bl, fb)
	if matcherErr != nil {
		if flyerr.Is(matcherErr, flyerr.CodeMatcherTimeout) {
			summary.FailurePatterns = append(summary.FailurePatterns, "matcher-timeout")
		} else {
			return reporting.CrankSummary{}, matcherErr
		}
	} else {
		summary.MatchedIssueCount = len(applySummary.Upvoted)
		summary.NewIssueCount = len(applySummary.Minted)
	}

	o.transition(PhaseRecord)
	if err := o.appendCrankRecord(historyLog, summary, categories); err != nil {
		return reporting.CrankSummary{}, err
	}

	store := reporting.NewStorage(o.cfg.Reporting.OutputDir, o.cfg.Reporting.KeepLast)
	if err := store.Save(summary); err != nil {
		return reporting.CrankSummary{}, fmt.Errorf("failed to persist crank summary: %w", err)
	}

	if o.metrics != nil {
		outcome := "passed"
		if !gate.Passed {
			outcome = "failed"
		}
		o.metrics.RecordCrank(outcome, summary.SHS, summary.SHSDelta)
	}

	o.transition(PhaseDone)
	return summary, nil
}

func (o *Orchestrator) runMeasure(ctx context.Context, crankNumber int) ([]runnerpool.Result, map[string]*trace.Trace, map[string]testdef.TestDefinition, string, error) {
	parser := testdef.New(nil)
	tests, err := parser.LoadDir(o.cfg.Runner.TestsDir)
	if err != nil {
		return nil, nil, nil, "", fmt.Errorf("failed to load test definitions: %w", err)
	}

	runDir, err := o.allocateRunDir(crankNumber)
	if err != nil {
		return nil, nil, nil, "", err
	}

	pool := runnerpool.New(runnerpool.Config{
		RunnerBin:      o.cfg.Runner.RunnerBin,
		MaxConcurrency: o.cfg.Runner.MaxConcurrency,
		PerTestTimeout: o.cfg.Runner.PerTestTimeout,
		ShutdownGrace:  o.cfg.Runner.ShutdownGrace,
	})

	results, err := pool.Run(ctx, tests, o.cfg.Runner.TestsDir, runDir)
	if err != nil {
		return nil, nil, nil, "", fmt.Errorf("runner pool failed: %w", err)
	}

	traces := make(map[string]*trace.Trace, len(results))
	for _, r := range results {
		if r.Trace != nil {
			traces[r.TestID] = r.Trace
		}
	}

	testsByID := make(map[string]testdef.TestDefinition, len(tests))
	for _, td := range tests {
		testsByID[td.ID] = td
	}

	return results, traces, testsByID, runDir, nil
}

func (o *Orchestrator) runValidate(results []runnerpool.Result, testsByID map[string]testdef.TestDefinition) ([]validate.Result, func(string) string, []string) {
	opts := validate.Options{PassThreshold: o.cfg.Scoring.PassThreshold}

	validated := make([]validate.Result, 0, len(results))
	categoryByTest := make(map[string]string, len(results))
	seenCategories := map[string]bool{}
	var allCategories []string

	for _, r := range results {
		td := testsByID[r.TestID]
		category := string(td.Category)
		categoryByTest[r.TestID] = category
		if category != "" && !seenCategories[category] {
			seenCategories[category] = true
			allCategories = append(allCategories, category)
		}

		if r.Status != "ok" {
			validated = append(validated, validate.ErrorResult(r.TestID))
			continue
		}
		validated = append(validated, validate.Validate(td, r.Trace, verify.Unavailable, opts))
	}

	return validated, func(testID string) string { return categoryByTest[testID] }, allCategories
}

func categoryBreakdown(results []validate.Result, categoryOf func(string) string, allCategories []string) []reporting.CategoryCount {
	totals := make(map[string]int, len(allCategories))
	passed := make(map[string]int, len(allCategories))
	for _, r := range results {
		c := categoryOf(r.TestID)
		totals[c]++
		if r.Status == validate.StatusPass {
			passed[c]++
		}
	}

	out := make([]reporting.CategoryCount, 0, len(allCategories))
	for _, c := range allCategories {
		out = append(out, reporting.CategoryCount{Category: c, Total: totals[c], Passed: passed[c]})
	}
	return out
}

func failurePatternTags(results []runnerpool.Result) []string {
	var tags []string
	seen := map[string]bool{}
	for _, r := range results {
		if r.Status != "ok" && !seen["runner-error"] {
			seen["runner-error"] = true
			tags = append(tags, "runner-error")
		}
	}
	return tags
}

// revertFix asks the fixer to undo its commit when the regression gate
// fails. Best-effort: a revert failure is logged but does not abort RECORD,
// since the crank summary must still be written either way.
func (o *Orchestrator) revertFix(ctx context.Context, sel *selection) {
	revertCtx := ctx
	var cancel context.CancelFunc
	if o.cfg.Fixer.Timeout > 0 {
		revertCtx, cancel = context.WithTimeout(ctx, o.cfg.Fixer.Timeout)
		defer cancel()
	}
	if err := runFixer(revertCtx, o.cfg.Fixer.Bin, sel.issue.ID, sel.runDir, true); err != nil && o.logger != nil {
		o.logger.Warn("fixer revert failed", "issue", sel.issue.ID, "error", err.Error())
	}
}

// runMatchCycle spawns the external matcher, awaits its decisions file, and
// applies them. Returns flyerr.CodeMatcherTimeout if the wait bound elapses.
func (o *Orchestrator) runMatchCycle(ctx context.Context, bl *backlog.Backlog, fb feedback.ExtractedFeedback) (feedback.ApplySummary, error) {
	o.transition(PhaseMatchWait)

	if _, err := startMatcher(o.cfg.Matcher.Bin, o.cfg.Matcher.FeedbackPath, o.cfg.Matcher.DecisionsPath); err != nil {
		return feedback.ApplySummary{}, fmt.Errorf("failed to start matcher: %w", err)
	}

	if err := matchwait.Wait(ctx, matchwait.Config{
		Path:         o.cfg.Matcher.DecisionsPath,
		MaxWait:      o.cfg.Matcher.MaxWait,
		PollInterval: o.cfg.Matcher.PollInterval,
	}); err != nil {
		return feedback.ApplySummary{}, err
	}

	o.transition(PhaseFeedbackApply)

	doc, err := feedback.LoadMatchDecisions(o.cfg.Matcher.DecisionsPath)
	if err != nil {
		return feedback.ApplySummary{}, fmt.Errorf("failed to load match decisions: %w", err)
	}

	if bl == nil {
		// Measure-only mode with no backlog: nothing to apply feedback to.
		return feedback.ApplySummary{}, nil
	}

	applySummary := feedback.Apply(bl, fb.Entries, doc.Decisions)
	if err := bl.Save(); err != nil {
		return feedback.ApplySummary{}, flyerr.Wrap(flyerr.CodeBacklogCorrupt, "failed to save backlog after feedback apply", err)
	}
	return applySummary, nil
}
