package reporting_test

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lotreace/skill-flywheel/pkg/reporting"
)

func sampleSummary() reporting.CrankSummary {
	return reporting.CrankSummary{
		CrankNumber:       3,
		VersionTag:        "v0.3",
		SHS:               82.5,
		SHSDelta:          1.5,
		TotalTests:        10,
		PassedTests:       8,
		PerfectTests:      5,
		Categories:        []reporting.CategoryCount{{Category: "read", Total: 4, Passed: 4}, {Category: "create", Total: 6, Passed: 4}},
		MatchedIssueCount: 2,
		NewIssueCount:     1,
		FixIssueID:        "bk-007",
		FixOutcome:        "fixed",
		GatePassed:        true,
	}
}

func TestPrintTextIncludesRequiredFields(t *testing.T) {
	var buf bytes.Buffer
	if err := reporting.Print(&buf, reporting.FormatText, sampleSummary()); err != nil {
		t.Fatalf("Print: %v", err)
	}
	out := buf.String()

	for _, want := range []string{"82.50", "+1.50", "10 total, 8 passed, 5 perfect", "read", "create", "2 matched, 1 new", "bk-007", "fixed", "passed"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected text output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestPrintTextSurfacesGateFailureAndRegressedTests(t *testing.T) {
	s := sampleSummary()
	s.GatePassed = false
	s.GateReason = "SHS dropped below margin"
	s.RegressedTests = []string{"t-001", "t-007"}

	var buf bytes.Buffer
	if err := reporting.Print(&buf, reporting.FormatText, s); err != nil {
		t.Fatalf("Print: %v", err)
	}
	out := buf.String()

	if !strings.Contains(out, "FAILED") {
		t.Errorf("expected gate failure to be surfaced, got:\n%s", out)
	}
	if !strings.Contains(out, "t-001, t-007") {
		t.Errorf("expected regressed test names, got:\n%s", out)
	}
}

func TestPrintJSONRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	s := sampleSummary()
	if err := reporting.Print(&buf, reporting.FormatJSON, s); err != nil {
		t.Fatalf("Print: %v", err)
	}
	if !strings.Contains(buf.String(), `"crankNumber": 3`) {
		t.Errorf("expected JSON output to contain crankNumber, got:\n%s", buf.String())
	}
}

func TestStorageSaveAndListRoundTrips(t *testing.T) {
	dir := t.TempDir()
	store := reporting.NewStorage(dir, 0)

	for i := 1; i <= 3; i++ {
		s := sampleSummary()
		s.CrankNumber = i
		if err := store.Save(s); err != nil {
			t.Fatalf("Save(%d): %v", i, err)
		}
	}

	summaries, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(summaries) != 3 {
		t.Fatalf("expected 3 summaries, got %d", len(summaries))
	}
	for i, s := range summaries {
		if s.CrankNumber != i+1 {
			t.Errorf("expected summaries in crank-number order, got %d at index %d", s.CrankNumber, i)
		}
	}

	latest, ok, err := store.Latest()
	if err != nil || !ok {
		t.Fatalf("Latest: ok=%v err=%v", ok, err)
	}
	if latest.CrankNumber != 3 {
		t.Errorf("expected latest crank 3, got %d", latest.CrankNumber)
	}
}

func TestStoragePrunesToKeepLast(t *testing.T) {
	dir := t.TempDir()
	store := reporting.NewStorage(dir, 2)

	for i := 1; i <= 5; i++ {
		s := sampleSummary()
		s.CrankNumber = i
		if err := store.Save(s); err != nil {
			t.Fatalf("Save(%d): %v", i, err)
		}
	}

	summaries, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected pruning to keep 2 summaries, got %d", len(summaries))
	}
	if summaries[0].CrankNumber != 4 || summaries[1].CrankNumber != 5 {
		t.Errorf("expected the 2 most recent summaries to survive pruning, got %+v", summaries)
	}
}

func TestStorageAtomicWriteLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	store := reporting.NewStorage(dir, 0)
	if err := store.Save(sampleSummary()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("expected no leftover temp files, got %v", matches)
	}
}
