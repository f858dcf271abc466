package decision_test

import (
	"path/filepath"
	"testing"

	"github.com/lotreace/skill-flywheel/pkg/backlog"
	"github.com/lotreace/skill-flywheel/pkg/decision"
	"github.com/lotreace/skill-flywheel/pkg/history"
)

func TestRecentFailurePenalty(t *testing.T) {
	// Scenario E: issue X has attempts [{crank:5, outcome:failed}], current
	// crank = 6. With other factors equal, priority equals votes * 0.3.
	bl := backlog.New(filepath.Join(t.TempDir(), "backlog.json"))
	bl.AddIssue(backlog.Issue{
		ID: "1.1", Votes: 10, Status: backlog.StatusOpen,
		FixAttempts: []backlog.FixAttempt{{CrankNumber: 5, Outcome: backlog.OutcomeFailed}},
	})

	recs, err := decision.Rank(bl, filepath.Join(t.TempDir(), "history.ndjson"), 6)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 recommendation, got %d", len(recs))
	}
	if recs[0].Priority != 3.0 {
		t.Fatalf("expected priority 10*0.3=3.0, got %v", recs[0].Priority)
	}
}

func TestDesignReviewLockoutFiltersIssue(t *testing.T) {
	bl := backlog.New(filepath.Join(t.TempDir(), "backlog.json"))
	bl.AddIssue(backlog.Issue{
		ID: "2.1", Votes: 99, Status: backlog.StatusOpen,
		FixAttempts: []backlog.FixAttempt{
			{CrankNumber: 1, Outcome: backlog.OutcomeFailed},
			{CrankNumber: 2, Outcome: backlog.OutcomeReverted},
			{CrankNumber: 3, Outcome: backlog.OutcomeFailed},
		},
	})

	recs, err := decision.Rank(bl, filepath.Join(t.TempDir(), "history.ndjson"), 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected empty list under design-review lockout, got %d", len(recs))
	}
}

func TestDeterministicTieBreak(t *testing.T) {
	bl := backlog.New(filepath.Join(t.TempDir(), "backlog.json"))
	bl.AddIssue(backlog.Issue{ID: "3.2", Votes: 5, Status: backlog.StatusOpen})
	bl.AddIssue(backlog.Issue{ID: "3.1", Votes: 5, Status: backlog.StatusOpen})

	histPath := filepath.Join(t.TempDir(), "history.ndjson")
	recsA, err := decision.Rank(bl, histPath, 1)
	if err != nil {
		t.Fatal(err)
	}
	recsB, err := decision.Rank(bl, histPath, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(recsA) != 2 || recsA[0].Issue.ID != recsB[0].Issue.ID || recsA[1].Issue.ID != recsB[1].Issue.ID {
		t.Fatalf("expected identical deterministic order across runs: %v vs %v", recsA, recsB)
	}
	if recsA[0].Issue.ID != "3.1" {
		t.Fatalf("expected lexicographically smaller id first on tie, got %s", recsA[0].Issue.ID)
	}
}

func TestPersistenceBoost(t *testing.T) {
	histPath := filepath.Join(t.TempDir(), "history.ndjson")
	log, err := history.Open(histPath)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 3; i++ {
		if err := log.AppendCrank(history.CrankRecord{CrankNumber: i, FailurePatterns: []string{"timing-flake"}}); err != nil {
			t.Fatal(err)
		}
	}

	bl := backlog.New(filepath.Join(t.TempDir(), "backlog.json"))
	bl.AddIssue(backlog.Issue{ID: "4.1", Votes: 10, Status: backlog.StatusOpen, FailurePatternTag: "timing-flake"})

	recs, err := decision.Rank(bl, histPath, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Priority != 15.0 {
		t.Fatalf("expected boosted priority 10*1.5=15.0, got %+v", recs)
	}
}

func TestBoundaryThreeConsecutiveFailuresEmptiesList(t *testing.T) {
	bl := backlog.New(filepath.Join(t.TempDir(), "backlog.json"))
	bl.AddIssue(backlog.Issue{
		ID: "1.1", Votes: 50, Status: backlog.StatusOpen,
		FixAttempts: []backlog.FixAttempt{
			{CrankNumber: 1, Outcome: backlog.OutcomeFailed},
			{CrankNumber: 2, Outcome: backlog.OutcomeFailed},
			{CrankNumber: 3, Outcome: backlog.OutcomeFailed},
		},
	})

	recs, err := decision.Rank(bl, filepath.Join(t.TempDir(), "history.ndjson"), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 0 {
		t.Fatal("expected empty recommendation list per boundary behavior")
	}
}
