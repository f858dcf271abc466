// Package decision implements C3: ranking open backlog issues by a
// multiplicative priority model — vote count as base priority, a
// recent-failure penalty, a persistence boost for recurring failure
// patterns, and a design-review lockout that excludes chronically-failing
// issues from automatic selection.
package decision

import (
	"fmt"
	"sort"

	"github.com/lotreace/skill-flywheel/pkg/backlog"
	"github.com/lotreace/skill-flywheel/pkg/flyerr"
	"github.com/lotreace/skill-flywheel/pkg/history"
)

const (
	// RecentWindow bounds how many cranks back a failed/reverted attempt
	// still counts as "recent" for the recent-failure penalty.
	RecentWindow = 2
	// RecentPenalty is the multiplier applied under the recent-failure penalty.
	RecentPenalty = 0.3
	// PersistWindow is how many of the most recent cranks a failure pattern
	// must appear in to earn the persistence boost.
	PersistWindow = 3
	// PersistBoost is the multiplier applied under the persistence boost.
	PersistBoost = 1.5
	// MaxConsecutiveFailures triggers the design-review lockout.
	MaxConsecutiveFailures = 3
)

// Recommendation is one ranked candidate for selection.
type Recommendation struct {
	Issue             backlog.Issue
	Priority          float64
	NeedsDesignReview bool
}

// Rank computes the ranked, filtered recommendation list for the current
// crank. bl must be non-nil; a nil/absent backlog is the caller's
// responsibility to surface as BacklogMissing before calling Rank.
func Rank(bl *backlog.Backlog, historyPath string, currentCrank int) ([]Recommendation, error) {
	if bl == nil {
		return nil, flyerr.New(flyerr.CodeBacklogMissing, "backlog is absent")
	}

	recentCranks, err := history.RecentCranks(historyPath, PersistWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to read history for persistence boost: %w", err)
	}

	open := bl.OpenIssues()
	recs := make([]Recommendation, 0, len(open))

	for _, issue := range open {
		priority := float64(issue.Votes)
		needsDesignReview := false

		if issue.ConsecutiveFailuresAtTail() >= MaxConsecutiveFailures {
			needsDesignReview = true
			priority = 0
		} else {
			if last, ok := issue.LastAttempt(); ok {
				if (last.Outcome == backlog.OutcomeFailed || last.Outcome == backlog.OutcomeReverted) &&
					last.CrankNumber >= currentCrank-RecentWindow {
					priority *= RecentPenalty
				}
			}

			if issue.FailurePatternTag != "" && patternPersists(issue.FailurePatternTag, recentCranks) {
				priority *= PersistBoost
			}
		}

		if needsDesignReview {
			continue
		}

		recs = append(recs, Recommendation{
			Issue:             issue,
			Priority:          priority,
			NeedsDesignReview: needsDesignReview,
		})
	}

	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Priority != recs[j].Priority {
			return recs[i].Priority > recs[j].Priority
		}
		if recs[i].Issue.Votes != recs[j].Issue.Votes {
			return recs[i].Issue.Votes > recs[j].Issue.Votes
		}
		return recs[i].Issue.ID < recs[j].Issue.ID
	})

	return recs, nil
}

func patternPersists(tag string, recentCranks []history.CrankRecord) bool {
	count := 0
	for _, c := range recentCranks {
		for _, p := range c.FailurePatterns {
			if p == tag {
				count++
				break
			}
		}
	}
	return count >= PersistWindow
}
