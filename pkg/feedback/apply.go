package feedback

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/lotreace/skill-flywheel/pkg/backlog"
	"github.com/lotreace/skill-flywheel/pkg/trace"
)

// Confidence is the external matcher's certainty about a match.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ImprovementThreshold is the minimum count an unmatched improvement entry
// needs before it's minted as a new issue.
const ImprovementThreshold = 2

// MatchDecision is one verdict from the external semantic matcher.
type MatchDecision struct {
	FeedbackID      string      `json:"feedbackId"`
	MatchedIssueID  *string     `json:"matchedIssueId"`
	Confidence      *Confidence `json:"confidence"`
	Reasoning       string      `json:"reasoning,omitempty"`
}

// MatchDecisionsDocument is the on-disk match-decisions file shape.
type MatchDecisionsDocument struct {
	MatchedAt time.Time       `json:"matchedAt"`
	Decisions []MatchDecision `json:"decisions"`
}

// LoadMatchDecisions reads a match-decisions document from path.
func LoadMatchDecisions(path string) (MatchDecisionsDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return MatchDecisionsDocument{}, err
	}
	var doc MatchDecisionsDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return MatchDecisionsDocument{}, fmt.Errorf("match decisions file is corrupt: %w", err)
	}
	return doc, nil
}

// UpvoteRecord logs one applied upvote in the apply summary.
type UpvoteRecord struct {
	IssueID    string     `json:"issueId"`
	FeedbackID string     `json:"feedbackId"`
	Delta      int        `json:"delta"`
	Confidence Confidence `json:"confidence"`
}

// MintRecord logs one newly minted issue in the apply summary.
type MintRecord struct {
	IssueID    string `json:"issueId"`
	FeedbackID string `json:"feedbackId"`
	Votes      int    `json:"votes"`
}

// SkippedRecord logs one low-confidence match that was deliberately not applied.
type SkippedRecord struct {
	IssueID    string `json:"issueId"`
	FeedbackID string `json:"feedbackId"`
}

// ApplySummary is the full record of what the applier did with one set of
// match decisions.
type ApplySummary struct {
	Upvoted             []UpvoteRecord  `json:"upvoted"`
	Minted              []MintRecord    `json:"minted"`
	SkippedLowConfidence []SkippedRecord `json:"skippedLowConfidence"`
	Ignored             []string        `json:"ignored"` // feedback ids ignored outright
}

// Apply implements C8's per-entry rules against bl, mutating it in place.
// Callers are responsible for calling bl.Save() afterward — Apply itself
// performs no I/O so it stays trivially testable and so the "apply exactly
// once per crank" invariant lives in the caller, not here.
func Apply(bl *backlog.Backlog, entries []Entry, decisions []MatchDecision) ApplySummary {
	decisionByID := make(map[string]MatchDecision, len(decisions))
	for _, d := range decisions {
		decisionByID[d.FeedbackID] = d
	}

	summary := ApplySummary{}

	for _, entry := range entries {
		decision, hasDecision := decisionByID[entry.ID]
		matched := hasDecision && decision.MatchedIssueID != nil && *decision.MatchedIssueID != ""

		if matched {
			conf := ConfidenceLow
			if decision.Confidence != nil {
				conf = *decision.Confidence
			}
			switch conf {
			case ConfidenceHigh, ConfidenceMedium:
				if err := bl.Upvote(*decision.MatchedIssueID, entry.Count); err == nil {
					summary.Upvoted = append(summary.Upvoted, UpvoteRecord{
						IssueID: *decision.MatchedIssueID, FeedbackID: entry.ID,
						Delta: entry.Count, Confidence: conf,
					})
				}
			default:
				summary.SkippedLowConfidence = append(summary.SkippedLowConfidence, SkippedRecord{
					IssueID: *decision.MatchedIssueID, FeedbackID: entry.ID,
				})
			}
			continue
		}

		switch {
		case entry.Type == trace.FeedbackBug || entry.Type == trace.FeedbackWorkaround:
			mintIssue(bl, entry, &summary)
		case entry.Type == trace.FeedbackImprovement && entry.Count >= ImprovementThreshold:
			mintIssue(bl, entry, &summary)
		default:
			summary.Ignored = append(summary.Ignored, entry.ID)
		}
	}

	return summary
}

func mintIssue(bl *backlog.Backlog, entry Entry, summary *ApplySummary) {
	section, ok := IDSectionMap[entry.Area]
	if !ok {
		section = string(AreaOther)
	}
	id := bl.NextID(section)

	bl.AddIssue(backlog.Issue{
		ID:                id,
		Title:             entry.Title,
		Section:           section,
		Votes:             entry.Count,
		Status:            backlog.StatusOpen,
		Symptoms:          []string{entry.Detail},
		SuspectedFiles:    entry.Files,
		Source:            "runner-feedback",
		SourceTests:       entry.Tests,
		FailurePatternTag: "",
	})

	summary.Minted = append(summary.Minted, MintRecord{IssueID: id, FeedbackID: entry.ID, Votes: entry.Count})
}
