package reporting

import "time"

// Format selects how a CrankSummary is rendered.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// CategoryCount is the pass/total breakdown for one test category.
type CategoryCount struct {
	Category string `json:"category"`
	Total    int    `json:"total"`
	Passed   int    `json:"passed"`
}

// CrankSummary is the user-facing record of one crank, matching spec.md
// §3's CrankSummary data model plus the per-category and issue-matching
// detail spec.md §7 requires the summary to print.
type CrankSummary struct {
	CrankNumber     int             `json:"crankNumber"`
	VersionTag      string          `json:"versionTag"`
	Timestamp       time.Time       `json:"timestamp"`
	SHS             float64         `json:"shs"`
	SHSDelta        float64         `json:"shsDelta"`
	TotalTests      int             `json:"totalTests"`
	PassedTests     int             `json:"passedTests"`
	PerfectTests    int             `json:"perfectTests"`
	Categories      []CategoryCount `json:"categories,omitempty"`
	FailurePatterns []string        `json:"failurePatterns,omitempty"`

	MatchedIssueCount int `json:"matchedIssueCount"`
	NewIssueCount     int `json:"newIssueCount"`

	FixIssueID string `json:"fixIssueId,omitempty"`
	FixOutcome string `json:"fixOutcome,omitempty"`

	GatePassed     bool     `json:"gatePassed"`
	GateReason     string   `json:"gateReason,omitempty"`
	RegressedTests []string `json:"regressedTests,omitempty"`
}
