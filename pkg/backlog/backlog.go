// Package backlog persists C1: the set of open and implemented issues, each
// with an append-only fix-attempt history. The backlog document is the
// single-writer, atomically-replaced source of truth the decision engine and
// feedback applier both read and mutate.
package backlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Status is an issue's lifecycle state.
type Status string

const (
	StatusOpen        Status = "open"
	StatusImplemented Status = "implemented"
	StatusClosed      Status = "closed"
)

// Outcome is a FixAttempt's result.
type Outcome string

const (
	OutcomeFixed    Outcome = "fixed"
	OutcomeFailed   Outcome = "failed"
	OutcomeReverted Outcome = "reverted"
	OutcomePartial  Outcome = "partial"
)

// FixAttempt records one attempt to fix an issue. Append-only: never
// deleted or rewritten once recorded.
type FixAttempt struct {
	Date         time.Time `json:"date"`
	CrankNumber  int       `json:"crankNumber"`
	Outcome      Outcome   `json:"outcome"`
	Details      string    `json:"details,omitempty"`
	ChangedFiles []string  `json:"changedFiles,omitempty"`
	SHSDelta     float64   `json:"shsDelta"`
}

// Issue is one backlog entry.
type Issue struct {
	ID               string       `json:"id"`
	Title            string       `json:"title"`
	Section          string       `json:"section"`
	Votes            int          `json:"votes"`
	Status           Status       `json:"status"`
	Symptoms         []string     `json:"symptoms,omitempty"`
	ExpectedBehavior string       `json:"expectedBehavior,omitempty"`
	Workaround       string       `json:"workaround,omitempty"`
	SuspectedFiles   []string     `json:"suspectedFiles,omitempty"`
	FixAttempts      []FixAttempt `json:"fixAttempts,omitempty"`
	Source           string       `json:"source,omitempty"`
	SourceTests      []string     `json:"sourceTests,omitempty"`
	// FailurePatternTag associates this issue with a recurring failure
	// pattern tag surfaced in crank summaries, used by C3's persistence boost.
	FailurePatternTag string `json:"failurePatternTag,omitempty"`
}

// LastAttempt returns the issue's most recent fix attempt, if any.
func (i *Issue) LastAttempt() (FixAttempt, bool) {
	if len(i.FixAttempts) == 0 {
		return FixAttempt{}, false
	}
	return i.FixAttempts[len(i.FixAttempts)-1], true
}

// ConsecutiveFailuresAtTail counts failed/reverted attempts at the end of
// the attempt history, stopping at the first attempt with a different outcome.
func (i *Issue) ConsecutiveFailuresAtTail() int {
	count := 0
	for j := len(i.FixAttempts) - 1; j >= 0; j-- {
		o := i.FixAttempts[j].Outcome
		if o == OutcomeFailed || o == OutcomeReverted {
			count++
			continue
		}
		break
	}
	return count
}

// Document is the on-disk backlog shape: open/closed issues plus an
// archive of implemented ones.
type Document struct {
	Issues      []Issue   `json:"issues"`
	Implemented []Issue   `json:"implemented"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Backlog wraps a loaded Document with the path it was loaded from, so
// mutating helpers can persist atomically back to the same file.
type Backlog struct {
	path string
	doc  Document
}

// Load reads and schema-checks the backlog at path. A missing file is
// returned as the underlying read error; callers that treat an absent
// backlog specially check for it before loading, or use New to create one.
func Load(path string) (*Backlog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("backlog is corrupt: %w", err)
	}

	return &Backlog{path: path, doc: doc}, nil
}

// New creates an empty in-memory backlog bound to path, not yet persisted.
func New(path string) *Backlog {
	return &Backlog{path: path, doc: Document{Issues: []Issue{}, Implemented: []Issue{}}}
}

// Exists reports whether a backlog file is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Issues returns the open/closed issue list (not the implemented archive).
func (b *Backlog) Issues() []Issue {
	return b.doc.Issues
}

// OpenIssues returns only issues with Status == open.
func (b *Backlog) OpenIssues() []Issue {
	var out []Issue
	for _, i := range b.doc.Issues {
		if i.Status == StatusOpen {
			out = append(out, i)
		}
	}
	return out
}

// FindIssue returns the issue with the given id, searching both active and
// implemented lists.
func (b *Backlog) FindIssue(id string) (*Issue, bool) {
	for i := range b.doc.Issues {
		if b.doc.Issues[i].ID == id {
			return &b.doc.Issues[i], true
		}
	}
	for i := range b.doc.Implemented {
		if b.doc.Implemented[i].ID == id {
			return &b.doc.Implemented[i], true
		}
	}
	return nil, false
}

// IssuesBySection returns active issues whose Section matches.
func (b *Backlog) IssuesBySection(section string) []Issue {
	var out []Issue
	for _, i := range b.doc.Issues {
		if i.Section == section {
			out = append(out, i)
		}
	}
	return out
}

// NextID implements spec.md §4.6's section-scoped id assignment: the next
// id within a section is <major>.<maxMinor+1>, where <major> is the
// section's existing major number. If the section has no issues yet,
// major = max(existing major numbers) + 1.
func (b *Backlog) NextID(section string) string {
	maxMinorInSection := -1
	sectionMajor := -1
	maxMajorOverall := 0

	all := append(append([]Issue{}, b.doc.Issues...), b.doc.Implemented...)
	for _, issue := range all {
		major, minor, ok := parseID(issue.ID)
		if !ok {
			continue
		}
		if major > maxMajorOverall {
			maxMajorOverall = major
		}
		if issue.Section == section {
			sectionMajor = major
			if minor > maxMinorInSection {
				maxMinorInSection = minor
			}
		}
	}

	if sectionMajor == -1 {
		return fmt.Sprintf("%d.1", maxMajorOverall+1)
	}
	return fmt.Sprintf("%d.%d", sectionMajor, maxMinorInSection+1)
}

func parseID(id string) (major, minor int, ok bool) {
	parts := strings.SplitN(id, ".", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	maj, err1 := strconv.Atoi(parts[0])
	min, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return maj, min, true
}

// AddIssue appends a newly minted issue to the active list.
func (b *Backlog) AddIssue(issue Issue) {
	b.doc.Issues = append(b.doc.Issues, issue)
}

// Upvote increases an issue's vote count by delta (delta must be >= 0;
// votes are monotonically non-decreasing per spec.md §3).
func (b *Backlog) Upvote(issueID string, delta int) error {
	if delta < 0 {
		return fmt.Errorf("upvote delta must be non-negative, got %d", delta)
	}
	for i := range b.doc.Issues {
		if b.doc.Issues[i].ID == issueID {
			b.doc.Issues[i].Votes += delta
			return nil
		}
	}
	return fmt.Errorf("issue %s not found", issueID)
}

// RecordAttempt appends a FixAttempt to the named issue. Append-only: it
// never mutates or removes a prior attempt.
func (b *Backlog) RecordAttempt(issueID string, attempt FixAttempt) error {
	for i := range b.doc.Issues {
		if b.doc.Issues[i].ID == issueID {
			b.doc.Issues[i].FixAttempts = append(b.doc.Issues[i].FixAttempts, attempt)
			return nil
		}
	}
	return fmt.Errorf("issue %s not found", issueID)
}

// MarkImplemented moves an issue from the active list to the implemented
// archive, setting its status.
func (b *Backlog) MarkImplemented(issueID string) error {
	for i := range b.doc.Issues {
		if b.doc.Issues[i].ID == issueID {
			issue := b.doc.Issues[i]
			issue.Status = StatusImplemented
			b.doc.Issues = append(b.doc.Issues[:i], b.doc.Issues[i+1:]...)
			b.doc.Implemented = append(b.doc.Implemented, issue)
			return nil
		}
	}
	return fmt.Errorf("issue %s not found", issueID)
}

// Save atomically persists the backlog: marshal to a temp file in the same
// directory, then rename over the destination, so readers never observe a
// partial write.
func (b *Backlog) Save() error {
	b.doc.LastUpdated = time.Now().UTC()

	data, err := json.MarshalIndent(b.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal backlog: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(b.path), 0755); err != nil {
		return fmt.Errorf("failed to create backlog directory: %w", err)
	}

	tmp := b.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create temp backlog file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write temp backlog file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to fsync temp backlog file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close temp backlog file: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return fmt.Errorf("failed to finalize backlog file: %w", err)
	}
	return nil
}

// SortedBySection returns active issues sorted by section then id, useful
// for stable report rendering.
func (b *Backlog) SortedBySection() []Issue {
	out := append([]Issue{}, b.doc.Issues...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Section != out[j].Section {
			return out[i].Section < out[j].Section
		}
		return out[i].ID < out[j].ID
	})
	return out
}
