// Package feedback implements C7 (extraction) and C8 (application): turning
// raw per-trace feedback entries into a deduplicated, deterministically
// ordered set of normalized entries, and applying an external matcher's
// decisions back onto the backlog — upvoting matches, minting new issues
// from unmatched bugs/workarounds/popular improvements.
package feedback

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/lotreace/skill-flywheel/pkg/trace"
)

// Area is the closed set of feedback areas.
type Area string

const (
	AreaActions       Area = "actions"
	AreaSnapshot      Area = "snapshot"
	AreaNavigation    Area = "navigation"
	AreaIframe        Area = "iframe"
	AreaInput         Area = "input"
	AreaErrorHandling Area = "error-handling"
	AreaShadowDOM     Area = "shadow-dom"
	AreaTiming        Area = "timing"
	AreaOther         Area = "other"
)

var acceptedAreas = map[Area]bool{
	AreaActions: true, AreaSnapshot: true, AreaNavigation: true, AreaIframe: true,
	AreaInput: true, AreaErrorHandling: true, AreaShadowDOM: true, AreaTiming: true, AreaOther: true,
}

// IDSectionMap maps a normalized feedback area to the backlog section its
// minted issues belong to, used by C8's id-assignment rule.
var IDSectionMap = map[Area]string{
	AreaActions:       "actions",
	AreaSnapshot:      "snapshot",
	AreaNavigation:    "navigation",
	AreaIframe:        "iframe",
	AreaInput:         "input",
	AreaErrorHandling: "error-handling",
	AreaShadowDOM:     "shadow-dom",
	AreaTiming:        "timing",
	AreaOther:         "other",
}

// Entry is one normalized feedback entry.
type Entry struct {
	ID     string             `json:"id"`
	Type   trace.FeedbackType `json:"type"`
	Area   Area               `json:"area"`
	Title  string             `json:"title"`
	Detail string             `json:"detail,omitempty"`
	Files  []string           `json:"files,omitempty"`
	Count  int                `json:"count"`
	Tests  []string           `json:"tests"`
}

// ExtractedFeedback is the on-disk extracted-feedback document.
type ExtractedFeedback struct {
	Timestamp time.Time `json:"timestamp"`
	Entries   []Entry   `json:"entries"`
}

var (
	iframeKeyword = regexp.MustCompile(`(?i)iframe`)
	actionKeyword = regexp.MustCompile(`(?i)click|hover|drag`)
	shadowKeyword = regexp.MustCompile(`(?i)shadow[- ]?dom`)
	timingKeyword = regexp.MustCompile(`(?i)timeout|timing|race|flak`)
	inputKeyword  = regexp.MustCompile(`(?i)\btype\b|\bfill\b|\binput\b`)
	navKeyword    = regexp.MustCompile(`(?i)navigat|redirect|url change`)
	errKeyword    = regexp.MustCompile(`(?i)error|exception|crash`)
)

// sourced pairs a raw feedback entry with the test id it came from.
type sourced struct {
	raw    trace.RawFeedback
	testID string
}

// Extract normalizes and deduplicates feedback from every trace in traces
// (testID -> trace), returning entries in deterministic fb-NNN order.
// Implements spec.md §4.5 exactly, including Scenario B's dedup behavior.
func Extract(traces map[string]*trace.Trace) ExtractedFeedback {
	var all []sourced
	// Iterate test ids in sorted order so the merge below — and therefore
	// the final fb-NNN assignment — never depends on map iteration order.
	testIDs := make([]string, 0, len(traces))
	for id := range traces {
		testIDs = append(testIDs, id)
	}
	sort.Strings(testIDs)

	for _, testID := range testIDs {
		tr := traces[testID]
		if tr == nil {
			continue
		}
		for _, raw := range tr.Feedback {
			all = append(all, sourced{raw: raw, testID: testID})
		}
	}

	type bucket struct {
		entry     Entry
		seenTests map[string]bool
		seenFiles map[string]bool
	}
	buckets := map[string]*bucket{}
	var keyOrder []string

	for _, s := range all {
		normalized, ok := normalize(s.raw)
		if !ok {
			continue
		}
		key := dedupKey(normalized.Area, normalized.Title)

		b, exists := buckets[key]
		if !exists {
			b = &bucket{
				entry:     normalized,
				seenTests: map[string]bool{},
				seenFiles: map[string]bool{},
			}
			buckets[key] = b
			keyOrder = append(keyOrder, key)
		}

		b.entry.Count++
		if !b.seenTests[s.testID] {
			b.seenTests[s.testID] = true
			b.entry.Tests = append(b.entry.Tests, s.testID)
		}
		for _, f := range normalized.Files {
			if !b.seenFiles[f] {
				b.seenFiles[f] = true
				b.entry.Files = append(b.entry.Files, f)
			}
		}
	}

	entries := make([]Entry, 0, len(keyOrder))
	for _, key := range keyOrder {
		entries = append(entries, buckets[key].entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		if entries[i].Area != entries[j].Area {
			return entries[i].Area < entries[j].Area
		}
		return entries[i].Title < entries[j].Title
	})

	for i := range entries {
		entries[i].ID = fmt.Sprintf("fb-%03d", i+1)
	}

	return ExtractedFeedback{Entries: entries}
}

// normalize applies area inference/rewriting and title derivation, dropping
// entries that have no usable title even after derivation.
func normalize(raw trace.RawFeedback) (Entry, bool) {
	area := Area(raw.Area)
	if area == "" {
		area = inferArea(raw.Title + " " + raw.Detail)
	} else if !acceptedAreas[area] {
		area = AreaOther
	}

	title := strings.TrimSpace(raw.Title)
	if title == "" {
		title = firstSentence(raw.Detail)
	}
	if title == "" {
		return Entry{}, false
	}

	return Entry{
		Type:   raw.Type,
		Area:   area,
		Title:  title,
		Detail: raw.Detail,
		Files:  append([]string{}, raw.Files...),
		Tests:  []string{},
	}, true
}

func inferArea(text string) Area {
	switch {
	case iframeKeyword.MatchString(text):
		return AreaIframe
	case shadowKeyword.MatchString(text):
		return AreaShadowDOM
	case timingKeyword.MatchString(text):
		return AreaTiming
	case actionKeyword.MatchString(text):
		return AreaActions
	case inputKeyword.MatchString(text):
		return AreaInput
	case navKeyword.MatchString(text):
		return AreaNavigation
	case errKeyword.MatchString(text):
		return AreaErrorHandling
	default:
		return AreaOther
	}
}

func firstSentence(detail string) string {
	detail = strings.TrimSpace(detail)
	if detail == "" {
		return ""
	}
	if idx := strings.IndexAny(detail, ".!?"); idx >= 0 {
		return strings.TrimSpace(detail[:idx])
	}
	return detail
}

// dedupKey implements spec.md §4.5's coarse dedup key: area plus the
// lowercased, trimmed first 40 characters of title.
func dedupKey(area Area, title string) string {
	t := strings.ToLower(strings.TrimSpace(title))
	if len(t) > 40 {
		t = t[:40]
	}
	return string(area) + "|" + t
}

// Save writes fb atomically to path.
func Save(path string, fb ExtractedFeedback) error {
	data, err := json.MarshalIndent(fb, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal extracted feedback: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create feedback directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write extracted feedback: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load reads an ExtractedFeedback document from path.
func Load(path string) (ExtractedFeedback, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ExtractedFeedback{}, err
	}
	var fb ExtractedFeedback
	if err := json.Unmarshal(data, &fb); err != nil {
		return ExtractedFeedback{}, fmt.Errorf("extracted feedback is corrupt: %w", err)
	}
	return fb, nil
}
