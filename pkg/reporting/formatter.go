package reporting

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Print renders s to w in the given format. Text output always includes
// SHS, SHS delta, per-category counts, matched/new-issue counts, and the
// fix outcome if any, per spec.md §7; a failed gate is surfaced explicitly
// with the names of every regressed test.
func Print(w io.Writer, format Format, s CrankSummary) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case FormatText, "":
		_, err := io.WriteString(w, renderText(s))
		return err
	default:
		return fmt.Errorf("reporting: unknown format %q", format)
	}
}

func renderText(s CrankSummary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "crank #%d (%s)\n", s.CrankNumber, s.VersionTag)
	fmt.Fprintf(&b, "  SHS:        %.2f (%+.2f)\n", s.SHS, s.SHSDelta)
	fmt.Fprintf(&b, "  tests:      %d total, %d passed, %d perfect\n", s.TotalTests, s.PassedTests, s.PerfectTests)

	if len(s.Categories) > 0 {
		b.WriteString("  categories:\n")
		for _, c := range s.Categories {
			fmt.Fprintf(&b, "    %-20s %d/%d\n", c.Category, c.Passed, c.Total)
		}
	}

	if len(s.FailurePatterns) > 0 {
		fmt.Fprintf(&b, "  failure patterns: %s\n", strings.Join(s.FailurePatterns, ", "))
	}

	fmt.Fprintf(&b, "  feedback:   %d matched, %d new\n", s.MatchedIssueCount, s.NewIssueCount)

	if s.FixIssueID != "" {
		fmt.Fprintf(&b, "  fix:        %s -> %s\n", s.FixIssueID, s.FixOutcome)
	}

	if s.GatePassed {
		b.WriteString("  gate:       passed\n")
	} else {
		fmt.Fprintf(&b, "  gate:       FAILED (%s)\n", s.GateReason)
		if len(s.RegressedTests) > 0 {
			fmt.Fprintf(&b, "  regressed:  %s\n", strings.Join(s.RegressedTests, ", "))
		}
	}

	return b.String()
}
