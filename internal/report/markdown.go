package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/joelkehle/patent-insight/internal/analysis"
)

var stageTitles = map[analysis.StageKind]string{
	analysis.StageBiological: "Biological Analysis",
	analysis.StageChemical:   "Chemical Analysis",
	analysis.StageInnovation: "Innovation Assessment",
}

// BuildMarkdown renders the report for human readers. Degraded stages
// get an explicit notice instead of silently vanishing.
func BuildMarkdown(rep Report) string {
	var b strings.Builder
	buildHeader(&b, rep)

	for _, s := range orderedStages(rep.Sections) {
		r := rep.Sections[s]
		fmt.Fprintf(&b, "## %s\n\n", stageTitle(s))
		if r.Degraded() {
			fmt.Fprintf(&b, "**UNAVAILABLE** — this stage could not be completed and is excluded from the findings below.\n\n")
			continue
		}
		fmt.Fprintf(&b, "Stage confidence: %.2f\n\n", r.Confidence)
		for _, f := range r.Findings {
			fmt.Fprintf(&b, "- %s (confidence %.2f", f.ClaimText, f.Confidence)
			if len(f.SupportingSectionIndices) > 0 {
				fmt.Fprintf(&b, ", sections %s", joinInts(f.SupportingSectionIndices))
			}
			b.WriteString(")\n")
		}
		b.WriteString("\n")
	}

	buildConflictSection(&b, rep)
	buildFooter(&b, rep)
	return b.String()
}

func buildHeader(b *strings.Builder, rep Report) {
	fmt.Fprintf(b, "# Patent Analysis Report\n\n")
	if rep.PatentID != "" {
		fmt.Fprintf(b, "- Patent: %s\n", rep.PatentID)
	}
	if rep.RunID != "" {
		fmt.Fprintf(b, "- Run: %s\n", rep.RunID)
	}
	fmt.Fprintf(b, "- Date: %s\n", rep.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(b, "- Overall confidence: %.2f\n", rep.OverallConfidence)
	if rep.Mode == ModeDegraded {
		fmt.Fprintf(b, "- Mode: %s (stages unavailable: %s)\n", rep.Mode, joinStages(rep.DegradedStages))
	} else {
		fmt.Fprintf(b, "- Mode: %s\n", rep.Mode)
	}
	b.WriteString("\n")
}

func buildConflictSection(b *strings.Builder, rep Report) {
	fmt.Fprintf(b, "## Cross-Reference Check\n\n")
	if len(rep.CrossReferenceFlags) == 0 {
		fmt.Fprintf(b, "No conflicting findings detected across stages.\n\n")
		return
	}
	for _, c := range rep.CrossReferenceFlags {
		fmt.Fprintf(b, "- **Conflict:** %s\n", c.Description)
	}
	b.WriteString("\n")
}

func buildFooter(b *strings.Builder, rep Report) {
	fmt.Fprintf(b, "---\n\n")
	fmt.Fprintf(b, "Findings are extracted verbatim from the patent text by automated analysis and carry per-finding confidence scores. This report is not legal advice.\n")
}

func stageTitle(s analysis.StageKind) string {
	if t, ok := stageTitles[s]; ok {
		return t
	}
	return string(s)
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprint(x)
	}
	return strings.Join(parts, ", ")
}

func joinStages(xs []analysis.StageKind) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = string(x)
	}
	return strings.Join(parts, ", ")
}
