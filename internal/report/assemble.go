// Package report folds the stage results into a single cross-checked
// report and renders it for the caller.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/joelkehle/patent-insight/internal/analysis"
	"github.com/joelkehle/patent-insight/internal/fault"
)

const (
	ModeComplete = "COMPLETE"
	ModeDegraded = "DEGRADED"
)

// ConflictFlag marks two findings that talk about the same subject but
// assert mutually exclusive properties. A pair of findings produces at
// most one flag.
type ConflictFlag struct {
	StageA      analysis.StageKind `json:"stage_a"`
	FindingA    string             `json:"finding_a"`
	StageB      analysis.StageKind `json:"stage_b"`
	FindingB    string             `json:"finding_b"`
	Description string             `json:"description"`
}

// Report is the assembled analysis. Everything except GeneratedAt is a
// pure function of the stage results, so two runs over identical results
// compare equal once GeneratedAt is masked.
type Report struct {
	PatentID            string                                       `json:"patent_id,omitempty"`
	RunID               string                                       `json:"run_id,omitempty"`
	Mode                string                                       `json:"mode"`
	Sections            map[analysis.StageKind]analysis.StageResult  `json:"sections"`
	DegradedStages      []analysis.StageKind                         `json:"degraded_stages,omitempty"`
	CrossReferenceFlags []ConflictFlag                               `json:"cross_reference_flags"`
	OverallConfidence   float64                                      `json:"overall_confidence"`
	GeneratedAt         time.Time                                    `json:"generated_at"`
}

type Options struct {
	// Weights per stage for the overall confidence mean. Missing or
	// non-positive entries fall back to 1.
	Weights map[analysis.StageKind]float64
	// SubjectSimilarity is the threshold above which two findings are
	// considered to discuss the same subject.
	SubjectSimilarity float64
}

const defaultSubjectSimilarity = 0.5

// Assemble builds the report from the stage results. Degraded stages
// participate with zero confidence; an empty result set is an error, a
// degraded-but-nonempty one is not.
func Assemble(results map[analysis.StageKind]analysis.StageResult, opts Options) (Report, error) {
	if len(results) == 0 {
		return Report{}, fault.New(fault.AnalysisUnavailable, "no stage results to assemble")
	}
	if opts.SubjectSimilarity <= 0 || opts.SubjectSimilarity > 1 {
		opts.SubjectSimilarity = defaultSubjectSimilarity
	}

	stages := orderedStages(results)

	var degraded []analysis.StageKind
	var weighted, weightSum float64
	for _, s := range stages {
		r := results[s]
		w := 1.0
		if opts.Weights != nil {
			if v, ok := opts.Weights[s]; ok && v > 0 {
				w = v
			}
		}
		weighted += w * r.Confidence
		weightSum += w
		if r.Degraded() {
			degraded = append(degraded, s)
		}
	}

	mode := ModeComplete
	if len(degraded) > 0 {
		mode = ModeDegraded
	}

	rep := Report{
		Mode:                mode,
		Sections:            results,
		DegradedStages:      degraded,
		CrossReferenceFlags: detectConflicts(results, stages, opts.SubjectSimilarity),
		OverallConfidence:   weighted / weightSum,
		GeneratedAt:         time.Now().UTC(),
	}
	return rep, nil
}

// orderedStages returns the stages present in the result map in the
// default stage order, then any remaining ones alphabetically.
func orderedStages(results map[analysis.StageKind]analysis.StageResult) []analysis.StageKind {
	var out []analysis.StageKind
	seen := map[analysis.StageKind]bool{}
	for _, s := range analysis.DefaultStageOrder {
		if _, ok := results[s]; ok {
			out = append(out, s)
			seen[s] = true
		}
	}
	var rest []analysis.StageKind
	for s := range results {
		if !seen[s] {
			rest = append(rest, s)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	return append(out, rest...)
}

// polarityPairs lists property terms that cannot both hold for the same
// subject. Matching is on normalized claim tokens.
var polarityPairs = [][2][]string{
	{{"novel", "new", "unprecedented"}, {"known", "disclosed", "described", "reported"}},
	{{"agonist"}, {"antagonist"}},
	{{"inhibits", "inhibitor", "inhibition", "suppresses"}, {"activates", "activator", "activation", "stimulates"}},
	{{"increases", "increased"}, {"decreases", "decreased", "reduces", "reduced"}},
	{{"selective"}, {"nonselective", "unselective"}},
}

type flaggedFinding struct {
	stage   analysis.StageKind
	finding analysis.Finding
	tokens  map[string]bool
	subject map[string]bool
}

// detectConflicts compares every cross-stage (and intra-stage) pair of
// findings once. Two findings conflict when their subjects overlap past
// the threshold and they sit on opposite sides of a polarity pair.
func detectConflicts(results map[analysis.StageKind]analysis.StageResult, stages []analysis.StageKind, threshold float64) []ConflictFlag {
	var all []flaggedFinding
	for _, s := range stages {
		for _, f := range results[s].Findings {
			toks := tokenSet(analysis.NormalizeClaim(f.ClaimText))
			all = append(all, flaggedFinding{stage: s, finding: f, tokens: toks, subject: subjectTokens(toks)})
		}
	}

	flags := []ConflictFlag{}
	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			desc, ok := conflictBetween(all[i], all[j], threshold)
			if !ok {
				continue
			}
			flags = append(flags, ConflictFlag{
				StageA:      all[i].stage,
				FindingA:    all[i].finding.ClaimText,
				StageB:      all[j].stage,
				FindingB:    all[j].finding.ClaimText,
				Description: desc,
			})
		}
	}
	sort.Slice(flags, func(i, j int) bool {
		if flags[i].FindingA != flags[j].FindingA {
			return flags[i].FindingA < flags[j].FindingA
		}
		return flags[i].FindingB < flags[j].FindingB
	})
	return flags
}

func conflictBetween(a, b flaggedFinding, threshold float64) (string, bool) {
	for _, pair := range polarityPairs {
		aFirst, aSecond := hasAny(a.tokens, pair[0]), hasAny(a.tokens, pair[1])
		bFirst, bSecond := hasAny(b.tokens, pair[0]), hasAny(b.tokens, pair[1])
		opposed := (aFirst && bSecond && !aSecond && !bFirst) || (aSecond && bFirst && !aFirst && !bSecond)
		if !opposed {
			continue
		}
		if jaccard(a.subject, b.subject) < threshold {
			continue
		}
		return fmt.Sprintf("%s finding %q and %s finding %q assert mutually exclusive properties (%s vs %s)",
			a.stage, clamp(a.finding.ClaimText, 80), b.stage, clamp(b.finding.ClaimText, 80),
			strings.Join(pair[0], "/"), strings.Join(pair[1], "/")), true
	}
	return "", false
}

// subjectTokens strips all polarity terms so the remaining tokens
// describe what the finding is about rather than what it asserts.
func subjectTokens(tokens map[string]bool) map[string]bool {
	out := map[string]bool{}
	for t := range tokens {
		if !isPolarityTerm(t) {
			out[t] = true
		}
	}
	return out
}

func isPolarityTerm(t string) bool {
	for _, pair := range polarityPairs {
		for _, side := range pair {
			for _, term := range side {
				if t == term {
					return true
				}
			}
		}
	}
	return false
}

func hasAny(tokens map[string]bool, terms []string) bool {
	for _, t := range terms {
		if tokens[t] {
			return true
		}
	}
	return false
}

func tokenSet(normalized string) map[string]bool {
	out := map[string]bool{}
	for _, t := range strings.Fields(normalized) {
		out[t] = true
	}
	return out
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func clamp(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
