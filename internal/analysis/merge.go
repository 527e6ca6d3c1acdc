package analysis

import (
	"sort"
	"strings"
	"unicode"

	"github.com/joelkehle/patent-insight/internal/segmenter"
)

// mergeStage folds the per-chunk responses into one StageResult. The
// result does not depend on the order responses arrived in: findings are
// canonically sorted before merging and the stage confidence is a plain
// mean.
func mergeStage(stage StageKind, chunks []segmenter.Chunk, responses []StageResponse, threshold float64) StageResult {
	var all []Finding
	var confSum float64
	for _, r := range responses {
		all = append(all, r.Findings...)
		confSum += r.Confidence
	}
	conf := 0.0
	if len(responses) > 0 {
		conf = confSum / float64(len(responses))
	}

	sources := map[int]bool{}
	for _, ch := range chunks {
		for _, idx := range ch.SectionIndices() {
			sources[idx] = true
		}
	}

	return StageResult{
		Stage:      stage,
		Findings:   mergeFindings(all, threshold),
		Confidence: conf,
		SourceRefs: sortedInts(sources),
	}
}

// mergeFindings collapses near-duplicate findings. Duplicates keep the
// highest-confidence claim text and the union of supporting sections.
// Sorting by confidence first makes the fold commutative across input
// orderings.
func mergeFindings(findings []Finding, threshold float64) []Finding {
	sorted := make([]Finding, len(findings))
	copy(sorted, findings)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Confidence != sorted[j].Confidence {
			return sorted[i].Confidence > sorted[j].Confidence
		}
		return sorted[i].ClaimText < sorted[j].ClaimText
	})

	type cluster struct {
		rep      Finding
		tokens   map[string]bool
		supports map[int]bool
	}
	var clusters []*cluster
next:
	for _, f := range sorted {
		toks := claimTokens(f.ClaimText)
		for _, c := range clusters {
			if tokenSimilarity(toks, c.tokens) >= threshold {
				for _, idx := range f.SupportingSectionIndices {
					c.supports[idx] = true
				}
				continue next
			}
		}
		c := &cluster{rep: f, tokens: toks, supports: map[int]bool{}}
		for _, idx := range f.SupportingSectionIndices {
			c.supports[idx] = true
		}
		clusters = append(clusters, c)
	}

	out := make([]Finding, 0, len(clusters))
	for _, c := range clusters {
		f := c.rep
		f.SupportingSectionIndices = sortedInts(c.supports)
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].ClaimText < out[j].ClaimText
	})
	return out
}

// NormalizeClaim lowercases a claim and strips punctuation and extra
// whitespace so paraphrase-insensitive comparisons can run on it.
func NormalizeClaim(s string) string {
	var sb strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				sb.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(sb.String())
}

func claimTokens(s string) map[string]bool {
	out := map[string]bool{}
	for _, t := range strings.Fields(NormalizeClaim(s)) {
		out[t] = true
	}
	return out
}

// tokenSimilarity is the Jaccard index of the two token sets.
func tokenSimilarity(a, b map[string]bool) float64 {
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
