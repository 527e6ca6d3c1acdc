// Package analysis orchestrates the model-backed analysis stages over a
// segmented patent document and merges their structured findings.
package analysis

import "sort"

type StageKind string

const (
	StageBiological StageKind = "BIOLOGICAL"
	StageChemical   StageKind = "CHEMICAL"
	StageInnovation StageKind = "INNOVATION"
)

// DefaultStageOrder runs the two full-text passes before the faster
// innovation pass.
var DefaultStageOrder = []StageKind{StageBiological, StageChemical, StageInnovation}

func ValidStage(s StageKind) bool {
	switch s {
	case StageBiological, StageChemical, StageInnovation:
		return true
	}
	return false
}

// Finding is one atomic claim produced by a stage, with the section
// indices that support it and the model's confidence in it.
type Finding struct {
	ClaimText                string  `json:"claim_text"`
	SupportingSectionIndices []int   `json:"supporting_section_indices"`
	Confidence               float64 `json:"confidence"`
}

// StageResult is the merged output of one stage invocation. It is
// immutable once produced.
type StageResult struct {
	Stage      StageKind `json:"stage"`
	Findings   []Finding `json:"findings"`
	Confidence float64   `json:"confidence"`
	SourceRefs []int     `json:"source_refs"`
}

// Degraded reports whether the stage exhausted its retries and carries no
// usable findings.
func (r StageResult) Degraded() bool {
	return r.Confidence == 0 && len(r.Findings) == 0
}

// ContextBlock is one labeled slice of document text handed to the
// gateway. ContextOnly marks overlap text repeated purely for reference;
// the model may read it but findings must cite the owning chunk.
type ContextBlock struct {
	SectionIndex int    `json:"section_index"`
	Kind         string `json:"kind"`
	Text         string `json:"text"`
	ContextOnly  bool   `json:"context_only,omitempty"`
}

// StageRequest is the narrow contract with the LLM gateway. Strict is set
// on the single retry after a malformed response and tightens the
// formatting instructions.
type StageRequest struct {
	Stage         StageKind
	PromptContext []ContextBlock
	Strict        bool
}

// StageResponse is the parsed gateway output for one chunk-level call.
type StageResponse struct {
	Findings   []Finding `json:"findings"`
	Confidence float64   `json:"confidence"`
}

func sortedInts(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}
