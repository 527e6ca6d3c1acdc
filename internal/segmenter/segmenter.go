// Package segmenter splits a canonical document into bounded chunks sized
// for a single model request. Every character of every section lands in
// exactly one chunk; the only duplication is the explicitly tagged overlap
// carried across intra-section cut points for referential context.
package segmenter

import (
	"fmt"
	"strings"

	"github.com/joelkehle/patent-insight/internal/fault"
	"github.com/joelkehle/patent-insight/internal/patentdoc"
)

// sectionSeparator joins section texts inside one chunk. It counts against
// the chunk budget.
const sectionSeparator = "\n\n"

// SectionRef maps a slice of chunk text back to its source section.
// Overlap refs repeat text already owned by the previous chunk and are
// never counted as a distinct finding source.
type SectionRef struct {
	SectionIndex int                   `json:"section_index"`
	Kind         patentdoc.SectionKind `json:"kind"`
	Start        int                   `json:"start"`
	End          int                   `json:"end"`
	Overlap      bool                  `json:"overlap,omitempty"`
}

// Chunk is one bounded slice of document text. IDs are deterministic for a
// given (document, options) pair.
type Chunk struct {
	ID          string       `json:"id"`
	Text        string       `json:"text"`
	SectionRefs []SectionRef `json:"section_refs"`
}

// Kinds returns the distinct section kinds covered by non-overlap refs.
func (c *Chunk) Kinds() map[patentdoc.SectionKind]bool {
	out := map[patentdoc.SectionKind]bool{}
	for _, r := range c.SectionRefs {
		if !r.Overlap {
			out[r.Kind] = true
		}
	}
	return out
}

// SectionIndices returns the indices of sections this chunk draws
// non-overlap text from, in order of first appearance.
func (c *Chunk) SectionIndices() []int {
	var out []int
	seen := map[int]bool{}
	for _, r := range c.SectionRefs {
		if r.Overlap || seen[r.SectionIndex] {
			continue
		}
		seen[r.SectionIndex] = true
		out = append(out, r.SectionIndex)
	}
	return out
}

type Options struct {
	// Budget is the maximum chunk size in characters. Required.
	Budget int
	// Overlap is the number of trailing characters repeated into the next
	// chunk when a section is split mid-way. Clamped to half the budget.
	Overlap int
}

type span struct{ start, end int }

// Segment walks sections in order and packs sentences greedily into chunks
// of at most opts.Budget characters. A section larger than the budget is
// split at sentence boundaries; the configured overlap is carried across
// those cuts only, tagged so downstream merging ignores it. Returns
// fault.BudgetTooSmall when any single sentence exceeds the budget.
func Segment(doc *patentdoc.CanonicalDocument, opts Options) ([]Chunk, error) {
	if opts.Budget <= 0 {
		return nil, fault.New(fault.BudgetTooSmall, "chunk budget must be positive")
	}
	overlap := opts.Overlap
	if overlap < 0 {
		overlap = 0
	}
	if overlap > opts.Budget/2 {
		overlap = opts.Budget / 2
	}

	// The indivisible unit is a sentence; a budget below the longest
	// sentence cannot guarantee full coverage.
	for _, sec := range doc.Sections {
		for _, sp := range splitSentences(sec.Text) {
			if sp.end-sp.start > opts.Budget {
				return nil, fault.New(fault.BudgetTooSmall,
					fmt.Sprintf("section %d contains a %d-char sentence exceeding budget %d",
						sec.Index, sp.end-sp.start, opts.Budget))
			}
		}
	}

	var (
		chunks []Chunk
		text   strings.Builder
		refs   []SectionRef
	)

	flush := func() {
		if text.Len() == 0 {
			return
		}
		chunks = append(chunks, Chunk{
			ID:          fmt.Sprintf("chunk-%03d", len(chunks)),
			Text:        text.String(),
			SectionRefs: refs,
		})
		text.Reset()
		refs = nil
	}

	// appendRange adds section text [sp.start, sp.end) to the current
	// chunk, extending the previous ref when contiguous.
	appendRange := func(sec patentdoc.Section, sp span, overlapRef bool) {
		if text.Len() > 0 {
			last := refs[len(refs)-1]
			if last.SectionIndex == sec.Index && last.End == sp.start && last.Overlap == overlapRef {
				text.WriteString(sec.Text[sp.start:sp.end])
				refs[len(refs)-1].End = sp.end
				return
			}
			text.WriteString(sectionSeparator)
		}
		text.WriteString(sec.Text[sp.start:sp.end])
		refs = append(refs, SectionRef{
			SectionIndex: sec.Index,
			Kind:         sec.Kind,
			Start:        sp.start,
			End:          sp.end,
			Overlap:      overlapRef,
		})
	}

	room := func(extra int) bool {
		if text.Len() == 0 {
			return extra <= opts.Budget
		}
		return text.Len()+len(sectionSeparator)+extra <= opts.Budget
	}

	for _, sec := range doc.Sections {
		sentences := splitSentences(sec.Text)
		for i, sp := range sentences {
			n := sp.end - sp.start
			if room(n) {
				appendRange(sec, sp, false)
				continue
			}
			// Cut point. Overlap applies only when the cut lands inside a
			// section, i.e. this is not its first sentence.
			carry := span{}
			if overlap > 0 && i > 0 {
				carry = span{start: sp.start - overlap, end: sp.start}
				if carry.start < 0 {
					carry.start = 0
				}
			}
			flush()
			if carry.end > carry.start && (carry.end-carry.start)+len(sectionSeparator)+n <= opts.Budget {
				appendRange(sec, carry, true)
			}
			appendRange(sec, sp, false)
		}
	}
	flush()
	return chunks, nil
}

// splitSentences returns contiguous sentence spans covering text exactly.
// Boundaries fall after terminal punctuation followed by whitespace, or
// after newlines. The spans partition [0, len(text)).
func splitSentences(text string) []span {
	if text == "" {
		return nil
	}
	var out []span
	start := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		boundary := false
		switch c {
		case '.', '!', '?', ';':
			if i+1 < len(text) && (text[i+1] == ' ' || text[i+1] == '\n' || text[i+1] == '\t') {
				boundary = true
			}
		case '\n':
			boundary = true
		}
		if boundary {
			out = append(out, span{start: start, end: i + 1})
			start = i + 1
		}
	}
	if start < len(text) {
		out = append(out, span{start: start, end: len(text)})
	}
	return out
}
