package segmenter

import (
	"reflect"
	"strings"
	"testing"

	"github.com/joelkehle/patent-insight/internal/fault"
	"github.com/joelkehle/patent-insight/internal/patentdoc"
)

func testDoc(sections ...patentdoc.Section) *patentdoc.CanonicalDocument {
	for i := range sections {
		sections[i].Index = i
	}
	return &patentdoc.CanonicalDocument{ID: "WO2024033280A1", Sections: sections}
}

// coverage verifies the core segmentation invariant: every character of
// every section appears in exactly one non-overlap ref.
func assertFullCoverage(t *testing.T, doc *patentdoc.CanonicalDocument, chunks []Chunk) {
	t.Helper()
	covered := map[int][]bool{}
	for _, sec := range doc.Sections {
		covered[sec.Index] = make([]bool, len(sec.Text))
	}
	for _, ch := range chunks {
		for _, ref := range ch.SectionRefs {
			if ref.Overlap {
				continue
			}
			for i := ref.Start; i < ref.End; i++ {
				if covered[ref.SectionIndex][i] {
					t.Fatalf("section %d char %d covered twice", ref.SectionIndex, i)
				}
				covered[ref.SectionIndex][i] = true
			}
		}
	}
	for idx, bits := range covered {
		for i, ok := range bits {
			if !ok {
				t.Fatalf("section %d char %d not covered", idx, i)
			}
		}
	}
}

func TestSegmentSingleChunk(t *testing.T) {
	doc := testDoc(
		patentdoc.Section{Kind: patentdoc.SectionTitle, Text: "Furopyridine inhibitors of PI4K"},
		patentdoc.Section{Kind: patentdoc.SectionAbstract, Text: "Compounds of formula I inhibit PI4K."},
	)
	chunks, err := Segment(doc, Options{Budget: 1000})
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].ID != "chunk-000" {
		t.Fatalf("chunk id = %q", chunks[0].ID)
	}
	assertFullCoverage(t, doc, chunks)
	if got := chunks[0].SectionIndices(); !reflect.DeepEqual(got, []int{0, 1}) {
		t.Fatalf("section indices = %v", got)
	}
}

func TestSegmentRespectsBudget(t *testing.T) {
	long := strings.Repeat("This is a sentence about the invention. ", 50) // ~2000 chars
	doc := testDoc(
		patentdoc.Section{Kind: patentdoc.SectionDescription, Text: strings.TrimSpace(long)},
	)
	chunks, err := Segment(doc, Options{Budget: 300})
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for _, ch := range chunks {
		if len(ch.Text) > 300 {
			t.Fatalf("chunk %s has %d chars, budget 300", ch.ID, len(ch.Text))
		}
	}
	assertFullCoverage(t, doc, chunks)
}

func TestSegmentOverlapTagged(t *testing.T) {
	long := strings.Repeat("Alpha beta gamma delta epsilon zeta eta theta. ", 20)
	doc := testDoc(
		patentdoc.Section{Kind: patentdoc.SectionDescription, Text: strings.TrimSpace(long)},
	)
	chunks, err := Segment(doc, Options{Budget: 200, Overlap: 20})
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	sawOverlap := false
	for i, ch := range chunks {
		for _, ref := range ch.SectionRefs {
			if ref.Overlap {
				sawOverlap = true
				if i == 0 {
					t.Fatal("first chunk cannot carry overlap")
				}
				if ref.End-ref.Start > 20 {
					t.Fatalf("overlap ref %d chars, configured 20", ref.End-ref.Start)
				}
			}
		}
	}
	if !sawOverlap {
		t.Fatal("expected at least one tagged overlap ref")
	}
	assertFullCoverage(t, doc, chunks)
}

func TestSegmentDeterministic(t *testing.T) {
	long := strings.Repeat("One sentence here. Another sentence there. ", 30)
	doc := testDoc(
		patentdoc.Section{Kind: patentdoc.SectionAbstract, Text: "Short abstract."},
		patentdoc.Section{Kind: patentdoc.SectionDescription, Text: strings.TrimSpace(long)},
	)
	a, err := Segment(doc, Options{Budget: 250, Overlap: 10})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Segment(doc, Options{Budget: 250, Overlap: 10})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatal("identical (doc, budget) produced different chunking")
	}
}

func TestSegmentBudgetTooSmall(t *testing.T) {
	doc := testDoc(
		patentdoc.Section{Kind: patentdoc.SectionClaim, Text: "An indivisible sentence that is longer than the configured budget for this test"},
	)
	_, err := Segment(doc, Options{Budget: 20})
	if !fault.Is(err, fault.BudgetTooSmall) {
		t.Fatalf("expected budget_too_small, got %v", err)
	}

	_, err = Segment(doc, Options{Budget: 0})
	if !fault.Is(err, fault.BudgetTooSmall) {
		t.Fatalf("expected budget_too_small for zero budget, got %v", err)
	}
}

func TestSegmentPreservesSectionBoundaries(t *testing.T) {
	doc := testDoc(
		patentdoc.Section{Kind: patentdoc.SectionTitle, Text: "Title text."},
		patentdoc.Section{Kind: patentdoc.SectionClaim, Text: "Claim one text."},
	)
	chunks, err := Segment(doc, Options{Budget: 1000})
	if err != nil {
		t.Fatal(err)
	}
	kinds := chunks[0].Kinds()
	if !kinds[patentdoc.SectionTitle] || !kinds[patentdoc.SectionClaim] {
		t.Fatalf("kinds = %v", kinds)
	}
	// refs stay section-scoped even when packed together
	for _, ref := range chunks[0].SectionRefs {
		sec := doc.SectionByIndex(ref.SectionIndex)
		if ref.End > len(sec.Text) {
			t.Fatalf("ref %+v exceeds section length %d", ref, len(sec.Text))
		}
	}
}

func TestSplitSentencesPartition(t *testing.T) {
	text := "First sentence. Second one!\nThird line; fourth clause. Tail without terminator"
	spans := splitSentences(text)
	if len(spans) == 0 {
		t.Fatal("no spans")
	}
	pos := 0
	for _, sp := range spans {
		if sp.start != pos {
			t.Fatalf("gap at %d", pos)
		}
		pos = sp.end
	}
	if pos != len(text) {
		t.Fatalf("spans cover %d of %d chars", pos, len(text))
	}
}
