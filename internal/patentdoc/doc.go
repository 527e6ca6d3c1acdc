// Package patentdoc converts patent identifiers and uploaded registry
// exports into a canonical in-memory document the rest of the pipeline
// consumes.
package patentdoc

type SectionKind string

const (
	SectionTitle       SectionKind = "TITLE"
	SectionAbstract    SectionKind = "ABSTRACT"
	SectionClaim       SectionKind = "CLAIM"
	SectionDescription SectionKind = "DESCRIPTION"
	SectionOther       SectionKind = "OTHER"
)

// Section is one ordered slice of document text. Index is unique and
// monotonic in original document order.
type Section struct {
	Kind  SectionKind `json:"kind"`
	Index int         `json:"index"`
	Text  string      `json:"text"`
}

// Metadata keys populated by the normalizer when the source provides them.
const (
	MetaApplicant       = "applicant"
	MetaInventors       = "inventors"
	MetaFilingDate      = "filing_date"
	MetaPublicationDate = "publication_date"
	MetaJurisdiction    = "jurisdiction"
	MetaSourceFilename  = "source_filename"
)

// CanonicalDocument is the normalized form of one patent. It is created
// once per analysis run and never mutated afterwards.
type CanonicalDocument struct {
	ID       string            `json:"id"`
	Sections []Section         `json:"sections"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SectionByIndex returns the section with the given index, or nil.
func (d *CanonicalDocument) SectionByIndex(idx int) *Section {
	for i := range d.Sections {
		if d.Sections[i].Index == idx {
			return &d.Sections[i]
		}
	}
	return nil
}
