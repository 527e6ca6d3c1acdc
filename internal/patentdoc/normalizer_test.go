package patentdoc

import (
	"context"
	"errors"
	"testing"

	"github.com/joelkehle/patent-insight/internal/fault"
)

type stubSource struct {
	doc    *CanonicalDocument
	err    error
	lastID string
}

func (s *stubSource) Fetch(_ context.Context, id string) (*CanonicalDocument, error) {
	s.lastID = id
	if s.err != nil {
		return nil, s.err
	}
	return s.doc, nil
}

func TestNormalizeIdentifierPath(t *testing.T) {
	src := &stubSource{doc: &CanonicalDocument{Sections: []Section{{Kind: SectionTitle, Index: 0, Text: "t"}}}}
	n := NewNormalizer(src)

	doc, err := n.Normalize(context.Background(), Input{Identifier: "wo 2024/033280"})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if src.lastID != "WO2024033280A1" {
		t.Fatalf("source received %q, want normalized id", src.lastID)
	}
	if doc.ID != "WO2024033280A1" {
		t.Fatalf("doc id = %q", doc.ID)
	}
	if doc.Metadata[MetaJurisdiction] != "WO" {
		t.Fatalf("jurisdiction = %q", doc.Metadata[MetaJurisdiction])
	}
}

func TestNormalizeInvalidIdentifierSkipsFetch(t *testing.T) {
	src := &stubSource{}
	n := NewNormalizer(src)
	_, err := n.Normalize(context.Background(), Input{Identifier: "not-a-patent"})
	if !fault.Is(err, fault.InvalidIdentifier) {
		t.Fatalf("expected invalid_identifier, got %v", err)
	}
	if src.lastID != "" {
		t.Fatal("fetch must not run for invalid identifiers")
	}
}

func TestNormalizeFetchFailure(t *testing.T) {
	n := NewNormalizer(&stubSource{err: errors.New("connection reset")})
	_, err := n.Normalize(context.Background(), Input{Identifier: "WO2024033280"})
	if !fault.Is(err, fault.UpstreamFetchFailed) {
		t.Fatalf("expected upstream_fetch_failed, got %v", err)
	}
}

func TestNormalizeUploadPath(t *testing.T) {
	n := NewNormalizer(nil)
	doc, err := n.Normalize(context.Background(), Input{XML: []byte(sampleXML), Filename: "wo2024033280.xml"})
	if err != nil {
		t.Fatalf("Normalize upload: %v", err)
	}
	if doc.Metadata[MetaSourceFilename] != "wo2024033280.xml" {
		t.Fatalf("filename metadata = %q", doc.Metadata[MetaSourceFilename])
	}
}
