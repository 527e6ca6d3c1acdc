package patentdoc

import (
	"context"
	"log"

	"github.com/joelkehle/patent-insight/internal/fault"
)

// Source retrieves a document from an external registry by normalized
// publication number. Implementations own their retry policy; a failure
// surfaced here is final for the run.
type Source interface {
	Fetch(ctx context.Context, id string) (*CanonicalDocument, error)
}

// Input carries exactly one of a patent identifier or uploaded registry XML.
type Input struct {
	Identifier string
	XML        []byte
	Filename   string
}

// Normalizer turns an Input into a CanonicalDocument.
type Normalizer struct {
	source Source
}

func NewNormalizer(source Source) *Normalizer {
	return &Normalizer{source: source}
}

// Normalize validates and resolves the input. Identifier inputs are
// grammar-checked and fetched from the registry source; XML inputs are
// parsed directly. Section ordering is deterministic for structurally
// identical input.
func (n *Normalizer) Normalize(ctx context.Context, in Input) (*CanonicalDocument, error) {
	if len(in.XML) > 0 {
		doc, err := ParseXML(in.XML)
		if err != nil {
			return nil, err
		}
		if in.Filename != "" {
			doc.Metadata[MetaSourceFilename] = in.Filename
		}
		log.Printf("patent-insight normalize source=upload id=%s sections=%d", doc.ID, len(doc.Sections))
		return doc, nil
	}

	id, err := NormalizeIdentifier(in.Identifier)
	if err != nil {
		return nil, err
	}
	if n.source == nil {
		return nil, fault.New(fault.UpstreamFetchFailed, "no registry source configured")
	}
	doc, err := n.source.Fetch(ctx, id)
	if err != nil {
		if fault.KindOf(err) != "" {
			return nil, err
		}
		return nil, fault.Wrap(fault.UpstreamFetchFailed, "registry fetch failed", err)
	}
	if doc.ID == "" {
		doc.ID = id
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]string{}
	}
	if doc.Metadata[MetaJurisdiction] == "" {
		doc.Metadata[MetaJurisdiction] = Jurisdiction(doc.ID)
	}
	log.Printf("patent-insight normalize source=registry id=%s sections=%d", doc.ID, len(doc.Sections))
	return doc, nil
}
