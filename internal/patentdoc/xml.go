package patentdoc

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"github.com/joelkehle/patent-insight/internal/fault"
)

// maxDescriptionParagraphs bounds how much description text one upload can
// contribute; registry exports routinely carry hundreds of OCR paragraphs.
const maxDescriptionParagraphs = 200

// xmlNode is a namespace-agnostic element tree. Registry exports mix WIPO,
// EPO and DOCDB namespaces, so tags are matched by local name only.
type xmlNode struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Children []xmlNode  `xml:",any"`
	Text     string     `xml:",chardata"`
}

func (n *xmlNode) local() string { return n.XMLName.Local }

func (n *xmlNode) attr(name string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func (n *xmlNode) text() string { return strings.TrimSpace(n.Text) }

// walk visits n and all descendants in document order.
func (n *xmlNode) walk(fn func(*xmlNode) bool) bool {
	if !fn(n) {
		return false
	}
	for i := range n.Children {
		if !n.Children[i].walk(fn) {
			return false
		}
	}
	return true
}

func (n *xmlNode) find(localName string) *xmlNode {
	var found *xmlNode
	n.walk(func(c *xmlNode) bool {
		if c.local() == localName {
			found = c
			return false
		}
		return true
	})
	return found
}

func (n *xmlNode) findAll(localName string) []*xmlNode {
	var out []*xmlNode
	n.walk(func(c *xmlNode) bool {
		if c.local() == localName {
			out = append(out, c)
		}
		return true
	})
	return out
}

// paragraphs collects the text of every <p> descendant, in order.
func (n *xmlNode) paragraphs() []string {
	var out []string
	n.walk(func(c *xmlNode) bool {
		if c.local() == "p" {
			if t := flattenText(c); t != "" {
				out = append(out, t)
			}
		}
		return true
	})
	return out
}

// flattenText concatenates the character data of a node and its children.
// Claim text is frequently nested in claim-text elements.
func flattenText(n *xmlNode) string {
	var sb strings.Builder
	n.walk(func(c *xmlNode) bool {
		if t := c.text(); t != "" {
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(t)
		}
		return true
	})
	return strings.TrimSpace(sb.String())
}

// ParseXML parses a registry export (WIPO/EPO/DOCDB patent-document XML)
// into a CanonicalDocument. Section indices are assigned in document order:
// title, abstract, claims, description paragraphs. Returns
// fault.UnsupportedFormat when the bytes are not XML or yield no sections.
func ParseXML(data []byte) (*CanonicalDocument, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) { return input, nil }

	var root xmlNode
	if err := dec.Decode(&root); err != nil {
		return nil, fault.Wrap(fault.UnsupportedFormat, "document is not well-formed XML", err)
	}

	doc := &CanonicalDocument{Metadata: map[string]string{}}
	doc.ID = extractPublicationID(&root)
	if doc.ID != "" {
		doc.Metadata[MetaJurisdiction] = Jurisdiction(doc.ID)
	}
	if a := extractParties(&root, "applicants", "applicant"); a != "" {
		doc.Metadata[MetaApplicant] = a
	} else if a := extractParties(&root, "assignees", "assignee"); a != "" {
		doc.Metadata[MetaApplicant] = a
	}
	if inv := extractParties(&root, "inventors", "inventor"); inv != "" {
		doc.Metadata[MetaInventors] = inv
	}
	if d := extractDate(&root, "application-reference"); d != "" {
		doc.Metadata[MetaFilingDate] = d
	}
	if d := extractDate(&root, "publication-reference"); d != "" {
		doc.Metadata[MetaPublicationDate] = d
	}

	idx := 0
	add := func(kind SectionKind, text string) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		doc.Sections = append(doc.Sections, Section{Kind: kind, Index: idx, Text: text})
		idx++
	}

	add(SectionTitle, extractInventionTitle(&root))
	add(SectionAbstract, extractLangSection(&root, "abstract"))
	for _, claim := range root.findAll("claim") {
		add(SectionClaim, flattenText(claim))
	}
	if desc := root.find("description"); desc != nil {
		paras := desc.paragraphs()
		if len(paras) > maxDescriptionParagraphs {
			paras = paras[:maxDescriptionParagraphs]
		}
		add(SectionDescription, strings.Join(paras, "\n\n"))
	}

	if len(doc.Sections) == 0 {
		return nil, fault.New(fault.UnsupportedFormat, "no title, abstract, claim or description sections found")
	}
	return doc, nil
}

// extractPublicationID reassembles country + doc-number + kind from the
// publication-reference block. Slashes and spaces inside doc-number are
// office formatting, not part of the number.
func extractPublicationID(root *xmlNode) string {
	ref := root.find("publication-reference")
	if ref == nil {
		return ""
	}
	country, number, kind := "", "", ""
	ref.walk(func(c *xmlNode) bool {
		switch c.local() {
		case "country":
			country = c.text()
		case "doc-number":
			number = strings.NewReplacer("/", "", " ", "").Replace(c.text())
		case "kind":
			kind = c.text()
		}
		return true
	})
	if country == "" || number == "" {
		return ""
	}
	return country + number + kind
}

// extractInventionTitle prefers the English invention-title and falls back
// to the first one present.
func extractInventionTitle(root *xmlNode) string {
	titles := root.findAll("invention-title")
	for _, t := range titles {
		if t.attr("lang") == "en" && t.text() != "" {
			return t.text()
		}
	}
	for _, t := range titles {
		if t.text() != "" {
			return t.text()
		}
	}
	return ""
}

func extractLangSection(root *xmlNode, localName string) string {
	var fallback string
	for _, s := range root.findAll(localName) {
		body := strings.Join(s.paragraphs(), "\n\n")
		if body == "" {
			body = flattenText(s)
		}
		if body == "" {
			continue
		}
		if s.attr("lang") == "en" {
			return body
		}
		if fallback == "" {
			fallback = body
		}
	}
	return fallback
}

// extractParties joins the names found under a party container, preserving
// order and dropping duplicates. Offices disagree on the name tag, so
// several are accepted.
func extractParties(root *xmlNode, container, member string) string {
	sec := root.find(container)
	if sec == nil {
		return ""
	}
	nameTags := map[string]bool{"name": true, "orgname": true, "organization-name": true, "last-name": true}
	seen := map[string]bool{}
	var names []string
	for _, m := range sec.findAll(member) {
		m.walk(func(c *xmlNode) bool {
			if nameTags[c.local()] && c.text() != "" && !seen[c.text()] {
				seen[c.text()] = true
				names = append(names, c.text())
				return false
			}
			return true
		})
	}
	return strings.Join(names, ", ")
}

func extractDate(root *xmlNode, refName string) string {
	ref := root.find(refName)
	if ref == nil {
		return ""
	}
	if d := ref.find("date"); d != nil {
		return d.text()
	}
	return ""
}
