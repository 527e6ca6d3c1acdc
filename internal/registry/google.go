// Package registry retrieves published patent documents from Google
// Patents. No API key is required and the same endpoint serves WO, US, EP
// and national-office publications.
package registry

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/joelkehle/patent-insight/internal/fault"
	"github.com/joelkehle/patent-insight/internal/patentdoc"
)

const (
	DefaultBaseURL            = "https://patents.google.com"
	DefaultMaxAttempts        = 3
	DefaultRateLimitPerMinute = 30

	// The page carries full-text sections far larger than any model
	// request needs; the caps match what the analysis actually consumes.
	maxClaimsChars      = 5000
	maxDescriptionChars = 10000
)

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

type Config struct {
	BaseURL            string
	MaxAttempts        int
	RateLimitPerMinute int
	BackoffBase        time.Duration
	HTTPClient         *http.Client
}

// Client fetches and parses Google Patents pages. It implements
// patentdoc.Source.
type Client struct {
	cfg     Config
	limiter <-chan time.Time
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = DefaultRateLimitPerMinute
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	ticker := time.NewTicker(time.Minute / time.Duration(cfg.RateLimitPerMinute))
	return &Client{cfg: cfg, limiter: ticker.C}
}

// Fetch retrieves the English page for a normalized publication number and
// converts it into a canonical document. Transient upstream failures (429,
// 5xx, network errors) are retried with backoff before the fetch is
// declared failed.
func (c *Client) Fetch(ctx context.Context, id string) (*patentdoc.CanonicalDocument, error) {
	url := fmt.Sprintf("%s/patent/%s/en", c.cfg.BaseURL, id)

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := c.waitRateLimit(ctx); err != nil {
			return nil, fault.Wrap(fault.UpstreamFetchFailed, "fetch canceled", err)
		}
		body, status, err := c.get(ctx, url)
		if err != nil {
			lastErr = err
			log.Printf("patent-insight registry_fetch_error id=%s attempt=%d err=%v", id, attempt, err)
			if attempt < c.cfg.MaxAttempts {
				sleepCtx(ctx, c.backoffDelay(attempt))
				continue
			}
			break
		}
		switch {
		case status == http.StatusOK:
			doc, perr := parsePatentPage(id, body)
			if perr != nil {
				return nil, perr
			}
			log.Printf("patent-insight registry_fetch_ok id=%s attempt=%d sections=%d", id, attempt, len(doc.Sections))
			return doc, nil
		case status == http.StatusNotFound:
			return nil, fault.New(fault.UpstreamFetchFailed, fmt.Sprintf("publication %s not found", id))
		case status == http.StatusTooManyRequests || status >= 500:
			lastErr = fmt.Errorf("registry returned status %d", status)
			log.Printf("patent-insight registry_fetch_retry id=%s attempt=%d status=%d", id, attempt, status)
			if attempt < c.cfg.MaxAttempts {
				sleepCtx(ctx, c.backoffDelay(attempt))
				continue
			}
		default:
			return nil, fault.New(fault.UpstreamFetchFailed, fmt.Sprintf("registry returned status %d", status))
		}
	}
	return nil, fault.Wrap(fault.UpstreamFetchFailed, "registry unreachable after retries", lastErr)
}

func (c *Client) get(ctx context.Context, url string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", resp.StatusCode, err
	}
	return string(b), resp.StatusCode, nil
}

func (c *Client) waitRateLimit(ctx context.Context) error {
	select {
	case <-c.limiter:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	return c.cfg.BackoffBase << (attempt - 1)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// parsePatentPage extracts the canonical sections from a Google Patents
// result page. Section order is fixed (title, abstract, claims,
// description) so repeated fetches of the same page yield identical
// indices.
func parsePatentPage(id, page string) (*patentdoc.CanonicalDocument, error) {
	root, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil, fault.Wrap(fault.UpstreamFetchFailed, "registry page is not parseable HTML", err)
	}

	doc := &patentdoc.CanonicalDocument{ID: id, Metadata: map[string]string{
		patentdoc.MetaJurisdiction: patentdoc.Jurisdiction(id),
	}}

	if a := firstText(root, byItemprop("dd", "assigneeCurrent"), byItemprop("dd", "assigneeOriginal")); a != "" {
		doc.Metadata[patentdoc.MetaApplicant] = a
	} else if a := metaContent(root, "DC.contributor"); a != "" {
		doc.Metadata[patentdoc.MetaApplicant] = a
	}
	if inv := joinTexts(root, byItemprop("dd", "inventor")); inv != "" {
		doc.Metadata[patentdoc.MetaInventors] = inv
	}
	if d := firstText(root, byItemprop("time", "filingDate")); d != "" {
		doc.Metadata[patentdoc.MetaFilingDate] = d
	}
	if d := firstText(root, byItemprop("time", "publicationDate")); d != "" {
		doc.Metadata[patentdoc.MetaPublicationDate] = d
	}

	title := cleanTitle(metaContent(root, "DC.title"))
	if title == "" {
		title = cleanTitle(firstText(root, byTag("invention-title")))
	}
	abstract := firstText(root, byItemprop("section", "abstract"), byClass("div", "abstract"))
	if abstract == "" {
		abstract = metaContent(root, "description")
	}
	claims := truncate(firstText(root, byItemprop("section", "claims"), byClass("div", "claims")), maxClaimsChars)
	description := truncate(firstText(root, byItemprop("section", "description"), byClass("div", "description")), maxDescriptionChars)

	idx := 0
	add := func(kind patentdoc.SectionKind, text string) {
		if strings.TrimSpace(text) == "" {
			return
		}
		doc.Sections = append(doc.Sections, patentdoc.Section{Kind: kind, Index: idx, Text: strings.TrimSpace(text)})
		idx++
	}
	add(patentdoc.SectionTitle, title)
	add(patentdoc.SectionAbstract, abstract)
	add(patentdoc.SectionClaim, claims)
	add(patentdoc.SectionDescription, description)

	if len(doc.Sections) == 0 {
		return nil, fault.New(fault.UpstreamFetchFailed, "registry page carried no usable sections")
	}
	return doc, nil
}

func cleanTitle(t string) string {
	t = strings.TrimSpace(t)
	t = strings.TrimSuffix(t, "- Google Patents")
	return strings.TrimSpace(t)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...[truncated]"
}

// --- html traversal helpers ---

type nodeMatch func(*html.Node) bool

func byItemprop(tag, itemprop string) nodeMatch {
	return func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == tag && attrVal(n, "itemprop") == itemprop
	}
}

func byClass(tag, class string) nodeMatch {
	return func(n *html.Node) bool {
		if n.Type != html.ElementNode || n.Data != tag {
			return false
		}
		for _, c := range strings.Fields(attrVal(n, "class")) {
			if c == class {
				return true
			}
		}
		return false
	}
}

func byTag(tag string) nodeMatch {
	return func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == tag
	}
}

func attrVal(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func metaContent(root *html.Node, name string) string {
	n := findNode(root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "meta" && attrVal(n, "name") == name
	})
	if n == nil {
		return ""
	}
	return strings.TrimSpace(attrVal(n, "content"))
}

func findNode(n *html.Node, match nodeMatch) *html.Node {
	if match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findNode(c, match); found != nil {
			return found
		}
	}
	return nil
}

func findAllNodes(n *html.Node, match nodeMatch, out *[]*html.Node) {
	if match(n) {
		*out = append(*out, n)
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		findAllNodes(c, match, out)
	}
}

// firstText returns the normalized text of the first node matching any of
// the given matchers, in matcher priority order.
func firstText(root *html.Node, matches ...nodeMatch) string {
	for _, m := range matches {
		if n := findNode(root, m); n != nil {
			if t := nodeText(n); t != "" {
				return t
			}
		}
	}
	return ""
}

func joinTexts(root *html.Node, match nodeMatch) string {
	var nodes []*html.Node
	findAllNodes(root, match, &nodes)
	var parts []string
	for _, n := range nodes {
		if t := nodeText(n); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, ", ")
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}
