package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joelkehle/patent-insight/internal/fault"
	"github.com/joelkehle/patent-insight/internal/patentdoc"
)

const samplePage = `<!doctype html>
<html><head>
<meta name="DC.title" content="Furopyridine inhibitors of PI4K - Google Patents">
<meta name="DC.contributor" content="Example Pharma AG">
</head><body>
<dl>
  <dd itemprop="assigneeOriginal">Example Pharma AG</dd>
  <dd itemprop="inventor">Jane Doe</dd>
  <dd itemprop="inventor">John Roe</dd>
</dl>
<time itemprop="filingDate">2023-08-08</time>
<time itemprop="publicationDate">2024-02-15</time>
<section itemprop="abstract"><p>Compounds of formula I inhibit PI4K and are useful against malaria.</p></section>
<section itemprop="claims"><div>1. A compound of formula I.</div><div>2. The compound of claim 1 for use in therapy.</div></section>
<section itemprop="description"><p>The invention relates to furopyridine derivatives.</p></section>
</body></html>`

func testClient(url string) *Client {
	return NewClient(Config{
		BaseURL:            url,
		MaxAttempts:        3,
		RateLimitPerMinute: 60000,
		BackoffBase:        time.Millisecond,
	})
}

func TestFetchParsesSections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/patent/WO2024033280A1/en" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Accept-Language") == "" {
			t.Error("missing Accept-Language header")
		}
		_, _ = w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	doc, err := testClient(srv.URL).Fetch(context.Background(), "WO2024033280A1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if doc.ID != "WO2024033280A1" {
		t.Fatalf("id = %q", doc.ID)
	}
	if len(doc.Sections) != 4 {
		t.Fatalf("expected 4 sections, got %d", len(doc.Sections))
	}
	wantKinds := []patentdoc.SectionKind{
		patentdoc.SectionTitle, patentdoc.SectionAbstract, patentdoc.SectionClaim, patentdoc.SectionDescription,
	}
	for i, s := range doc.Sections {
		if s.Kind != wantKinds[i] || s.Index != i {
			t.Fatalf("section %d = %+v, want kind %s index %d", i, s, wantKinds[i], i)
		}
	}
	if doc.Sections[0].Text != "Furopyridine inhibitors of PI4K" {
		t.Fatalf("title = %q, suffix not stripped", doc.Sections[0].Text)
	}
	if doc.Metadata[patentdoc.MetaApplicant] != "Example Pharma AG" {
		t.Fatalf("applicant = %q", doc.Metadata[patentdoc.MetaApplicant])
	}
	if doc.Metadata[patentdoc.MetaInventors] != "Jane Doe, John Roe" {
		t.Fatalf("inventors = %q", doc.Metadata[patentdoc.MetaInventors])
	}
}

func TestFetchRetriesTransientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	doc, err := testClient(srv.URL).Fetch(context.Background(), "WO2024033280A1")
	if err != nil {
		t.Fatalf("Fetch after retries: %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if len(doc.Sections) == 0 {
		t.Fatal("expected sections after retry success")
	}
}

func TestFetchExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Fetch(context.Background(), "WO2024033280A1")
	if !fault.Is(err, fault.UpstreamFetchFailed) {
		t.Fatalf("expected upstream_fetch_failed, got %v", err)
	}
}

func TestFetchNotFoundIsFinal(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Fetch(context.Background(), "WO0000000000A1")
	if !fault.Is(err, fault.UpstreamFetchFailed) {
		t.Fatalf("expected upstream_fetch_failed, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("404 must not be retried, got %d calls", calls)
	}
}

func TestTruncate(t *testing.T) {
	long := make([]byte, maxClaimsChars+100)
	for i := range long {
		long[i] = 'a'
	}
	got := truncate(string(long), maxClaimsChars)
	if len(got) != maxClaimsChars+len("...[truncated]") {
		t.Fatalf("unexpected truncated length %d", len(got))
	}
}
