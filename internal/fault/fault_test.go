package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfUnwrapsChains(t *testing.T) {
	base := New(RateLimited, "throttled")
	wrapped := fmt.Errorf("stage biological: %w", base)
	if KindOf(wrapped) != RateLimited {
		t.Fatalf("expected rate_limited, got %q", KindOf(wrapped))
	}
	if KindOf(errors.New("plain")) != "" {
		t.Fatal("plain error should carry no kind")
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		kind Kind
		want bool
	}{
		{RateLimited, true},
		{Timeout, true},
		{MalformedResponse, false},
		{InvalidIdentifier, false},
		{AnalysisUnavailable, false},
	}
	for _, tc := range cases {
		if got := Retryable(New(tc.kind, "x")); got != tc.want {
			t.Errorf("Retryable(%s) = %v, want %v", tc.kind, got, tc.want)
		}
	}
}

func TestUserMessageHidesDiagnostics(t *testing.T) {
	err := Wrap(AnalysisUnavailable, "all stages failed", errors.New("429 after 5 attempts"))
	msg := UserMessage(err)
	if msg != "the analysis service is currently unavailable" {
		t.Fatalf("unexpected user message %q", msg)
	}

	in := New(InvalidIdentifier, "missing four-digit year")
	if got := UserMessage(in); got != "patent identifier is not valid: missing four-digit year" {
		t.Fatalf("unexpected user message %q", got)
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("socket closed")
	err := Wrap(UpstreamFetchFailed, "registry fetch", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped cause to survive errors.Is")
	}
}
