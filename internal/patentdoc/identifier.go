package patentdoc

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/joelkehle/patent-insight/internal/fault"
)

// Publication numbers follow jurisdiction + four-digit year + sequence,
// optionally suffixed with a kind code (WO2024033280A1, EP4123456A1,
// US20190060264A1).
var identifierRe = regexp.MustCompile(`^([A-Z]{2})((?:19|20)\d{2})(\d{4,9})([A-C]\d)$`)

var kindCodeRe = regexp.MustCompile(`[A-C]\d$`)

// NormalizeIdentifier canonicalizes a user-supplied patent number: strips
// separators, uppercases, expands the shortened US year form
// (US19060264 -> US20190060264) and defaults the kind code to A1 when the
// input carries none. Returns fault.InvalidIdentifier when the result does
// not match the publication-number grammar.
func NormalizeIdentifier(raw string) (string, error) {
	id := strings.ToUpper(strings.TrimSpace(raw))
	id = strings.NewReplacer(" ", "", "/", "", "-", "", ",", "").Replace(id)
	if id == "" {
		return "", fault.New(fault.InvalidIdentifier, "identifier is empty")
	}
	if len(id) < 2 || id[0] < 'A' || id[0] > 'Z' || id[1] < 'A' || id[1] > 'Z' {
		return "", fault.New(fault.InvalidIdentifier, "missing two-letter jurisdiction prefix")
	}

	country := id[:2]
	num := id[2:]
	kind := ""
	if m := kindCodeRe.FindString(num); m != "" {
		kind = m
		num = num[:len(num)-2]
	}
	if num == "" || strings.IndexFunc(num, notDigit) >= 0 {
		return "", fault.New(fault.InvalidIdentifier, "sequence must be numeric")
	}

	// US filings are often quoted with a two-digit year (19060264 for
	// 20190060264). Expand before validating.
	if country == "US" && len(num) == 8 && num[:2] <= "25" {
		num = "20" + num
	}
	if kind == "" {
		kind = "A1"
	}

	id = country + num + kind
	if !identifierRe.MatchString(id) {
		return "", fault.New(fault.InvalidIdentifier,
			fmt.Sprintf("%s does not match jurisdiction+year+sequence grammar", id))
	}
	return id, nil
}

// Jurisdiction returns the two-letter office prefix of a normalized
// identifier.
func Jurisdiction(id string) string {
	if len(id) < 2 {
		return ""
	}
	return id[:2]
}

func notDigit(r rune) bool { return r < '0' || r > '9' }
