// Package scan is the local, deterministic pattern matcher for PII,
// financial identifiers, national IDs and medical terms in log records.
package scan

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/ppiankov/sentinel/internal/model"
)

// Match is a single occurrence of sensitive data in text.
type Match struct {
	Kind  model.FindingKind `json:"kind"`
	Rule  string            `json:"rule"`
	Field string            `json:"field"`
	Value string            `json:"value"`
	Start int               `json:"start"`
	End   int               `json:"end"`
}

// DefaultStreetSuffixes are the address suffixes matched after a house number.
var DefaultStreetSuffixes = []string{
	"St", "Street", "Rd", "Road", "Ave", "Avenue", "Blvd", "Boulevard",
	"Lane", "Ln", "Way", "Dr", "Drive", "Ct", "Court",
}

// DefaultMedicalKeywords are the terms that mark a medical disclosure.
var DefaultMedicalKeywords = []string{
	"pain", "chronic", "diagnosis", "diagnosed", "surgery", "treatment",
	"prescription", "psychiatric", "chemotherapy", "hiv", "diabetes",
	"depression", "oncology",
}

// Built-in identifier patterns. Ordered by priority: a later rule never
// matches inside a span an earlier rule already claimed.
var (
	uuidRe       = regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`)
	ibanRe       = regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`)
	ssnRe        = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	creditCardRe = regexp.MustCompile(`\b(?:\d{4}[-\s]?){3}\d{4}\b`)
	passportRe   = regexp.MustCompile(`\b[A-Z]{1,2}\d{6,8}\b`)
)

type rule struct {
	name string
	kind model.FindingKind
	re   *regexp.Regexp
}

// Scanner holds the compiled rule table. Safe for concurrent use.
type Scanner struct {
	rules []rule
}

// New compiles the built-in rules plus any configured extras.
// A nil config yields the defaults.
func New(cfg *Config) (*Scanner, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	disabled := make(map[string]bool, len(cfg.Disabled))
	for _, d := range cfg.Disabled {
		disabled[strings.ToLower(d)] = true
	}

	suffixes := cfg.StreetSuffixes
	if len(suffixes) == 0 {
		suffixes = DefaultStreetSuffixes
	}
	keywords := cfg.MedicalKeywords
	if len(keywords) == 0 {
		keywords = DefaultMedicalKeywords
	}

	addressRe, err := compileAddress(suffixes)
	if err != nil {
		return nil, err
	}
	medicalRe, err := compileKeywords(keywords)
	if err != nil {
		return nil, err
	}

	builtin := []rule{
		{name: "uuid", kind: model.KindUUID, re: uuidRe},
		{name: "iban", kind: model.KindIBAN, re: ibanRe},
		{name: "ssn", kind: model.KindSSN, re: ssnRe},
		{name: "credit_card", kind: model.KindCreditCard, re: creditCardRe},
		{name: "address", kind: model.KindAddress, re: addressRe},
		{name: "passport", kind: model.KindPassport, re: passportRe},
		{name: "medical", kind: model.KindMedical, re: medicalRe},
	}

	s := &Scanner{}
	for _, r := range builtin {
		if disabled[r.name] {
			continue
		}
		s.rules = append(s.rules, r)
	}

	extras, err := compilePatterns(cfg)
	if err != nil {
		return nil, err
	}
	s.rules = append(s.rules, extras...)
	return s, nil
}

// Rules returns the names of the active rules in priority order.
func (s *Scanner) Rules() []string {
	names := make([]string, len(s.rules))
	for i, r := range s.rules {
		names[i] = r.name
	}
	return names
}

// Scan finds all sensitive patterns in text and returns deduplicated,
// non-overlapping matches sorted by position. Text is NFKC-normalized
// first so full-width digits and similar look-alikes match.
func (s *Scanner) Scan(text string) []Match {
	return s.scanField("", text)
}

func (s *Scanner) scanField(field, text string) []Match {
	text = norm.NFKC.String(text)
	seen := make(map[string]bool)
	var claimed [][2]int
	var matches []Match

	overlaps := func(start, end int) bool {
		for _, c := range claimed {
			if start < c[1] && end > c[0] {
				return true
			}
		}
		return false
	}

	for _, r := range s.rules {
		for _, loc := range r.re.FindAllStringIndex(text, -1) {
			value := strings.TrimRight(text[loc[0]:loc[1]], ".,;:\"'`)}]")
			end := loc[0] + len(value)
			if value == "" || overlaps(loc[0], end) {
				continue
			}
			claimed = append(claimed, [2]int{loc[0], end})
			key := r.name + "\x00" + value
			if seen[key] {
				continue
			}
			seen[key] = true
			matches = append(matches, Match{
				Kind:  r.kind,
				Rule:  r.name,
				Field: field,
				Value: value,
				Start: loc[0],
				End:   end,
			})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Start < matches[j].Start
	})
	return matches
}

// ScanRecord scans the content, every parameter value and the attached
// reasoning of a record. Field names identify where each match came from.
func (s *Scanner) ScanRecord(rec model.LogRecord) []Match {
	matches := s.scanField("content", rec.Content)
	for _, kv := range flatten("parameters", rec.Parameters) {
		matches = append(matches, s.scanField(kv[0], kv[1])...)
	}
	if rec.Metadata != nil && rec.Metadata.Reasoning != "" {
		matches = append(matches, s.scanField("metadata.reasoning", rec.Metadata.Reasoning)...)
	}
	return matches
}

// flatten walks nested parameters and returns (path, string value) pairs
// in a stable order.
func flatten(prefix string, v any) [][2]string {
	var out [][2]string
	switch t := v.(type) {
	case nil:
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = append(out, flatten(prefix+"."+k, t[k])...)
		}
	case []any:
		for i, item := range t {
			out = append(out, flatten(fmt.Sprintf("%s[%d]", prefix, i), item)...)
		}
	case string:
		out = append(out, [2]string{prefix, t})
	default:
		out = append(out, [2]string{prefix, fmt.Sprint(t)})
	}
	return out
}

// Mask hides the middle of a matched value so traces can cite evidence
// without repeating it.
func Mask(value string) string {
	runes := []rune(value)
	if len(runes) <= 4 {
		return strings.Repeat("*", len(runes))
	}
	return string(runes[:2]) + strings.Repeat("*", len(runes)-4) + string(runes[len(runes)-2:])
}

func compileAddress(suffixes []string) (*regexp.Regexp, error) {
	quoted := make([]string, 0, len(suffixes))
	for _, s := range suffixes {
		if s = strings.TrimSpace(s); s != "" {
			quoted = append(quoted, regexp.QuoteMeta(s))
		}
	}
	if len(quoted) == 0 {
		return nil, fmt.Errorf("street_suffixes: at least one suffix is required")
	}
	// House number, one to four capitalized words, then a suffix.
	return regexp.Compile(`\b\d{1,6}\s+(?:[A-Z][A-Za-z0-9'.-]*\s+){1,4}(?:` + strings.Join(quoted, "|") + `)\b\.?`)
}

func compileKeywords(keywords []string) (*regexp.Regexp, error) {
	quoted := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			quoted = append(quoted, regexp.QuoteMeta(k))
		}
	}
	if len(quoted) == 0 {
		return nil, fmt.Errorf("medical_keywords: at least one keyword is required")
	}
	return regexp.Compile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}
