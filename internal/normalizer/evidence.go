package normalizer

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/telhawk-systems/telhawk-intake/internal/models"
)

// Upstream exporters emit the evidence column in several broken shapes:
// valid JSON, JSON wrapped in an extra layer of quotes with doubled escapes,
// pseudo-JSON with bare keys or single quotes, and bracketed pseudo-lists of
// event objects. Decoding is best effort and never fails; the worst case is
// the default evidence shape with the cleaned raw text preserved under
// "original" for forensic inspection.

var (
	bareKeyRe     = regexp.MustCompile(`(^|[{,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)
	singleQuoteRe = regexp.MustCompile(`'([^']*)'`)
	eventSplitRe  = regexp.MustCompile(`,\s*\{`)
)

// DecodeEvidence coerces a raw evidence cell into a mapping that always
// contains at least the default keys (site, count, rawEvents).
func DecodeEvidence(raw any) map[string]any {
	switch v := raw.(type) {
	case nil:
		return models.DefaultEvidence()
	case map[string]any:
		return mergeOverDefaults(v)
	case string:
		return decodeEvidenceString(v)
	default:
		ev := models.DefaultEvidence()
		ev["original"] = fmt.Sprint(v)
		return ev
	}
}

func decodeEvidenceString(s string) map[string]any {
	s = strings.TrimSpace(s)
	if s == "" {
		return models.DefaultEvidence()
	}

	// Strict parse first: well-behaved exporters do exist.
	if m, ok := tryParseObject(s); ok {
		return mergeOverDefaults(m)
	}

	// Relaxed recovery: shed one layer of wrapping quotes (straight or
	// typographic) and collapse doubled escapes.
	cleaned := unescapeQuoted(stripWrappingQuotes(s))
	if m, ok := tryParseObject(cleaned); ok {
		return mergeOverDefaults(m)
	}

	// Pseudo-JSON recovery: quote bare identifier keys, swap single quotes
	// for double quotes, re-escape stray backslashes.
	normalized := normalizePseudoJSON(cleaned)
	if m, ok := tryParseObject(normalized); ok {
		return mergeOverDefaults(m)
	}

	ev := models.DefaultEvidence()
	ev["original"] = cleaned
	return ev
}

// DecodeRawEvents coerces a raw rawEvents cell into a sequence whose elements
// are decoded event objects where possible and opaque string fragments where
// not. It never fails.
func DecodeRawEvents(raw any) []any {
	switch v := raw.(type) {
	case nil:
		return []any{}
	case []any:
		return v
	case string:
		return decodeRawEventsString(v)
	default:
		return []any{v}
	}
}

func decodeRawEventsString(s string) []any {
	s = strings.TrimSpace(s)
	if s == "" {
		return []any{}
	}

	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		var arr []any
		if err := json.Unmarshal([]byte(s), &arr); err == nil {
			return arr
		}
	}

	stripped := strings.Trim(s, "[]\"'“”‘’ \t")
	out := make([]any, 0, 4)
	for _, candidate := range splitEventCandidates(stripped) {
		candidate = strings.TrimSpace(strings.Trim(strings.TrimSpace(candidate), ","))
		if candidate == "" || candidate == "null" {
			continue
		}
		if obj, ok := parseEventCandidate(candidate); ok {
			out = append(out, obj)
			continue
		}
		out = append(out, candidate)
	}
	return out
}

func parseEventCandidate(candidate string) (map[string]any, bool) {
	if strings.HasPrefix(candidate, "{") && strings.HasSuffix(candidate, "}") {
		if m, ok := tryParseObject(candidate); ok {
			return m, true
		}
		return tryParseObject(normalizePseudoJSON(candidate))
	}
	return tryParseObject("{" + normalizePseudoJSON(candidate) + "}")
}

// splitEventCandidates cuts a pseudo-list on commas that immediately precede
// an opening brace, the closest approximation of event-object boundaries the
// upstream format allows.
func splitEventCandidates(s string) []string {
	bounds := eventSplitRe.FindAllStringIndex(s, -1)
	if len(bounds) == 0 {
		return []string{s}
	}
	parts := make([]string, 0, len(bounds)+1)
	prev := 0
	for _, b := range bounds {
		parts = append(parts, s[prev:b[0]])
		prev = b[1] - 1 // keep the '{' with the next candidate
	}
	parts = append(parts, s[prev:])
	return parts
}

func tryParseObject(s string) (map[string]any, bool) {
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, false
	}
	return m, true
}

// stripWrappingQuotes removes one layer of matching quote characters,
// including the typographic variants some exporters emit.
func stripWrappingQuotes(s string) string {
	if len(s) < 2 {
		return s
	}
	pairs := [][2]string{
		{`"`, `"`},
		{`'`, `'`},
		{"“", "”"},
		{"‘", "’"},
	}
	for _, p := range pairs {
		if strings.HasPrefix(s, p[0]) && strings.HasSuffix(s, p[1]) {
			return s[len(p[0]) : len(s)-len(p[1])]
		}
	}
	return s
}

// unescapeQuoted collapses the escaping a stringified-JSON layer adds:
// doubled backslashes and escaped double quotes.
func unescapeQuoted(s string) string {
	s = strings.ReplaceAll(s, `\\`, `\`)
	s = strings.ReplaceAll(s, `\"`, `"`)
	return s
}

// normalizePseudoJSON rewrites pseudo-JSON into something the strict parser
// accepts: bare identifier keys get quoted, single-quoted strings become
// double-quoted, typographic quotes become straight, and backslashes are
// re-escaped.
func normalizePseudoJSON(s string) string {
	replacer := strings.NewReplacer("“", `"`, "”", `"`, "‘", "'", "’", "'")
	s = replacer.Replace(s)
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = bareKeyRe.ReplaceAllString(s, `$1"$2":`)
	s = singleQuoteRe.ReplaceAllString(s, `"$1"`)
	return s
}

func mergeOverDefaults(m map[string]any) map[string]any {
	ev := models.DefaultEvidence()
	for k, v := range m {
		ev[k] = v
	}
	return ev
}
