// Package normalizer converts raw CSV rows from upstream security exports
// into typed alert and incident inputs. Upstream formats are inconsistent and
// frequently malformed; a single bad row never aborts a batch.
package normalizer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// RawRow is one CSV row keyed by header name. Values are untyped so callers
// that already hold decoded structures (lists, numbers) can pass them through.
type RawRow map[string]any

var digitsOnlyRe = regexp.MustCompile(`^\d+$`)

// timestampLayouts are tried in order for non-numeric timestamp values.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006",
	time.RFC1123,
}

// ParseTimestamp interprets an all-digits value as Unix seconds and anything
// else as a free-form date string.
func ParseTimestamp(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case int64:
		return time.Unix(v, 0).UTC(), nil
	case float64:
		return time.Unix(int64(v), 0).UTC(), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Time{}, fmt.Errorf("empty timestamp")
		}
		if digitsOnlyRe.MatchString(s) {
			secs, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return time.Time{}, fmt.Errorf("parse epoch %q: %w", s, err)
			}
			return time.Unix(secs, 0).UTC(), nil
		}
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", raw)
	}
}

// parseScore parses a 0-10 decimal score, defaulting to zero when absent or
// unparsable.
func parseScore(raw any) float64 {
	switch v := raw.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return 0
}

// field returns the first non-empty value among the given header aliases.
// Exporters disagree on snake_case vs camelCase, so both are accepted.
func field(row RawRow, names ...string) (any, bool) {
	for _, name := range names {
		v, ok := row[name]
		if !ok || v == nil {
			continue
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			continue
		}
		return v, true
	}
	return nil, false
}

func stringField(row RawRow, names ...string) string {
	v, ok := field(row, names...)
	if !ok {
		return ""
	}
	if s, isString := v.(string); isString {
		return strings.TrimSpace(s)
	}
	return fmt.Sprint(v)
}
