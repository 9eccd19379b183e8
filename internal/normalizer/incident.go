package normalizer

import (
	"log/slog"
	"strings"

	"github.com/telhawk-systems/telhawk-intake/internal/identity"
	"github.com/telhawk-systems/telhawk-intake/internal/models"
)

// IncidentBatch is the outcome of normalizing one incident file.
type IncidentBatch struct {
	Inputs  []models.IncidentInput
	Skipped int
}

// NormalizeIncidentRows normalizes a batch of incident rows. Rows missing
// required fields or carrying unparsable window bounds are skipped and
// counted, never treated as errors.
func NormalizeIncidentRows(rows []RawRow, log *slog.Logger) IncidentBatch {
	batch := IncidentBatch{Inputs: make([]models.IncidentInput, 0, len(rows))}
	for i, row := range rows {
		input, ok := NormalizeIncidentRow(row)
		if !ok {
			batch.Skipped++
			log.Debug("skipping incident row", "row", i)
			continue
		}
		batch.Inputs = append(batch.Inputs, input)
	}
	return batch
}

// NormalizeIncidentRow converts one raw row into an incident input. The
// second return value is false when the row must be skipped: user or either
// window bound absent, or a bound that does not parse as a date.
func NormalizeIncidentRow(row RawRow) (models.IncidentInput, bool) {
	user := stringField(row, "user", "username")
	rawStart, okStart := field(row, "windows_start", "windowStart")
	rawEnd, okEnd := field(row, "windows_end", "windowEnd")
	if user == "" || !okStart || !okEnd {
		return models.IncidentInput{}, false
	}

	start, err := ParseTimestamp(rawStart)
	if err != nil {
		return models.IncidentInput{}, false
	}
	end, err := ParseTimestamp(rawEnd)
	if err != nil {
		return models.IncidentInput{}, false
	}

	score := float64(0)
	if raw, ok := field(row, "score"); ok {
		score = parseScore(raw)
	}

	windows := parseWindows(row["windows"])

	return models.IncidentInput{
		User:        user,
		WindowStart: start,
		WindowEnd:   end,
		Score:       score,
		Windows:     windows,
	}, true
}

// parseWindows recovers the sub-event timestamp list from whatever shape the
// exporter produced: a bracketed pseudo-array, a comma-delimited string, a
// bare date, or an already-decoded sequence. Elements that fail to parse as
// dates are dropped without failing the row. Order of the surviving elements
// is preserved as encountered.
func parseWindows(raw any) []string {
	var candidates []any

	switch v := raw.(type) {
	case nil:
		return nil
	case []any:
		candidates = v
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil
		}
		switch {
		case strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"):
			inner := strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
			for _, part := range strings.Split(inner, `",`) {
				candidates = append(candidates, part)
			}
		case strings.Contains(s, ","):
			for _, part := range strings.Split(s, ",") {
				candidates = append(candidates, part)
			}
		default:
			candidates = []any{s}
		}
	default:
		candidates = []any{v}
	}

	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if s, ok := c.(string); ok {
			c = strings.Trim(strings.TrimSpace(s), `"'`)
		}
		ts, err := ParseTimestamp(c)
		if err != nil {
			continue
		}
		out = append(out, ts.UTC().Format(identity.TimeLayout))
	}
	return out
}
