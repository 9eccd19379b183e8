package normalizer

import (
	"log/slog"
	"time"

	"github.com/telhawk-systems/telhawk-intake/internal/models"
)

// NormalizeAlertRows normalizes a batch of alert rows. Alerts are never
// skipped for missing fields; every field has a default. A row that panics
// the normalizer (pathological input) is logged and dropped so the rest of
// the batch survives.
func NormalizeAlertRows(rows []RawRow, log *slog.Logger) []models.AlertInput {
	inputs := make([]models.AlertInput, 0, len(rows))
	for i, row := range rows {
		input, err := normalizeAlertRowSafe(row, log)
		if err != nil {
			log.Error("dropping alert row", "row", i, "error", err)
			continue
		}
		inputs = append(inputs, input)
	}
	return inputs
}

func normalizeAlertRowSafe(row RawRow, log *slog.Logger) (input models.AlertInput, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &rowPanicError{value: r}
		}
	}()
	return NormalizeAlertRow(row, log), nil
}

type rowPanicError struct{ value any }

func (e *rowPanicError) Error() string { return "panic during row normalization" }

// NormalizeAlertRow converts one raw row into an alert input, defaulting
// every absent or malformed field rather than failing.
func NormalizeAlertRow(row RawRow, log *slog.Logger) models.AlertInput {
	occurredAt := time.Now().UTC()
	if raw, ok := field(row, "datestr", "occurred_at", "occurredAt"); ok {
		ts, err := ParseTimestamp(raw)
		if err != nil {
			log.Warn("alert row has invalid timestamp, defaulting to now", "value", raw, "error", err)
		} else {
			occurredAt = ts
		}
	} else {
		log.Warn("alert row missing timestamp, defaulting to now")
	}

	evidence := DecodeEvidence(row["evidence"])
	if _, ok := evidence["rawEvents"].([]any); !ok {
		evidence["rawEvents"] = DecodeRawEvents(evidence["rawEvents"])
	}

	score := float64(0)
	if raw, ok := field(row, "score"); ok {
		score = parseScore(raw)
	}

	return models.AlertInput{
		User:            stringField(row, "user", "username"),
		OccurredAt:      occurredAt,
		Evidence:        evidence,
		Score:           score,
		AlertName:       stringField(row, "alert_name", "alertName"),
		MitreTactic:     stringField(row, "mitre_tactic", "mitreTactic"),
		MitreTechnique:  stringField(row, "mitre_technique", "mitreTechnique"),
		Logs:            stringField(row, "logs"),
		Description:     stringField(row, "description"),
		DetectionModel:  stringField(row, "detection_model", "detectionModel"),
		IsUnderIncident: isTrue(row["is_under_incident"]),
	}
}

// isTrue accepts only boolean true or the literal string "true".
func isTrue(raw any) bool {
	switch v := raw.(type) {
	case bool:
		return v
	case string:
		return v == "true"
	default:
		return false
	}
}
