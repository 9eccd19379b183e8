// Package identity derives stable content-hash primary keys from entity
// natural keys. The same natural key always hashes to the same ID, across
// restarts and across implementations.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// TimeLayout is the canonical timestamp encoding used inside hash input.
// Millisecond ISO-8601 in UTC, fixed so hashes never depend on the zone or
// precision a timestamp happened to arrive with.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// AlertKey hashes an alert's natural key (user, occurred_at, alert_name).
func AlertKey(user string, occurredAt time.Time, alertName string) string {
	return digest(user + "|" + occurredAt.UTC().Format(TimeLayout) + "|" + alertName)
}

// IncidentKey hashes an incident's natural key (user, window_start, window_end).
func IncidentKey(user string, windowStart, windowEnd time.Time) string {
	return digest(user + "|" + windowStart.UTC().Format(TimeLayout) + "|" + windowEnd.UTC().Format(TimeLayout))
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
