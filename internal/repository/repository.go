// Package repository defines the persistence interfaces the ingestion
// pipeline and correlation engine depend on, plus the PostgreSQL and
// in-memory implementations.
package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/telhawk-systems/telhawk-intake/internal/models"
)

var (
	ErrAlertNotFound     = errors.New("alert not found")
	ErrIncidentNotFound  = errors.New("incident not found")
	ErrDuplicateAlert    = errors.New("alert with this natural key already exists")
	ErrDuplicateIncident = errors.New("incident with this natural key already exists")
)

// AlertStore persists alerts keyed by their content-hash identity.
// FindAllByUser returns alerts in insertion order; correlation relies on
// first-match-in-candidate-order semantics.
type AlertStore interface {
	FindByID(ctx context.Context, id string) (*models.Alert, error)
	FindByNaturalKey(ctx context.Context, user string, occurredAt time.Time, alertName string) (*models.Alert, error)
	Create(ctx context.Context, input models.AlertInput) (*models.Alert, error)
	Update(ctx context.Context, id string, update models.AlertUpdate) (*models.Alert, error)
	FindAllByUser(ctx context.Context, user string) ([]*models.Alert, error)
}

// IncidentStore persists incidents keyed by their content-hash identity.
type IncidentStore interface {
	FindByID(ctx context.Context, id string) (*models.Incident, error)
	FindByNaturalKey(ctx context.Context, user string, windowStart, windowEnd time.Time) (*models.Incident, error)
	Create(ctx context.Context, input models.IncidentInput) (*models.Incident, error)
	Update(ctx context.Context, id string, update models.IncidentUpdate) (*models.Incident, error)
	FindAllByUser(ctx context.Context, user string) ([]*models.Incident, error)
}

// IsDuplicate classifies an error as a natural-key conflict. Besides the
// sentinel errors it recognizes store-specific messages that mention both
// "duplicate" and "unique", which covers drivers that surface raw constraint
// violations.
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDuplicateAlert) || errors.Is(err, ErrDuplicateIncident) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") && strings.Contains(msg, "unique")
}
