// Package correlation maintains the derived link between alerts and
// incidents: an alert belongs to an incident when both reference the same
// user and the alert's timestamp falls inside the incident's window,
// inclusive at both ends.
package correlation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/telhawk-systems/telhawk-intake/internal/metrics"
	"github.com/telhawk-systems/telhawk-intake/internal/models"
	"github.com/telhawk-systems/telhawk-intake/internal/repository"
)

// Engine evaluates window containment against both stores. It depends only
// on the read/update surface of the stores, never on the services built on
// top of them, which keeps the alert and incident sides free of a dependency
// cycle.
type Engine struct {
	alerts    repository.AlertStore
	incidents repository.IncidentStore
	log       *slog.Logger
}

func NewEngine(alerts repository.AlertStore, incidents repository.IncidentStore, log *slog.Logger) *Engine {
	return &Engine{alerts: alerts, incidents: incidents, log: log}
}

// FindMatchingIncident returns the ID of the first incident in candidate
// order whose window contains the alert's timestamp, or nil when none does.
// Multiple matches are not tie-broken; candidate order decides. Lookup
// failures are logged and swallowed: correlation is best effort and must
// never block alert creation.
func (e *Engine) FindMatchingIncident(ctx context.Context, alert *models.Alert) *string {
	candidates, err := e.incidents.FindAllByUser(ctx, alert.User)
	if err != nil {
		e.log.Error("incident lookup failed during correlation", "user", alert.User, "error", err)
		return nil
	}
	for _, inc := range candidates {
		if inc.Contains(alert.OccurredAt) {
			id := inc.ID
			return &id
		}
	}
	return nil
}

// ReconcileAlertsForIncident re-evaluates membership of every alert belonging
// to the incident's user and returns the IDs of alerts whose link state
// changed. Alerts now inside the window are linked to this incident (stealing
// them from any other incident they pointed at); alerts outside the window
// that pointed at this incident are unlinked. An incident update rewrites the
// incident's content-hash ID, so callers updating an incident pass the
// pre-update ID as previousID and alerts still pointing at it are treated as
// linked here; pass "" when there is no prior identity. Per-alert update
// failures are logged and do not abort the pass.
func (e *Engine) ReconcileAlertsForIncident(ctx context.Context, incident *models.Incident, previousID string) ([]string, error) {
	alerts, err := e.alerts.FindAllByUser(ctx, incident.User)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts for user %s: %w", incident.User, err)
	}

	var mutated []string
	for _, alert := range alerts {
		inside := incident.Contains(alert.OccurredAt)
		pointsHere := alert.IncidentID != nil && *alert.IncidentID == incident.ID
		pointsPrior := previousID != "" && alert.IncidentID != nil && *alert.IncidentID == previousID

		switch {
		case inside && !pointsHere:
			if err := e.link(ctx, alert.ID, incident.ID); err != nil {
				e.log.Error("failed to link alert to incident",
					"alert_id", alert.ID, "incident_id", incident.ID, "error", err)
				continue
			}
			mutated = append(mutated, alert.ID)
		case !inside && (pointsHere || pointsPrior):
			if err := e.unlink(ctx, alert.ID); err != nil {
				e.log.Error("failed to unlink alert from incident",
					"alert_id", alert.ID, "incident_id", incident.ID, "error", err)
				continue
			}
			mutated = append(mutated, alert.ID)
		}
	}
	return mutated, nil
}

// UnlinkAlertsForUser clears the link on every one of the user's alerts that
// points at the given incident. Used when an incident moves to a different
// user and its old user's alerts must be released.
func (e *Engine) UnlinkAlertsForUser(ctx context.Context, user, incidentID string) ([]string, error) {
	alerts, err := e.alerts.FindAllByUser(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts for user %s: %w", user, err)
	}

	var mutated []string
	for _, alert := range alerts {
		if alert.IncidentID == nil || *alert.IncidentID != incidentID {
			continue
		}
		if err := e.unlink(ctx, alert.ID); err != nil {
			e.log.Error("failed to unlink alert from incident",
				"alert_id", alert.ID, "incident_id", incidentID, "error", err)
			continue
		}
		mutated = append(mutated, alert.ID)
	}
	return mutated, nil
}

func (e *Engine) link(ctx context.Context, alertID, incidentID string) error {
	under := true
	_, err := e.alerts.Update(ctx, alertID, models.AlertUpdate{
		IncidentID:      &incidentID,
		IsUnderIncident: &under,
	})
	if err == nil {
		metrics.CorrelationMutations.Inc()
	}
	return err
}

func (e *Engine) unlink(ctx context.Context, alertID string) error {
	under := false
	_, err := e.alerts.Update(ctx, alertID, models.AlertUpdate{
		ClearIncidentID: true,
		IsUnderIncident: &under,
	})
	if err == nil {
		metrics.CorrelationMutations.Inc()
	}
	return err
}
