// Package service exposes the narrow create/update/query surface the
// ingestion pipeline and any external API layer share. Correlation between
// alerts and incidents is enforced here so every write path keeps the
// derived link fields consistent.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/telhawk-systems/telhawk-intake/internal/correlation"
	"github.com/telhawk-systems/telhawk-intake/internal/models"
	"github.com/telhawk-systems/telhawk-intake/internal/repository"
)

// Service wires both stores together with the correlation engine.
type Service struct {
	alerts    repository.AlertStore
	incidents repository.IncidentStore
	engine    *correlation.Engine
	log       *slog.Logger
}

func New(alerts repository.AlertStore, incidents repository.IncidentStore, engine *correlation.Engine, log *slog.Logger) *Service {
	return &Service{alerts: alerts, incidents: incidents, engine: engine, log: log}
}

// CreateAlert persists a new alert and runs find-only correlation: if an
// existing incident window contains the alert, the link is set immediately.
// Correlation failure never fails the create.
func (s *Service) CreateAlert(ctx context.Context, input models.AlertInput) (*models.Alert, error) {
	alert, err := s.alerts.Create(ctx, input)
	if err != nil {
		return nil, err
	}

	if incidentID := s.engine.FindMatchingIncident(ctx, alert); incidentID != nil {
		under := true
		linked, err := s.alerts.Update(ctx, alert.ID, models.AlertUpdate{
			IncidentID:      incidentID,
			IsUnderIncident: &under,
		})
		if err != nil {
			s.log.Error("failed to link new alert to incident",
				"alert_id", alert.ID, "incident_id", *incidentID, "error", err)
			return alert, nil
		}
		return linked, nil
	}
	return alert, nil
}

// UpdateAlert applies a partial update. When the update touches the natural
// key, identity is recomputed by the store and correlation is re-evaluated:
// the alert is re-linked to whichever incident now contains it, or unlinked
// when none does.
func (s *Service) UpdateAlert(ctx context.Context, id string, update models.AlertUpdate) (*models.Alert, error) {
	alert, err := s.alerts.Update(ctx, id, update)
	if err != nil {
		return nil, err
	}

	if !update.TouchesNaturalKey() {
		return alert, nil
	}

	incidentID := s.engine.FindMatchingIncident(ctx, alert)
	switch {
	case incidentID != nil && (alert.IncidentID == nil || *alert.IncidentID != *incidentID):
		under := true
		relinked, err := s.alerts.Update(ctx, alert.ID, models.AlertUpdate{
			IncidentID:      incidentID,
			IsUnderIncident: &under,
		})
		if err != nil {
			s.log.Error("failed to re-link alert after update", "alert_id", alert.ID, "error", err)
			return alert, nil
		}
		return relinked, nil
	case incidentID == nil && alert.IncidentID != nil:
		under := false
		unlinked, err := s.alerts.Update(ctx, alert.ID, models.AlertUpdate{
			ClearIncidentID: true,
			IsUnderIncident: &under,
		})
		if err != nil {
			s.log.Error("failed to unlink alert after update", "alert_id", alert.ID, "error", err)
			return alert, nil
		}
		return unlinked, nil
	}
	return alert, nil
}

// GetAlertByNaturalKey looks an alert up by its business identity.
func (s *Service) GetAlertByNaturalKey(ctx context.Context, user string, occurredAt time.Time, alertName string) (*models.Alert, error) {
	return s.alerts.FindByNaturalKey(ctx, user, occurredAt, alertName)
}

// ListAlertsByUser returns all alerts for one user in insertion order.
func (s *Service) ListAlertsByUser(ctx context.Context, user string) ([]*models.Alert, error) {
	return s.alerts.FindAllByUser(ctx, user)
}

// CreateIncident persists a new incident and reconciles the user's alerts
// against its window. Reconciliation failure is logged, not propagated: the
// incident exists regardless.
func (s *Service) CreateIncident(ctx context.Context, input models.IncidentInput) (*models.Incident, error) {
	incident, err := s.incidents.Create(ctx, input)
	if err != nil {
		return nil, err
	}

	if mutated, err := s.engine.ReconcileAlertsForIncident(ctx, incident, ""); err != nil {
		s.log.Error("reconciliation failed after incident create",
			"incident_id", incident.ID, "error", err)
	} else if len(mutated) > 0 {
		s.log.Info("linked alerts to new incident",
			"incident_id", incident.ID, "alerts", len(mutated))
	}
	return incident, nil
}

// UpdateIncident applies a partial update. When the user or window bounds
// change, the new user's alerts are reconciled; when the user changed, the
// old user's alerts still pointing at this incident are released.
func (s *Service) UpdateIncident(ctx context.Context, id string, update models.IncidentUpdate) (*models.Incident, error) {
	var oldUser string
	if update.User != nil {
		// The incident ID changes with the natural key, so capture the
		// previous user before the update rewrites the row.
		current, err := s.incidents.FindByID(ctx, id)
		if err != nil {
			s.log.Error("failed to capture previous incident user before update",
				"incident_id", id, "error", err)
		} else {
			oldUser = current.User
		}
	}

	incident, err := s.incidents.Update(ctx, id, update)
	if err != nil {
		return nil, err
	}

	if !update.TouchesWindow() {
		return incident, nil
	}

	// The update rewrote the incident's content-hash ID; id is the
	// pre-update identity, so alerts still pointing at it are reclaimed
	// or released here.
	if _, err := s.engine.ReconcileAlertsForIncident(ctx, incident, id); err != nil {
		s.log.Error("reconciliation failed after incident update",
			"incident_id", incident.ID, "error", err)
	}
	if oldUser != "" && oldUser != incident.User {
		if _, err := s.engine.UnlinkAlertsForUser(ctx, oldUser, id); err != nil {
			s.log.Error("failed to release old user's alerts",
				"incident_id", id, "user", oldUser, "error", err)
		}
	}
	return incident, nil
}

// GetIncidentByNaturalKey looks an incident up by its business identity.
func (s *Service) GetIncidentByNaturalKey(ctx context.Context, user string, windowStart, windowEnd time.Time) (*models.Incident, error) {
	return s.incidents.FindByNaturalKey(ctx, user, windowStart, windowEnd)
}

// ListIncidentsByUser returns all incidents for one user in insertion order.
func (s *Service) ListIncidentsByUser(ctx context.Context, user string) ([]*models.Incident, error) {
	return s.incidents.FindAllByUser(ctx, user)
}
