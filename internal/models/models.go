package models

import "time"

// Alert is a single security detection event for one user.
// Its ID is a content hash of the natural key (user, occurred_at, alert_name)
// and is recomputed whenever any of those fields change.
type Alert struct {
	ID              string         `json:"id"`
	User            string         `json:"user"`
	OccurredAt      time.Time      `json:"occurred_at"`
	Evidence        map[string]any `json:"evidence"`
	Score           float64        `json:"score"`
	AlertName       string         `json:"alert_name"`
	MitreTactic     string         `json:"mitre_tactic"`
	MitreTechnique  string         `json:"mitre_technique"`
	Logs            string         `json:"logs"`
	Description     string         `json:"description"`
	DetectionModel  string         `json:"detection_model"`
	IsUnderIncident bool           `json:"is_under_incident"`
	IncidentID      *string        `json:"incident_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// AlertInput carries the fields a caller provides when creating an alert.
type AlertInput struct {
	User            string         `json:"user"`
	OccurredAt      time.Time      `json:"occurred_at"`
	Evidence        map[string]any `json:"evidence"`
	Score           float64        `json:"score"`
	AlertName       string         `json:"alert_name"`
	MitreTactic     string         `json:"mitre_tactic"`
	MitreTechnique  string         `json:"mitre_technique"`
	Logs            string         `json:"logs"`
	Description     string         `json:"description"`
	DetectionModel  string         `json:"detection_model"`
	IsUnderIncident bool           `json:"is_under_incident"`
}

// AlertUpdate is a partial update. Nil pointers leave the field untouched.
// ClearIncidentID unlinks the alert from its incident; it takes precedence
// over IncidentID.
type AlertUpdate struct {
	User            *string
	OccurredAt      *time.Time
	AlertName       *string
	Evidence        map[string]any
	Score           *float64
	MitreTactic     *string
	MitreTechnique  *string
	Logs            *string
	Description     *string
	DetectionModel  *string
	IsUnderIncident *bool
	IncidentID      *string
	ClearIncidentID bool
}

// TouchesNaturalKey reports whether the update changes any field the alert's
// identity hash is derived from.
func (u *AlertUpdate) TouchesNaturalKey() bool {
	return u.User != nil || u.OccurredAt != nil || u.AlertName != nil
}

// Incident is a time window of anomalous activity for one user.
// Its ID is a content hash of (user, window_start, window_end).
type Incident struct {
	ID          string    `json:"id"`
	User        string    `json:"user"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Score       float64   `json:"score"`
	Windows     []string  `json:"windows"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IncidentInput carries the fields a caller provides when creating an incident.
type IncidentInput struct {
	User        string    `json:"user"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Score       float64   `json:"score"`
	Windows     []string  `json:"windows"`
}

// IncidentUpdate is a partial update. Nil pointers leave the field untouched.
type IncidentUpdate struct {
	User        *string
	WindowStart *time.Time
	WindowEnd   *time.Time
	Score       *float64
	Windows     []string
}

// TouchesWindow reports whether the update changes the incident's user or
// window bounds, which requires re-running alert correlation.
func (u *IncidentUpdate) TouchesWindow() bool {
	return u.User != nil || u.WindowStart != nil || u.WindowEnd != nil
}

// Contains reports whether ts falls inside the incident's window.
// Both ends are inclusive.
func (i *Incident) Contains(ts time.Time) bool {
	return !ts.Before(i.WindowStart) && !ts.After(i.WindowEnd)
}

// DefaultEvidence returns the minimal evidence shape every alert carries.
func DefaultEvidence() map[string]any {
	return map[string]any{
		"site":      "",
		"count":     0,
		"rawEvents": []any{},
	}
}
