package repository

import (
	"context"
	"sync"
	"time"

	"github.com/telhawk-systems/telhawk-intake/internal/identity"
	"github.com/telhawk-systems/telhawk-intake/internal/models"
)

// InMemoryAlertStore is a mutex-guarded AlertStore used in tests and when
// running without PostgreSQL. Insertion order is preserved so candidate
// iteration matches the Postgres created_at ordering.
type InMemoryAlertStore struct {
	mu     sync.RWMutex
	alerts map[string]*models.Alert
	order  []string
}

func NewInMemoryAlertStore() *InMemoryAlertStore {
	return &InMemoryAlertStore{alerts: make(map[string]*models.Alert)}
}

func (s *InMemoryAlertStore) FindByID(ctx context.Context, id string) (*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.alerts[id]
	if !ok {
		return nil, ErrAlertNotFound
	}
	return cloneAlert(a), nil
}

func (s *InMemoryAlertStore) FindByNaturalKey(ctx context.Context, user string, occurredAt time.Time, alertName string) (*models.Alert, error) {
	return s.FindByID(ctx, identity.AlertKey(user, occurredAt, alertName))
}

func (s *InMemoryAlertStore) Create(ctx context.Context, input models.AlertInput) (*models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := identity.AlertKey(input.User, input.OccurredAt, input.AlertName)
	if _, exists := s.alerts[id]; exists {
		return nil, ErrDuplicateAlert
	}

	now := time.Now().UTC()
	evidence := input.Evidence
	if evidence == nil {
		evidence = models.DefaultEvidence()
	}
	a := &models.Alert{
		ID:              id,
		User:            input.User,
		OccurredAt:      input.OccurredAt,
		Evidence:        evidence,
		Score:           input.Score,
		AlertName:       input.AlertName,
		MitreTactic:     input.MitreTactic,
		MitreTechnique:  input.MitreTechnique,
		Logs:            input.Logs,
		Description:     input.Description,
		DetectionModel:  input.DetectionModel,
		IsUnderIncident: input.IsUnderIncident,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.alerts[id] = a
	s.order = append(s.order, id)
	return cloneAlert(a), nil
}

func (s *InMemoryAlertStore) Update(ctx context.Context, id string, update models.AlertUpdate) (*models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[id]
	if !ok {
		return nil, ErrAlertNotFound
	}

	next := cloneAlert(a)
	applyAlertUpdate(next, update)
	next.ID = identity.AlertKey(next.User, next.OccurredAt, next.AlertName)
	next.UpdatedAt = time.Now().UTC()

	if next.ID != id {
		if _, exists := s.alerts[next.ID]; exists {
			return nil, ErrDuplicateAlert
		}
		delete(s.alerts, id)
		for i, oid := range s.order {
			if oid == id {
				s.order[i] = next.ID
				break
			}
		}
	}
	s.alerts[next.ID] = next
	return cloneAlert(next), nil
}

func (s *InMemoryAlertStore) FindAllByUser(ctx context.Context, user string) ([]*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Alert
	for _, id := range s.order {
		if a := s.alerts[id]; a != nil && a.User == user {
			out = append(out, cloneAlert(a))
		}
	}
	return out, nil
}

func applyAlertUpdate(a *models.Alert, u models.AlertUpdate) {
	if u.User != nil {
		a.User = *u.User
	}
	if u.OccurredAt != nil {
		a.OccurredAt = *u.OccurredAt
	}
	if u.AlertName != nil {
		a.AlertName = *u.AlertName
	}
	if u.Evidence != nil {
		a.Evidence = u.Evidence
	}
	if u.Score != nil {
		a.Score = *u.Score
	}
	if u.MitreTactic != nil {
		a.MitreTactic = *u.MitreTactic
	}
	if u.MitreTechnique != nil {
		a.MitreTechnique = *u.MitreTechnique
	}
	if u.Logs != nil {
		a.Logs = *u.Logs
	}
	if u.Description != nil {
		a.Description = *u.Description
	}
	if u.DetectionModel != nil {
		a.DetectionModel = *u.DetectionModel
	}
	if u.IsUnderIncident != nil {
		a.IsUnderIncident = *u.IsUnderIncident
	}
	if u.ClearIncidentID {
		a.IncidentID = nil
	} else if u.IncidentID != nil {
		incidentID := *u.IncidentID
		a.IncidentID = &incidentID
	}
}

func cloneAlert(a *models.Alert) *models.Alert {
	c := *a
	if a.IncidentID != nil {
		incidentID := *a.IncidentID
		c.IncidentID = &incidentID
	}
	if a.Evidence != nil {
		ev := make(map[string]any, len(a.Evidence))
		for k, v := range a.Evidence {
			ev[k] = v
		}
		c.Evidence = ev
	}
	return &c
}

// InMemoryIncidentStore is the IncidentStore counterpart of
// InMemoryAlertStore.
type InMemoryIncidentStore struct {
	mu        sync.RWMutex
	incidents map[string]*models.Incident
	order     []string
}

func NewInMemoryIncidentStore() *InMemoryIncidentStore {
	return &InMemoryIncidentStore{incidents: make(map[string]*models.Incident)}
}

func (s *InMemoryIncidentStore) FindByID(ctx context.Context, id string) (*models.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inc, ok := s.incidents[id]
	if !ok {
		return nil, ErrIncidentNotFound
	}
	return cloneIncident(inc), nil
}

func (s *InMemoryIncidentStore) FindByNaturalKey(ctx context.Context, user string, windowStart, windowEnd time.Time) (*models.Incident, error) {
	return s.FindByID(ctx, identity.IncidentKey(user, windowStart, windowEnd))
}

func (s *InMemoryIncidentStore) Create(ctx context.Context, input models.IncidentInput) (*models.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := identity.IncidentKey(input.User, input.WindowStart, input.WindowEnd)
	if _, exists := s.incidents[id]; exists {
		return nil, ErrDuplicateIncident
	}

	now := time.Now().UTC()
	inc := &models.Incident{
		ID:          id,
		User:        input.User,
		WindowStart: input.WindowStart,
		WindowEnd:   input.WindowEnd,
		Score:       input.Score,
		Windows:     append([]string(nil), input.Windows...),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.incidents[id] = inc
	s.order = append(s.order, id)
	return cloneIncident(inc), nil
}

func (s *InMemoryIncidentStore) Update(ctx context.Context, id string, update models.IncidentUpdate) (*models.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inc, ok := s.incidents[id]
	if !ok {
		return nil, ErrIncidentNotFound
	}

	next := cloneIncident(inc)
	if update.User != nil {
		next.User = *update.User
	}
	if update.WindowStart != nil {
		next.WindowStart = *update.WindowStart
	}
	if update.WindowEnd != nil {
		next.WindowEnd = *update.WindowEnd
	}
	if update.Score != nil {
		next.Score = *update.Score
	}
	if update.Windows != nil {
		next.Windows = append([]string(nil), update.Windows...)
	}
	next.ID = identity.IncidentKey(next.User, next.WindowStart, next.WindowEnd)
	next.UpdatedAt = time.Now().UTC()

	if next.ID != id {
		if _, exists := s.incidents[next.ID]; exists {
			return nil, ErrDuplicateIncident
		}
		delete(s.incidents, id)
		for i, oid := range s.order {
			if oid == id {
				s.order[i] = next.ID
				break
			}
		}
	}
	s.incidents[next.ID] = next
	return cloneIncident(next), nil
}

func (s *InMemoryIncidentStore) FindAllByUser(ctx context.Context, user string) ([]*models.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Incident
	for _, id := range s.order {
		if inc := s.incidents[id]; inc != nil && inc.User == user {
			out = append(out, cloneIncident(inc))
		}
	}
	return out, nil
}

func cloneIncident(inc *models.Incident) *models.Incident {
	c := *inc
	c.Windows = append([]string(nil), inc.Windows...)
	return &c
}
