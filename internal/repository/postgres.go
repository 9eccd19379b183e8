package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telhawk-systems/telhawk-intake/internal/identity"
	"github.com/telhawk-systems/telhawk-intake/internal/models"
)

const uniqueViolation = "23505"

// NewPool creates a pgx connection pool and verifies connectivity.
func NewPool(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// PostgresAlertStore implements AlertStore using PostgreSQL.
type PostgresAlertStore struct {
	pool *pgxpool.Pool
}

func NewPostgresAlertStore(pool *pgxpool.Pool) *PostgresAlertStore {
	return &PostgresAlertStore{pool: pool}
}

const alertColumns = `id, username, occurred_at, evidence, score, alert_name,
	mitre_tactic, mitre_technique, logs, description, detection_model,
	is_under_incident, incident_id, created_at, updated_at`

func (s *PostgresAlertStore) FindByID(ctx context.Context, id string) (*models.Alert, error) {
	query := fmt.Sprintf(`SELECT %s FROM alerts WHERE id = $1`, alertColumns)
	return s.scanAlert(s.pool.QueryRow(ctx, query, id))
}

func (s *PostgresAlertStore) FindByNaturalKey(ctx context.Context, user string, occurredAt time.Time, alertName string) (*models.Alert, error) {
	return s.FindByID(ctx, identity.AlertKey(user, occurredAt, alertName))
}

func (s *PostgresAlertStore) Create(ctx context.Context, input models.AlertInput) (*models.Alert, error) {
	id := identity.AlertKey(input.User, input.OccurredAt, input.AlertName)
	now := time.Now().UTC()
	evidence := input.Evidence
	if evidence == nil {
		evidence = models.DefaultEvidence()
	}

	query := `
		INSERT INTO alerts (id, username, occurred_at, evidence, score, alert_name,
			mitre_tactic, mitre_technique, logs, description, detection_model,
			is_under_incident, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
	`
	_, err := s.pool.Exec(ctx, query,
		id, input.User, input.OccurredAt.UTC(), evidence, input.Score, input.AlertName,
		input.MitreTactic, input.MitreTechnique, input.Logs, input.Description,
		input.DetectionModel, input.IsUnderIncident, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateAlert
		}
		return nil, fmt.Errorf("failed to create alert: %w", err)
	}

	return s.FindByID(ctx, id)
}

func (s *PostgresAlertStore) Update(ctx context.Context, id string, update models.AlertUpdate) (*models.Alert, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := fmt.Sprintf(`SELECT %s FROM alerts WHERE id = $1 FOR UPDATE`, alertColumns)
	current, err := s.scanAlert(tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}

	applyAlertUpdate(current, update)
	current.ID = identity.AlertKey(current.User, current.OccurredAt, current.AlertName)
	current.UpdatedAt = time.Now().UTC()

	_, err = tx.Exec(ctx, `
		UPDATE alerts SET id = $1, username = $2, occurred_at = $3, evidence = $4,
			score = $5, alert_name = $6, mitre_tactic = $7, mitre_technique = $8,
			logs = $9, description = $10, detection_model = $11,
			is_under_incident = $12, incident_id = $13, updated_at = $14
		WHERE id = $15
	`,
		current.ID, current.User, current.OccurredAt.UTC(), current.Evidence,
		current.Score, current.AlertName, current.MitreTactic, current.MitreTechnique,
		current.Logs, current.Description, current.DetectionModel,
		current.IsUnderIncident, current.IncidentID, current.UpdatedAt, id,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateAlert
		}
		return nil, fmt.Errorf("failed to update alert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit alert update: %w", err)
	}
	return current, nil
}

func (s *PostgresAlertStore) FindAllByUser(ctx context.Context, user string) ([]*models.Alert, error) {
	query := fmt.Sprintf(`SELECT %s FROM alerts WHERE username = $1 ORDER BY created_at ASC`, alertColumns)
	rows, err := s.pool.Query(ctx, query, user)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var out []*models.Alert
	for rows.Next() {
		a, err := s.scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresAlertStore) scanAlert(row pgx.Row) (*models.Alert, error) {
	a := &models.Alert{}
	err := row.Scan(
		&a.ID, &a.User, &a.OccurredAt, &a.Evidence, &a.Score, &a.AlertName,
		&a.MitreTactic, &a.MitreTechnique, &a.Logs, &a.Description,
		&a.DetectionModel, &a.IsUnderIncident, &a.IncidentID,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to scan alert: %w", err)
	}
	return a, nil
}

// PostgresIncidentStore implements IncidentStore using PostgreSQL.
type PostgresIncidentStore struct {
	pool *pgxpool.Pool
}

func NewPostgresIncidentStore(pool *pgxpool.Pool) *PostgresIncidentStore {
	return &PostgresIncidentStore{pool: pool}
}

const incidentColumns = `id, username, window_start, window_end, score, windows, created_at, updated_at`

func (s *PostgresIncidentStore) FindByID(ctx context.Context, id string) (*models.Incident, error) {
	query := fmt.Sprintf(`SELECT %s FROM incidents WHERE id = $1`, incidentColumns)
	return s.scanIncident(s.pool.QueryRow(ctx, query, id))
}

func (s *PostgresIncidentStore) FindByNaturalKey(ctx context.Context, user string, windowStart, windowEnd time.Time) (*models.Incident, error) {
	return s.FindByID(ctx, identity.IncidentKey(user, windowStart, windowEnd))
}

func (s *PostgresIncidentStore) Create(ctx context.Context, input models.IncidentInput) (*models.Incident, error) {
	id := identity.IncidentKey(input.User, input.WindowStart, input.WindowEnd)
	now := time.Now().UTC()
	windows := input.Windows
	if windows == nil {
		windows = []string{}
	}

	query := `
		INSERT INTO incidents (id, username, window_start, window_end, score, windows, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`
	_, err := s.pool.Exec(ctx, query,
		id, input.User, input.WindowStart.UTC(), input.WindowEnd.UTC(),
		input.Score, windows, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateIncident
		}
		return nil, fmt.Errorf("failed to create incident: %w", err)
	}

	return s.FindByID(ctx, id)
}

func (s *PostgresIncidentStore) Update(ctx context.Context, id string, update models.IncidentUpdate) (*models.Incident, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := fmt.Sprintf(`SELECT %s FROM incidents WHERE id = $1 FOR UPDATE`, incidentColumns)
	current, err := s.scanIncident(tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}

	if update.User != nil {
		current.User = *update.User
	}
	if update.WindowStart != nil {
		current.WindowStart = *update.WindowStart
	}
	if update.WindowEnd != nil {
		current.WindowEnd = *update.WindowEnd
	}
	if update.Score != nil {
		current.Score = *update.Score
	}
	if update.Windows != nil {
		current.Windows = update.Windows
	}
	current.ID = identity.IncidentKey(current.User, current.WindowStart, current.WindowEnd)
	current.UpdatedAt = time.Now().UTC()

	_, err = tx.Exec(ctx, `
		UPDATE incidents SET id = $1, username = $2, window_start = $3,
			window_end = $4, score = $5, windows = $6, updated_at = $7
		WHERE id = $8
	`,
		current.ID, current.User, current.WindowStart.UTC(), current.WindowEnd.UTC(),
		current.Score, current.Windows, current.UpdatedAt, id,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateIncident
		}
		return nil, fmt.Errorf("failed to update incident: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit incident update: %w", err)
	}
	return current, nil
}

func (s *PostgresIncidentStore) FindAllByUser(ctx context.Context, user string) ([]*models.Incident, error) {
	query := fmt.Sprintf(`SELECT %s FROM incidents WHERE username = $1 ORDER BY created_at ASC`, incidentColumns)
	rows, err := s.pool.Query(ctx, query, user)
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	defer rows.Close()

	var out []*models.Incident
	for rows.Next() {
		inc, err := s.scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

func (s *PostgresIncidentStore) scanIncident(row pgx.Row) (*models.Incident, error) {
	inc := &models.Incident{}
	err := row.Scan(
		&inc.ID, &inc.User, &inc.WindowStart, &inc.WindowEnd,
		&inc.Score, &inc.Windows, &inc.CreatedAt, &inc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrIncidentNotFound
		}
		return nil, fmt.Errorf("failed to scan incident: %w", err)
	}
	return inc, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
