package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/telhawk-systems/telhawk-intake/internal/config"
	"github.com/telhawk-systems/telhawk-intake/internal/correlation"
	"github.com/telhawk-systems/telhawk-intake/internal/events"
	"github.com/telhawk-systems/telhawk-intake/internal/logging"
	"github.com/telhawk-systems/telhawk-intake/internal/pipeline"
	"github.com/telhawk-systems/telhawk-intake/internal/repository"
	"github.com/telhawk-systems/telhawk-intake/internal/service"
)

// app holds the wired object graph. Construction is explicit: stores first,
// then the correlation engine over both, then the service and pipeline on
// top.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	pipeline *pipeline.Pipeline
	cleanup  []func()
}

func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	a := &app{cfg: cfg, log: log}

	var alerts repository.AlertStore
	var incidents repository.IncidentStore

	if cfg.Database.Enabled {
		if err := runMigrations(cfg.Database); err != nil {
			return nil, err
		}
		pool, err := repository.NewPool(ctx, cfg.Database.ConnString())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		a.cleanup = append(a.cleanup, pool.Close)
		alerts = repository.NewPostgresAlertStore(pool)
		incidents = repository.NewPostgresIncidentStore(pool)
	} else {
		log.Warn("database disabled, using in-memory stores")
		alerts = repository.NewInMemoryAlertStore()
		incidents = repository.NewInMemoryIncidentStore()
	}

	var pub events.Publisher = events.NopPublisher{}
	if cfg.NATS.Enabled {
		natsPub, err := events.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create NATS publisher: %w", err)
		}
		a.cleanup = append(a.cleanup, natsPub.Close)
		pub = natsPub
	}

	engine := correlation.NewEngine(alerts, incidents, log)
	svc := service.New(alerts, incidents, engine, log)
	a.pipeline = pipeline.New(cfg.Ingestion, svc, pub, log)
	return a, nil
}

func (a *app) close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
}

func runMigrations(db config.DatabaseConfig) error {
	m, err := migrate.New("file://"+db.MigrationsPath, db.ConnString())
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
