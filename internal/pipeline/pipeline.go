// Package pipeline implements the CSV drop-directory ingestion loop:
// scan, classify, normalize, persist, relocate. Row failures never abort a
// file, file failures never abort a run, and the durable record of each
// file's outcome is the directory it ends up in.
package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/telhawk-systems/telhawk-intake/internal/config"
	"github.com/telhawk-systems/telhawk-intake/internal/events"
	"github.com/telhawk-systems/telhawk-intake/internal/metrics"
	"github.com/telhawk-systems/telhawk-intake/internal/models"
	"github.com/telhawk-systems/telhawk-intake/internal/normalizer"
	"github.com/telhawk-systems/telhawk-intake/internal/repository"
	"github.com/telhawk-systems/telhawk-intake/internal/service"
)

// ErrRunInProgress is returned when a run is triggered while a previous run
// is still executing. Runs are strictly serialized.
var ErrRunInProgress = errors.New("ingestion run already in progress")

// detectionsFileName is a special export: every row in it refers to an alert
// already known to sit under an incident, so rows update existing alerts
// instead of conflicting with them.
const detectionsFileName = "incidents_detections_output.csv"

var alertFileRe = regexp.MustCompile(`^alerts?_.+\.csv$`)

// Pipeline orchestrates one ingestion pass over the drop directories.
type Pipeline struct {
	cfg     config.IngestionConfig
	svc     *service.Service
	pub     events.Publisher
	log     *slog.Logger
	running atomic.Bool
}

func New(cfg config.IngestionConfig, svc *service.Service, pub events.Publisher, log *slog.Logger) *Pipeline {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Pipeline{cfg: cfg, svc: svc, pub: pub, log: log}
}

// FileReport is the per-file outcome of a run.
type FileReport struct {
	File       string `json:"file"`
	Kind       string `json:"kind"`
	Created    int    `json:"created"`
	Updated    int    `json:"updated"`
	Duplicates int    `json:"duplicates"`
	Skipped    int    `json:"skipped"`
	Errors     int    `json:"errors"`
	Failed     bool   `json:"failed"`
}

// RunReport summarizes one full ingestion pass.
type RunReport struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Files     []FileReport  `json:"files"`
}

// Run executes one pass: incidents directory first, then alerts. It returns
// ErrRunInProgress when a previous run has not finished; missing drop
// directories are warnings that skip that half of the pass.
func (p *Pipeline) Run(ctx context.Context) (*RunReport, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer p.running.Store(false)

	metrics.RunInProgress.Set(1)
	defer metrics.RunInProgress.Set(0)

	report := &RunReport{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	log := p.log.With("run_id", report.RunID)
	log.Info("ingestion run starting")

	p.scanIncidents(ctx, log, report)
	p.scanAlerts(ctx, log, report)

	report.Duration = time.Since(report.StartedAt)
	metrics.RunDuration.Observe(report.Duration.Seconds())
	log.Info("ingestion run finished", "files", len(report.Files), "duration_ms", report.Duration.Milliseconds())
	return report, nil
}

func (p *Pipeline) scanIncidents(ctx context.Context, log *slog.Logger, report *RunReport) {
	dir := p.cfg.IncidentsDropDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Warn("incidents drop directory unavailable, skipping", "dir", dir, "error", err)
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".csv") {
			continue
		}
		fr := p.processIncidentFile(ctx, log, report.RunID, filepath.Join(dir, entry.Name()))
		report.Files = append(report.Files, fr)
	}
}

func (p *Pipeline) scanAlerts(ctx context.Context, log *slog.Logger, report *RunReport) {
	dir := p.cfg.AlertsDropDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Warn("alerts drop directory unavailable, skipping", "dir", dir, "error", err)
		return
	}

	haveDetections := false
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if name == detectionsFileName {
			haveDetections = true
			continue
		}
		if !alertFileRe.MatchString(name) {
			continue
		}
		fr := p.processAlertFile(ctx, log, report.RunID, filepath.Join(dir, name))
		report.Files = append(report.Files, fr)
	}

	if haveDetections {
		fr := p.processDetectionsFile(ctx, log, report.RunID, filepath.Join(dir, detectionsFileName))
		report.Files = append(report.Files, fr)
	}
}

func (p *Pipeline) processIncidentFile(ctx context.Context, log *slog.Logger, runID, path string) FileReport {
	fr := FileReport{File: filepath.Base(path), Kind: "incident"}
	log = log.With("file", fr.File)

	rows, err := readRows(path)
	if err != nil {
		log.Error("incident file unreadable, moving to error directory", "error", err)
		fr.Failed = true
		p.finishFile(log, &fr, runID, path, p.cfg.ErrorDir)
		return fr
	}

	batch := normalizer.NormalizeIncidentRows(rows, log)
	fr.Skipped = batch.Skipped
	metrics.RowsTotal.WithLabelValues("incident", "skipped").Add(float64(batch.Skipped))

	for _, input := range batch.Inputs {
		err := p.withStoreTimeout(ctx, func(ctx context.Context) error {
			_, err := p.svc.CreateIncident(ctx, input)
			return err
		})
		switch {
		case err == nil:
			fr.Created++
			metrics.RowsTotal.WithLabelValues("incident", "created").Inc()
		case repository.IsDuplicate(err):
			fr.Duplicates++
			metrics.RowsTotal.WithLabelValues("incident", "duplicate").Inc()
		default:
			fr.Errors++
			metrics.RowsTotal.WithLabelValues("incident", "error").Inc()
			log.Error("failed to create incident",
				"user", input.User,
				"window_start", input.WindowStart,
				"window_end", input.WindowEnd,
				"error", err)
		}
	}

	fr.Failed = fr.Errors > 0 && fr.Created == 0
	dest := p.cfg.IncidentsProcessedDir()
	if fr.Failed {
		dest = p.cfg.ErrorDir
	}
	p.finishFile(log, &fr, runID, path, dest)
	return fr
}

func (p *Pipeline) processAlertFile(ctx context.Context, log *slog.Logger, runID, path string) FileReport {
	fr := FileReport{File: filepath.Base(path), Kind: "alert"}
	log = log.With("file", fr.File)

	rows, err := readRows(path)
	if err != nil {
		log.Error("alert file unreadable, moving to error directory", "error", err)
		fr.Failed = true
		p.finishFile(log, &fr, runID, path, p.cfg.ErrorDir)
		return fr
	}

	for _, input := range normalizer.NormalizeAlertRows(rows, log) {
		err := p.withStoreTimeout(ctx, func(ctx context.Context) error {
			_, err := p.svc.CreateAlert(ctx, input)
			return err
		})
		switch {
		case err == nil:
			fr.Created++
			metrics.RowsTotal.WithLabelValues("alert", "created").Inc()
		case repository.IsDuplicate(err):
			fr.Duplicates++
			metrics.RowsTotal.WithLabelValues("alert", "duplicate").Inc()
		default:
			fr.Errors++
			metrics.RowsTotal.WithLabelValues("alert", "error").Inc()
			log.Error("failed to create alert",
				"user", input.User,
				"alert_name", input.AlertName,
				"occurred_at", input.OccurredAt,
				"error", err)
		}
	}

	fr.Failed = fr.Errors > 0 && fr.Created == 0
	dest := p.cfg.AlertsProcessedDir()
	if fr.Failed {
		dest = p.cfg.ErrorDir
	}
	p.finishFile(log, &fr, runID, path, dest)
	return fr
}

// processDetectionsFile handles the special detections export: rows are
// forced under-incident, and an existing alert with the same natural key is
// updated rather than treated as a conflict.
func (p *Pipeline) processDetectionsFile(ctx context.Context, log *slog.Logger, runID, path string) FileReport {
	fr := FileReport{File: filepath.Base(path), Kind: "alert"}
	log = log.With("file", fr.File)

	rows, err := readRows(path)
	if err != nil {
		log.Error("detections file unreadable, moving to error directory", "error", err)
		fr.Failed = true
		p.finishFile(log, &fr, runID, path, p.cfg.ErrorDir)
		return fr
	}

	for _, input := range normalizer.NormalizeAlertRows(rows, log) {
		input.IsUnderIncident = true
		err := p.withStoreTimeout(ctx, func(ctx context.Context) error {
			return p.upsertDetection(ctx, input)
		})
		switch {
		case err == nil:
			fr.Created++
			metrics.RowsTotal.WithLabelValues("alert", "created").Inc()
		case errors.Is(err, errUpdated):
			fr.Updated++
			metrics.RowsTotal.WithLabelValues("alert", "updated").Inc()
		case repository.IsDuplicate(err):
			fr.Duplicates++
			metrics.RowsTotal.WithLabelValues("alert", "duplicate").Inc()
		default:
			fr.Errors++
			metrics.RowsTotal.WithLabelValues("alert", "error").Inc()
			log.Error("failed to upsert detection alert",
				"user", input.User,
				"alert_name", input.AlertName,
				"occurred_at", input.OccurredAt,
				"error", err)
		}
	}

	fr.Failed = fr.Errors > 0 && fr.Created+fr.Updated == 0
	dest := p.cfg.AlertsProcessedDir()
	if fr.Failed {
		dest = p.cfg.ErrorDir
	}
	p.finishFile(log, &fr, runID, path, dest)
	return fr
}

// errUpdated signals that a detection row updated an existing alert instead
// of creating a new one. Internal to the detections path.
var errUpdated = errors.New("alert updated")

func (p *Pipeline) upsertDetection(ctx context.Context, input models.AlertInput) error {
	existing, err := p.svc.GetAlertByNaturalKey(ctx, input.User, input.OccurredAt, input.AlertName)
	switch {
	case err == nil:
		under := true
		if _, err := p.svc.UpdateAlert(ctx, existing.ID, models.AlertUpdate{IsUnderIncident: &under}); err != nil {
			return err
		}
		return errUpdated
	case errors.Is(err, repository.ErrAlertNotFound):
		_, err := p.svc.CreateAlert(ctx, input)
		return err
	default:
		return fmt.Errorf("failed to look up alert by natural key: %w", err)
	}
}

func (p *Pipeline) finishFile(log *slog.Logger, fr *FileReport, runID, path, destDir string) {
	if err := Relocate(path, destDir); err != nil {
		// The run continues; the file stays put and will be retried on
		// the next pass.
		log.Error("failed to relocate file", "dest", destDir, "error", err)
		metrics.RelocationErrors.Inc()
	}

	outcome := "processed"
	if fr.Failed {
		outcome = "failed"
	}
	metrics.FilesTotal.WithLabelValues(fr.Kind, outcome).Inc()
	log.Info("file handled",
		"kind", fr.Kind,
		"created", fr.Created,
		"updated", fr.Updated,
		"duplicates", fr.Duplicates,
		"skipped", fr.Skipped,
		"errors", fr.Errors,
		"outcome", outcome)

	p.pub.FileHandled(events.FileOutcome{
		RunID:      runID,
		Kind:       fr.Kind,
		File:       fr.File,
		Created:    fr.Created,
		Updated:    fr.Updated,
		Duplicates: fr.Duplicates,
		Skipped:    fr.Skipped,
		Errors:     fr.Errors,
		Failed:     fr.Failed,
		FinishedAt: time.Now().UTC(),
	})
}

func (p *Pipeline) withStoreTimeout(ctx context.Context, fn func(context.Context) error) error {
	if p.cfg.StoreTimeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.StoreTimeout)
	defer cancel()
	return fn(ctx)
}

// readRows reads a CSV file into header-keyed rows. LazyQuotes and variable
// field counts tolerate the malformed quoting upstream exports produce; rows
// shorter than the header keep whatever fields they have.
func readRows(path string) ([]normalizer.RawRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows []normalizer.RawRow
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read record: %w", err)
		}
		row := make(normalizer.RawRow, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
