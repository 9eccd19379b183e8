package pipeline_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-intake/internal/config"
	"github.com/telhawk-systems/telhawk-intake/internal/correlation"
	"github.com/telhawk-systems/telhawk-intake/internal/events"
	"github.com/telhawk-systems/telhawk-intake/internal/models"
	"github.com/telhawk-systems/telhawk-intake/internal/pipeline"
	"github.com/telhawk-systems/telhawk-intake/internal/repository"
	"github.com/telhawk-systems/telhawk-intake/internal/service"
)

type capturePublisher struct {
	mu       sync.Mutex
	outcomes []events.FileOutcome
}

func (p *capturePublisher) FileHandled(outcome events.FileOutcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outcomes = append(p.outcomes, outcome)
}

func (p *capturePublisher) Close() {}

type harness struct {
	cfg       config.IngestionConfig
	pipe      *pipeline.Pipeline
	alerts    *repository.InMemoryAlertStore
	incidents *repository.InMemoryIncidentStore
	pub       *capturePublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	tmp := t.TempDir()
	cfg := config.IngestionConfig{
		DropDir:      filepath.Join(tmp, "drop"),
		ProcessedDir: filepath.Join(tmp, "processed"),
		ErrorDir:     filepath.Join(tmp, "error"),
		StoreTimeout: 5 * time.Second,
	}
	require.NoError(t, os.MkdirAll(cfg.IncidentsDropDir(), 0o755))
	require.NoError(t, os.MkdirAll(cfg.AlertsDropDir(), 0o755))

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	alerts := repository.NewInMemoryAlertStore()
	incidents := repository.NewInMemoryIncidentStore()
	engine := correlation.NewEngine(alerts, incidents, log)
	svc := service.New(alerts, incidents, engine, log)
	pub := &capturePublisher{}

	return &harness{
		cfg:       cfg,
		pipe:      pipeline.New(cfg, svc, pub, log),
		alerts:    alerts,
		incidents: incidents,
		pub:       pub,
	}
}

func (h *harness) dropIncidentFile(t *testing.T, name, content string) {
	t.Helper()
	writeFile(t, filepath.Join(h.cfg.IncidentsDropDir(), name), content)
}

func (h *harness) dropAlertFile(t *testing.T, name, content string) {
	t.Helper()
	writeFile(t, filepath.Join(h.cfg.AlertsDropDir(), name), content)
}

func fileNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

const alertCSV = `user,datestr,evidence,score,alert_name,mitre_tactic,mitre_technique,logs,description,detection_model,is_under_incident
alice,2024-01-01T00:30:00,"{""site"":""portal"",""count"":2}",7.5,impossible_travel,TA0001,T1078,okta,travel,geo,false
bob,2024-01-01T01:00:00,"{site: 'vpn', count: 1}",4,mass_download,TA0010,T1030,proxy,download,volume,false
alice,2024-01-01T02:00:00,not json at all,2,weird_agent,TA0001,T1078,okta,agent,ua,false
alice,2024-01-01T00:30:00,"{""site"":""portal"",""count"":2}",7.5,impossible_travel,TA0001,T1078,okta,travel,geo,false
`

func TestRun_AlertFile(t *testing.T) {
	h := newHarness(t)
	h.dropAlertFile(t, "alerts_batch1.csv", alertCSV)

	report, err := h.pipe.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Files, 1)

	fr := report.Files[0]
	assert.Equal(t, "alerts_batch1.csv", fr.File)
	assert.Equal(t, "alert", fr.Kind)
	assert.Equal(t, 3, fr.Created)
	assert.Equal(t, 1, fr.Duplicates)
	assert.Equal(t, 0, fr.Errors)
	assert.False(t, fr.Failed)

	// File moved to the processed directory, drop directory drained.
	assert.Empty(t, fileNames(t, h.cfg.AlertsDropDir()))
	assert.Contains(t, fileNames(t, h.cfg.AlertsProcessedDir()), "alerts_batch1.csv")

	stored, err := h.alerts.FindAllByUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	require.Len(t, h.pub.outcomes, 1)
	assert.Equal(t, report.RunID, h.pub.outcomes[0].RunID)
	assert.False(t, h.pub.outcomes[0].Failed)
}

func TestRun_IncidentFileThenAlertsLinked(t *testing.T) {
	h := newHarness(t)
	h.dropIncidentFile(t, "incidents_day1.csv", `user,windows_start,windows_end,score,windows
alice,2024-01-01T00:00:00,2024-01-01T01:00:00,8,"[""2024-01-01T00:10:00""]"
,2024-01-01T00:00:00,2024-01-01T01:00:00,5,
`)
	h.dropAlertFile(t, "alerts_batch1.csv", alertCSV)

	report, err := h.pipe.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Files, 2)

	// Incidents are processed before alerts, so the 00:30 alert lands
	// inside the window already.
	incidentReport := report.Files[0]
	assert.Equal(t, "incident", incidentReport.Kind)
	assert.Equal(t, 1, incidentReport.Created)
	assert.Equal(t, 1, incidentReport.Skipped)

	incidents, err := h.incidents.FindAllByUser(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, incidents, 1)

	alerts, err := h.alerts.FindAllByUser(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, alerts, 2)

	var linked, unlinked int
	for _, a := range alerts {
		if a.IncidentID != nil && *a.IncidentID == incidents[0].ID {
			linked++
		} else {
			unlinked++
		}
	}
	assert.Equal(t, 1, linked)
	assert.Equal(t, 1, unlinked)
}

func TestRun_NonMatchingFilesIgnored(t *testing.T) {
	h := newHarness(t)
	h.dropAlertFile(t, "readme.txt", "not a csv")
	h.dropAlertFile(t, "summary.csv", "user\nalice\n")

	report, err := h.pipe.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Files)

	// Ignored files stay where they are.
	names := fileNames(t, h.cfg.AlertsDropDir())
	assert.Contains(t, names, "readme.txt")
	assert.Contains(t, names, "summary.csv")
}

func TestRun_UnreadableFileGoesToErrorDir(t *testing.T) {
	h := newHarness(t)
	h.dropAlertFile(t, "alerts_empty.csv", "")

	report, err := h.pipe.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Files, 1)
	assert.True(t, report.Files[0].Failed)

	assert.Contains(t, fileNames(t, h.cfg.ErrorDir), "alerts_empty.csv")
}

func TestRun_DetectionsFileUpserts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Seed one alert that the detections file will also carry.
	h.dropAlertFile(t, "alerts_seed.csv", `user,datestr,alert_name,score
alice,2024-01-01T00:30:00,impossible_travel,7
`)
	_, err := h.pipe.Run(ctx)
	require.NoError(t, err)

	existing, err := h.alerts.FindAllByUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, existing, 1)
	require.False(t, existing[0].IsUnderIncident)

	h.dropAlertFile(t, "incidents_detections_output.csv", `user,datestr,alert_name,score
alice,2024-01-01T00:30:00,impossible_travel,7
carol,2024-01-01T03:00:00,new_detection,5
`)
	report, err := h.pipe.Run(ctx)
	require.NoError(t, err)
	require.Len(t, report.Files, 1)

	fr := report.Files[0]
	assert.Equal(t, 1, fr.Created)
	assert.Equal(t, 1, fr.Updated)
	assert.False(t, fr.Failed)

	// The existing alert was flagged, not duplicated.
	updated, err := h.alerts.FindAllByUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.True(t, updated[0].IsUnderIncident)

	// The fresh detection row was created already under incident.
	created, err := h.alerts.FindAllByUser(ctx, "carol")
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.True(t, created[0].IsUnderIncident)

	assert.Contains(t, fileNames(t, h.cfg.AlertsProcessedDir()), "incidents_detections_output.csv")
}

func TestRun_MissingDropDirsIsNotAnError(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.RemoveAll(h.cfg.DropDir))

	report, err := h.pipe.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Files)
}

type blockingAlertStore struct {
	*repository.InMemoryAlertStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingAlertStore) Create(ctx context.Context, input models.AlertInput) (*models.Alert, error) {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return s.InMemoryAlertStore.Create(ctx, input)
}

func TestRun_Serialized(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.IngestionConfig{
		DropDir:      filepath.Join(tmp, "drop"),
		ProcessedDir: filepath.Join(tmp, "processed"),
		ErrorDir:     filepath.Join(tmp, "error"),
	}
	require.NoError(t, os.MkdirAll(cfg.AlertsDropDir(), 0o755))
	writeFile(t, filepath.Join(cfg.AlertsDropDir(), "alerts_slow.csv"), `user,datestr,alert_name
alice,2024-01-01T00:30:00,a1
`)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	alerts := &blockingAlertStore{
		InMemoryAlertStore: repository.NewInMemoryAlertStore(),
		entered:            make(chan struct{}),
		release:            make(chan struct{}),
	}
	incidents := repository.NewInMemoryIncidentStore()
	engine := correlation.NewEngine(alerts, incidents, log)
	pipe := pipeline.New(cfg, service.New(alerts, incidents, engine, log), nil, log)

	done := make(chan error, 1)
	go func() {
		_, err := pipe.Run(context.Background())
		done <- err
	}()

	// Wait until the first run is mid-flight, then trigger a second one.
	<-alerts.entered
	_, err := pipe.Run(context.Background())
	assert.ErrorIs(t, err, pipeline.ErrRunInProgress)

	close(alerts.release)
	require.NoError(t, <-done)

	// With the first run finished the slot frees up again.
	_, err = pipe.Run(context.Background())
	assert.NoError(t, err)
}
