package seeder_test

import (
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-intake/internal/normalizer"
	"github.com/telhawk-systems/telhawk-intake/internal/seeder"
)

func readCSV(t *testing.T, path string) ([]string, [][]string) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r := csv.NewReader(f)
	r.LazyQuotes = true
	records, err := r.ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, records)
	return records[0], records[1:]
}

func TestWriteAlertFile(t *testing.T) {
	s := seeder.New(seeder.Profile{
		Users:          3,
		Alerts:         20,
		MalformedRatio: 0.5,
		TimeSpread:     24 * time.Hour,
		Seed:           42,
	})

	dir := t.TempDir()
	path, err := s.WriteAlertFile(dir)
	require.NoError(t, err)
	assert.Regexp(t, `^alerts_seed_\d{8}T\d{6}\.csv$`, filepath.Base(path))

	header, rows := readCSV(t, path)
	assert.Equal(t, "user", header[0])
	assert.Equal(t, "datestr", header[1])
	assert.Equal(t, "evidence", header[2])
	require.Len(t, rows, 20)

	// Every generated row, malformed evidence included, must survive
	// normalization.
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	for _, record := range rows {
		row := make(normalizer.RawRow, len(header))
		for i, col := range header {
			row[col] = record[i]
		}
		input := normalizer.NormalizeAlertRow(row, log)
		assert.NotEmpty(t, input.User)
		assert.False(t, input.OccurredAt.IsZero())
		assert.Contains(t, input.Evidence, "site")
		assert.Contains(t, input.Evidence, "rawEvents")
	}
}

func TestWriteIncidentFile(t *testing.T) {
	s := seeder.New(seeder.Profile{
		Users:      3,
		Incidents:  10,
		TimeSpread: 24 * time.Hour,
		Seed:       42,
	})

	dir := t.TempDir()
	path, err := s.WriteIncidentFile(dir)
	require.NoError(t, err)

	header, rows := readCSV(t, path)
	require.Len(t, rows, 10)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	rawRows := make([]normalizer.RawRow, 0, len(rows))
	for _, record := range rows {
		row := make(normalizer.RawRow, len(header))
		for i, col := range header {
			row[col] = record[i]
		}
		rawRows = append(rawRows, row)
	}

	batch := normalizer.NormalizeIncidentRows(rawRows, log)
	assert.Zero(t, batch.Skipped)
	require.Len(t, batch.Inputs, 10)
	for _, input := range batch.Inputs {
		assert.NotEmpty(t, input.User)
		assert.True(t, input.WindowEnd.After(input.WindowStart))
		assert.Len(t, input.Windows, 2)
	}
}

func TestNewIsDeterministicWithSeed(t *testing.T) {
	profile := seeder.Profile{Users: 3, Alerts: 5, TimeSpread: time.Second, Seed: 7}

	dirA := t.TempDir()
	pathA, err := seeder.New(profile).WriteAlertFile(dirA)
	require.NoError(t, err)

	dirB := t.TempDir()
	pathB, err := seeder.New(profile).WriteAlertFile(dirB)
	require.NoError(t, err)

	_, rowsA := readCSV(t, pathA)
	_, rowsB := readCSV(t, pathB)
	require.Len(t, rowsB, len(rowsA))

	// Timestamps derive from the wall clock at construction, so compare
	// every other column.
	for i := range rowsA {
		a, b := rowsA[i], rowsB[i]
		for col := range a {
			if col == 1 {
				continue
			}
			assert.Equal(t, a[col], b[col], "row %d col %d", i, col)
		}
	}
}

func TestLoadProfile(t *testing.T) {
	profile, err := seeder.LoadProfile("")
	require.NoError(t, err)
	assert.Equal(t, seeder.DefaultProfile(), profile)

	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte("users: 2\nalerts: 4\nseed: 9\n"), 0o644))

	profile, err = seeder.LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, profile.Users)
	assert.Equal(t, 4, profile.Alerts)
	assert.Equal(t, int64(9), profile.Seed)

	_, err = seeder.LoadProfile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
