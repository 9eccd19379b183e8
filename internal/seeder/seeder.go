// Package seeder generates realistic alert and incident CSV drop files for
// local testing, including the malformed evidence encodings upstream
// exporters are known to produce.
package seeder

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"gopkg.in/yaml.v3"
)

// Profile controls what the seeder generates.
type Profile struct {
	Users          int           `yaml:"users"`
	Alerts         int           `yaml:"alerts"`
	Incidents      int           `yaml:"incidents"`
	MalformedRatio float64       `yaml:"malformed_ratio"`
	TimeSpread     time.Duration `yaml:"time_spread"`
	Seed           int64         `yaml:"seed"`
}

// DefaultProfile returns a small but representative data set.
func DefaultProfile() Profile {
	return Profile{
		Users:          5,
		Alerts:         50,
		Incidents:      10,
		MalformedRatio: 0.3,
		TimeSpread:     72 * time.Hour,
	}
}

// LoadProfile reads a YAML profile, falling back to defaults for a missing
// path.
func LoadProfile(path string) (Profile, error) {
	profile := DefaultProfile()
	if path == "" {
		return profile, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return profile, fmt.Errorf("failed to read seed profile: %w", err)
	}
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return profile, fmt.Errorf("failed to parse seed profile: %w", err)
	}
	return profile, nil
}

// Seeder produces drop files under a directory layout matching what the
// pipeline watches.
type Seeder struct {
	profile Profile
	faker   *gofakeit.Faker
	users   []string
	now     time.Time
}

func New(profile Profile) *Seeder {
	seed := profile.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	faker := gofakeit.New(seed)

	users := make([]string, 0, profile.Users)
	for i := 0; i < profile.Users; i++ {
		users = append(users, faker.Username())
	}

	return &Seeder{
		profile: profile,
		faker:   faker,
		users:   users,
		now:     time.Now().UTC(),
	}
}

// WriteAlertFile writes one alerts_seed CSV into dir and returns its path.
func (s *Seeder) WriteAlertFile(dir string) (string, error) {
	path := filepath.Join(dir, fmt.Sprintf("alerts_seed_%s.csv", s.now.Format("20060102T150405")))
	header := []string{
		"user", "datestr", "evidence", "score", "alert_name",
		"mitre_tactic", "mitre_technique", "logs", "description",
		"detection_model", "is_under_incident",
	}

	rows := make([][]string, 0, s.profile.Alerts)
	for i := 0; i < s.profile.Alerts; i++ {
		ts := s.randomTime()
		datestr := ts.Format(time.RFC3339)
		if s.faker.Bool() {
			datestr = strconv.FormatInt(ts.Unix(), 10)
		}
		rows = append(rows, []string{
			s.randomUser(),
			datestr,
			s.randomEvidence(),
			fmt.Sprintf("%.1f", s.faker.Float64Range(0, 10)),
			s.randomAlertName(),
			s.faker.RandomString([]string{"TA0001", "TA0006", "TA0008", "TA0010"}),
			s.faker.RandomString([]string{"T1078", "T1110", "T1021", "T1567"}),
			"",
			s.faker.Sentence(6),
			s.faker.RandomString([]string{"impossible-travel", "brute-force", "exfil-volume"}),
			"false",
		})
	}
	return path, writeCSV(path, header, rows)
}

// WriteIncidentFile writes one incidents CSV into dir and returns its path.
func (s *Seeder) WriteIncidentFile(dir string) (string, error) {
	path := filepath.Join(dir, fmt.Sprintf("incidents_seed_%s.csv", s.now.Format("20060102T150405")))
	header := []string{"user", "windows_start", "windows_end", "windows", "score"}

	rows := make([][]string, 0, s.profile.Incidents)
	for i := 0; i < s.profile.Incidents; i++ {
		start := s.randomTime()
		end := start.Add(time.Duration(s.faker.IntRange(1, 12)) * time.Hour)
		mid := start.Add(end.Sub(start) / 2)

		startStr := start.Format(time.RFC3339)
		if s.faker.Bool() {
			startStr = strconv.FormatInt(start.Unix(), 10)
		}
		windows := fmt.Sprintf(`["%s","%s"]`, start.Format(time.RFC3339), mid.Format(time.RFC3339))

		rows = append(rows, []string{
			s.randomUser(),
			startStr,
			end.Format(time.RFC3339),
			windows,
			fmt.Sprintf("%.1f", s.faker.Float64Range(0, 10)),
		})
	}
	return path, writeCSV(path, header, rows)
}

func (s *Seeder) randomUser() string {
	if len(s.users) == 0 {
		return s.faker.Username()
	}
	return s.users[s.faker.IntRange(0, len(s.users)-1)]
}

func (s *Seeder) randomAlertName() string {
	return s.faker.RandomString([]string{
		"LoginAnomaly", "ImpossibleTravel", "BruteForceAttempt",
		"UnusualDownloadVolume", "PrivilegeEscalation",
	})
}

func (s *Seeder) randomTime() time.Time {
	spreadSecs := int(s.profile.TimeSpread / time.Second)
	if spreadSecs < 1 {
		spreadSecs = 1
	}
	offset := time.Duration(s.faker.IntRange(0, spreadSecs)) * time.Second
	return s.now.Add(-offset).Truncate(time.Second)
}

// randomEvidence emits valid JSON most of the time and the pseudo-JSON
// shapes seen in real exports for the configured ratio.
func (s *Seeder) randomEvidence() string {
	site := s.faker.DomainName()
	count := s.faker.IntRange(1, 40)
	ip := s.faker.IPv4Address()

	if s.faker.Float64Range(0, 1) < s.profile.MalformedRatio {
		switch s.faker.IntRange(0, 2) {
		case 0:
			// bare keys, single quotes
			return fmt.Sprintf("{site: '%s', count: %d, rawEvents: []}", site, count)
		case 1:
			// stringified JSON with escaped quotes
			return fmt.Sprintf(`"{\"site\":\"%s\",\"count\":%d,\"rawEvents\":[]}"`, site, count)
		default:
			// pseudo-list of events
			return fmt.Sprintf("[{ip: '%s', action: login}, {ip: '%s', action: download}]", ip, ip)
		}
	}
	return fmt.Sprintf(`{"site":"%s","count":%d,"rawEvents":[{"ip":"%s"}]}`, site, count, ip)
}

func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}
