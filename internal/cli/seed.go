package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-intake/internal/config"
	"github.com/telhawk-systems/telhawk-intake/internal/seeder"
)

var seedProfilePath string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Generate sample CSV drop files",
	Long: `Writes generated alert and incident CSV files into the configured
drop directories, including deliberately malformed evidence encodings, for
exercising the pipeline locally.`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().StringVar(&seedProfilePath, "profile", "", "path to YAML seed profile")
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	profile, err := seeder.LoadProfile(seedProfilePath)
	if err != nil {
		return err
	}

	alertsDir := cfg.Ingestion.AlertsDropDir()
	incidentsDir := cfg.Ingestion.IncidentsDropDir()
	for _, dir := range []string{alertsDir, incidentsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	s := seeder.New(profile)
	alertFile, err := s.WriteAlertFile(alertsDir)
	if err != nil {
		return err
	}
	incidentFile, err := s.WriteIncidentFile(incidentsDir)
	if err != nil {
		return err
	}

	fmt.Printf("wrote %s (%d alerts)\n", alertFile, profile.Alerts)
	fmt.Printf("wrote %s (%d incidents)\n", incidentFile, profile.Incidents)
	return nil
}
