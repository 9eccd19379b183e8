// Package cli implements the intake command tree.
package cli

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "intake",
	Short: "TelHawk intake service",
	Long: `intake ingests security alert and incident CSV exports from watched
drop directories, normalizes their inconsistent field encodings, persists
them with content-addressed identity, and keeps the alert/incident time
window correlation consistent.`,
	Version: "0.1.0",
}

// Execute runs the command tree.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")
}
