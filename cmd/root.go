package cmd

import (
	"github.com/spf13/cobra"
	"pdsworker/internal/logger"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "pdsworker",
	Short: "PDS worker - traces queued patient lookups against PDS",
	Long: `pdsworker polls the bridge queue for pending demographic lookups, renders each
one into a SOAP request, sends it to the PDS lookup service over mutual TLS and posts
the raw result back to the bridge with the item's correlation id.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logger.SetSilentMode(false)
			logger.SetLevel(logger.LOG_DEBUG)
		}
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(templatesCmd)
	rootCmd.AddCommand(statusCmd)
}
