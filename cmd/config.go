package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"pdsworker/internal/config"
)

var configPath string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage worker configuration",
	Long:  `Generate or validate worker configuration files.`,
}

var configGenerateCmd = &cobra.Command{
	Use:   "generate [config-file]",
	Short: "Generate default configuration file",
	Long:  `Generate a default configuration file with example settings.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if len(args) > 0 {
			path = args[0]
		}

		if err := config.SaveConfig(config.NewDefaultConfig(), path); err != nil {
			return fmt.Errorf("failed to save default config: %w", err)
		}

		cmd.Printf("Default configuration saved to: %s\n", path)
		cmd.Println("Please edit the file with your bridge address and PDS client certificate.")
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [config-file]",
	Short: "Validate configuration file",
	Long:  `Validate a worker configuration file for syntax and required fields.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if len(args) > 0 {
			path = args[0]
		}

		cfg, err := config.LoadConfig(path)
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		cmd.Printf("Configuration file is valid: %s\n", path)
		cmd.Printf("Service: %s\n", cfg.Service.Name)
		cmd.Printf("Dequeue: %s%s\n", cfg.BridgeBaseURL(), cfg.Bridge.DequeueMethod)
		cmd.Printf("Enqueue: %s%s\n", cfg.BridgeBaseURL(), cfg.Bridge.EnqueueMethod)
		cmd.Printf("Poll interval: %s\n", cfg.PollInterval())
		if cfg.PDS.UseFake {
			cmd.Println("PDS: fake client")
		} else {
			cmd.Printf("PDS: https://%s%s (%s)\n", cfg.PDS.Host, cfg.PDS.Path, cfg.PDS.MessageType)
		}

		return nil
	},
}

func init() {
	configCmd.AddCommand(configGenerateCmd)
	configCmd.AddCommand(configValidateCmd)

	configGenerateCmd.Flags().StringVarP(&configPath, "config", "c", "worker.yml", "Path for generated configuration file")
	configValidateCmd.Flags().StringVarP(&configPath, "config", "c", "worker.yml", "Path to configuration file to validate")
}
