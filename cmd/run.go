package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"pdsworker/internal"
	"pdsworker/internal/config"
	"pdsworker/internal/logger"
	"pdsworker/internal/worker"
)

var (
	runConfigPath string
	runDebugFlag  bool
	runTestFlag   bool
	runFakeDelay  time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the PDS worker daemon",
	Long: `Start the worker daemon. It polls the bridge on the configured interval, traces
every dequeued item against PDS and posts each result back to the bridge. A status
page with the system events is served on the configured worker port.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.SetSilentMode(false)

		// Check if config file exists
		if _, err := os.Stat(runConfigPath); os.IsNotExist(err) {
			log := logger.New()
			if err := config.SaveConfig(config.NewDefaultConfig(), runConfigPath); err != nil {
				log.Error().Err(err).Msg("Failed to create default config file")
				return fmt.Errorf("failed to create default config file: %w", err)
			}
			log.Info().
				Str("config_path", runConfigPath).
				Msg("Created default configuration file. Please edit it with your settings.")
			return nil
		}

		cfg, err := config.LoadConfig(runConfigPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Set up logging from config, the flags win
		logger.SetFormat(cfg.Logging.Format)
		switch {
		case runDebugFlag || verbose:
			logger.SetLevel(logger.LOG_DEBUG)
		default:
			logger.SetLevel(cfg.Logging.Level)
		}

		log := logger.New()
		log.Info().
			Str("config_path", runConfigPath).
			Bool("debug", runDebugFlag).
			Bool("test", runTestFlag).
			Msg("Starting PDS worker")

		mode := internal.NewRunMode(
			internal.WithDebug(runDebugFlag),
			internal.WithTest(runTestFlag),
			internal.WithFakeLatency(runFakeDelay),
		)

		daemon, err := worker.NewDaemon(cfg, mode)
		if err != nil {
			log.Error().Err(err).Msg("Failed to create worker daemon")
			return fmt.Errorf("failed to create worker daemon: %w", err)
		}

		// Start daemon (blocks until shutdown)
		if err := daemon.Start(); err != nil {
			log.Error().Err(err).Msg("Worker daemon stopped with error")
			return fmt.Errorf("worker daemon error: %w", err)
		}

		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "worker.yml", "Path to worker configuration file")
	runCmd.Flags().BoolVarP(&runDebugFlag, "debug", "d", false, "Enable debug logging")
	runCmd.Flags().BoolVar(&runTestFlag, "test", false, "Enable test mode (answer traces from a local fake PDS)")
	runCmd.Flags().DurationVar(&runFakeDelay, "fake-latency", 0, "Delay for each fake PDS answer in test mode")
}
