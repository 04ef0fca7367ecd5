package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentplexus/voicerelay"
	"github.com/agentplexus/voicerelay/internal/config"
	"github.com/agentplexus/voicerelay/internal/logging"
)

var (
	logLevel  string
	logFormat string
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voicerelay",
		Short: "Relay Twilio phone calls to an Azure OpenAI realtime agent",
		Long: `voicerelay answers and places Twilio calls and streams their audio to an
Azure OpenAI realtime deployment, relaying the agent's speech back to the
caller. Configuration is read from the environment and an optional .env file.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (default $LOG_LEVEL)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json (default $LOG_FORMAT)")

	cmd.AddCommand(serveCmd())
	cmd.AddCommand(callCmd())
	cmd.AddCommand(versionCmd())
	return cmd
}

// loadConfig reads the configuration and sets up the default logger.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}

	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat).With("service", "voicerelay", "version", voicerelay.Version)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("voicerelay " + voicerelay.Version)
		},
	}
}
