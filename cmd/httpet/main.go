package main

import (
	"io"
	"os"

	"github.com/always-cache/httpet"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// CLI flags
	configFlag         string
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func main() {
	if version == "" {
		version = "DEV"
	}
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "httpet",
		Short:        "HTTP status codes, illustrated by pets",
		Version:      version,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "YAML config file")
	cmd.PersistentFlags().BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	cmd.PersistentFlags().StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	cmd.AddCommand(serveCmd(), petsCmd())
	return cmd
}

// loadConfig reads the config file and the environment, then applies the flags set on the command line.
func loadConfig(cmd *cobra.Command) (httpet.FileConfig, error) {
	config, err := httpet.LoadConfig(configFlag)
	if err != nil {
		return config, err
	}
	flags := cmd.Flags()
	if flags.Changed("domain") {
		config.BaseDomain, _ = flags.GetString("domain")
	}
	if flags.Changed("addr") {
		config.ListenAddress, _ = flags.GetString("addr")
	}
	if flags.Changed("port") {
		config.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("images") {
		config.AssetRoot, _ = flags.GetString("images")
	}
	if flags.Changed("db") {
		config.DatabasePath, _ = flags.GetString("db")
	}
	if flags.Changed("debug") {
		config.Debug, _ = flags.GetBool("debug")
	}
	if logFilenameFlag != "" {
		config.LogFile = logFilenameFlag
	}
	return config, nil
}

// setupLogging sets up log output to stdout, and to the log file if configured.
func setupLogging(config httpet.FileConfig) {
	logLevel := zerolog.InfoLevel
	if config.Debug {
		logLevel = zerolog.DebugLevel
	}
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if config.LogFile != "" {
		if logFileOutput, err := os.OpenFile(config.LogFile, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Timestamp().Str("version", version).Logger()
}
