package main

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/snarg/scribe/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "scribe",
	Short: "Upload-and-transcribe relay",
	Long: `scribe accepts audio and video uploads, hands them to a transcription
model, and streams the JSON transcript back while it is being produced.

  scribe serve                 run the HTTP service
  scribe transcribe FILE       upload a file to a running service`,
	SilenceUsage: true,
}

var overrides config.Overrides

func init() {
	rootCmd.PersistentFlags().StringVar(&overrides.EnvFile, "env-file", "", "path to .env file (default .env)")
	rootCmd.PersistentFlags().StringVar(&overrides.LogLevel, "log-level", "", "log level (overrides LOG_LEVEL)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(transcribeCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println(version)
	},
}

// newLogger builds the root logger. format "console" writes human-readable
// lines; anything else writes JSON.
func newLogger(level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	var log zerolog.Logger
	if format == "console" {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	} else {
		log = zerolog.New(os.Stdout)
	}
	return log.With().Timestamp().Logger().Level(lvl)
}
