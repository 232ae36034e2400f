// Package logger configures the global zerolog logger used across
// WaFleet. It supports console and JSON output and optional file
// rotation via lumberjack.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logger configuration (compatible with app config)
type Config struct {
	Level       string `json:"level"`
	Format      string `json:"format"` // "json" or "console"
	ColorOutput bool   `json:"color_output"`
	TimeFormat  string `json:"time_format"`
	File        string `json:"file"`     // empty disables file output
	MaxSizeMB   int    `json:"max_size"` // rotation threshold
	MaxBackups  int    `json:"max_backups"`
	MaxAgeDays  int    `json:"max_age"`
}

// Setup configures the global zerolog logger according to the config.
func Setup(config Config) {
	zerolog.SetGlobalLevel(parseLogLevel(config.Level))

	if config.TimeFormat != "" {
		zerolog.TimeFieldFormat = config.TimeFormat
	} else {
		zerolog.TimeFieldFormat = time.RFC3339
	}

	var writers []io.Writer

	switch strings.ToLower(config.Format) {
	case "console", "pretty":
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
			NoColor:    !config.ColorOutput,
		})
	default:
		writers = append(writers, os.Stdout)
	}

	if config.File != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   config.File,
			MaxSize:    defaultInt(config.MaxSizeMB, 100),
			MaxBackups: defaultInt(config.MaxBackups, 3),
			MaxAge:     defaultInt(config.MaxAgeDays, 28),
			Compress:   true,
		})
	}

	var output io.Writer
	if len(writers) == 1 {
		output = writers[0]
	} else {
		output = zerolog.MultiLevelWriter(writers...)
	}

	log.Logger = zerolog.New(output).With().
		Timestamp().
		Str("service", "wafleet").
		Logger()
}

// parseLogLevel converts a string level to a zerolog level
func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

func defaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
