package main

import (
	"flag"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dokzlo13/huelight/internal/app"
	"github.com/dokzlo13/huelight/internal/config"
)

func main() {
	// Support both -c and --config for config path
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&configPath, "c", "config.yaml", "Path to configuration file (shorthand)")
	resetSnapshots := flag.Bool("reset-snapshots", false, "Drop stored pre-effect snapshots on startup")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logging
	setupLogging(cfg.Log)

	log.Info().Str("config", configPath).Msg("Starting huelight")

	// Create application
	application, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}

	// Handle reset flag
	if *resetSnapshots {
		n, err := application.ClearSnapshots()
		if err != nil {
			log.Warn().Err(err).Msg("Failed to clear snapshots")
		} else {
			log.Info().Int("count", n).Msg("Cleared stored snapshots (--reset-snapshots)")
		}
	}

	// Create context that cancels on shutdown signal
	ctx := app.SignalContext()

	// Start the application
	if err := application.Start(ctx); err != nil {
		application.Stop()
		log.Fatal().Err(err).Msg("Failed to start application")
	}

	// Wait for shutdown
	application.Wait()

	// Graceful shutdown
	if err := application.Stop(); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}
	if err := application.Err(); err != nil {
		os.Exit(1)
	}
}

func setupLogging(cfg config.LogConfig) {
	// ISO 8601 format with timezone
	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer
	if cfg.JSON {
		// JSON output for production
		out = os.Stderr
	} else {
		// Text output (with optional colors)
		out = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !cfg.Colors,
		}
	}

	if cfg.File != "" {
		// Rotated JSON copy of everything logged
		out = zerolog.MultiLevelWriter(out, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		})
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()

	switch cfg.Level {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
