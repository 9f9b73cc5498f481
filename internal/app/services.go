package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huelight/internal/config"
	"github.com/dokzlo13/huelight/internal/db"
	"github.com/dokzlo13/huelight/internal/imagecolor"
	"github.com/dokzlo13/huelight/internal/ledger"
	"github.com/dokzlo13/huelight/internal/orchestrator"
	"github.com/dokzlo13/huelight/internal/snapshot"
	"github.com/dokzlo13/huelight/internal/storage/kv"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB
	Ledger *ledger.Ledger
	KV     *kv.Manager

	// Pre-effect state, one snapshot per light
	Snapshots *snapshot.Store

	// Command execution
	Orchestrator *orchestrator.Orchestrator

	// High-level services
	Hue     *HueService
	Health  *HealthService
	Webhook *WebhookService
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	// Initialize ledger
	s.Ledger = ledger.New(database.DB)

	// Initialize snapshot store
	s.KV = kv.NewManager(database.DB)
	bucket := s.KV.Bucket(snapshot.BucketName, cfg.Snapshot.Persistent)
	s.Snapshots = snapshot.NewStore(bucket, cfg.Snapshot.TTL.Duration())

	// Initialize Hue service (client, event bus, event stream)
	s.Hue = NewHueService(cfg)

	orchCfg := orchestrator.Config{
		ColorNamer: cfg.Light.ColorNamer,
		SkipEvents: cfg.Light.SkipEvents,
		Ledger:     s.Ledger,
		Events:     s.Hue.Bus,
	}
	if cfg.Image.IsEnabled() {
		orchCfg.Images = imagecolor.New(cfg.Image.Timeout.Duration())
	}
	s.Orchestrator = orchestrator.New(s.Hue.Client, s.Snapshots, orchCfg)

	// Initialize health service
	s.Health = NewHealthService(cfg, s.Orchestrator)

	// Initialize webhook service
	s.Webhook = NewWebhookService(cfg, s.Orchestrator, s.Hue.Bus)

	return s, nil
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a fatal error occurs (e.g., max reconnects exceeded).
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	// Connect to Hue bridge
	if err := s.Hue.Start(ctx); err != nil {
		return err
	}

	// Start all background services
	s.KV.StartCleanup(ctx, s.cfg.KV.CleanupInterval.Duration())
	s.Ledger.StartRetention(ctx, s.cfg.Ledger.CleanupInterval.Duration(), s.cfg.Ledger.Retention())
	s.Hue.StartBackground(ctx, s.Orchestrator.Observe, onFatalError)
	s.Health.Start(ctx)
	s.Webhook.Start(ctx, onFatalError)

	return nil
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Orchestrator != nil {
		s.Orchestrator.Close()
	}
	if s.Webhook != nil {
		s.Webhook.Close()
	}
	if s.KV != nil {
		s.KV.StopCleanup()
	}
	if s.Hue != nil {
		s.Hue.Close()
	}
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close database")
		}
	}
}
