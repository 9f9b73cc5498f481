package app

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huelight/internal/config"
	"github.com/dokzlo13/huelight/internal/eventbus"
	"github.com/dokzlo13/huelight/internal/hue"
	"github.com/dokzlo13/huelight/internal/light"
)

// HueService wraps the bridge client, the status event bus and the bridge
// event stream.
type HueService struct {
	cfg *config.Config

	Client *hue.Client
	Bus    *eventbus.Bus
}

// NewHueService creates a new HueService with all components initialized but not connected.
func NewHueService(cfg *config.Config) *HueService {
	// Initialize Hue client with configured timeout and rate limit
	client := hue.NewClient(cfg.Hue.Bridge, cfg.Hue.Token, cfg.Hue.Timeout.Duration(), cfg.Hue.RateLimitRPS)

	// Initialize event bus
	bus := eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())

	return &HueService{
		cfg:    cfg,
		Client: client,
		Bus:    bus,
	}
}

// Start connects to the Hue bridge.
func (s *HueService) Start(ctx context.Context) error {
	if err := s.Client.Connect(ctx); err != nil {
		return err
	}
	log.Info().Str("bridge", s.cfg.Hue.Bridge).Msg("Connected to Hue bridge")
	return nil
}

// StartBackground follows the bridge event stream for the configured light,
// passing every refreshed state to onChange.
// The optional onFatalError callback is called when a fatal error occurs (e.g., max reconnects exceeded).
func (s *HueService) StartBackground(ctx context.Context, onChange func(*light.State), onFatalError func(error)) {
	if !s.cfg.Hue.Events() {
		log.Debug().Msg("Bridge event stream disabled")
		return
	}
	if s.cfg.Light.ID <= 0 {
		log.Info().Msg("No light.id configured, bridge event stream not started")
		return
	}

	// Initialize event stream with retry configuration
	eventStreamConfig := hue.EventStreamConfig{
		MinBackoff:    s.cfg.Hue.MinRetryBackoff.Duration(),
		MaxBackoff:    s.cfg.Hue.MaxRetryBackoff.Duration(),
		Multiplier:    s.cfg.Hue.RetryMultiplier,
		MaxReconnects: s.cfg.Hue.MaxReconnects,
	}
	stream := hue.NewEventStream(s.Client, s.cfg.Light.ID, eventStreamConfig, onChange)

	go func() {
		if err := stream.Run(ctx); err != nil {
			if errors.Is(err, hue.ErrMaxReconnectsExceeded) {
				log.Error().Msg("Event stream: max reconnects exceeded, triggering shutdown")
				if onFatalError != nil {
					onFatalError(err)
				}
			} else {
				log.Error().Err(err).Msg("Event stream error")
			}
		}
	}()
}

// Close releases all resources.
func (s *HueService) Close() {
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		defer cancel()
		s.Bus.Close(ctx)
	}
	if s.Client != nil {
		s.Client.Close()
	}
}
