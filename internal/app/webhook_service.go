package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huelight/internal/config"
	"github.com/dokzlo13/huelight/internal/webhook"
)

// WebhookService runs the command ingress and status stream server.
type WebhookService struct {
	cfg    *config.Config
	server *webhook.Server
	done   chan struct{}
}

// NewWebhookService creates a new WebhookService.
func NewWebhookService(cfg *config.Config, commands webhook.Commander, bus webhook.Subscriber) *WebhookService {
	return &WebhookService{
		cfg:    cfg,
		server: webhook.NewServer(cfg.Webhook.Host, cfg.Webhook.Port, cfg.Light.ID, commands, bus),
	}
}

// Start serves commands until ctx is cancelled. A listener that cannot be
// opened is reported through onFatalError.
func (s *WebhookService) Start(ctx context.Context, onFatalError func(error)) {
	if !s.cfg.Webhook.Enabled {
		log.Debug().Msg("Webhook server disabled")
		return
	}

	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		if err := s.server.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
			log.Error().Err(err).Msg("Webhook server error")
			if onFatalError != nil {
				onFatalError(fmt.Errorf("webhook server: %w", err))
			}
		}
	}()
}

// Close ends open status streams and waits for the server to drain.
func (s *WebhookService) Close() {
	s.server.Close()
	if s.done == nil {
		return
	}

	// Run's own shutdown is bounded by the same timeout
	select {
	case <-s.done:
	case <-time.After(s.cfg.ShutdownTimeout.Duration() + time.Second):
		log.Warn().Msg("Webhook server did not stop in time")
	}
}
