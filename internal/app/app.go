package app

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huelight/internal/config"
)

// App owns the services of one huelight process.
type App struct {
	cfg      *config.Config
	services *Services

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	fatal error
}

// New creates a new App instance with all services initialized but not started.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:      cfg,
		services: services,
	}, nil
}

// Start connects to the bridge and launches the background services.
// A fatal background error cancels the app context; Err reports it afterwards.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	if err := a.services.Start(a.ctx, a.fail); err != nil {
		return err
	}

	log.Info().
		Int("light", a.cfg.Light.ID).
		Bool("webhook", a.cfg.Webhook.Enabled).
		Bool("events", a.cfg.Hue.Events()).
		Msg("huelight started")
	return nil
}

func (a *App) fail(err error) {
	a.mu.Lock()
	if a.fatal == nil {
		a.fatal = err
	}
	a.mu.Unlock()

	log.Error().Err(err).Msg("Fatal error, initiating shutdown")
	a.cancel()
}

// Err returns the first fatal error raised by a background service.
func (a *App) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fatal
}

// Stop cancels the app context and releases every service.
func (a *App) Stop() error {
	log.Info().Msg("Shutting down...")

	if a.cancel != nil {
		a.cancel()
	}
	if a.services == nil {
		return nil
	}
	return a.services.Stop()
}

// Wait blocks until the app context is cancelled.
func (a *App) Wait() {
	if a.ctx == nil {
		return
	}
	<-a.ctx.Done()
}

// ClearSnapshots drops every stored pre-effect snapshot and returns how many were removed.
func (a *App) ClearSnapshots() (int, error) {
	if a.services == nil {
		return 0, nil
	}
	return a.services.Snapshots.Clear()
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}
