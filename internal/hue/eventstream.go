package hue

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	sse "github.com/r3labs/sse/v2"
	"github.com/rs/zerolog/log"
	"gopkg.in/cenkalti/backoff.v1"

	"github.com/dokzlo13/huelight/internal/light"
)

// ErrMaxReconnectsExceeded is returned when the maximum number of reconnect attempts is exceeded.
var ErrMaxReconnectsExceeded = errors.New("max reconnects exceeded")

// EventStreamConfig contains configuration for event stream reconnection.
type EventStreamConfig struct {
	MinBackoff    time.Duration // Minimum backoff between reconnects
	MaxBackoff    time.Duration // Maximum backoff between reconnects
	Multiplier    float64       // Backoff multiplier
	MaxReconnects int           // Max reconnect attempts, 0 = infinite
}

// DefaultEventStreamConfig returns sensible defaults for event stream configuration.
func DefaultEventStreamConfig() EventStreamConfig {
	return EventStreamConfig{
		MinBackoff:    1 * time.Second,
		MaxBackoff:    2 * time.Minute,
		Multiplier:    2.0,
		MaxReconnects: 0, // infinite
	}
}

// EventStream follows the bridge's v2 event stream and reports the current
// state of one light whenever the bridge says it changed.
type EventStream struct {
	address  string
	token    string
	lightID  int
	fetch    func(ctx context.Context, lightID int) (*light.State, error)
	onChange func(*light.State)
	config   EventStreamConfig
}

// NewEventStream creates a new event stream listener
func NewEventStream(client *Client, lightID int, config EventStreamConfig, onChange func(*light.State)) *EventStream {
	if config.MinBackoff <= 0 {
		config.MinBackoff = DefaultEventStreamConfig().MinBackoff
	}
	if config.MaxBackoff < config.MinBackoff {
		config.MaxBackoff = config.MinBackoff
	}
	if config.Multiplier < 1 {
		config.Multiplier = 1
	}
	return &EventStream{
		address:  client.Address(),
		token:    client.Token(),
		lightID:  lightID,
		fetch:    client.Fetch,
		onChange: onChange,
		config:   config,
	}
}

// Run starts listening to the event stream with automatic reconnection.
// Returns ErrMaxReconnectsExceeded if max reconnects is exceeded.
func (e *EventStream) Run(ctx context.Context) error {
	retryCount := 0
	currentBackoff := e.config.MinBackoff

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		healthy, err := e.connect(ctx)
		if ctx.Err() != nil {
			return nil
		}

		// A stream that delivered events counts as a successful connection
		if healthy {
			retryCount = 0
			currentBackoff = e.config.MinBackoff
		}

		retryCount++
		if e.config.MaxReconnects > 0 && retryCount > e.config.MaxReconnects {
			log.Error().
				Int("max_reconnects", e.config.MaxReconnects).
				Msg("Event stream: max reconnects exceeded, terminating")
			return ErrMaxReconnectsExceeded
		}

		log.Warn().
			Err(err).
			Dur("backoff", currentBackoff).
			Int("retry", retryCount).
			Int("max_reconnects", e.config.MaxReconnects).
			Msg("Event stream disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(currentBackoff):
		}

		// Calculate next backoff with multiplier, capped at max
		nextBackoff := time.Duration(float64(currentBackoff) * e.config.Multiplier)
		if nextBackoff > e.config.MaxBackoff {
			nextBackoff = e.config.MaxBackoff
		}
		currentBackoff = nextBackoff
	}
}

// connect holds one stream connection open until it fails. healthy reports
// whether any event arrived before that.
func (e *EventStream) connect(ctx context.Context) (healthy bool, err error) {
	client := sse.NewClient(fmt.Sprintf("https://%s/eventstream/clip/v2", e.address))

	// Hue bridges use self-signed certificates
	client.Connection.Transport = &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}
	client.Headers["hue-application-key"] = e.token
	// Reconnects are paced by Run
	client.ReconnectStrategy = &backoff.StopBackOff{}

	client.OnConnect(func(_ *sse.Client) {
		log.Info().Int("light", e.lightID).Msg("Connected to Hue event stream")
	})
	client.OnDisconnect(func(_ *sse.Client) {
		log.Debug().Msg("Disconnected from Hue event stream")
	})

	err = client.SubscribeWithContext(ctx, "", func(msg *sse.Event) {
		healthy = true
		e.handle(ctx, msg)
	})
	if err == nil {
		err = errors.New("event stream closed")
	}
	return healthy, err
}

// handle re-reads the light when a message mentions it.
func (e *EventStream) handle(ctx context.Context, msg *sse.Event) {
	if len(msg.Data) == 0 {
		return
	}

	var events []streamEvent
	if err := json.Unmarshal(msg.Data, &events); err != nil {
		log.Warn().Err(err).Bytes("data", msg.Data).Msg("Failed to parse event")
		return
	}

	if !e.mentionsLight(events) {
		return
	}

	s, err := e.fetch(ctx, e.lightID)
	if err != nil {
		log.Warn().Err(err).Int("light", e.lightID).Msg("Failed to refresh light after bridge event")
		return
	}
	e.onChange(s)
}

func (e *EventStream) mentionsLight(events []streamEvent) bool {
	for _, ev := range events {
		if ev.Type != "update" {
			continue
		}
		for _, r := range ev.Data {
			if r.Type != "light" && r.Type != "zigbee_connectivity" {
				log.Trace().Str("item_type", r.Type).Str("id", r.ID).Msg("Unhandled event type")
				continue
			}
			if id, ok := r.lightIDV1(); ok && id == e.lightID {
				return true
			}
		}
	}
	return false
}
