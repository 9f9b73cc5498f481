// Package webhook exposes the HTTP command ingress and the SSE status stream.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	sse "github.com/r3labs/sse/v2"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huelight/internal/command"
	"github.com/dokzlo13/huelight/internal/eventbus"
	"github.com/dokzlo13/huelight/internal/light"
	"github.com/dokzlo13/huelight/internal/orchestrator"
)

// StatusStream is the SSE stream id status events are published on.
const StatusStream = "status"

const maxBodySize = 1 << 20

// Commander executes decoded commands.
type Commander interface {
	Handle(ctx context.Context, cmd command.Command) (*light.Status, error)
}

// Subscriber is the part of the event bus the status stream listens on.
type Subscriber interface {
	Subscribe(eventType eventbus.EventType, handler eventbus.Handler) *eventbus.Subscription
}

// Server accepts commands over HTTP and streams status events back.
type Server struct {
	addr       string
	lightID    int
	commands   Commander
	bus        Subscriber
	stream     *sse.Server
	httpServer *http.Server

	mu        sync.Mutex
	subs      []*eventbus.Subscription
	closeOnce sync.Once
}

// NewServer creates a new webhook server. lightID is the light addressed by
// requests that name none.
func NewServer(host string, port, lightID int, commands Commander, bus Subscriber) *Server {
	stream := sse.New()
	stream.AutoReplay = false
	stream.CreateStream(StatusStream)

	return &Server{
		addr:     fmt.Sprintf("%s:%d", host, port),
		lightID:  lightID,
		commands: commands,
		bus:      bus,
		stream:   stream,
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /lights/{id}", s.handleLight)
	mux.HandleFunc("POST /{$}", s.handleDefault)
	mux.HandleFunc("GET /events", s.handleEvents)
	return mux
}

// Run starts the webhook server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.subscribe()

	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	log.Info().Str("addr", s.addr).Msg("Starting webhook server")

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		// Open event streams never finish on their own
		s.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Webhook server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// Close stops forwarding bus events and ends every open event stream.
func (s *Server) Close() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	s.closeOnce.Do(s.stream.Close)
}

func (s *Server) subscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs != nil {
		return
	}
	for _, t := range []eventbus.EventType{eventbus.EventTypeStatus, eventbus.EventTypePush} {
		s.subs = append(s.subs, s.bus.Subscribe(t, s.forward))
	}
}

type streamMessage struct {
	Type   eventbus.EventType `json:"type"`
	Light  int                `json:"light"`
	Status light.Status       `json:"status"`
}

func (s *Server) forward(e eventbus.Event) {
	data, err := json.Marshal(streamMessage{Type: e.Type, Light: e.LightID, Status: e.Status})
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode status event")
		return
	}
	s.stream.Publish(StatusStream, &sse.Event{
		Event: []byte(e.Type),
		Data:  data,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("stream") == "" {
		q := r.URL.Query()
		q.Set("stream", StatusStream)
		r.URL.RawQuery = q.Encode()
	}
	log.Debug().Str("remote", r.RemoteAddr).Msg("Status stream client connected")
	s.stream.ServeHTTP(w, r)
	log.Debug().Str("remote", r.RemoteAddr).Msg("Status stream client disconnected")
}

func (s *Server) handleLight(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: invalid light id %q", command.ErrMalformed, r.PathValue("id")))
		return
	}
	s.handle(w, r, &id)
}

func (s *Server) handleDefault(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r, nil)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request, pathID *int) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		log.Error().Err(err).Msg("Failed to read webhook request body")
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", command.ErrMalformed, err))
		return
	}
	defer r.Body.Close()

	msg, err := command.Parse(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if pathID != nil {
		msg.Topic = command.Text(strconv.Itoa(*pathID))
	}

	cmd, err := command.Decode(msg, s.lightID)
	if err != nil {
		writeError(w, statusCode(err), err)
		return
	}

	log.Debug().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("light", cmd.LightID).
		Str("command", cmd.Kind.String()).
		Msg("Received webhook request")

	status, err := s.commands.Handle(r.Context(), cmd)
	if err != nil {
		writeError(w, statusCode(err), err)
		return
	}

	if status == nil {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// statusCode maps a command error onto an HTTP status.
func statusCode(err error) int {
	switch {
	case errors.Is(err, command.ErrMalformed), errors.Is(err, command.ErrNotConfigured):
		return http.StatusBadRequest
	case orchestrator.IsValidation(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, orchestrator.ErrNoSnapshot):
		return http.StatusConflict
	case orchestrator.IsDevice(err), errors.Is(err, orchestrator.ErrBackgroundTask):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	if code >= http.StatusInternalServerError {
		log.Error().Err(err).Int("code", code).Msg("Webhook request failed")
	} else {
		log.Debug().Err(err).Int("code", code).Msg("Webhook request rejected")
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}
