// Package hue talks to a Philips Hue bridge: v1 REST for reading and writing
// light state, and the v2 event stream for changes made elsewhere.
package hue

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/amimof/huego"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/huelight/internal/color"
	"github.com/dokzlo13/huelight/internal/light"
)

var (
	// ErrNotFound is returned when the bridge has no light with the given id.
	ErrNotFound = errors.New("light not found")
	// ErrUnreachable is returned when the bridge cannot be reached.
	ErrUnreachable = errors.New("bridge unreachable")
	// ErrRejected is returned when the bridge refused every field of a write.
	ErrRejected = errors.New("bridge rejected state change")
	// ErrUnauthorized is returned when the application key is not accepted.
	ErrUnauthorized = errors.New("bridge rejected application key")
)

// Client reads and writes light state on the bridge. All requests share a
// rate limiter since the bridge drops commands sent faster than ~10/s.
type Client struct {
	address    string
	token      string
	bridge     *huego.Bridge
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a new Hue client
func NewClient(address, token string, timeout time.Duration, rateLimitRPS float64) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if rateLimitRPS <= 0 {
		rateLimitRPS = 10
	}

	// Hue bridges use self-signed certificates
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}

	return &Client{
		address: address,
		token:   token,
		bridge:  huego.New(address, token),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		limiter: rate.NewLimiter(rate.Limit(rateLimitRPS), 1),
	}
}

// Address returns the bridge host.
func (c *Client) Address() string { return c.address }

// Token returns the application key.
func (c *Client) Token() string { return c.token }

// Connect verifies the bridge is reachable and accepts the application key.
func (c *Client) Connect(ctx context.Context) error {
	body, err := c.get(ctx, "capabilities")
	if err != nil {
		return fmt.Errorf("failed to connect to Hue bridge: %w", err)
	}
	for _, e := range parseErrors(body) {
		if e.Type == v1ErrUnauthorized {
			return ErrUnauthorized
		}
		return fmt.Errorf("failed to connect to Hue bridge: %w", e)
	}

	if cfg, err := c.bridge.GetConfig(); err == nil {
		log.Info().Str("address", c.address).Str("name", cfg.Name).Str("api_version", cfg.APIVersion).Msg("Connected to Hue bridge")
	} else {
		log.Info().Str("address", c.address).Msg("Connected to Hue bridge")
	}
	return nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Fetch returns the current state of a light.
func (c *Client) Fetch(ctx context.Context, lightID int) (*light.State, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := c.get(ctx, fmt.Sprintf("lights/%d", lightID))
	if err != nil {
		return nil, err
	}
	if errs := parseErrors(body); len(errs) > 0 {
		if errs[0].Type == v1ErrNotAvailable {
			return nil, fmt.Errorf("%w: %d", ErrNotFound, lightID)
		}
		return nil, errs[0]
	}

	var l huego.Light
	if err := json.Unmarshal(body, &l); err != nil {
		return nil, fmt.Errorf("failed to decode light %d: %w", lightID, err)
	}
	l.ID = lightID
	return toState(&l), nil
}

// Persist writes the changed fields of s the light supports, then re-reads
// the light. Unreachable lights are not written to and yield ok=false.
func (c *Client) Persist(ctx context.Context, s *light.State) (*light.State, bool, error) {
	body := writeBody(s)
	if len(body) == 0 {
		saved := s.Clone()
		saved.ClearDirty()
		return saved, true, nil
	}
	if !s.Reachable {
		log.Warn().Int("light", s.ID).Msg("Light is unreachable, skipping write")
		return nil, false, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, false, err
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode state: %w", err)
	}

	resp, err := c.v1Request(ctx, http.MethodPut, fmt.Sprintf("lights/%d/state", s.ID), bytes.NewReader(data))
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var results []v1Result
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, false, fmt.Errorf("failed to decode response: %w", err)
	}

	succeeded := 0
	var firstErr error
	for _, r := range results {
		if r.Success != nil {
			succeeded++
		}
		if r.Error != nil {
			log.Warn().Int("light", s.ID).Int("type", r.Error.Type).Str("address", r.Error.Address).Str("description", r.Error.Description).Msg("Bridge rejected field")
			if firstErr == nil {
				firstErr = *r.Error
			}
		}
	}
	if succeeded == 0 && firstErr != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrRejected, firstErr)
	}

	log.Debug().Int("light", s.ID).RawJSON("state", data).Msg("Light state written")

	saved, err := c.Fetch(ctx, s.ID)
	if err != nil {
		return nil, false, err
	}
	return saved, true, nil
}

func (c *Client) v1URL(path string) string {
	return fmt.Sprintf("http://%s/api/%s/%s", c.address, c.token, path)
}

func (c *Client) v1Request(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.v1URL(path), body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	resp, err := c.v1Request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// toState maps a v1 light resource onto the domain model.
func toState(l *huego.Light) *light.State {
	model := modelOf(l)
	s := &light.State{
		ID:              l.ID,
		UniqueID:        l.UniqueID,
		Name:            l.Name,
		Type:            l.Type,
		SoftwareVersion: l.SwVersion,
		Model:           model,
		Effect:          light.EffectNone,
		Alert:           light.AlertNone,
	}
	if l.State == nil {
		return s
	}

	st := l.State
	s.On = st.On
	s.Reachable = st.Reachable
	if st.Effect != "" {
		s.Effect = light.Effect(st.Effect)
	}
	if st.Alert != "" {
		s.Alert = light.Alert(st.Alert)
	}
	if model.HasDimming {
		bri := st.Bri
		s.Brightness = &bri
	}
	if model.HasColor && len(st.Xy) == 2 {
		s.XY = &color.XY{X: round4(float64(st.Xy[0])), Y: round4(float64(st.Xy[1]))}
	}
	if model.HasColorTemp && st.Ct > 0 {
		ct := st.Ct
		s.ColorTemp = &ct
	}
	if model.HasSaturation {
		sat := st.Sat
		s.Saturation = &sat
	}
	return s
}

// modelOf derives capabilities from the v1 light type, widened by whatever
// attributes the light actually reports.
func modelOf(l *huego.Light) light.Model {
	m := light.Model{
		ID:           l.ModelID,
		Manufacturer: l.ManufacturerName,
		Name:         l.ProductName,
		Type:         l.Type,
		FriendsOfHue: isFriendsOfHue(l.ManufacturerName),
	}

	switch strings.ToLower(l.Type) {
	case "extended color light":
		m.HasColor, m.HasColorTemp, m.HasSaturation, m.HasDimming = true, true, true, true
	case "color light":
		m.HasColor, m.HasSaturation, m.HasDimming = true, true, true
	case "color temperature light":
		m.HasColorTemp, m.HasDimming = true, true
	case "dimmable light":
		m.HasDimming = true
	}

	if st := l.State; st != nil {
		m.HasColor = m.HasColor || len(st.Xy) == 2
		m.HasColorTemp = m.HasColorTemp || st.Ct > 0
		m.HasDimming = m.HasDimming || st.Bri > 0
	}

	if m.HasColor {
		m.ColorGamut = color.GamutForModel(l.ModelID).Name
	}
	return m
}

func isFriendsOfHue(manufacturer string) bool {
	switch manufacturer {
	case "Philips", "Signify Netherlands B.V.":
		return false
	}
	return manufacturer != ""
}

// writeBody builds the v1 state body from the changed fields s supports.
func writeBody(s *light.State) map[string]any {
	body := make(map[string]any)
	m := s.Model

	if s.IsDirty(light.FieldOn) {
		body["on"] = s.On
	}
	if m.HasDimming && s.IsDirty(light.FieldBrightness) && s.Brightness != nil {
		body["bri"] = *s.Brightness
	}
	if m.HasDimming && s.IsDirty(light.FieldIncrementBrightness) && s.IncrementBrightness != nil {
		body["bri_inc"] = *s.IncrementBrightness
	}
	if m.HasColor && s.IsDirty(light.FieldXY) && s.XY != nil {
		body["xy"] = []float64{round4(s.XY.X), round4(s.XY.Y)}
	}
	if m.HasColorTemp && s.IsDirty(light.FieldColorTemp) && s.ColorTemp != nil {
		body["ct"] = *s.ColorTemp
	}
	if m.HasSaturation && s.IsDirty(light.FieldSaturation) && s.Saturation != nil {
		body["sat"] = *s.Saturation
	}
	if m.HasColor && s.IsDirty(light.FieldEffect) {
		body["effect"] = string(s.Effect)
	}
	if s.IsDirty(light.FieldAlert) {
		body["alert"] = string(s.Alert)
	}
	// a lone transition time is not a change
	if len(body) > 0 && s.IsDirty(light.FieldTransitionTime) && s.TransitionTime != nil {
		body["transitiontime"] = int(math.Round(*s.TransitionTime))
	}
	return body
}

// round4 matches the precision the bridge stores xy coordinates with.
func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
