package command

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dokzlo13/huelight/internal/color"
)

// Message is the inbound envelope: a free-form payload, an optional topic
// naming the target light, and optional animation control.
type Message struct {
	Topic     Text            `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	Animation *Animation      `json:"animation,omitempty"`
}

// Animation brackets an externally driven animation. Restore must be set for
// the bracket to snapshot and revert the light.
type Animation struct {
	Status  bool `json:"status"`
	Restore bool `json:"restore"`
}

type payload struct {
	On                  *bool           `json:"on"`
	Toggle              json.RawMessage `json:"toggle"`
	Alert               *Number         `json:"alert"`
	Brightness          *Number         `json:"brightness"`
	IncrementBrightness *Number         `json:"incrementBrightness"`
	Color               Text            `json:"color"`
	RGB                 []Number        `json:"rgb"`
	Hex                 Text            `json:"hex"`
	ColorTemp           *Number         `json:"colorTemp"`
	Saturation          *Number         `json:"saturation"`
	TransitionTime      *Number         `json:"transitionTime"`
	Colorloop           *Number         `json:"colorloop"`
	Image               Text            `json:"image"`
}

// Parse decodes a JSON message envelope.
func Parse(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return msg, nil
}

// ResolveTarget picks the light a message addresses: a positive numeric
// topic, otherwise the fallback.
func ResolveTarget(topic string, fallback int) (int, error) {
	if id, err := strconv.Atoi(strings.TrimSpace(topic)); err == nil && id > 0 {
		return id, nil
	}
	if fallback > 0 {
		return fallback, nil
	}
	return 0, ErrNotConfigured
}

// Decode classifies a message. Variants are tried in a fixed order: boolean
// payload, toggle, alert, animation start/stop, then extended.
func Decode(msg Message, fallbackLightID int) (Command, error) {
	id, err := ResolveTarget(string(msg.Topic), fallbackLightID)
	if err != nil {
		return Command{}, err
	}
	cmd := Command{LightID: id}

	raw := bytes.TrimSpace(msg.Payload)
	switch string(raw) {
	case "true", "false":
		cmd.Kind = KindOnOff
		cmd.On = string(raw) == "true"
		return cmd, nil
	}

	var p payload
	isObject := len(raw) > 0 && raw[0] == '{'
	if isObject {
		if err := json.Unmarshal(raw, &p); err != nil {
			return Command{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}

	switch {
	case isObject && p.Toggle != nil:
		cmd.Kind = KindToggle
		return cmd, nil

	case isObject && p.Alert != nil && float64(*p.Alert) > 0:
		alert, err := decodeAlert(&p)
		if err != nil {
			return Command{}, err
		}
		cmd.Kind = KindAlert
		cmd.Alert = alert
		return cmd, nil

	case msg.Animation != nil && msg.Animation.Restore:
		if msg.Animation.Status {
			cmd.Kind = KindAnimationStart
		} else {
			cmd.Kind = KindAnimationStop
		}
		return cmd, nil

	case !isObject:
		return Command{}, fmt.Errorf("%w: payload must be a boolean or an object", ErrMalformed)
	}

	ext, err := decodeExtended(&p)
	if err != nil {
		return Command{}, err
	}
	cmd.Kind = KindExtended
	cmd.Extended = ext
	return cmd, nil
}

func decodeAlert(p *payload) (Alert, error) {
	if _, err := Seconds(float64(*p.Alert)); err != nil {
		return Alert{}, err
	}
	alert := Alert{Seconds: int(*p.Alert)}

	// rgb beats hex beats a named colour
	switch {
	case p.RGB != nil:
		spec, err := rgbSpec(p.RGB)
		if err != nil {
			return Alert{}, err
		}
		alert.Color = &spec
	case p.Hex != "":
		spec, err := hexSpec(string(p.Hex))
		if err != nil {
			return Alert{}, err
		}
		alert.Color = &spec
	case p.Color != "":
		spec := namedSpec(string(p.Color))
		alert.Color = &spec
	}
	return alert, nil
}

func decodeExtended(p *payload) (Extended, error) {
	ext := Extended{
		On:                  p.On,
		Brightness:          p.Brightness.float(),
		IncrementBrightness: p.IncrementBrightness.float(),
		ColorTemp:           p.ColorTemp.float(),
		Saturation:          p.Saturation.float(),
		TransitionTime:      p.TransitionTime.float(),
		Colorloop:           p.Colorloop.float(),
		Image:               strings.TrimSpace(string(p.Image)),
	}

	if p.Color != "" {
		ext.Colors = append(ext.Colors, namedSpec(string(p.Color)))
	}
	if p.RGB != nil {
		spec, err := rgbSpec(p.RGB)
		if err != nil {
			return Extended{}, err
		}
		ext.Colors = append(ext.Colors, spec)
	}
	if p.Hex != "" {
		spec, err := hexSpec(string(p.Hex))
		if err != nil {
			return Extended{}, err
		}
		ext.Colors = append(ext.Colors, spec)
	}
	return ext, nil
}

func namedSpec(name string) ColorSpec {
	name = strings.TrimSpace(name)
	switch strings.ToLower(name) {
	case "random", "any":
		return ColorSpec{Kind: ColorRandom, Name: name}
	}
	return ColorSpec{Kind: ColorNamed, Name: name}
}

func rgbSpec(channels []Number) (ColorSpec, error) {
	if len(channels) != 3 {
		return ColorSpec{}, fmt.Errorf("%w: rgb needs 3 channels, got %d", color.ErrInvalidColorInput, len(channels))
	}
	rgb, err := color.NewRGB(float64(channels[0]), float64(channels[1]), float64(channels[2]))
	if err != nil {
		return ColorSpec{}, err
	}
	return ColorSpec{Kind: ColorRGB, RGB: rgb}, nil
}

func hexSpec(s string) (ColorSpec, error) {
	rgb, err := color.ParseHex(s)
	if err != nil {
		return ColorSpec{}, err
	}
	return ColorSpec{Kind: ColorHex, Name: s, RGB: rgb}, nil
}

// maxSeconds is the longest whole-second span a time.Duration holds.
const maxSeconds = float64(math.MaxInt64 / int64(time.Second))

// Seconds converts v seconds to a duration.
func Seconds(v float64) (time.Duration, error) {
	if math.IsNaN(v) || v < 0 || v > maxSeconds {
		return 0, fmt.Errorf("%w: got %v", ErrInvalidDuration, v)
	}
	return time.Duration(v * float64(time.Second)), nil
}
