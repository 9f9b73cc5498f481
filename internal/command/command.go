// Package command decodes inbound light messages into typed commands.
package command

import (
	"errors"

	"github.com/dokzlo13/huelight/internal/color"
)

var (
	// ErrNotConfigured is returned when a message names no light and no
	// default light is configured.
	ErrNotConfigured = errors.New("no target light configured")

	// ErrMalformed is returned when a message cannot be interpreted.
	ErrMalformed = errors.New("malformed command")

	// ErrInvalidDuration is returned when a number of seconds is not finite,
	// is negative or does not fit a time.Duration.
	ErrInvalidDuration = errors.New("duration must be a finite number of seconds")
)

// Kind is the variant of a Command.
type Kind int

const (
	KindOnOff Kind = iota
	KindToggle
	KindAlert
	KindAnimationStart
	KindAnimationStop
	KindExtended
)

func (k Kind) String() string {
	switch k {
	case KindOnOff:
		return "on_off"
	case KindToggle:
		return "toggle"
	case KindAlert:
		return "alert"
	case KindAnimationStart:
		return "animation_start"
	case KindAnimationStop:
		return "animation_stop"
	case KindExtended:
		return "extended"
	default:
		return "unknown"
	}
}

// ColorKind says how a ColorSpec names its colour.
type ColorKind int

const (
	ColorNamed ColorKind = iota
	ColorRandom
	ColorRGB
	ColorHex
)

// ColorSpec is a colour request. RGB is set for ColorRGB and ColorHex.
type ColorSpec struct {
	Kind ColorKind
	Name string
	RGB  color.RGB
}

// Command is a decoded request for one light. Exactly one of the variant
// fields is meaningful, selected by Kind.
type Command struct {
	LightID int
	Kind    Kind

	On       bool
	Alert    Alert
	Extended Extended
}

// Alert flashes the light for Seconds, optionally in a colour, then reverts.
type Alert struct {
	Seconds int
	Color   *ColorSpec
}

// Extended sets any combination of attributes. Nil fields are left alone.
// Numeric fields keep the caller's raw value; range checks happen when the
// command is applied against the light's capabilities.
type Extended struct {
	On                  *bool
	Brightness          *float64
	IncrementBrightness *float64
	// Colors are applied in order; the last resolvable one wins.
	Colors         []ColorSpec
	ColorTemp      *float64
	Saturation     *float64
	TransitionTime *float64
	Colorloop      *float64
	Image          string
}
