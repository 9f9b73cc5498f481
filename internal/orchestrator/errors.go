package orchestrator

import (
	"errors"

	"github.com/dokzlo13/huelight/internal/color"
	"github.com/dokzlo13/huelight/internal/command"
)

var (
	ErrNotConfigured   = command.ErrNotConfigured
	ErrInvalidDuration = command.ErrInvalidDuration

	ErrInvalidBrightness       = errors.New("brightness must be between 0 and 100")
	ErrInvalidColorTemperature = errors.New("color temperature must be between 153 and 500")
	ErrInvalidSaturation       = errors.New("saturation must be between 0 and 100")
	ErrInvalidTransitionTime   = errors.New("transition time must be between 0 and 65535")

	ErrDeviceUnreachable = errors.New("light unreachable")
	ErrPersistFailed     = errors.New("failed to persist light state")
	ErrImageExtraction   = errors.New("failed to extract colors from image")
	ErrBackgroundTask    = errors.New("background task failed")
	ErrNoSnapshot        = errors.New("no snapshot to restore")
)

// IsValidation reports whether err was caused by bad command input rather
// than by the light or the bridge.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidBrightness) ||
		errors.Is(err, ErrInvalidColorTemperature) ||
		errors.Is(err, ErrInvalidSaturation) ||
		errors.Is(err, ErrInvalidTransitionTime) ||
		errors.Is(err, ErrInvalidDuration) ||
		errors.Is(err, color.ErrInvalidColorInput)
}

// IsDevice reports whether err came from talking to the light.
func IsDevice(err error) bool {
	return errors.Is(err, ErrDeviceUnreachable) ||
		errors.Is(err, ErrPersistFailed) ||
		errors.Is(err, ErrImageExtraction)
}
