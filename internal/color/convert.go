// Package color converts between 8-bit RGB and the CIE 1931 xy chromaticity
// space understood by Hue bulbs, honouring each bulb's reproducible gamut.
package color

import (
	"errors"
	"fmt"
	"math"

	"github.com/samber/lo"
)

// ErrInvalidColorInput is returned for channel or chromaticity values that are
// not finite or fall outside their documented range.
var ErrInvalidColorInput = errors.New("invalid color input")

// D65 is the white point used for black, which has no chromaticity of its own.
var D65 = XY{X: 0.3127, Y: 0.3290}

// RGB is an 8-bit sRGB colour.
type RGB struct {
	R, G, B uint8
}

// XY is a CIE 1931 chromaticity coordinate.
type XY struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NewRGB validates float channel values and builds an RGB.
// Fractional values are rounded to the nearest integer.
func NewRGB(r, g, b float64) (RGB, error) {
	channels := []float64{r, g, b}
	for _, v := range channels {
		if !finite(v) || v < 0 || v > 255 {
			return RGB{}, fmt.Errorf("%w: channel %v outside 0-255", ErrInvalidColorInput, v)
		}
	}
	return RGB{
		R: uint8(math.Round(r)),
		G: uint8(math.Round(g)),
		B: uint8(math.Round(b)),
	}, nil
}

// Slice returns the channels as [r, g, b].
func (c RGB) Slice() []int {
	return []int{int(c.R), int(c.G), int(c.B)}
}

// Valid reports whether both coordinates are finite.
func (p XY) Valid() bool {
	return finite(p.X) && finite(p.Y)
}

// RGBToXY converts an sRGB colour to a chromaticity the given bulb model can
// reproduce. Out-of-gamut results are moved to the nearest point on the
// model's gamut triangle.
func RGBToXY(c RGB, modelID string) XY {
	r := expand(float64(c.R) / 255)
	g := expand(float64(c.G) / 255)
	b := expand(float64(c.B) / 255)

	// Wide RGB D65
	x := r*0.664511 + g*0.154324 + b*0.162028
	y := r*0.283881 + g*0.668433 + b*0.047685
	z := r*0.000088 + g*0.072310 + b*0.986039

	sum := x + y + z
	point := D65
	if sum > 0 {
		point = XY{X: x / sum, Y: y / sum}
	}

	return GamutForModel(modelID).Clamp(point)
}

// XYToRGB converts a chromaticity at a native brightness (0-254) back to
// sRGB. A zero y coordinate yields black.
func XYToRGB(p XY, brightness uint8) (RGB, error) {
	if !p.Valid() {
		return RGB{}, fmt.Errorf("%w: non-finite chromaticity (%v, %v)", ErrInvalidColorInput, p.X, p.Y)
	}
	if p.Y == 0 {
		return RGB{}, nil
	}

	Y := float64(brightness) / 254
	X := Y / p.Y * p.X
	Z := Y / p.Y * (1 - p.X - p.Y)

	r := X*1.656492 - Y*0.354851 - Z*0.255038
	g := -X*0.707196 + Y*1.655397 + Z*0.036152
	b := X*0.051713 - Y*0.121364 + Z*1.011530

	r, g, b = math.Max(r, 0), math.Max(g, 0), math.Max(b, 0)
	if m := lo.Max([]float64{r, g, b}); m > 1 {
		r, g, b = r/m, g/m, b/m
	}

	return RGB{R: to8bit(r), G: to8bit(g), B: to8bit(b)}, nil
}

func expand(v float64) float64 {
	if v > 0.04045 {
		return math.Pow((v+0.055)/1.055, 2.4)
	}
	return v / 12.92
}

func compress(v float64) float64 {
	if v <= 0.0031308 {
		return 12.92 * v
	}
	return 1.055*math.Pow(v, 1/2.4) - 0.055
}

func to8bit(linear float64) uint8 {
	v := lo.Clamp(compress(linear), 0, 1)
	return uint8(math.Floor(v*255 + 0.5))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
